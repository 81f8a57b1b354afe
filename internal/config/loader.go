package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// defaultYAML carries defaults that cannot be expressed in applyDefaults
// because their zero value is a legal explicit setting.
const defaultYAML = `
search:
  enabled: true
indexing:
  skip_unchanged: true
`

// Load loads configuration from the given YAML file (optional), then
// overrides with environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (SERVER_PORT, EMBEDDINGS_BASE_URL, ...)
//  2. YAML config file
//  3. Defaults
//
// Environment variables use the section_field naming convention:
//
//	SERVER_PORT              -> server.port
//	EMBEDDINGS_BASE_URL      -> embeddings.base_url
//	SEARCH_SIMILARITY_THRESHOLD -> search.similarity_threshold
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
			}
		}
	}

	// Environment variables: split on the first underscore only, keeping
	// underscores inside field names (SERVER_API_KEY -> server.api_key).
	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		if !knownSection(parts[0]) {
			return "" // skip unrelated environment variables
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// knownSection reports whether an environment variable prefix maps to a
// config section. Unrelated variables (PATH, HOME, ...) are skipped so
// they cannot shadow config keys.
func knownSection(name string) bool {
	switch name {
	case "server", "logging", "telemetry", "database", "vectorstore",
		"embeddings", "indexing", "search":
		return true
	}
	return false
}

// readConfigFile reads the config file if it exists, enforcing a size cap.
// A missing file is not an error; defaults and environment apply.
func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return content, nil
}
