// Package config provides configuration loading for cabinetd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the cabinetd daemon.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Database    DatabaseConfig    `koanf:"database"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Indexing    IndexingConfig    `koanf:"indexing"`
	Search      SearchConfig      `koanf:"search"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// APIKey is the shared secret required in the X-API-Key header for
	// mutating endpoints. Empty disables authentication (local dev only).
	APIKey Secret `koanf:"api_key"`

	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry exporter configuration.
type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `koanf:"endpoint"`

	// Protocol is "grpc" (default) or "http/protobuf".
	Protocol string `koanf:"protocol"`

	Insecure bool `koanf:"insecure"`

	// SampleRate is the trace sampling ratio in [0,1].
	SampleRate float64 `koanf:"sample_rate"`

	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`
}

// DatabaseConfig holds the operational SQL store configuration.
// The same database carries the per-cabinet index status table.
type DatabaseConfig struct {
	// Driver is the database/sql driver name. Default: "sqlite".
	Driver string `koanf:"driver"`

	// DSN is the data source name (file path for sqlite).
	DSN string `koanf:"dsn"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant".
	Provider string `koanf:"provider"`

	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go backend.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
}

// QdrantConfig configures the Qdrant gRPC backend.
type QdrantConfig struct {
	Host string `koanf:"host"`

	// Port is the Qdrant gRPC port (6334), not the HTTP REST port.
	Port int `koanf:"port"`

	UseTLS       bool     `koanf:"use_tls"`
	Collection   string   `koanf:"collection"`
	VectorSize   int      `koanf:"vector_size"`
	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`
}

// EmbeddingsConfig configures the embedding provider client.
type EmbeddingsConfig struct {
	// BaseURL is the base URL of an OpenAI-compatible embeddings API.
	BaseURL string `koanf:"base_url"`

	Model  string `koanf:"model"`
	APIKey Secret `koanf:"api_key"`

	// Timeout bounds a single provider call.
	Timeout Duration `koanf:"timeout"`

	// RequestsPerSecond limits provider call rate. Zero disables limiting.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// IndexingConfig configures the indexing pipeline.
type IndexingConfig struct {
	// BatchSize is the number of chunk texts per embedding request.
	BatchSize int `koanf:"batch_size"`

	// MaxRetries is the per-batch retry budget for transient provider errors.
	MaxRetries int `koanf:"max_retries"`

	// BaseDelay is the initial backoff delay; it doubles on each attempt.
	BaseDelay Duration `koanf:"base_delay"`

	// WindowDays bounds extraction of orders/reviews/sales to recent records.
	WindowDays int `koanf:"window_days"`

	// SkipUnchanged reuses stored vectors for chunks whose content hash is
	// unchanged since the last run. full_rebuild always bypasses this.
	SkipUnchanged bool `koanf:"skip_unchanged"`
}

// SearchConfig configures retrieval and prompt enrichment.
type SearchConfig struct {
	// Enabled toggles prompt enrichment. Disabled returns prompts unchanged.
	Enabled bool `koanf:"enabled"`

	// SimilarityThreshold is the minimum similarity in [0,1] for a result.
	SimilarityThreshold float64 `koanf:"similarity_threshold"`

	// Limit is the number of results requested per query.
	Limit int `koanf:"limit"`

	// MaxContextLength bounds the formatted context block, in runes.
	MaxContextLength int `koanf:"max_context_length"`

	// TemporalMultiplier over-fetches candidates for temporal queries so
	// date re-ranking has a wider pool to choose from.
	TemporalMultiplier int `koanf:"temporal_multiplier"`
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port: %d", c.Server.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: unknown level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging: unknown format: %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry: endpoint required when enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry: sample_rate must be in [0,1], got %v", c.Telemetry.SampleRate)
		}
	}

	if c.Database.Driver == "" {
		return fmt.Errorf("database: driver required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database: dsn required")
	}

	switch c.VectorStore.Provider {
	case "chromem":
		if c.VectorStore.Chromem.VectorSize <= 0 {
			return fmt.Errorf("vectorstore: chromem vector_size must be positive")
		}
	case "qdrant":
		if c.VectorStore.Qdrant.Host == "" {
			return fmt.Errorf("vectorstore: qdrant host required")
		}
		if c.VectorStore.Qdrant.Port <= 0 || c.VectorStore.Qdrant.Port > 65535 {
			return fmt.Errorf("vectorstore: invalid qdrant port: %d", c.VectorStore.Qdrant.Port)
		}
		if c.VectorStore.Qdrant.VectorSize <= 0 {
			return fmt.Errorf("vectorstore: qdrant vector_size must be positive")
		}
	default:
		return fmt.Errorf("vectorstore: unsupported provider: %q (supported: chromem, qdrant)", c.VectorStore.Provider)
	}

	if c.Embeddings.BaseURL == "" {
		return fmt.Errorf("embeddings: base_url required")
	}
	if c.Embeddings.Model == "" {
		return fmt.Errorf("embeddings: model required")
	}

	if c.Indexing.BatchSize <= 0 {
		return fmt.Errorf("indexing: batch_size must be positive")
	}
	if c.Indexing.MaxRetries < 0 {
		return fmt.Errorf("indexing: max_retries cannot be negative")
	}
	if c.Indexing.WindowDays <= 0 {
		return fmt.Errorf("indexing: window_days must be positive")
	}

	if c.Search.SimilarityThreshold < 0 || c.Search.SimilarityThreshold > 1 {
		return fmt.Errorf("search: similarity_threshold must be in [0,1], got %v", c.Search.SimilarityThreshold)
	}
	if c.Search.Limit <= 0 {
		return fmt.Errorf("search: limit must be positive")
	}
	if c.Search.MaxContextLength <= 0 {
		return fmt.Errorf("search: max_context_length must be positive")
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "cabinetd"
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "dev"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "cabinetd.db"
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.config/cabinetd/vectorstore"
	}
	if cfg.VectorStore.Chromem.Collection == "" {
		cfg.VectorStore.Chromem.Collection = "cabinet_chunks"
	}
	if cfg.VectorStore.Chromem.VectorSize == 0 {
		cfg.VectorStore.Chromem.VectorSize = 1536
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.Collection == "" {
		cfg.VectorStore.Qdrant.Collection = "cabinet_chunks"
	}
	if cfg.VectorStore.Qdrant.VectorSize == 0 {
		cfg.VectorStore.Qdrant.VectorSize = 1536
	}
	if cfg.VectorStore.Qdrant.MaxRetries == 0 {
		cfg.VectorStore.Qdrant.MaxRetries = 3
	}
	if cfg.VectorStore.Qdrant.RetryBackoff == 0 {
		cfg.VectorStore.Qdrant.RetryBackoff = Duration(time.Second)
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "https://api.openai.com"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(30 * time.Second)
	}

	if cfg.Indexing.BatchSize == 0 {
		cfg.Indexing.BatchSize = 100
	}
	if cfg.Indexing.MaxRetries == 0 {
		cfg.Indexing.MaxRetries = 5
	}
	if cfg.Indexing.BaseDelay == 0 {
		cfg.Indexing.BaseDelay = Duration(time.Second)
	}
	if cfg.Indexing.WindowDays == 0 {
		cfg.Indexing.WindowDays = 90
	}

	if cfg.Search.SimilarityThreshold == 0 {
		cfg.Search.SimilarityThreshold = 0.3
	}
	if cfg.Search.Limit == 0 {
		cfg.Search.Limit = 10
	}
	if cfg.Search.MaxContextLength == 0 {
		cfg.Search.MaxContextLength = 4000
	}
	if cfg.Search.TemporalMultiplier == 0 {
		cfg.Search.TemporalMultiplier = 3
	}
}
