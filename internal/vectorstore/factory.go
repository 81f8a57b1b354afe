package vectorstore

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marketlabs/cabinetd/internal/config"
)

// NewStore creates a Store from configuration. The provider string
// selects the backend; both run with payload isolation.
func NewStore(cfg config.VectorStoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case "chromem":
		return NewChromemStore(ChromemConfig{
			Path:       cfg.Chromem.Path,
			Compress:   cfg.Chromem.Compress,
			Collection: cfg.Chromem.Collection,
			VectorSize: cfg.Chromem.VectorSize,
		}, logger)

	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:         cfg.Qdrant.Host,
			Port:         cfg.Qdrant.Port,
			Collection:   cfg.Qdrant.Collection,
			VectorSize:   uint64(cfg.Qdrant.VectorSize),
			UseTLS:       cfg.Qdrant.UseTLS,
			MaxRetries:   cfg.Qdrant.MaxRetries,
			RetryBackoff: time.Duration(cfg.Qdrant.RetryBackoff),
		})

	default:
		return nil, fmt.Errorf("%w: unsupported provider: %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
