package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marketlabs/cabinetd/internal/logging"
)

// Embedder is the provider surface the generator batches over.
// *Service implements it.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// GeneratorConfig controls batching and retry behavior.
type GeneratorConfig struct {
	// BatchSize is the number of texts per provider request.
	BatchSize int

	// MaxRetries is the total attempt budget per batch.
	MaxRetries int

	// BaseDelay is the backoff before the second attempt; it doubles on
	// each subsequent attempt.
	BaseDelay time.Duration
}

// FailedRange marks a half-open input range [Start, End) whose batch
// exhausted its retry budget.
type FailedRange struct {
	Start int
	End   int
	Err   error
}

// Result is the outcome of a Generate call. Vectors[i] embeds the input
// text at Indices[i]; inputs covered by Failed have no vector.
type Result struct {
	Vectors [][]float32
	Indices []int
	Failed  []FailedRange
}

// Complete reports whether every input text produced a vector.
func (r *Result) Complete() bool {
	return len(r.Failed) == 0
}

// Generator turns texts into vectors in fixed-size batches with
// per-batch retry. A batch that exhausts its retries is recorded as a
// failed range and the run continues: persisting the vectors that did
// succeed beats losing the whole run to one bad batch.
type Generator struct {
	embedder Embedder
	cfg      GeneratorConfig
	logger   *logging.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(embedder Embedder, cfg GeneratorConfig, logger *logging.Logger) (*Generator, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	}
	if cfg.MaxRetries <= 0 {
		return nil, fmt.Errorf("%w: max retries must be positive", ErrInvalidConfig)
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Generator{embedder: embedder, cfg: cfg, logger: logger}, nil
}

// Generate embeds texts batch by batch. Batches run sequentially so the
// provider rate limit stays predictable. Only context cancellation
// aborts the run; provider failures degrade to failed ranges.
func (g *Generator) Generate(ctx context.Context, texts []string) (*Result, error) {
	result := &Result{}
	if len(texts) == 0 {
		return result, nil
	}

	for start := 0; start < len(texts); start += g.cfg.BatchSize {
		end := start + g.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("embedding aborted: %w", ctx.Err())
			}
			g.logger.Warn(ctx, "embedding batch failed after retries",
				zap.Int("start", start),
				zap.Int("end", end),
				zap.Error(err),
			)
			result.Failed = append(result.Failed, FailedRange{Start: start, End: end, Err: err})
			continue
		}

		result.Vectors = append(result.Vectors, vectors...)
		for i := start; i < end; i++ {
			result.Indices = append(result.Indices, i)
		}
	}

	return result, nil
}

// embedBatch calls the provider with retry and doubling backoff.
func (g *Generator) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	delay := g.cfg.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		vectors, err := g.embedder.EmbedDocuments(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		// Bad input stays bad; retrying it only burns the budget.
		if errors.Is(err, ErrEmptyInput) || errors.Is(err, ErrInvalidConfig) {
			return nil, err
		}
		if attempt == g.cfg.MaxRetries {
			break
		}

		g.logger.Debug(ctx, "retrying embedding batch",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil, fmt.Errorf("after %d attempts: %w", g.cfg.MaxRetries, lastErr)
}
