// Package enrich prepends retrieved cabinet context to LLM prompts.
package enrich

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/marketlabs/cabinetd/internal/contextbuilder"
	"github.com/marketlabs/cabinetd/internal/logging"
	"github.com/marketlabs/cabinetd/internal/search"
)

// contextHeader introduces the retrieved block so the model knows the
// facts below are the seller's own data, not part of the question.
const contextHeader = "Данные кабинета продавца:"

// contextInstruction tells the model to answer from the supplied data
// and to say so when it has to fall back to general knowledge.
const contextInstruction = "Отвечай, опираясь на данные кабинета выше. " +
	"Если их недостаточно, скажи об этом явно и только затем отвечай из общих знаний."

// Config controls enrichment.
type Config struct {
	// Enabled toggles enrichment. Disabled passes prompts through
	// unchanged.
	Enabled bool
}

// Result is the outcome of one enrichment.
type Result struct {
	// Prompt is the final prompt: enriched, or the original when
	// enrichment was skipped or failed.
	Prompt string

	// Enriched is true when context was actually prepended.
	Enriched bool

	// Context is the rendered context block, empty when not enriched.
	Context string
}

// Enricher retrieves cabinet context and prepends it to prompts.
//
// Enrichment is best-effort by contract: the prompt is on its way to an
// LLM, and a degraded answer beats a failed request. Every internal
// failure logs a warning and returns the original prompt.
type Enricher struct {
	searcher *search.Searcher
	builder  *contextbuilder.Builder
	cfg      Config
	logger   *logging.Logger
}

// NewEnricher creates an Enricher.
func NewEnricher(searcher *search.Searcher, builder *contextbuilder.Builder, cfg Config, logger *logging.Logger) (*Enricher, error) {
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("builder is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Enricher{searcher: searcher, builder: builder, cfg: cfg, logger: logger}, nil
}

// Enrich returns the prompt with cabinet context prepended. A disabled
// enricher, a missing cabinet, an empty retrieval, or any retrieval
// failure all return the original prompt.
func (e *Enricher) Enrich(ctx context.Context, cabinetID int64, prompt string) Result {
	passthrough := Result{Prompt: prompt}

	if !e.cfg.Enabled {
		return passthrough
	}
	if cabinetID <= 0 {
		e.logger.Debug(ctx, "enrichment skipped: no cabinet", zap.Int64("cabinet_id", cabinetID))
		return passthrough
	}
	if prompt == "" {
		return passthrough
	}

	results, err := e.searcher.Search(ctx, cabinetID, prompt)
	if err != nil {
		e.logger.Warn(ctx, "enrichment degraded to original prompt",
			zap.Int64("cabinet_id", cabinetID),
			zap.Error(err),
		)
		return passthrough
	}

	block := e.builder.Build(results)
	if block == "" {
		return passthrough
	}

	return Result{
		Prompt:   contextHeader + "\n" + block + "\n\n" + contextInstruction + "\n\n" + prompt,
		Enriched: true,
		Context:  block,
	}
}
