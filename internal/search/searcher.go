// Package search retrieves a cabinet's chunks relevant to a question.
package search

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/marketlabs/cabinetd/internal/chunk"
	"github.com/marketlabs/cabinetd/internal/classifier"
	"github.com/marketlabs/cabinetd/internal/embeddings"
	"github.com/marketlabs/cabinetd/internal/logging"
	"github.com/marketlabs/cabinetd/internal/vectorstore"
)

// productCodePattern extracts numeric tokens that look like product
// codes. Two digits minimum: single digits are almost always counts
// ("2 шт"), not codes.
var productCodePattern = regexp.MustCompile(`\b\d{2,}\b`)

// Config controls retrieval behavior.
type Config struct {
	// SimilarityThreshold is the minimum similarity in [0,1] for a result.
	SimilarityThreshold float64

	// Limit is the number of results requested per query.
	Limit int

	// TemporalMultiplier over-fetches candidates for temporal questions
	// so date re-ranking has a wider pool to choose from.
	TemporalMultiplier int
}

// Item is one retrieved chunk.
type Item struct {
	ID          string
	Content     string
	Score       float32
	Type        chunk.Type
	SourceTable string
	SourceID    int64
	ProductCode int64
}

// Results is the outcome of one retrieval.
type Results struct {
	Items []Item

	// Temporal is true when the question asks about recency; the context
	// builder re-ranks by date in that case.
	Temporal bool

	// Limit is the configured result budget. Temporal retrieval
	// over-fetches past it so date re-ranking has a wider pool; the
	// context builder cuts back to it after re-ranking.
	Limit int
}

// Searcher embeds a question and retrieves the cabinet's most similar
// chunks, narrowed by the classifier's type guess.
type Searcher struct {
	embedder   embeddings.Embedder
	store      vectorstore.Store
	classifier *classifier.Classifier
	cfg        Config
	logger     *logging.Logger
}

// NewSearcher creates a Searcher.
func NewSearcher(embedder embeddings.Embedder, store vectorstore.Store, cls *classifier.Classifier, cfg Config, logger *logging.Logger) (*Searcher, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cls == nil {
		cls = classifier.New()
	}
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", cfg.Limit)
	}
	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be in [0,1], got %v", cfg.SimilarityThreshold)
	}
	if cfg.TemporalMultiplier <= 0 {
		cfg.TemporalMultiplier = 3
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Searcher{embedder: embedder, store: store, classifier: cls, cfg: cfg, logger: logger}, nil
}

// Search retrieves chunks for a question. An empty result is a valid
// outcome: it means the cabinet has nothing relevant, not an error.
func (s *Searcher) Search(ctx context.Context, cabinetID int64, query string) (*Results, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	ctx = vectorstore.ContextWithCabinet(ctx, cabinetID)

	types := s.classifier.Classify(query)
	temporal := s.classifier.IsTemporal(query)

	limit := s.cfg.Limit
	if temporal {
		limit *= s.cfg.TemporalMultiplier
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// A single predicted type becomes a store-side filter. Several types
	// cannot (filters are conjunctive), so those are post-filtered here
	// after over-fetching.
	var filters map[string]interface{}
	fetchLimit := limit
	if len(types) == 1 {
		filters = map[string]interface{}{vectorstore.PayloadChunkType: string(types[0])}
	} else if len(types) > 1 {
		fetchLimit = limit * len(chunk.AllTypes)
	}

	raw, err := s.store.Query(ctx, vector, fetchLimit, filters)
	if err != nil {
		return nil, fmt.Errorf("querying vector store: %w", err)
	}

	allowed := make(map[chunk.Type]bool, len(types))
	for _, typ := range types {
		allowed[typ] = true
	}

	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		if float64(r.Score) < s.cfg.SimilarityThreshold {
			continue
		}
		item := toItem(r)
		if len(allowed) > 0 && !allowed[item.Type] {
			continue
		}
		items = append(items, item)
	}

	items = filterByProductCodes(items, productCodePattern.FindAllString(query, -1))

	if len(items) > limit {
		items = items[:limit]
	}

	s.logger.Debug(ctx, "search completed",
		zap.Int64("cabinet_id", cabinetID),
		zap.Int("results", len(items)),
		zap.Bool("temporal", temporal),
		zap.Int("predicted_types", len(types)),
	)

	return &Results{Items: items, Temporal: temporal, Limit: s.cfg.Limit}, nil
}

func toItem(r vectorstore.SearchResult) Item {
	item := Item{
		ID:      r.ID,
		Content: r.Content,
		Score:   r.Score,
	}
	if v, ok := r.Metadata[vectorstore.PayloadChunkType].(string); ok {
		item.Type = chunk.Type(v)
	}
	if v, ok := r.Metadata[vectorstore.PayloadSourceTable].(string); ok {
		item.SourceTable = v
	}
	if v, ok := r.Metadata[vectorstore.PayloadSourceID].(int64); ok {
		item.SourceID = v
	}
	if v, ok := r.Metadata[vectorstore.PayloadProductCode].(int64); ok {
		item.ProductCode = v
	}
	return item
}

// filterByProductCodes narrows results to the product codes mentioned in
// the question. If nothing matches, the unfiltered results are kept:
// the number may not have been a product code at all.
func filterByProductCodes(items []Item, tokens []string) []Item {
	if len(tokens) == 0 {
		return items
	}

	codes := make(map[int64]bool, len(tokens))
	for _, tok := range tokens {
		if code, err := strconv.ParseInt(tok, 10, 64); err == nil {
			codes[code] = true
		}
	}
	if len(codes) == 0 {
		return items
	}

	matched := make([]Item, 0, len(items))
	for _, item := range items {
		if codes[item.ProductCode] || codes[item.SourceID] {
			matched = append(matched, item)
		}
	}
	if len(matched) == 0 {
		return items
	}
	return matched
}
