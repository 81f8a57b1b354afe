// Package indexer runs the pipeline that turns a cabinet's records into
// embedded chunks in the vector store.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/marketlabs/cabinetd/internal/chunk"
	"github.com/marketlabs/cabinetd/internal/embeddings"
	"github.com/marketlabs/cabinetd/internal/logging"
	"github.com/marketlabs/cabinetd/internal/records"
	"github.com/marketlabs/cabinetd/internal/status"
	"github.com/marketlabs/cabinetd/internal/vectorstore"
)

var tracer = otel.Tracer("cabinetd.indexer")

// Config controls indexing behavior.
type Config struct {
	// SkipUnchanged reuses stored vectors for chunks whose content hash
	// matches what is already stored. Full rebuilds always bypass this.
	SkipUnchanged bool
}

// Request describes one indexing run.
type Request struct {
	CabinetID int64

	// FullRebuild deletes the cabinet's stored vectors first and
	// re-embeds everything, hash or no hash.
	FullRebuild bool

	// ChangedIDs restricts extraction to specific record IDs per source
	// table. Empty means extract the whole window.
	ChangedIDs map[string][]int64
}

// Indexer orchestrates indexing runs. Runs execute asynchronously; the
// status tracker is both the progress record and the per-cabinet lock.
type Indexer struct {
	extractor *records.Extractor
	builder   *chunk.Builder
	generator *embeddings.Generator
	store     vectorstore.Store
	tracker   *status.Tracker
	cfg       Config
	metrics   *Metrics
	logger    *logging.Logger
}

// New creates an Indexer.
func New(extractor *records.Extractor, builder *chunk.Builder, generator *embeddings.Generator, store vectorstore.Store, tracker *status.Tracker, cfg Config, logger *logging.Logger) (*Indexer, error) {
	if extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("chunk builder is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("embedding generator is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("status tracker is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Indexer{
		extractor: extractor,
		builder:   builder,
		generator: generator,
		store:     store,
		tracker:   tracker,
		cfg:       cfg,
		metrics:   NewMetrics(logger.Underlying()),
		logger:    logger,
	}, nil
}

// Start claims the cabinet's indexing slot and launches the run in the
// background. Returns status.ErrIndexingInProgress if a run is already
// active. The run detaches from the caller's context: an HTTP client
// disconnecting must not abort a half-finished index.
func (i *Indexer) Start(ctx context.Context, req Request) (string, error) {
	if req.CabinetID <= 0 {
		return "", fmt.Errorf("cabinet id must be positive, got %d", req.CabinetID)
	}

	runID := uuid.NewString()
	if err := i.tracker.Begin(ctx, req.CabinetID, runID); err != nil {
		return "", err
	}

	go i.run(context.Background(), req, runID)
	return runID, nil
}

// run executes the pipeline and records the outcome. All failures land
// in the tracker; run itself never returns an error because by the time
// it executes nobody is waiting for one.
func (i *Indexer) run(ctx context.Context, req Request, runID string) {
	start := time.Now()

	ctx = vectorstore.ContextWithCabinet(ctx, req.CabinetID)
	ctx = logging.ContextWithCabinetID(ctx, req.CabinetID)
	ctx = logging.ContextWithRunID(ctx, runID)

	ctx, span := tracer.Start(ctx, "Indexer.Run")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("cabinet_id", req.CabinetID),
		attribute.String("run_id", runID),
		attribute.Bool("full_rebuild", req.FullRebuild),
	)

	total, skipped, err := i.execute(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		i.metrics.RecordRun(ctx, status.StateFailed, time.Since(start), 0, 0)
		i.logger.Error(ctx, "indexing run failed", zap.Error(err))
		if failErr := i.tracker.Fail(ctx, req.CabinetID, runID, err); failErr != nil {
			i.logger.Error(ctx, "failed to record run failure", zap.Error(failErr))
		}
		return
	}

	span.SetAttributes(attribute.Int("total_chunks", total))
	span.SetStatus(codes.Ok, "success")
	i.metrics.RecordRun(ctx, status.StateCompleted, time.Since(start), total-skipped, skipped)

	if err := i.tracker.Complete(ctx, req.CabinetID, runID, total); err != nil {
		i.logger.Error(ctx, "failed to record run completion", zap.Error(err))
	}
}

// execute runs extract → chunk → embed → upsert and returns the total
// chunks accounted for and how many were skipped as unchanged.
func (i *Indexer) execute(ctx context.Context, req Request) (total, skipped int, err error) {
	if req.FullRebuild {
		if err := i.store.DeleteCabinet(ctx); err != nil {
			return 0, 0, fmt.Errorf("clearing cabinet vectors: %w", err)
		}
	}

	set, err := i.extractRecords(ctx, req)
	if err != nil {
		return 0, 0, err
	}
	if set.Empty() {
		i.logger.Info(ctx, "nothing to index")
		return 0, 0, nil
	}

	names, err := i.extractor.ProductNames(ctx, req.CabinetID)
	if err != nil {
		return 0, 0, fmt.Errorf("loading product names: %w", err)
	}

	chunks, err := i.builder.Build(set, names)
	if err != nil {
		return 0, 0, fmt.Errorf("building chunks: %w", err)
	}

	chunks, skipped, err = i.skipUnchanged(ctx, req, chunks)
	if err != nil {
		return 0, 0, err
	}
	if len(chunks) == 0 {
		i.logger.Info(ctx, "all chunks unchanged", zap.Int("skipped", skipped))
		return skipped, skipped, nil
	}

	texts := make([]string, len(chunks))
	for idx, c := range chunks {
		texts[idx] = c.Text
	}

	result, err := i.generator.Generate(ctx, texts)
	if err != nil {
		return 0, 0, fmt.Errorf("generating embeddings: %w", err)
	}
	if !result.Complete() {
		i.logger.Warn(ctx, "some embedding batches failed; indexing the rest",
			zap.Int("failed_ranges", len(result.Failed)),
		)
	}

	docs := make([]vectorstore.Document, len(result.Vectors))
	for pos, vector := range result.Vectors {
		c := chunks[result.Indices[pos]]
		docs[pos] = vectorstore.Document{
			ID:      i.docID(req.CabinetID, &c),
			Content: c.Text,
			Vector:  vector,
			Metadata: map[string]interface{}{
				vectorstore.PayloadChunkType:   string(c.Type),
				vectorstore.PayloadSourceTable: c.SourceTable,
				vectorstore.PayloadSourceID:    c.SourceID,
				vectorstore.PayloadProductCode: c.ProductCode,
				vectorstore.PayloadHash:        c.Hash,
			},
		}
	}

	stored := 0
	if len(docs) > 0 {
		stored, err = i.store.Upsert(ctx, docs)
		if err != nil {
			return 0, 0, fmt.Errorf("upserting documents: %w", err)
		}
	}

	i.logger.Info(ctx, "indexing run finished pipeline",
		zap.Int("stored", stored),
		zap.Int("skipped", skipped),
		zap.Int("embed_failures", len(result.Failed)),
	)

	return stored + skipped, skipped, nil
}

func (i *Indexer) extractRecords(ctx context.Context, req Request) (*records.Set, error) {
	if len(req.ChangedIDs) > 0 {
		set, err := i.extractor.ExtractChanged(ctx, req.CabinetID, req.ChangedIDs)
		if err != nil {
			return nil, fmt.Errorf("extracting changed records: %w", err)
		}
		return set, nil
	}
	set, err := i.extractor.Extract(ctx, req.CabinetID)
	if err != nil {
		return nil, fmt.Errorf("extracting records: %w", err)
	}
	return set, nil
}

// skipUnchanged drops chunks whose stored hash matches the freshly
// rendered one. Hash equality means the rendered text is identical, so
// the stored vector is still exact — not an approximation.
func (i *Indexer) skipUnchanged(ctx context.Context, req Request, chunks []chunk.Chunk) ([]chunk.Chunk, int, error) {
	if !i.cfg.SkipUnchanged || req.FullRebuild {
		return chunks, 0, nil
	}

	ids := make([]string, len(chunks))
	for idx, c := range chunks {
		ids[idx] = i.docID(req.CabinetID, &c)
	}

	stored, err := i.store.Hashes(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("loading stored hashes: %w", err)
	}

	kept := chunks[:0]
	skipped := 0
	for idx, c := range chunks {
		if stored[ids[idx]] == c.Hash {
			skipped++
			continue
		}
		kept = append(kept, c)
	}
	return kept, skipped, nil
}

// docID is the store-wide unique document ID: cabinet plus natural key.
func (i *Indexer) docID(cabinetID int64, c *chunk.Chunk) string {
	return fmt.Sprintf("%d:%s", cabinetID, c.Key())
}
