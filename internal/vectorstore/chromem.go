package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("cabinetd.vectorstore.chromem")

// ChromemConfig holds configuration for chromem-go embedded vector database.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/cabinetd/vectorstore"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection name all cabinets share.
	// Default: "cabinet_chunks"
	Collection string

	// VectorSize is the expected embedding dimension.
	// Must match the embedding model's output dimension.
	// Default: 1536 (OpenAI text-embedding-3-small)
	VectorSize int

	// Isolation is the cabinet isolation mode.
	// Default: PayloadIsolation for fail-closed security.
	Isolation IsolationMode
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/cabinetd/vectorstore"
	}
	if c.Collection == "" {
		c.Collection = "cabinet_chunks"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1536
	}
	if c.Isolation == nil {
		c.Isolation = NewPayloadIsolation()
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// ChromemStore implements the Store interface using chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies: pure Go, no external service, persistence to gob files.
// It is the default backend so a single-binary deployment works out of
// the box; Qdrant is for installations that outgrow it.
type ChromemStore struct {
	db        *chromem.DB
	config    ChromemConfig
	logger    *zap.Logger
	isolation IsolationMode
}

// NewChromemStore creates a new ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	expandedPath, err := expandChromemPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}

	if err := os.MkdirAll(expandedPath, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	store := &ChromemStore{
		db:        db,
		config:    config,
		logger:    logger,
		isolation: config.Isolation,
	}

	logger.Info("ChromemStore initialized",
		zap.String("path", expandedPath),
		zap.Bool("compress", config.Compress),
		zap.Int("vector_size", config.VectorSize),
		zap.String("collection", config.Collection),
		zap.String("isolation", store.isolation.Mode()),
	)

	return store, nil
}

// expandChromemPath expands ~ to home directory.
func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc is passed to chromem, which requires one even though
// every document arrives with a precomputed vector.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("vectors must be precomputed; the store does not embed")
	}
}

func (s *ChromemStore) getOrCreateCollection() (*chromem.Collection, error) {
	collection, err := s.db.GetOrCreateCollection(s.config.Collection, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", s.config.Collection, err)
	}
	return collection, nil
}

// Upsert stores documents with their precomputed vectors. chromem keys
// documents by ID, so re-adding an existing ID replaces it in place.
func (s *ChromemStore) Upsert(ctx context.Context, docs []Document) (int, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.Int("document_count", len(docs)),
		attribute.String("collection", s.config.Collection),
	)

	if len(docs) == 0 {
		return 0, ErrEmptyDocuments
	}

	if err := s.isolation.InjectMetadata(ctx, docs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("injecting cabinet metadata: %w", err)
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return 0, fmt.Errorf("document at index %d has no ID", i)
		}
		if len(doc.Vector) == 0 {
			return 0, fmt.Errorf("%w: document %s", ErrMissingVector, doc.ID)
		}
		if len(doc.Vector) != s.config.VectorSize {
			return 0, fmt.Errorf("document %s: vector size %d does not match configured size %d",
				doc.ID, len(doc.Vector), s.config.VectorSize)
		}
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  convertMetadataToString(doc.Metadata),
			Embedding: doc.Vector,
		}
	}

	collection, err := s.getOrCreateCollection()
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	// Concurrency of 1: embeddings are already present, nothing to parallelize.
	if err := collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("adding documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("upserted documents to chromem",
		zap.String("collection", s.config.Collection),
		zap.Int("count", len(docs)),
	)

	return len(docs), nil
}

// Query performs similarity search with the given query vector. A
// cabinet that has never been indexed yields an empty result, not an
// error.
func (s *ChromemStore) Query(ctx context.Context, vector []float32, k int, filters map[string]interface{}) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}

	filters, err := s.isolation.InjectFilter(ctx, filters)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("injecting cabinet filter: %w", err)
	}

	collection := s.db.GetCollection(s.config.Collection, s.embeddingFunc())
	if collection == nil {
		return []SearchResult{}, nil
	}

	// chromem requires nResults <= document count.
	docCount := collection.Count()
	if docCount == 0 {
		return []SearchResult{}, nil
	}
	if k > docCount {
		k = docCount
	}

	results, err := collection.QueryEmbedding(ctx, vector, k, convertMetadataToString(filters), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	searchResults := make([]SearchResult, len(results))
	for i, r := range results {
		searchResults[i] = SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Similarity,
			Metadata: convertMetadataFromString(r.Metadata),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(searchResults)))
	span.SetStatus(codes.Ok, "success")

	return searchResults, nil
}

// Hashes returns stored content hashes for the given document IDs.
// IDs that do not exist, or that belong to another cabinet, are omitted.
func (s *ChromemStore) Hashes(ctx context.Context, ids []string) (map[string]string, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Hashes")
	defer span.End()

	span.SetAttributes(attribute.Int("id_count", len(ids)))

	cabinetFilter, err := s.isolation.InjectFilter(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("injecting cabinet filter: %w", err)
	}
	expected := convertMetadataToString(cabinetFilter)

	hashes := make(map[string]string, len(ids))

	collection := s.db.GetCollection(s.config.Collection, s.embeddingFunc())
	if collection == nil {
		return hashes, nil
	}

	for _, id := range ids {
		doc, err := collection.GetByID(ctx, id)
		if err != nil {
			continue // not stored yet
		}
		if !metadataMatches(doc.Metadata, expected) {
			continue
		}
		if hash, ok := doc.Metadata[PayloadHash]; ok {
			hashes[id] = hash
		}
	}

	span.SetAttributes(attribute.Int("hashes_found", len(hashes)))
	return hashes, nil
}

// metadataMatches reports whether metadata contains every expected pair.
func metadataMatches(metadata, expected map[string]string) bool {
	for k, v := range expected {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// DeleteCabinet removes every document belonging to the cabinet in context.
func (s *ChromemStore) DeleteCabinet(ctx context.Context) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteCabinet")
	defer span.End()

	filters, err := s.isolation.InjectFilter(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("injecting cabinet filter: %w", err)
	}

	collection := s.db.GetCollection(s.config.Collection, s.embeddingFunc())
	if collection == nil {
		return nil
	}

	if err := collection.Delete(ctx, convertMetadataToString(filters), nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting cabinet documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")

	s.logger.Info("deleted cabinet documents from chromem",
		zap.String("collection", s.config.Collection),
	)

	return nil
}

// Close releases resources. chromem persists on every write, so there
// is nothing to flush.
func (s *ChromemStore) Close() error {
	return nil
}

var _ Store = (*ChromemStore)(nil)
