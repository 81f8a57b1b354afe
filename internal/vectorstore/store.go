// Package vectorstore defines the interface for vector storage operations.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrMissingVector indicates a document without a precomputed vector.
	ErrMissingVector = errors.New("document missing vector")
)

// Payload keys stored with every chunk document. The store injects
// PayloadCabinetID itself; the indexer sets the rest.
const (
	PayloadCabinetID   = "cabinet_id"
	PayloadChunkType   = "chunk_type"
	PayloadSourceTable = "source_table"
	PayloadSourceID    = "source_id"
	PayloadProductCode = "product_code"
	PayloadHash        = "hash"
)

// Document is a chunk to be stored in the vector store.
//
// Vectors are computed upstream by the embedding generator; the store
// never calls an embedding provider itself. ID must be the deterministic
// natural-key identifier so re-upserting the same record replaces the
// stored point instead of duplicating it.
type Document struct {
	// ID is the unique identifier for the document
	ID string

	// Content is the text content of the document
	Content string

	// Vector is the precomputed embedding for Content
	Vector []float32

	// Metadata contains additional key-value pairs for filtering
	Metadata map[string]interface{}
}

// SearchResult represents a search result from the vector store.
type SearchResult struct {
	// ID is the document identifier
	ID string

	// Content is the document text content
	Content string

	// Score is the similarity score in [0,1] (higher = more similar)
	Score float32

	// Metadata contains the document metadata
	Metadata map[string]interface{}
}

// Store is the interface for vector storage operations.
//
// All operations are cabinet-scoped: the isolation mode injects the
// cabinet filter from context on every call, and a missing cabinet is an
// error (fail closed). See ContextWithCabinet.
//
// Implementations:
//   - ChromemStore: embedded chromem-go (default)
//   - QdrantStore: external Qdrant gRPC client
type Store interface {
	// Upsert stores documents with their precomputed vectors, replacing
	// any existing documents with the same IDs. Returns the number of
	// documents stored.
	Upsert(ctx context.Context, docs []Document) (int, error)

	// Query performs similarity search with the given query vector,
	// returning up to k results ordered by similarity (highest first).
	// filters are matched against document metadata in addition to the
	// injected cabinet filter.
	Query(ctx context.Context, vector []float32, k int, filters map[string]interface{}) ([]SearchResult, error)

	// Hashes returns the stored content hash per document ID, for the
	// subset of ids that exist. Lets the indexer skip re-embedding
	// unchanged records.
	Hashes(ctx context.Context, ids []string) (map[string]string, error)

	// DeleteCabinet removes every document belonging to the cabinet in
	// context. Used by full rebuilds.
	DeleteCabinet(ctx context.Context) error

	// Close closes the vector store connection and releases resources.
	Close() error
}
