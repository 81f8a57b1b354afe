// Package chunk converts source records into typed text chunks, the
// atomic units that get embedded and retrieved.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Type is the chunk kind, one per source record kind.
type Type string

const (
	TypeOrder   Type = "order"
	TypeProduct Type = "product"
	TypeStock   Type = "stock"
	TypeReview  Type = "review"
	TypeSale    Type = "sale"
)

// AllTypes lists every chunk type.
var AllTypes = []Type{TypeOrder, TypeProduct, TypeStock, TypeReview, TypeSale}

// Valid reports whether t is a known chunk type.
func (t Type) Valid() bool {
	switch t {
	case TypeOrder, TypeProduct, TypeStock, TypeReview, TypeSale:
		return true
	}
	return false
}

// Chunk is one typed text unit derived from a single source record.
//
// The triple (CabinetID, SourceTable, SourceID) is the natural key: it
// identifies the same real-world record across re-indexing runs, so
// re-extraction updates the stored chunk in place instead of duplicating
// it.
type Chunk struct {
	CabinetID   int64
	Type        Type
	SourceTable string
	SourceID    int64

	// Text is the rendered, keyword-rich sentence that gets embedded.
	Text string

	// Hash is the sha-256 digest of Text, hex encoded. Lets the indexer
	// skip re-embedding records whose rendered content is unchanged.
	Hash string

	// ProductCode links the chunk to a product for id-based filtering.
	// Zero for chunks without a product reference.
	ProductCode int64
}

// Key returns the source_table:source_id part of the natural key,
// unique within a cabinet.
func (c *Chunk) Key() string {
	return fmt.Sprintf("%s:%d", c.SourceTable, c.SourceID)
}

// HashText returns the hex sha-256 digest of a chunk text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
