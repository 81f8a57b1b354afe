package vectorstore

import (
	"context"
	"fmt"
)

// IsolationMode defines how cabinet isolation is enforced in vector stores.
//
// Security: all implementations must enforce fail-closed behavior —
// a missing cabinet context is an error, never a wildcard.
type IsolationMode interface {
	// InjectFilter adds the cabinet filter to query filters.
	// Must fail with ErrMissingCabinet if cabinet context is absent.
	InjectFilter(ctx context.Context, filters map[string]interface{}) (map[string]interface{}, error)

	// InjectMetadata adds cabinet metadata to documents before storage.
	// Must fail with ErrMissingCabinet if cabinet context is absent.
	InjectMetadata(ctx context.Context, docs []Document) error

	// ValidateCabinet checks that cabinet context is present and valid.
	ValidateCabinet(ctx context.Context) error

	// Mode returns the isolation mode name for logging/debugging.
	Mode() string
}

// PayloadIsolation implements IsolationMode using metadata filtering.
//
// All cabinets share a single collection; cabinet_id is stored as
// document metadata and every query is filtered by the cabinet from
// context. Missing cabinet context is an error (fail closed).
type PayloadIsolation struct{}

// NewPayloadIsolation creates a new PayloadIsolation mode.
func NewPayloadIsolation() *PayloadIsolation {
	return &PayloadIsolation{}
}

// InjectFilter adds the cabinet filter to existing query filters.
func (p *PayloadIsolation) InjectFilter(ctx context.Context, filters map[string]interface{}) (map[string]interface{}, error) {
	cabinetID, err := CabinetFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return MergeFilters(filters, CabinetFilter(cabinetID)), nil
}

// InjectMetadata stamps the cabinet ID onto all documents. Any value the
// caller set is overwritten: the context is authoritative.
func (p *PayloadIsolation) InjectMetadata(ctx context.Context, docs []Document) error {
	cabinetID, err := CabinetFromContext(ctx)
	if err != nil {
		return err
	}
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = make(map[string]interface{})
		}
		docs[i].Metadata[PayloadCabinetID] = cabinetID
	}
	return nil
}

// ValidateCabinet checks cabinet context is present and valid.
func (p *PayloadIsolation) ValidateCabinet(ctx context.Context) error {
	_, err := CabinetFromContext(ctx)
	return err
}

// Mode returns "payload" for this isolation mode.
func (p *PayloadIsolation) Mode() string {
	return "payload"
}

// NoIsolation provides no cabinet isolation - for testing only.
//
// WARNING: This mode provides no security guarantees.
type NoIsolation struct{}

// NewNoIsolation creates a new NoIsolation mode (testing only).
func NewNoIsolation() *NoIsolation {
	return &NoIsolation{}
}

// InjectFilter passes through filters unchanged.
func (n *NoIsolation) InjectFilter(ctx context.Context, filters map[string]interface{}) (map[string]interface{}, error) {
	return filters, nil
}

// InjectMetadata is a no-op.
func (n *NoIsolation) InjectMetadata(ctx context.Context, docs []Document) error {
	return nil
}

// ValidateCabinet always succeeds.
func (n *NoIsolation) ValidateCabinet(ctx context.Context) error {
	return nil
}

// Mode returns "none" for this isolation mode.
func (n *NoIsolation) Mode() string {
	return "none"
}

var (
	_ IsolationMode = (*PayloadIsolation)(nil)
	_ IsolationMode = (*NoIsolation)(nil)
)

// IsolationModeFromString creates an IsolationMode from a string name.
func IsolationModeFromString(mode string) (IsolationMode, error) {
	switch mode {
	case "payload":
		return NewPayloadIsolation(), nil
	case "none":
		return NewNoIsolation(), nil
	default:
		return nil, fmt.Errorf("unknown isolation mode: %s", mode)
	}
}
