package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// Tenant isolation errors.
var (
	// ErrMissingCabinet is returned when cabinet context is required but absent.
	ErrMissingCabinet = errors.New("cabinet context required but not found")

	// ErrInvalidCabinet is returned when cabinet context is present but invalid.
	ErrInvalidCabinet = errors.New("invalid cabinet context")
)

// cabinetKey is the context key for the cabinet ID.
type cabinetKey struct{}

// ContextWithCabinet returns a context carrying the cabinet ID.
//
// Every store operation requires this: the cabinet is the tenant
// boundary, and operations without one fail closed rather than touching
// all cabinets' data.
func ContextWithCabinet(ctx context.Context, cabinetID int64) context.Context {
	return context.WithValue(ctx, cabinetKey{}, cabinetID)
}

// CabinetFromContext extracts the cabinet ID from context.
// Returns ErrMissingCabinet if absent, ErrInvalidCabinet if non-positive.
func CabinetFromContext(ctx context.Context) (int64, error) {
	cabinetID, ok := ctx.Value(cabinetKey{}).(int64)
	if !ok {
		return 0, ErrMissingCabinet
	}
	if cabinetID <= 0 {
		return 0, fmt.Errorf("%w: cabinet id must be positive, got %d", ErrInvalidCabinet, cabinetID)
	}
	return cabinetID, nil
}

// CabinetFilter returns the metadata filter that scopes a query to one
// cabinet.
func CabinetFilter(cabinetID int64) map[string]interface{} {
	return map[string]interface{}{PayloadCabinetID: cabinetID}
}

// MergeFilters merges caller filters with the cabinet filter. Cabinet
// keys win on conflict so callers cannot widen the tenant scope.
func MergeFilters(base, cabinet map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(cabinet))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range cabinet {
		merged[k] = v
	}
	return merged
}
