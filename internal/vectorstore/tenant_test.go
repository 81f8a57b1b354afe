package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCabinetFromContext(t *testing.T) {
	ctx := ContextWithCabinet(context.Background(), 7)
	cabinetID, err := CabinetFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cabinetID)
}

func TestCabinetFromContextMissing(t *testing.T) {
	_, err := CabinetFromContext(context.Background())
	assert.ErrorIs(t, err, ErrMissingCabinet)
}

func TestCabinetFromContextInvalid(t *testing.T) {
	_, err := CabinetFromContext(ContextWithCabinet(context.Background(), 0))
	assert.ErrorIs(t, err, ErrInvalidCabinet)

	_, err = CabinetFromContext(ContextWithCabinet(context.Background(), -3))
	assert.ErrorIs(t, err, ErrInvalidCabinet)
}

func TestMergeFiltersCabinetWins(t *testing.T) {
	merged := MergeFilters(
		map[string]interface{}{"chunk_type": "stock", PayloadCabinetID: int64(999)},
		CabinetFilter(7),
	)
	assert.Equal(t, int64(7), merged[PayloadCabinetID], "caller must not be able to widen cabinet scope")
	assert.Equal(t, "stock", merged["chunk_type"])
}

func TestPayloadIsolationFilter(t *testing.T) {
	iso := NewPayloadIsolation()

	filters, err := iso.InjectFilter(ContextWithCabinet(context.Background(), 7), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), filters[PayloadCabinetID])

	_, err = iso.InjectFilter(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMissingCabinet)
}

func TestPayloadIsolationMetadata(t *testing.T) {
	iso := NewPayloadIsolation()
	docs := []Document{
		{ID: "a", Metadata: map[string]interface{}{PayloadCabinetID: int64(999)}},
		{ID: "b"},
	}

	err := iso.InjectMetadata(ContextWithCabinet(context.Background(), 7), docs)
	require.NoError(t, err)

	// Context is authoritative: spoofed metadata is overwritten.
	assert.Equal(t, int64(7), docs[0].Metadata[PayloadCabinetID])
	assert.Equal(t, int64(7), docs[1].Metadata[PayloadCabinetID])
}

func TestIsolationModeFromString(t *testing.T) {
	mode, err := IsolationModeFromString("payload")
	require.NoError(t, err)
	assert.Equal(t, "payload", mode.Mode())

	mode, err = IsolationModeFromString("none")
	require.NoError(t, err)
	assert.Equal(t, "none", mode.Mode())

	_, err = IsolationModeFromString("filesystem")
	assert.Error(t, err)
}
