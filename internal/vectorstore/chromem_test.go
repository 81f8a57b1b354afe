package vectorstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(ChromemConfig{
		Path:       t.TempDir(),
		Collection: "cabinet_chunks",
		VectorSize: 4,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testDoc(id string, vector []float32) Document {
	return Document{
		ID:      id,
		Content: "товар «Кроссовки» (артикул 100)",
		Vector:  vector,
		Metadata: map[string]interface{}{
			PayloadChunkType:   "product",
			PayloadSourceTable: "products",
			PayloadSourceID:    int64(100),
			PayloadHash:        "hash-" + id,
		},
	}
}

func TestChromemUpsertAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := ContextWithCabinet(context.Background(), 7)

	n, err := store.Upsert(ctx, []Document{
		testDoc("7:products:100", []float32{1, 0, 0, 0}),
		testDoc("7:products:200", []float32{0, 1, 0, 0}),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err := store.Query(ctx, []float32{1, 0, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "7:products:100", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 0.001)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Equal(t, int64(7), results[0].Metadata[PayloadCabinetID])
}

func TestChromemUpsertReplacesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := ContextWithCabinet(context.Background(), 7)

	doc := testDoc("7:products:100", []float32{1, 0, 0, 0})
	_, err := store.Upsert(ctx, []Document{doc})
	require.NoError(t, err)

	doc.Content = "товар «Кроссовки обновлённые» (артикул 100)"
	doc.Metadata[PayloadHash] = "hash-v2"
	_, err = store.Upsert(ctx, []Document{doc})
	require.NoError(t, err)

	results, err := store.Query(ctx, []float32{1, 0, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1, "re-upserting the same ID must replace, not duplicate")
	assert.Contains(t, results[0].Content, "обновлённые")
	assert.Equal(t, "hash-v2", results[0].Metadata[PayloadHash])
}

func TestChromemCabinetIsolation(t *testing.T) {
	store := newTestStore(t)
	ctxA := ContextWithCabinet(context.Background(), 7)
	ctxB := ContextWithCabinet(context.Background(), 8)

	_, err := store.Upsert(ctxA, []Document{testDoc("7:products:100", []float32{1, 0, 0, 0})})
	require.NoError(t, err)
	_, err = store.Upsert(ctxB, []Document{testDoc("8:products:100", []float32{1, 0, 0, 0})})
	require.NoError(t, err)

	results, err := store.Query(ctxA, []float32{1, 0, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1, "cabinet 8's documents must not leak into cabinet 7's results")
	assert.Equal(t, "7:products:100", results[0].ID)
}

func TestChromemFailsClosedWithoutCabinet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, []Document{testDoc("x", []float32{1, 0, 0, 0})})
	assert.ErrorIs(t, err, ErrMissingCabinet)

	_, err = store.Query(ctx, []float32{1, 0, 0, 0}, 10, nil)
	assert.ErrorIs(t, err, ErrMissingCabinet)

	_, err = store.Hashes(ctx, []string{"x"})
	assert.ErrorIs(t, err, ErrMissingCabinet)

	err = store.DeleteCabinet(ctx)
	assert.ErrorIs(t, err, ErrMissingCabinet)
}

func TestChromemQueryFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := ContextWithCabinet(context.Background(), 7)

	product := testDoc("7:products:100", []float32{1, 0, 0, 0})
	stock := testDoc("7:stocks:1", []float32{0.9, 0.1, 0, 0})
	stock.Metadata[PayloadChunkType] = "stock"
	stock.Metadata[PayloadSourceTable] = "stocks"

	_, err := store.Upsert(ctx, []Document{product, stock})
	require.NoError(t, err)

	results, err := store.Query(ctx, []float32{1, 0, 0, 0}, 10, map[string]interface{}{
		PayloadChunkType: "stock",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "7:stocks:1", results[0].ID)
}

func TestChromemQueryEmptyCabinet(t *testing.T) {
	store := newTestStore(t)
	ctx := ContextWithCabinet(context.Background(), 42)

	results, err := store.Query(ctx, []float32{1, 0, 0, 0}, 10, nil)
	require.NoError(t, err, "querying a never-indexed cabinet is not an error")
	assert.Empty(t, results)
}

func TestChromemHashes(t *testing.T) {
	store := newTestStore(t)
	ctx := ContextWithCabinet(context.Background(), 7)

	_, err := store.Upsert(ctx, []Document{
		testDoc("7:products:100", []float32{1, 0, 0, 0}),
		testDoc("7:products:200", []float32{0, 1, 0, 0}),
	})
	require.NoError(t, err)

	hashes, err := store.Hashes(ctx, []string{"7:products:100", "7:products:200", "7:products:999"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"7:products:100": "hash-7:products:100",
		"7:products:200": "hash-7:products:200",
	}, hashes)

	// Another cabinet cannot read these hashes even with the right IDs.
	other := ContextWithCabinet(context.Background(), 8)
	hashes, err = store.Hashes(other, []string{"7:products:100"})
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestChromemDeleteCabinet(t *testing.T) {
	store := newTestStore(t)
	ctxA := ContextWithCabinet(context.Background(), 7)
	ctxB := ContextWithCabinet(context.Background(), 8)

	_, err := store.Upsert(ctxA, []Document{testDoc("7:products:100", []float32{1, 0, 0, 0})})
	require.NoError(t, err)
	_, err = store.Upsert(ctxB, []Document{testDoc("8:products:100", []float32{0, 1, 0, 0})})
	require.NoError(t, err)

	require.NoError(t, store.DeleteCabinet(ctxA))

	results, err := store.Query(ctxA, []float32{1, 0, 0, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = store.Query(ctxB, []float32{0, 1, 0, 0}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1, "deleting cabinet 7 must not touch cabinet 8")
}

func TestChromemUpsertValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := ContextWithCabinet(context.Background(), 7)

	_, err := store.Upsert(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyDocuments)

	_, err = store.Upsert(ctx, []Document{{ID: "x", Content: "no vector"}})
	assert.ErrorIs(t, err, ErrMissingVector)

	_, err = store.Upsert(ctx, []Document{{ID: "x", Content: "short", Vector: []float32{1, 0}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector size")
}

func TestChromemPersistence(t *testing.T) {
	dir := t.TempDir()
	ctx := ContextWithCabinet(context.Background(), 7)

	store, err := NewChromemStore(ChromemConfig{Path: dir, VectorSize: 4}, nil)
	require.NoError(t, err)
	_, err = store.Upsert(ctx, []Document{testDoc("7:products:100", []float32{1, 0, 0, 0})})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewChromemStore(ChromemConfig{Path: dir, VectorSize: 4}, nil)
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Query(ctx, []float32{1, 0, 0, 0}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestChromemConfigValidate(t *testing.T) {
	cfg := ChromemConfig{}
	cfg.ApplyDefaults()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "cabinet_chunks", cfg.Collection)
	assert.Equal(t, 1536, cfg.VectorSize)

	bad := ChromemConfig{Collection: "Invalid Name!", VectorSize: 4}
	assert.Error(t, bad.Validate())
}

func TestChromemManyCabinets(t *testing.T) {
	store := newTestStore(t)

	for cabinet := int64(1); cabinet <= 5; cabinet++ {
		ctx := ContextWithCabinet(context.Background(), cabinet)
		_, err := store.Upsert(ctx, []Document{
			testDoc(fmt.Sprintf("%d:products:100", cabinet), []float32{1, 0, 0, 0}),
		})
		require.NoError(t, err)
	}

	for cabinet := int64(1); cabinet <= 5; cabinet++ {
		ctx := ContextWithCabinet(context.Background(), cabinet)
		results, err := store.Query(ctx, []float32{1, 0, 0, 0}, 10, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, fmt.Sprintf("%d:products:100", cabinet), results[0].ID)
	}
}
