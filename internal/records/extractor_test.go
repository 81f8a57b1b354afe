package records

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const testSchema = `
CREATE TABLE orders (
	id INTEGER PRIMARY KEY,
	cabinet_id INTEGER NOT NULL,
	product_code INTEGER NOT NULL,
	quantity INTEGER NOT NULL,
	price REAL NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE products (
	code INTEGER NOT NULL,
	cabinet_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	brand TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	price REAL NOT NULL DEFAULT 0,
	rating REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (cabinet_id, code)
);
CREATE TABLE stocks (
	id INTEGER PRIMARY KEY,
	cabinet_id INTEGER NOT NULL,
	product_code INTEGER NOT NULL,
	warehouse TEXT NOT NULL DEFAULT '',
	quantity INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE reviews (
	id INTEGER PRIMARY KEY,
	cabinet_id INTEGER NOT NULL,
	product_code INTEGER NOT NULL,
	rating INTEGER NOT NULL,
	text TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE sales (
	id INTEGER PRIMARY KEY,
	cabinet_id INTEGER NOT NULL,
	product_code INTEGER NOT NULL,
	quantity INTEGER NOT NULL,
	amount REAL NOT NULL,
	sold_at TIMESTAMP NOT NULL
);
`

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	return db
}

// seedCabinet fills every table for one cabinet. Row ids are derived
// from the cabinet so several cabinets can share the tables without
// primary key collisions.
func seedCabinet(t *testing.T, db *sqlx.DB, cabinetID int64) {
	t.Helper()
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -120)
	base := cabinetID * 100

	mustExec := func(query string, args ...interface{}) {
		t.Helper()
		_, err := db.Exec(query, args...)
		require.NoError(t, err)
	}

	mustExec(`INSERT INTO products (code, cabinet_id, name, brand, category, price, rating)
		VALUES (100, ?, 'Кроссовки беговые', 'RunFast', 'Обувь', 4990, 4.7)`, cabinetID)
	mustExec(`INSERT INTO products (code, cabinet_id, name, brand, category, price, rating)
		VALUES (200, ?, 'Футболка хлопковая', 'SoftWear', 'Одежда', 990, 4.2)`, cabinetID)

	mustExec(`INSERT INTO orders (id, cabinet_id, product_code, quantity, price, status, created_at)
		VALUES (?, ?, 100, 2, 9980, 'delivered', ?)`, base+1, cabinetID, now.AddDate(0, 0, -1))
	mustExec(`INSERT INTO orders (id, cabinet_id, product_code, quantity, price, status, created_at)
		VALUES (?, ?, 200, 1, 990, 'new', ?)`, base+2, cabinetID, now.AddDate(0, 0, -5))
	// Outside the 90-day window: must not be extracted.
	mustExec(`INSERT INTO orders (id, cabinet_id, product_code, quantity, price, status, created_at)
		VALUES (?, ?, 100, 1, 4990, 'delivered', ?)`, base+3, cabinetID, old)

	mustExec(`INSERT INTO stocks (id, cabinet_id, product_code, warehouse, quantity, updated_at)
		VALUES (?, ?, 100, 'Коледино', 35, ?)`, base+1, cabinetID, now)

	mustExec(`INSERT INTO reviews (id, cabinet_id, product_code, rating, text, created_at)
		VALUES (?, ?, 100, 5, 'Отличные кроссовки', ?)`, base+1, cabinetID, now.AddDate(0, 0, -2))

	mustExec(`INSERT INTO sales (id, cabinet_id, product_code, quantity, amount, sold_at)
		VALUES (?, ?, 200, 3, 2970, ?)`, base+1, cabinetID, now.AddDate(0, 0, -3))
}

func TestExtract(t *testing.T) {
	db := newTestDB(t)
	seedCabinet(t, db, 7)
	// Another cabinet's data must never leak.
	seedCabinet(t, db, 8)

	ex, err := NewExtractor(db, 90, nil)
	require.NoError(t, err)

	set, err := ex.Extract(context.Background(), 7)
	require.NoError(t, err)

	assert.Len(t, set.Orders, 2, "order outside window must be excluded")
	assert.Len(t, set.Products, 2)
	assert.Len(t, set.Stocks, 1)
	assert.Len(t, set.Reviews, 1)
	assert.Len(t, set.Sales, 1)
	assert.Equal(t, 7, set.Len())
	assert.False(t, set.Empty())

	for _, o := range set.Orders {
		assert.Equal(t, int64(7), o.CabinetID)
	}
}

func TestExtractEmptyCabinet(t *testing.T) {
	db := newTestDB(t)

	ex, err := NewExtractor(db, 90, nil)
	require.NoError(t, err)

	set, err := ex.Extract(context.Background(), 99)
	require.NoError(t, err)
	assert.True(t, set.Empty())
	assert.Equal(t, 0, set.Len())
}

func TestExtractChanged(t *testing.T) {
	db := newTestDB(t)
	seedCabinet(t, db, 7)

	ex, err := NewExtractor(db, 90, nil)
	require.NoError(t, err)

	set, err := ex.ExtractChanged(context.Background(), 7, map[string][]int64{
		TableOrders:   {701},
		TableProducts: {100},
		TableStocks:   {701},
	})
	require.NoError(t, err)

	assert.Len(t, set.Orders, 1)
	assert.Equal(t, int64(701), set.Orders[0].ID)
	assert.Len(t, set.Products, 1)
	assert.Equal(t, int64(100), set.Products[0].Code)
	assert.Len(t, set.Stocks, 1)
	assert.Empty(t, set.Reviews)
	assert.Empty(t, set.Sales)
}

func TestExtractChangedUnknownTable(t *testing.T) {
	db := newTestDB(t)
	ex, err := NewExtractor(db, 90, nil)
	require.NoError(t, err)

	_, err = ex.ExtractChanged(context.Background(), 7, map[string][]int64{
		"invoices": {1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source table")
}

func TestProductNames(t *testing.T) {
	db := newTestDB(t)
	seedCabinet(t, db, 7)

	ex, err := NewExtractor(db, 90, nil)
	require.NoError(t, err)

	names, err := ex.ProductNames(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{
		100: "Кроссовки беговые",
		200: "Футболка хлопковая",
	}, names)
}

func TestNewExtractorValidation(t *testing.T) {
	db := newTestDB(t)

	_, err := NewExtractor(nil, 90, nil)
	assert.Error(t, err)

	_, err = NewExtractor(db, 0, nil)
	assert.Error(t, err)
}
