package records

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/marketlabs/cabinetd/internal/logging"
)

// Extractor reads a cabinet's records from the operational store.
//
// Reads are side-effect free. Any read error aborts the caller's indexing
// run: a partially extracted set would silently produce an incomplete
// index, which is worse than a failed run.
type Extractor struct {
	db         *sqlx.DB
	windowDays int
	logger     *logging.Logger
}

// NewExtractor creates an Extractor. windowDays bounds how far back
// orders, reviews and sales are read; products and stocks are snapshots
// and always read in full.
func NewExtractor(db *sqlx.DB, windowDays int, logger *logging.Logger) (*Extractor, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if windowDays <= 0 {
		return nil, fmt.Errorf("window days must be positive, got %d", windowDays)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Extractor{db: db, windowDays: windowDays, logger: logger}, nil
}

// Extract reads all five record collections for a cabinet.
func (e *Extractor) Extract(ctx context.Context, cabinetID int64) (*Set, error) {
	since := time.Now().AddDate(0, 0, -e.windowDays)
	set := &Set{}

	if err := e.db.SelectContext(ctx, &set.Orders,
		`SELECT id, cabinet_id, product_code, quantity, price, status, created_at
		 FROM orders WHERE cabinet_id = ? AND created_at >= ? ORDER BY id`,
		cabinetID, since); err != nil {
		return nil, fmt.Errorf("extracting orders: %w", err)
	}

	if err := e.db.SelectContext(ctx, &set.Products,
		`SELECT code, cabinet_id, name, brand, category, price, rating
		 FROM products WHERE cabinet_id = ? ORDER BY code`,
		cabinetID); err != nil {
		return nil, fmt.Errorf("extracting products: %w", err)
	}

	if err := e.db.SelectContext(ctx, &set.Stocks,
		`SELECT id, cabinet_id, product_code, warehouse, quantity, updated_at
		 FROM stocks WHERE cabinet_id = ? ORDER BY id`,
		cabinetID); err != nil {
		return nil, fmt.Errorf("extracting stocks: %w", err)
	}

	if err := e.db.SelectContext(ctx, &set.Reviews,
		`SELECT id, cabinet_id, product_code, rating, text, created_at
		 FROM reviews WHERE cabinet_id = ? AND created_at >= ? ORDER BY id`,
		cabinetID, since); err != nil {
		return nil, fmt.Errorf("extracting reviews: %w", err)
	}

	if err := e.db.SelectContext(ctx, &set.Sales,
		`SELECT id, cabinet_id, product_code, quantity, amount, sold_at
		 FROM sales WHERE cabinet_id = ? AND sold_at >= ? ORDER BY id`,
		cabinetID, since); err != nil {
		return nil, fmt.Errorf("extracting sales: %w", err)
	}

	e.logger.Debug(ctx, "extracted records",
		zap.Int64("cabinet_id", cabinetID),
		zap.Int("orders", len(set.Orders)),
		zap.Int("products", len(set.Products)),
		zap.Int("stocks", len(set.Stocks)),
		zap.Int("reviews", len(set.Reviews)),
		zap.Int("sales", len(set.Sales)),
	)

	return set, nil
}

// ExtractChanged reads only the given record ids per source table. Tables
// absent from changed are skipped. Unknown table names are an error so a
// typo in a trigger request fails loudly instead of indexing nothing.
func (e *Extractor) ExtractChanged(ctx context.Context, cabinetID int64, changed map[string][]int64) (*Set, error) {
	set := &Set{}

	for table, ids := range changed {
		if len(ids) == 0 {
			continue
		}
		var err error
		switch table {
		case TableOrders:
			err = e.selectIn(ctx, &set.Orders,
				`SELECT id, cabinet_id, product_code, quantity, price, status, created_at
				 FROM orders WHERE cabinet_id = ? AND id IN (?) ORDER BY id`, cabinetID, ids)
		case TableProducts:
			err = e.selectIn(ctx, &set.Products,
				`SELECT code, cabinet_id, name, brand, category, price, rating
				 FROM products WHERE cabinet_id = ? AND code IN (?) ORDER BY code`, cabinetID, ids)
		case TableStocks:
			err = e.selectIn(ctx, &set.Stocks,
				`SELECT id, cabinet_id, product_code, warehouse, quantity, updated_at
				 FROM stocks WHERE cabinet_id = ? AND id IN (?) ORDER BY id`, cabinetID, ids)
		case TableReviews:
			err = e.selectIn(ctx, &set.Reviews,
				`SELECT id, cabinet_id, product_code, rating, text, created_at
				 FROM reviews WHERE cabinet_id = ? AND id IN (?) ORDER BY id`, cabinetID, ids)
		case TableSales:
			err = e.selectIn(ctx, &set.Sales,
				`SELECT id, cabinet_id, product_code, quantity, amount, sold_at
				 FROM sales WHERE cabinet_id = ? AND id IN (?) ORDER BY id`, cabinetID, ids)
		default:
			return nil, fmt.Errorf("unknown source table: %q", table)
		}
		if err != nil {
			return nil, fmt.Errorf("extracting changed %s: %w", table, err)
		}
	}

	return set, nil
}

// ProductNames returns the code→name lookup for a cabinet, used by the
// chunk builder so non-product chunks can mention product names without
// re-querying per record.
func (e *Extractor) ProductNames(ctx context.Context, cabinetID int64) (map[int64]string, error) {
	var rows []struct {
		Code int64  `db:"code"`
		Name string `db:"name"`
	}
	if err := e.db.SelectContext(ctx, &rows,
		`SELECT code, name FROM products WHERE cabinet_id = ?`, cabinetID); err != nil {
		return nil, fmt.Errorf("loading product names: %w", err)
	}

	names := make(map[int64]string, len(rows))
	for _, r := range rows {
		names[r.Code] = r.Name
	}
	return names, nil
}

// selectIn expands an IN (?) query via sqlx.In and rebinds placeholders
// for the active driver.
func (e *Extractor) selectIn(ctx context.Context, dest interface{}, query string, cabinetID int64, ids []int64) error {
	expanded, args, err := sqlx.In(query, cabinetID, ids)
	if err != nil {
		return fmt.Errorf("expanding query: %w", err)
	}
	return e.db.SelectContext(ctx, dest, e.db.Rebind(expanded), args...)
}
