// Package records defines the operational source records and their
// extraction from the cabinet store.
package records

import "time"

// Source table names as they appear in the operational store. These are
// also the source_table component of a chunk's natural key.
const (
	TableOrders   = "orders"
	TableProducts = "products"
	TableStocks   = "stocks"
	TableReviews  = "reviews"
	TableSales    = "sales"
)

// Order is a customer order row.
type Order struct {
	ID          int64     `db:"id"`
	CabinetID   int64     `db:"cabinet_id"`
	ProductCode int64     `db:"product_code"`
	Quantity    int       `db:"quantity"`
	Price       float64   `db:"price"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
}

// Product is a catalog item snapshot.
type Product struct {
	Code      int64   `db:"code"`
	CabinetID int64   `db:"cabinet_id"`
	Name      string  `db:"name"`
	Brand     string  `db:"brand"`
	Category  string  `db:"category"`
	Price     float64 `db:"price"`
	Rating    float64 `db:"rating"`
}

// Stock is a current warehouse stock level.
type Stock struct {
	ID          int64     `db:"id"`
	CabinetID   int64     `db:"cabinet_id"`
	ProductCode int64     `db:"product_code"`
	Warehouse   string    `db:"warehouse"`
	Quantity    int       `db:"quantity"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Review is a customer product review.
type Review struct {
	ID          int64     `db:"id"`
	CabinetID   int64     `db:"cabinet_id"`
	ProductCode int64     `db:"product_code"`
	Rating      int       `db:"rating"`
	Text        string    `db:"text"`
	CreatedAt   time.Time `db:"created_at"`
}

// Sale is a completed sale (buyout) row.
type Sale struct {
	ID          int64     `db:"id"`
	CabinetID   int64     `db:"cabinet_id"`
	ProductCode int64     `db:"product_code"`
	Quantity    int       `db:"quantity"`
	Amount      float64   `db:"amount"`
	SoldAt      time.Time `db:"sold_at"`
}

// Set holds one cabinet's extracted records across all five kinds.
type Set struct {
	Orders   []Order
	Products []Product
	Stocks   []Stock
	Reviews  []Review
	Sales    []Sale
}

// Empty reports whether the set contains no records at all.
func (s *Set) Empty() bool {
	return len(s.Orders) == 0 && len(s.Products) == 0 && len(s.Stocks) == 0 &&
		len(s.Reviews) == 0 && len(s.Sales) == 0
}

// Len returns the total record count.
func (s *Set) Len() int {
	return len(s.Orders) + len(s.Products) + len(s.Stocks) + len(s.Reviews) + len(s.Sales)
}
