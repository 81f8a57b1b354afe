package chunk

import (
	"fmt"
	"strings"
	"time"

	"github.com/marketlabs/cabinetd/internal/records"
)

// dateLayout is the date format rendered into chunk texts. The context
// builder parses this format back out for temporal re-ranking.
const dateLayout = "2006-01-02"

// Builder renders source records into chunks. It is a pure function of
// its inputs: no I/O, deterministic output for identical records.
//
// Chunks are rendered as human-readable sentences rather than terse
// key:value pairs. Paraphrased natural-language queries embed much closer
// to full sentences, so recall is measurably better this way.
type Builder struct{}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build converts a record set into chunks. productNames is the code→name
// lookup used so order/stock/review/sale chunks can mention product names
// without re-querying the store; products present in the set are added to
// the lookup automatically.
//
// A malformed record (missing natural id) is an error: the caller must
// abort the indexing run rather than index a partial set.
func (b *Builder) Build(set *records.Set, productNames map[int64]string) ([]Chunk, error) {
	names := make(map[int64]string, len(productNames)+len(set.Products))
	for code, name := range productNames {
		names[code] = name
	}
	for _, p := range set.Products {
		names[p.Code] = p.Name
	}

	chunks := make([]Chunk, 0, set.Len())

	for _, p := range set.Products {
		if p.Code == 0 {
			return nil, fmt.Errorf("product without code (cabinet %d)", p.CabinetID)
		}
		chunks = append(chunks, newChunk(p.CabinetID, TypeProduct, records.TableProducts, p.Code, p.Code, b.renderProduct(p)))
	}

	for _, o := range set.Orders {
		if o.ID == 0 {
			return nil, fmt.Errorf("order without id (cabinet %d)", o.CabinetID)
		}
		chunks = append(chunks, newChunk(o.CabinetID, TypeOrder, records.TableOrders, o.ID, o.ProductCode, b.renderOrder(o, names)))
	}

	for _, s := range set.Stocks {
		if s.ID == 0 {
			return nil, fmt.Errorf("stock row without id (cabinet %d)", s.CabinetID)
		}
		chunks = append(chunks, newChunk(s.CabinetID, TypeStock, records.TableStocks, s.ID, s.ProductCode, b.renderStock(s, names)))
	}

	for _, r := range set.Reviews {
		if r.ID == 0 {
			return nil, fmt.Errorf("review without id (cabinet %d)", r.CabinetID)
		}
		chunks = append(chunks, newChunk(r.CabinetID, TypeReview, records.TableReviews, r.ID, r.ProductCode, b.renderReview(r, names)))
	}

	for _, s := range set.Sales {
		if s.ID == 0 {
			return nil, fmt.Errorf("sale without id (cabinet %d)", s.CabinetID)
		}
		chunks = append(chunks, newChunk(s.CabinetID, TypeSale, records.TableSales, s.ID, s.ProductCode, b.renderSale(s, names)))
	}

	return chunks, nil
}

func newChunk(cabinetID int64, typ Type, table string, sourceID, productCode int64, text string) Chunk {
	return Chunk{
		CabinetID:   cabinetID,
		Type:        typ,
		SourceTable: table,
		SourceID:    sourceID,
		Text:        text,
		Hash:        HashText(text),
		ProductCode: productCode,
	}
}

func (b *Builder) renderProduct(p records.Product) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Товар «%s» (артикул %d)", p.Name, p.Code)
	if p.Brand != "" {
		fmt.Fprintf(&sb, ", бренд %s", p.Brand)
	}
	if p.Category != "" {
		fmt.Fprintf(&sb, ", категория %s", p.Category)
	}
	fmt.Fprintf(&sb, ", цена %.2f руб", p.Price)
	if p.Rating > 0 {
		fmt.Fprintf(&sb, ", рейтинг покупателей %.1f", p.Rating)
	}
	sb.WriteString(".")
	return sb.String()
}

func (b *Builder) renderOrder(o records.Order, names map[int64]string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Заказ №%d от %s: ", o.ID, formatDate(o.CreatedAt))
	writeProductRef(&sb, o.ProductCode, names)
	fmt.Fprintf(&sb, ", количество %d шт, сумма заказа %.2f руб, статус заказа: %s.", o.Quantity, o.Price, o.Status)
	return sb.String()
}

func (b *Builder) renderStock(s records.Stock, names map[int64]string) string {
	var sb strings.Builder
	sb.WriteString("Остаток на складе")
	if s.Warehouse != "" {
		fmt.Fprintf(&sb, " %s", s.Warehouse)
	}
	sb.WriteString(": ")
	writeProductRef(&sb, s.ProductCode, names)
	fmt.Fprintf(&sb, " — в наличии %d шт, остатки обновлены %s.", s.Quantity, formatDate(s.UpdatedAt))
	return sb.String()
}

func (b *Builder) renderReview(r records.Review, names map[int64]string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Отзыв покупателя от %s: ", formatDate(r.CreatedAt))
	writeProductRef(&sb, r.ProductCode, names)
	fmt.Fprintf(&sb, ", оценка %d из 5", r.Rating)
	if text := strings.TrimSpace(r.Text); text != "" {
		fmt.Fprintf(&sb, ": %s", text)
	}
	sb.WriteString(".")
	return sb.String()
}

func (b *Builder) renderSale(s records.Sale, names map[int64]string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Продажа (выкуп) от %s: ", formatDate(s.SoldAt))
	writeProductRef(&sb, s.ProductCode, names)
	fmt.Fprintf(&sb, ", продано %d шт на сумму %.2f руб.", s.Quantity, s.Amount)
	return sb.String()
}

// writeProductRef renders "товар «Name» (артикул N)" or just the code
// when the name is unknown.
func writeProductRef(sb *strings.Builder, code int64, names map[int64]string) {
	if name, ok := names[code]; ok && name != "" {
		fmt.Fprintf(sb, "товар «%s» (артикул %d)", name, code)
		return
	}
	fmt.Fprintf(sb, "товар с артикулом %d", code)
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}
