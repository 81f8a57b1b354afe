// Package contextbuilder formats retrieved chunks into the context
// block injected ahead of an LLM prompt.
package contextbuilder

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/marketlabs/cabinetd/internal/chunk"
	"github.com/marketlabs/cabinetd/internal/search"
)

// truncationMarker closes a context block that hit the length budget.
const truncationMarker = "… (контекст усечён)"

// datePattern finds the date rendered into chunk texts.
var datePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// displayOrder is the group order in the rendered block: identity
// first (what the products are), then activity, then opinions.
var displayOrder = []chunk.Type{
	chunk.TypeProduct,
	chunk.TypeOrder,
	chunk.TypeSale,
	chunk.TypeStock,
	chunk.TypeReview,
}

// groupHeaders are the Russian section headers per chunk type.
var groupHeaders = map[chunk.Type]string{
	chunk.TypeProduct: "Товары:",
	chunk.TypeOrder:   "Заказы:",
	chunk.TypeSale:    "Продажи:",
	chunk.TypeStock:   "Остатки на складах:",
	chunk.TypeReview:  "Отзывы покупателей:",
}

// Builder renders search results into a bounded text block.
type Builder struct {
	maxContextLength int
}

// NewBuilder creates a Builder. maxContextLength bounds the rendered
// block in runes; chunk texts are Russian, so bytes would overcount.
func NewBuilder(maxContextLength int) (*Builder, error) {
	if maxContextLength <= 0 {
		return nil, fmt.Errorf("max context length must be positive, got %d", maxContextLength)
	}
	return &Builder{maxContextLength: maxContextLength}, nil
}

// Build renders the context block. Empty results render an empty string
// so the caller can skip enrichment entirely.
func (b *Builder) Build(results *search.Results) string {
	if results == nil || len(results.Items) == 0 {
		return ""
	}

	items := dedupe(results.Items)

	if results.Temporal {
		sortTemporal(items)
	} else {
		sortBySimilarity(items)
	}

	// Temporal retrieval over-fetches so date re-ranking has a wider
	// pool; the result budget applies here, after the re-rank.
	if results.Limit > 0 && len(items) > results.Limit {
		items = items[:results.Limit]
	}

	var lines []string
	for _, typ := range displayOrder {
		var group []string
		for _, item := range items {
			if item.Type != typ {
				continue
			}
			group = append(group, "- "+item.Content)
		}
		if len(group) == 0 {
			continue
		}
		lines = append(lines, groupHeaders[typ])
		lines = append(lines, group...)
	}

	return b.joinBounded(lines)
}

// dedupe collapses items sharing a natural key, keeping the higher
// score. Duplicates show up when over-fetched candidate pools overlap.
func dedupe(items []search.Item) []search.Item {
	seen := make(map[string]int, len(items))
	out := make([]search.Item, 0, len(items))

	for _, item := range items {
		key := item.ID
		if item.SourceTable != "" {
			key = fmt.Sprintf("%s:%d", item.SourceTable, item.SourceID)
		}
		if idx, ok := seen[key]; ok {
			if item.Score > out[idx].Score {
				out[idx] = item
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, item)
	}
	return out
}

func sortBySimilarity(items []search.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
}

// sortTemporal orders by the date embedded in the chunk text, newest
// first; equal dates fall back to similarity, undated chunks go last.
func sortTemporal(items []search.Item) {
	dates := make([]time.Time, len(items))
	dated := make([]bool, len(items))
	for i, item := range items {
		if match := datePattern.FindString(item.Content); match != "" {
			if d, err := time.Parse("2006-01-02", match); err == nil {
				dates[i] = d
				dated[i] = true
			}
		}
	}

	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		i, j := idx[a], idx[b]
		if dated[i] != dated[j] {
			return dated[i]
		}
		if dated[i] && !dates[i].Equal(dates[j]) {
			return dates[i].After(dates[j])
		}
		return items[i].Score > items[j].Score
	})

	sorted := make([]search.Item, len(items))
	for pos, i := range idx {
		sorted[pos] = items[i]
	}
	copy(items, sorted)
}

// joinBounded joins lines, dropping whole lines once the rune budget is
// reached and closing with the truncation marker. A half sentence about
// stock counts is worse than no sentence. The marker counts against the
// budget like any other line; the total never exceeds maxContextLength.
func (b *Builder) joinBounded(lines []string) string {
	kept := make([]string, 0, len(lines))
	total := 0
	truncated := false

	for _, line := range lines {
		cost := len([]rune(line))
		if len(kept) > 0 {
			cost++ // newline
		}
		if total+cost > b.maxContextLength {
			truncated = true
			break
		}
		kept = append(kept, line)
		total += cost
	}

	if !truncated {
		return strings.Join(kept, "\n")
	}

	// Drop trailing lines until the marker fits too.
	markerCost := len([]rune(truncationMarker))
	for len(kept) > 0 && total+1+markerCost > b.maxContextLength {
		last := len(kept) - 1
		total -= len([]rune(kept[last]))
		if last > 0 {
			total-- // its leading newline
		}
		kept = kept[:last]
	}
	if len(kept) == 0 {
		if markerCost > b.maxContextLength {
			return ""
		}
		return truncationMarker
	}
	return strings.Join(kept, "\n") + "\n" + truncationMarker
}
