// Package classifier narrows similarity search by guessing which chunk
// types a question is about. Keyword matching over embedding-based
// classification: it is free, deterministic, and sellers' questions are
// formulaic enough that stems catch the bulk of them.
package classifier

import (
	"strings"

	"github.com/marketlabs/cabinetd/internal/chunk"
)

// triggers maps chunk types to lowercase stems matched as substrings.
// Russian stems deliberately drop endings so one stem covers the whole
// declension ("склад" matches "складе", "складах").
var triggers = map[chunk.Type][]string{
	chunk.TypeOrder: {
		"заказ", "достав", "отмен",
		"order", "deliver", "shipment",
	},
	chunk.TypeProduct: {
		"товар", "артикул", "карточк", "бренд", "категори", "ассортимент",
		"product", "item", "catalog",
	},
	chunk.TypeStock: {
		"склад", "остат", "наличи", "запас",
		"stock", "warehouse", "inventory",
	},
	chunk.TypeReview: {
		"отзыв", "оценк", "рейтинг", "жалоб", "покупател",
		"review", "rating", "feedback",
	},
	chunk.TypeSale: {
		"продаж", "выкуп", "выручк", "оборот",
		"sale", "sold", "revenue",
	},
}

// temporalTriggers mark questions about recency, where date order beats
// similarity order.
var temporalTriggers = []string{
	"последн", "недавн", "свеж", "сегодня", "вчера",
	"за недел", "за месяц", "на данный момент", "сейчас", "текущ",
	"recent", "latest", "last", "today", "yesterday", "current",
}

// Classifier classifies free-form seller questions.
type Classifier struct{}

// New creates a Classifier.
func New() *Classifier {
	return &Classifier{}
}

// Classify returns the chunk types a question most likely concerns.
// Types are scored by trigger hits; every type tied for the top score is
// returned. A question with no trigger hits returns nil, which callers
// treat as "search all types" — guessing wrong and filtering everything
// out would be worse than not narrowing.
func (c *Classifier) Classify(query string) []chunk.Type {
	q := strings.ToLower(query)

	scores := make(map[chunk.Type]int, len(triggers))
	best := 0
	for typ, stems := range triggers {
		for _, stem := range stems {
			if strings.Contains(q, stem) {
				scores[typ]++
			}
		}
		if scores[typ] > best {
			best = scores[typ]
		}
	}

	if best == 0 {
		return nil
	}

	var types []chunk.Type
	for _, typ := range chunk.AllTypes {
		if scores[typ] == best {
			types = append(types, typ)
		}
	}
	return types
}

// IsTemporal reports whether the question asks about recency.
func (c *Classifier) IsTemporal(query string) bool {
	q := strings.ToLower(query)
	for _, stem := range temporalTriggers {
		if strings.Contains(q, stem) {
			return true
		}
	}
	return false
}
