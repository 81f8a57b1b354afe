package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marketlabs/cabinetd/internal/chunk"
)

func TestClassify(t *testing.T) {
	c := New()

	tests := []struct {
		name  string
		query string
		want  []chunk.Type
	}{
		{
			name:  "stock question",
			query: "Сколько на складе кроссовок?",
			want:  []chunk.Type{chunk.TypeStock},
		},
		{
			name:  "stock question with inflection",
			query: "какие остатки по складам",
			want:  []chunk.Type{chunk.TypeStock},
		},
		{
			name:  "order question",
			query: "Когда будет доставка по заказу 123?",
			want:  []chunk.Type{chunk.TypeOrder},
		},
		{
			name:  "review question",
			query: "Какие оценки и отзывы у покупателей?",
			want:  []chunk.Type{chunk.TypeReview},
		},
		{
			name:  "sales question",
			query: "Какая выручка от продаж за месяц?",
			want:  []chunk.Type{chunk.TypeSale},
		},
		{
			name:  "english stock question",
			query: "how much inventory is in the warehouse",
			want:  []chunk.Type{chunk.TypeStock},
		},
		{
			name:  "tie returns both types",
			query: "отзывы на заказ",
			want:  []chunk.Type{chunk.TypeOrder, chunk.TypeReview},
		},
		{
			name:  "no triggers means no narrowing",
			query: "привет, как дела?",
			want:  nil,
		},
		{
			name:  "empty query",
			query: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.query))
		})
	}
}

func TestClassifyDominantTypeWins(t *testing.T) {
	c := New()

	// Two stock stems against one product stem: stock dominates.
	got := c.Classify("сколько товара осталось на складе, какие остатки")
	assert.Equal(t, []chunk.Type{chunk.TypeStock}, got)
}

func TestIsTemporal(t *testing.T) {
	c := New()

	temporal := []string{
		"последние заказы",
		"Что продавалось вчера?",
		"свежие отзывы",
		"остатки на данный момент",
		"latest sales",
	}
	for _, q := range temporal {
		assert.True(t, c.IsTemporal(q), q)
	}

	plain := []string{
		"сколько на складе",
		"отзывы о кроссовках",
		"",
	}
	for _, q := range plain {
		assert.False(t, c.IsTemporal(q), q)
	}
}
