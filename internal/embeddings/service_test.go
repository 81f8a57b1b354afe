package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEmbeddingsServer serves an OpenAI-compatible /v1/embeddings endpoint
// returning a vector [i, i+1] per input, deliberately out of order.
func newEmbeddingsServer(t *testing.T, wantAuth string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		if wantAuth != "" {
			require.Equal(t, wantAuth, r.Header.Get("Authorization"))
		}

		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Model)

		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		items := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			items = append(items, item{Index: i, Embedding: []float32{float32(i), float32(i + 1)}})
		}

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data":  items,
			"usage": map[string]int{"prompt_tokens": 3, "total_tokens": 3},
		})
	}))
}

func TestEmbedDocuments(t *testing.T) {
	srv := newEmbeddingsServer(t, "Bearer test-key")
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL, Model: "test-model", APIKey: "test-key"})
	require.NoError(t, err)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	// Out-of-order response items must land at their declared index.
	assert.Equal(t, []float32{0, 1}, vectors[0])
	assert.Equal(t, []float32{1, 2}, vectors[1])
	assert.Equal(t, []float32{2, 3}, vectors[2])
}

func TestEmbedQuery(t *testing.T) {
	srv := newEmbeddingsServer(t, "")
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL, Model: "test-model"})
	require.NoError(t, err)

	vector, err := svc.EmbedQuery(context.Background(), "сколько на складе")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, vector)
}

func TestEmbedDocumentsEmptyInput(t *testing.T) {
	svc, err := NewService(Config{BaseURL: "http://localhost:1", Model: "m"})
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = svc.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedDocumentsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "429")
}

func TestEmbedDocumentsCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 0, "embedding": []float32{1}},
			},
		})
	}))
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "valid", config: Config{BaseURL: "http://localhost:8080", Model: "m"}},
		{name: "missing base url", config: Config{Model: "m"}, wantErr: true},
		{name: "missing model", config: Config{BaseURL: "http://localhost:8080"}, wantErr: true},
		{name: "negative rate", config: Config{BaseURL: "http://x", Model: "m", RequestsPerSecond: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
