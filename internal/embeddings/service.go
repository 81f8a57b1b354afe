// Package embeddings provides embedding generation via an
// OpenAI-compatible provider API.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Config holds configuration for the embedding service.
type Config struct {
	// BaseURL is the base URL of an OpenAI-compatible API; the service
	// posts to {BaseURL}/v1/embeddings.
	BaseURL string

	// Model is the embedding model to use
	Model string

	// APIKey is sent as a bearer token when set
	APIKey string

	// Timeout bounds a single provider call. Zero means no timeout.
	Timeout time.Duration

	// RequestsPerSecond limits the provider call rate. Zero disables
	// limiting.
	RequestsPerSecond float64
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: requests per second cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// Service provides embedding generation against an OpenAI-compatible
// provider. It is safe for concurrent use.
type Service struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	metrics *Metrics
}

// NewService creates a new embedding service with the given configuration.
func NewService(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	return &Service{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: limiter,
		metrics: NewMetrics(zap.NewNop()),
	}, nil
}

// embeddingsRequest is the OpenAI-compatible request body.
type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingsResponse is the OpenAI-compatible response body.
type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// EmbedDocuments generates embeddings for multiple texts. The returned
// slice is aligned with texts: vectors[i] embeds texts[i].
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	var totalTokens int
	defer func() {
		s.metrics.RecordRequest(ctx, s.config.Model, "embed_documents", time.Since(start), len(texts), totalTokens, genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, tokens, err := s.embed(ctx, texts)
	if err != nil {
		genErr = err
		return nil, genErr
	}
	totalTokens = tokens
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	var totalTokens int
	defer func() {
		s.metrics.RecordRequest(ctx, s.config.Model, "embed_query", time.Since(start), 1, totalTokens, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, tokens, err := s.embed(ctx, []string{text})
	if err != nil {
		genErr = err
		return nil, genErr
	}
	totalTokens = tokens
	return vectors[0], nil
}

func (s *Service) embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	body, err := json.Marshal(embeddingsRequest{
		Model: s.config.Model,
		Input: texts,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(s.config.BaseURL, "/") + "/v1/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, 0, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var decoded embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, 0, fmt.Errorf("decoding response: %w", err)
	}

	if len(decoded.Data) != len(texts) {
		return nil, 0, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(decoded.Data), len(texts))
	}

	// Providers may return items out of order; the index field is
	// authoritative.
	vectors := make([][]float32, len(texts))
	for _, item := range decoded.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, 0, fmt.Errorf("%w: embedding index %d out of range", ErrEmbeddingFailed, item.Index)
		}
		if len(item.Embedding) == 0 {
			return nil, 0, fmt.Errorf("%w: empty embedding at index %d", ErrEmbeddingFailed, item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, 0, fmt.Errorf("%w: missing embedding for index %d", ErrEmbeddingFailed, i)
		}
	}

	return vectors, decoded.Usage.TotalTokens, nil
}
