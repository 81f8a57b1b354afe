package vectorstore

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// qdrantTracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("cabinetd.vectorstore.qdrant")

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// pointNamespace is the UUID v5 namespace for deriving point IDs from
// document IDs. Qdrant requires UUID point IDs; deriving them
// deterministically from the natural key is what makes re-indexing an
// upsert instead of an append.
var pointNamespace = uuid.MustParse("c3b5e7a1-4f2d-4e8b-9c6a-1d0f82b437e5")

// QdrantConfig holds configuration for Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT the HTTP REST port).
	// Default: 6334 (gRPC), not 6333 (HTTP)
	Port int

	// Collection is the collection all cabinets share.
	Collection string

	// VectorSize is the dimensionality of embeddings.
	// MUST match the embedding model's output dimension.
	VectorSize uint64

	// Distance is the similarity metric for vector search.
	// Default: Cosine
	Distance qdrant.Distance

	// UseTLS enables TLS encryption for gRPC connection.
	UseTLS bool

	// MaxRetries is the maximum number of retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries.
	// Doubles on each retry.
	// Default: 1 second
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int

	// CircuitBreakerThreshold is the number of failures before opening circuit.
	// Default: 5
	CircuitBreakerThreshold int

	// Isolation is the cabinet isolation mode.
	// Default: PayloadIsolation for fail-closed security.
	Isolation IsolationMode
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection name required", ErrInvalidConfig)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.Distance == 0 {
		c.Distance = qdrant.Distance_Cosine
	}
	if c.Isolation == nil {
		c.Isolation = NewPayloadIsolation()
	}
}

// ValidateCollectionName validates a collection name against security rules.
// Pattern: ^[a-z0-9_]{1,64}$
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidConfig)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidConfig, name)
	}
	return nil
}

// IsTransientError checks if an error is transient (should retry).
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// PointID derives the deterministic Qdrant point UUID for a document ID.
func PointID(docID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(docID)).String()
}

// QdrantStore is a Store implementation using Qdrant's native gRPC client.
//
// gRPC (port 6334) rather than the HTTP REST layer: binary protobuf
// encoding avoids the REST payload limits that large chunk batches hit
// during indexing.
type QdrantStore struct {
	client    *qdrant.Client
	config    QdrantConfig
	isolation IsolationMode

	// collectionReady records that ensureCollection already ran.
	collectionReady sync.Once
	collectionErr   error

	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

// NewQdrantStore creates a new QdrantStore with the given configuration.
// The constructor connects, health-checks, and returns a ready store.
func NewQdrantStore(config QdrantConfig) (*QdrantStore, error) {
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if err := ValidateCollectionName(config.Collection); err != nil {
		return nil, fmt.Errorf("validating collection name: %w", err)
	}

	if !config.UseTLS {
		fmt.Fprintf(os.Stderr, "WARNING: Qdrant gRPC using plaintext (TLS disabled). Insecure for production.\n")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{
		client:    client,
		config:    config,
		isolation: config.Isolation,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.healthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	return store, nil
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// healthCheck performs a health check on the Qdrant connection.
func (s *QdrantStore) healthCheck(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.HealthCheck")
	defer span.End()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("health check failed: %w", err)
	}

	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// ensureCollection creates the shared collection if it does not exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	s.collectionReady.Do(func() {
		exists, err := s.client.CollectionExists(ctx, s.config.Collection)
		if err != nil {
			s.collectionErr = fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
			return
		}
		if exists {
			return
		}
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.config.VectorSize,
				Distance: s.config.Distance,
			}),
		})
		if err != nil {
			s.collectionErr = fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
		}
	})
	return s.collectionErr
}

// retryOperation retries an operation with exponential backoff.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			s.resetCircuitBreaker()
			return nil
		}

		if s.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open", operationName)
		}

		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		s.recordFailure()

		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *QdrantStore) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	s.circuitBreaker.lastFail = time.Now()
}

func (s *QdrantStore) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *QdrantStore) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()

	if s.circuitBreaker.failures >= s.config.CircuitBreakerThreshold {
		// Allow retry after 30 seconds.
		if time.Since(s.circuitBreaker.lastFail) > 30*time.Second {
			s.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// Upsert stores documents with their precomputed vectors. Point IDs are
// derived deterministically from document IDs, so the same record always
// lands on the same point.
func (s *QdrantStore) Upsert(ctx context.Context, docs []Document) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.Int("document_count", len(docs)),
		attribute.String("collection", s.config.Collection),
	)

	if len(docs) == 0 {
		return 0, ErrEmptyDocuments
	}

	if err := s.isolation.InjectMetadata(ctx, docs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("injecting cabinet metadata: %w", err)
	}

	if err := s.ensureCollection(ctx); err != nil {
		span.RecordError(err)
		return 0, err
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return 0, fmt.Errorf("document at index %d has no ID", i)
		}
		if len(doc.Vector) == 0 {
			return 0, fmt.Errorf("%w: document %s", ErrMissingVector, doc.ID)
		}

		payload := make(map[string]*qdrant.Value, len(doc.Metadata)+2)
		payload["content"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: doc.Content}}
		payload["id"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: doc.ID}}

		for k, v := range doc.Metadata {
			switch val := v.(type) {
			case string:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
			case int:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
			case int64:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
			case float64:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
			case bool:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
			}
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(doc.ID)),
			Vectors: qdrant.NewVectors(doc.Vector...),
			Payload: payload,
		}
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("upserting points to collection %s: %w", s.config.Collection, err)
	}

	span.SetAttributes(attribute.Int("points_added", len(points)))
	span.SetStatus(codes.Ok, "success")
	return len(points), nil
}

// Query performs similarity search with the given query vector.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, k int, filters map[string]interface{}) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Query")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	const maxK = 10000
	if k > maxK {
		k = maxK
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}

	filters, err := s.isolation.InjectFilter(ctx, filters)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("injecting cabinet filter: %w", err)
	}

	filter := buildQdrantFilter(filters)

	var results []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         filter,
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", s.config.Collection, err)
	}

	searchResults := make([]SearchResult, len(results))
	for i, point := range results {
		searchResults[i] = scoredPointToResult(point)
	}

	span.SetAttributes(attribute.Int("results_count", len(searchResults)))
	span.SetStatus(codes.Ok, "success")
	return searchResults, nil
}

// Hashes returns stored content hashes for the given document IDs.
func (s *QdrantStore) Hashes(ctx context.Context, ids []string) (map[string]string, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Hashes")
	defer span.End()

	span.SetAttributes(attribute.Int("id_count", len(ids)))

	cabinetID, err := CabinetFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	hashes := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return hashes, nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(PointID(id))
	}

	var points []*qdrant.RetrievedPoint
	err = s.retryOperation(ctx, "get", func() error {
		res, err := s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: s.config.Collection,
			Ids:            pointIDs,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("getting points from collection %s: %w", s.config.Collection, err)
	}

	for _, point := range points {
		payload := point.GetPayload()
		if payload[PayloadCabinetID].GetIntegerValue() != cabinetID {
			continue
		}
		docID := payload["id"].GetStringValue()
		hash := payload[PayloadHash].GetStringValue()
		if docID != "" && hash != "" {
			hashes[docID] = hash
		}
	}

	span.SetAttributes(attribute.Int("hashes_found", len(hashes)))
	return hashes, nil
}

// DeleteCabinet removes every point belonging to the cabinet in context.
func (s *QdrantStore) DeleteCabinet(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteCabinet")
	defer span.End()

	filters, err := s.isolation.InjectFilter(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("injecting cabinet filter: %w", err)
	}

	filter := buildQdrantFilter(filters)

	err = s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting cabinet points: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// buildQdrantFilter converts a metadata filter map to a Qdrant filter.
func buildQdrantFilter(filters map[string]interface{}) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filters))
	for key, value := range filters {
		var match *qdrant.Match
		switch v := value.(type) {
		case string:
			match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}}
		case int:
			match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}
		case int64:
			match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: v}}
		case bool:
			match = &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: v}}
		default:
			continue
		}
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{Key: key, Match: match},
			},
		})
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

// scoredPointToResult converts a Qdrant scored point to a SearchResult.
func scoredPointToResult(point *qdrant.ScoredPoint) SearchResult {
	payload := point.GetPayload()
	result := SearchResult{
		Score:    point.GetScore(),
		Metadata: make(map[string]interface{}, len(payload)),
	}
	for k, v := range payload {
		switch k {
		case "content":
			result.Content = v.GetStringValue()
		case "id":
			result.ID = v.GetStringValue()
		default:
			switch kind := v.GetKind().(type) {
			case *qdrant.Value_StringValue:
				result.Metadata[k] = kind.StringValue
			case *qdrant.Value_IntegerValue:
				result.Metadata[k] = kind.IntegerValue
			case *qdrant.Value_DoubleValue:
				result.Metadata[k] = kind.DoubleValue
			case *qdrant.Value_BoolValue:
				result.Metadata[k] = kind.BoolValue
			}
		}
	}
	return result
}

var _ Store = (*QdrantStore)(nil)
