package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cruciblelabs/formulad/internal/logging"
	"github.com/cruciblelabs/formulad/internal/qdrant"
)

var qdrantTracer = otel.Tracer("formulad.vectorstore.qdrant")

// collectionNamePattern validates collection names.
// Lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name.
// Rejects uppercase, special characters, path separators, and spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// QdrantConfig holds configuration for the Qdrant-backed store.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost".
	Host string

	// Port is the Qdrant gRPC port. Default: 6334.
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// APIKey is the optional API key for hosted Qdrant.
	APIKey string

	// CollectionName is the default collection for operations.
	// Default: "formulad_memories".
	CollectionName string

	// VectorSize is the embedding dimensionality. Must match the
	// embedder's output. Default: 384.
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.CollectionName == "" {
		c.CollectionName = "formulad_memories"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate checks the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive, got %d", ErrInvalidConfig, c.VectorSize)
	}
	return ValidateCollectionName(c.CollectionName)
}

// QdrantStore is a Store implementation over an external Qdrant server.
//
// Transport concerns (timeouts, retry, gRPC conversion) live in the
// qdrant client; this layer owns embedding, document mapping, and
// collection management.
type QdrantStore struct {
	client   qdrant.Client
	embedder Embedder
	config   QdrantConfig

	// collections caches names of collections known to exist.
	collections sync.Map
}

// NewQdrantStore connects to Qdrant and returns a ready store.
func NewQdrantStore(config QdrantConfig, embedder Embedder, logger *logging.Logger) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}

	client, err := qdrant.NewGRPCClient(&qdrant.ClientConfig{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	return &QdrantStore{
		client:   client,
		embedder: embedder,
		config:   config,
	}, nil
}

// NewQdrantStoreWithClient wraps an existing client. Used by tests and
// callers that manage the client lifecycle themselves.
func NewQdrantStoreWithClient(client qdrant.Client, config QdrantConfig, embedder Embedder) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInvalidConfig)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}

	return &QdrantStore{
		client:   client,
		embedder: embedder,
		config:   config,
	}, nil
}

// Close closes the underlying client connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// ensureCollection creates the collection if it does not exist yet.
func (s *QdrantStore) ensureCollection(ctx context.Context, name string) error {
	if _, ok := s.collections.Load(name); ok {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		if err := s.client.CreateCollection(ctx, name, uint64(s.config.VectorSize)); err != nil {
			return fmt.Errorf("creating collection %s: %w", name, err)
		}
	}
	s.collections.Store(name, true)
	return nil
}

// AddDocuments adds documents to the vector store.
//
// Qdrant point IDs must be UUIDs. Documents whose ID is not a UUID get
// a generated point ID; the original ID is preserved in the payload and
// used for retrieval and deletion.
func (s *QdrantStore) AddDocuments(ctx context.Context, docs []Document) ([]string, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.AddDocuments")
	defer span.End()
	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	collectionName := s.config.CollectionName
	if docs[0].Collection != "" {
		collectionName = docs[0].Collection
	}
	for i, doc := range docs {
		target := doc.Collection
		if target == "" {
			target = s.config.CollectionName
		}
		if target != collectionName {
			return nil, fmt.Errorf("document %d targets collection %q, expected %q: batches must share one collection", i, target, collectionName)
		}
	}
	span.SetAttributes(attribute.String("collection", collectionName))

	if err := ValidateCollectionName(collectionName); err != nil {
		return nil, err
	}
	if err := s.ensureCollection(ctx, collectionName); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}
	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	ids := make([]string, len(docs))
	points := make([]*qdrant.Point, len(docs))
	for i, doc := range docs {
		docID := doc.ID
		if docID == "" {
			docID = uuid.New().String()
		}
		ids[i] = docID

		pointID := docID
		if _, err := uuid.Parse(docID); err != nil {
			pointID = uuid.New().String()
		}

		payload := make(map[string]interface{}, len(doc.Metadata)+2)
		for k, v := range doc.Metadata {
			payload[k] = v
		}
		payload["content"] = doc.Content
		payload["id"] = docID

		points[i] = &qdrant.Point{
			ID:      pointID,
			Vector:  embeddings[i],
			Payload: payload,
		}
	}

	if err := s.client.Upsert(ctx, collectionName, points); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upserting points to %s: %w", collectionName, err)
	}

	span.SetAttributes(attribute.Int("points_added", len(ids)))
	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

// Search performs similarity search in the default collection.
func (s *QdrantStore) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	return s.SearchInCollection(ctx, s.config.CollectionName, query, k, nil)
}

// SearchWithFilters performs similarity search with metadata filters.
func (s *QdrantStore) SearchWithFilters(ctx context.Context, query string, k int, filters map[string]interface{}) ([]SearchResult, error) {
	return s.SearchInCollection(ctx, s.config.CollectionName, query, k, filters)
}

const (
	// maxSearchK bounds result counts to prevent resource exhaustion.
	maxSearchK = 10000
	// maxQueryLength bounds query text size.
	maxQueryLength = 10000
)

// SearchInCollection performs similarity search in a specific collection.
func (s *QdrantStore) SearchInCollection(ctx context.Context, collectionName string, query string, k int, filters map[string]interface{}) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.SearchInCollection")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collectionName),
		attribute.Int("k", k),
	)

	if err := ValidateCollectionName(collectionName); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if k > maxSearchK {
		k = maxSearchK
	}
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if len(query) > maxQueryLength {
		return nil, fmt.Errorf("query exceeds maximum length of %d characters", maxQueryLength)
	}

	queryVector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	results, err := s.client.Search(ctx, collectionName, queryVector, uint64(k), buildQdrantFilter(filters))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", collectionName, err)
	}

	searchResults := convertScoredPoints(results)
	span.SetAttributes(attribute.Int("results_count", len(searchResults)))
	span.SetStatus(codes.Ok, "success")
	return searchResults, nil
}

// ExactSearch performs brute-force similarity search without the HNSW index.
func (s *QdrantStore) ExactSearch(ctx context.Context, collectionName string, query string, k int) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.ExactSearch")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collectionName),
		attribute.Int("k", k),
		attribute.Bool("exact", true),
	)

	if err := ValidateCollectionName(collectionName); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	queryVector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	results, err := s.client.ExactSearch(ctx, collectionName, queryVector, uint64(k))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("exact search in collection %s: %w", collectionName, err)
	}

	searchResults := convertScoredPoints(results)
	span.SetAttributes(attribute.Int("results_count", len(searchResults)))
	span.SetStatus(codes.Ok, "success")
	return searchResults, nil
}

// DeleteDocuments deletes documents by ID from the default collection.
func (s *QdrantStore) DeleteDocuments(ctx context.Context, ids []string) error {
	return s.DeleteDocumentsFromCollection(ctx, s.config.CollectionName, ids)
}

// DeleteDocumentsFromCollection deletes documents by ID from a specific
// collection. Deletion filters on the payload id, so it works for
// documents whose point ID was generated.
func (s *QdrantStore) DeleteDocumentsFromCollection(ctx context.Context, collectionName string, ids []string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteDocuments")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collectionName),
		attribute.Int("id_count", len(ids)),
	)

	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	filter := &qdrant.Filter{
		Must: []qdrant.Condition{
			{Field: "id", Match: ids},
		},
	}
	if err := s.client.DeleteByFilter(ctx, collectionName, filter); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting documents from %s: %w", collectionName, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// CreateCollection creates a new collection.
func (s *QdrantStore) CreateCollection(ctx context.Context, collectionName string, vectorSize int) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.CreateCollection")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collectionName),
		attribute.Int("vector_size", vectorSize),
	)

	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}
	if vectorSize == 0 {
		vectorSize = s.config.VectorSize
	}

	exists, err := s.client.CollectionExists(ctx, collectionName)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("checking collection %s: %w", collectionName, err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrCollectionExists, collectionName)
	}

	if err := s.client.CreateCollection(ctx, collectionName, uint64(vectorSize)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", collectionName, err)
	}

	s.collections.Store(collectionName, true)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteCollection deletes a collection and all its documents.
func (s *QdrantStore) DeleteCollection(ctx context.Context, collectionName string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collectionName))

	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}

	if err := s.client.DeleteCollection(ctx, collectionName); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", collectionName, err)
	}

	s.collections.Delete(collectionName)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// CollectionExists checks if a collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context, collectionName string) (bool, error) {
	if err := ValidateCollectionName(collectionName); err != nil {
		return false, err
	}
	if _, ok := s.collections.Load(collectionName); ok {
		return true, nil
	}

	exists, err := s.client.CollectionExists(ctx, collectionName)
	if err != nil {
		return false, fmt.Errorf("checking collection %s: %w", collectionName, err)
	}
	if exists {
		s.collections.Store(collectionName, true)
	}
	return exists, nil
}

// ListCollections returns all collection names.
func (s *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	return collections, nil
}

// GetCollectionInfo returns metadata about a collection.
func (s *QdrantStore) GetCollectionInfo(ctx context.Context, collectionName string) (*CollectionInfo, error) {
	if err := ValidateCollectionName(collectionName); err != nil {
		return nil, err
	}

	count, err := s.client.CountPoints(ctx, collectionName)
	if err != nil {
		if errors.Is(err, qdrant.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionName)
		}
		return nil, fmt.Errorf("getting collection info for %s: %w", collectionName, err)
	}

	return &CollectionInfo{
		Name:       collectionName,
		PointCount: int(count),
		VectorSize: s.config.VectorSize,
	}, nil
}

// buildQdrantFilter converts a metadata filter map to a qdrant filter.
// Values are matched as keywords.
func buildQdrantFilter(filters map[string]interface{}) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}

	conditions := make([]qdrant.Condition, 0, len(filters))
	for key, value := range filters {
		switch v := value.(type) {
		case string:
			conditions = append(conditions, qdrant.Condition{Field: key, Match: v})
		case []string:
			conditions = append(conditions, qdrant.Condition{Field: key, Match: v})
		default:
			conditions = append(conditions, qdrant.Condition{Field: key, Match: fmt.Sprintf("%v", v)})
		}
	}
	return &qdrant.Filter{Must: conditions}
}

// convertScoredPoints maps scored points to search results, lifting the
// content and id payload fields into their dedicated slots.
func convertScoredPoints(points []*qdrant.ScoredPoint) []SearchResult {
	results := make([]SearchResult, len(points))
	for i, point := range points {
		result := SearchResult{
			ID:    point.ID,
			Score: point.Score,
		}
		if point.Payload != nil {
			result.Metadata = make(map[string]interface{}, len(point.Payload))
			for k, v := range point.Payload {
				result.Metadata[k] = v
				switch k {
				case "content":
					if content, ok := v.(string); ok {
						result.Content = content
					}
				case "id":
					if id, ok := v.(string); ok {
						result.ID = id
					}
				}
			}
		}
		results[i] = result
	}
	return results
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
