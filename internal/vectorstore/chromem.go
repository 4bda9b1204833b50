package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// timeNow is a test hook for deterministic document IDs.
var timeNow = time.Now

var chromemTracer = otel.Tracer("formulad.vectorstore.chromem")

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: ~/.config/formulad/vectorstore
	Path string

	// Compress enables gzip compression for stored documents.
	Compress bool

	// DefaultCollection is the collection used when Document.Collection is empty.
	// Default: "formulad_memories"
	DefaultCollection string

	// VectorSize is the expected embedding dimensionality.
	// Default: 384 (bge-small-en-v1.5)
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/formulad/vectorstore"
	}
	if c.DefaultCollection == "" {
		c.DefaultCollection = "formulad_memories"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate checks the configuration.
func (c ChromemConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path required", ErrInvalidConfig)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive, got %d", ErrInvalidConfig, c.VectorSize)
	}
	return ValidateCollectionName(c.DefaultCollection)
}

// ChromemStore is a Store implementation backed by embedded chromem-go.
//
// All data lives on the local filesystem, so the store works with zero
// external services. Embeddings are computed through the configured
// Embedder before writes; chromem never calls out to an embedding API.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger

	// collections caches *chromem.Collection handles by name.
	collections sync.Map
}

// NewChromemStore creates a persistent chromem-go store at the configured path.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	path, err := expandHomePath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	logger.Info("chromem store opened",
		zap.String("path", path),
		zap.String("default_collection", config.DefaultCollection),
		zap.Int("vector_size", config.VectorSize),
	)
	return store, nil
}

// expandHomePath expands a leading ~ to the user's home directory.
func expandHomePath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// embeddingFunc adapts the Embedder for chromem's query-time embedding.
// Write-time embeddings are precomputed in AddDocuments.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// getOrCreateCollection returns a cached collection handle, creating the
// collection on first use.
func (s *ChromemStore) getOrCreateCollection(name string) (*chromem.Collection, error) {
	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	if cached, ok := s.collections.Load(name); ok {
		return cached.(*chromem.Collection), nil
	}

	collection, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting collection %s: %w", name, err)
	}
	s.collections.Store(name, collection)
	return collection, nil
}

// AddDocuments adds documents to the vector store.
//
// All documents in one call must target the same collection. Embeddings
// are generated in a single batch before the write.
func (s *ChromemStore) AddDocuments(ctx context.Context, docs []Document) ([]string, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.AddDocuments")
	defer span.End()
	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	collectionName := s.config.DefaultCollection
	if docs[0].Collection != "" {
		collectionName = docs[0].Collection
	}
	for i, doc := range docs {
		target := doc.Collection
		if target == "" {
			target = s.config.DefaultCollection
		}
		if target != collectionName {
			return nil, fmt.Errorf("document %d targets collection %q, expected %q: batches must share one collection", i, target, collectionName)
		}
	}
	span.SetAttributes(attribute.String("collection", collectionName))

	collection, err := s.getOrCreateCollection(collectionName)
	if err != nil {
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
	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		id := doc.ID
		if id == "" {
			id = fmt.Sprintf("doc_%d_%d", timeNow().UnixNano(), i)
			s.logger.Warn("document missing id, generated one",
				zap.String("generated_id", id),
				zap.String("collection", collectionName),
			)
		}
		ids[i] = id

		chromemDocs[i] = chromem.Document{
			ID:        id,
			Content:   doc.Content,
			Embedding: embeddings[i],
			Metadata:  convertMetadataToString(doc.Metadata),
		}
	}

	if err := collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("adding documents to %s: %w", collectionName, err)
	}

	span.SetAttributes(attribute.Int("documents_added", len(ids)))
	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

// Search performs similarity search in the default collection.
func (s *ChromemStore) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	return s.SearchInCollection(ctx, s.config.DefaultCollection, query, k, nil)
}

// SearchWithFilters performs similarity search in the default collection
// with metadata filters.
func (s *ChromemStore) SearchWithFilters(ctx context.Context, query string, k int, filters map[string]interface{}) ([]SearchResult, error) {
	return s.SearchInCollection(ctx, s.config.DefaultCollection, query, k, filters)
}

// SearchInCollection performs similarity search in a specific collection.
func (s *ChromemStore) SearchInCollection(ctx context.Context, collectionName string, query string, k int, filters map[string]interface{}) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.SearchInCollection")
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
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	collection := s.db.GetCollection(collectionName, s.embeddingFunc())
	if collection == nil {
		span.SetStatus(codes.Error, "collection not found")
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionName)
	}

	docCount := collection.Count()
	if docCount == 0 {
		span.SetStatus(codes.Ok, "empty collection")
		return []SearchResult{}, nil
	}
	// chromem rejects k greater than the document count.
	if k > docCount {
		k = docCount
	}

	results, err := collection.Query(ctx, query, k, convertMetadataToString(filters), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", collectionName, err)
	}

	searchResults := make([]SearchResult, len(results))
	for i, r := range results {
		searchResults[i] = SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Similarity,
			Metadata: convertMetadataFromString(r.Metadata),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(searchResults)))
	span.SetStatus(codes.Ok, "success")
	return searchResults, nil
}

// DeleteDocuments deletes documents by ID from the default collection.
func (s *ChromemStore) DeleteDocuments(ctx context.Context, ids []string) error {
	return s.DeleteDocumentsFromCollection(ctx, s.config.DefaultCollection, ids)
}

// DeleteDocumentsFromCollection deletes documents by ID from a specific collection.
func (s *ChromemStore) DeleteDocumentsFromCollection(ctx context.Context, collectionName string, ids []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteDocuments")
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

	collection := s.db.GetCollection(collectionName, s.embeddingFunc())
	if collection == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionName)
	}

	var failed []string
	for _, id := range ids {
		if err := collection.Delete(ctx, nil, nil, id); err != nil {
			s.logger.Warn("failed to delete document",
				zap.String("id", id),
				zap.String("collection", collectionName),
				zap.Error(err),
			)
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		err := fmt.Errorf("failed to delete %d of %d documents from %s", len(failed), len(ids), collectionName)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// CreateCollection creates a new collection.
//
// Collections share the store's embedder, so vectorSize must match the
// configured vector size. Zero uses the default.
func (s *ChromemStore) CreateCollection(ctx context.Context, collectionName string, vectorSize int) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.CreateCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collectionName))

	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}
	if vectorSize == 0 {
		vectorSize = s.config.VectorSize
	}
	if vectorSize != s.config.VectorSize {
		return fmt.Errorf("%w: vector size %d does not match store size %d", ErrInvalidConfig, vectorSize, s.config.VectorSize)
	}

	if existing := s.db.GetCollection(collectionName, s.embeddingFunc()); existing != nil {
		return fmt.Errorf("%w: %s", ErrCollectionExists, collectionName)
	}

	collection, err := s.db.CreateCollection(collectionName, nil, s.embeddingFunc())
	if err != nil {
		// Lost a create race with a concurrent caller.
		if strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("%w: %s", ErrCollectionExists, collectionName)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", collectionName, err)
	}

	s.collections.Store(collectionName, collection)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteCollection deletes a collection and all its documents.
func (s *ChromemStore) DeleteCollection(ctx context.Context, collectionName string) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.DeleteCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collectionName))

	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}

	if err := s.db.DeleteCollection(collectionName); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", collectionName, err)
	}

	s.collections.Delete(collectionName)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// CollectionExists checks if a collection exists.
func (s *ChromemStore) CollectionExists(ctx context.Context, collectionName string) (bool, error) {
	if err := ValidateCollectionName(collectionName); err != nil {
		return false, err
	}
	return s.db.GetCollection(collectionName, s.embeddingFunc()) != nil, nil
}

// ListCollections returns all collection names.
func (s *ChromemStore) ListCollections(ctx context.Context) ([]string, error) {
	collections := s.db.ListCollections()
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	return names, nil
}

// GetCollectionInfo returns metadata about a collection.
func (s *ChromemStore) GetCollectionInfo(ctx context.Context, collectionName string) (*CollectionInfo, error) {
	if err := ValidateCollectionName(collectionName); err != nil {
		return nil, err
	}

	collection := s.db.GetCollection(collectionName, s.embeddingFunc())
	if collection == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionName)
	}

	return &CollectionInfo{
		Name:       collectionName,
		PointCount: collection.Count(),
		VectorSize: s.config.VectorSize,
	}, nil
}

// ExactSearch performs similarity search without an approximate index.
//
// chromem always scans all vectors, so this is the same code path as
// SearchInCollection. The method exists to satisfy Store.
func (s *ChromemStore) ExactSearch(ctx context.Context, collectionName string, query string, k int) ([]SearchResult, error) {
	return s.SearchInCollection(ctx, collectionName, query, k, nil)
}

// Close releases store resources. chromem persists on every write, so
// there is nothing to flush.
func (s *ChromemStore) Close() error {
	return nil
}

// convertMetadataToString converts metadata to chromem's string map format.
func convertMetadataToString(metadata map[string]interface{}) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	converted := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			converted[k] = val
		case bool:
			converted[k] = strconv.FormatBool(val)
		case int:
			converted[k] = strconv.Itoa(val)
		case int64:
			converted[k] = strconv.FormatInt(val, 10)
		case float64:
			converted[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case float32:
			converted[k] = strconv.FormatFloat(float64(val), 'f', -1, 32)
		default:
			converted[k] = fmt.Sprintf("%v", val)
		}
	}
	return converted
}

// convertMetadataFromString converts chromem's string metadata back to
// the generic map form.
func convertMetadataFromString(metadata map[string]string) map[string]interface{} {
	if len(metadata) == 0 {
		return nil
	}
	converted := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		converted[k] = v
	}
	return converted
}

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)
