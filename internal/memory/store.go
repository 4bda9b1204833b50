package memory

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// storeTracer for OpenTelemetry instrumentation.
var storeTracer = otel.Tracer("formulad.memory")

// DefaultMaxItems is the store capacity when none is configured.
const DefaultMaxItems = 100

// Embedder converts text to a fixed-length vector. The experience store
// only needs the single-query form; the embeddings package provides
// implementations.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is the capacity-bounded, insertion-ordered collection of
// experience items. It is the sole owner of its items: reads hand out
// clones, and all mutation happens under one lock so capacity eviction
// and title uniqueness hold across concurrent orchestrators sharing the
// store.
//
// Insertion beyond capacity evicts the oldest item first (FIFO by
// creation order), regardless of the item's provenance.
type Store struct {
	mu       sync.RWMutex
	items    []*Item
	byTitle  map[string]*Item
	maxItems int
	embedder Embedder
	logger   *zap.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithEmbedder sets the text-to-vector function used to embed items on
// insertion. Without one, items are stored vector-less and sit out of
// similarity ranking.
func WithEmbedder(e Embedder) StoreOption {
	return func(s *Store) {
		s.embedder = e
	}
}

// WithMaxItems sets the capacity bound. Non-positive values fall back to
// DefaultMaxItems.
func WithMaxItems(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxItems = n
		}
	}
}

// NewStore creates an empty experience store.
func NewStore(logger *zap.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		byTitle:  make(map[string]*Item),
		maxItems: DefaultMaxItems,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Capacity returns the configured maximum item count.
func (s *Store) Capacity() int {
	return s.maxItems
}

// Add validates and inserts one item, computing its embedding first when
// an embedder is configured and the item does not already carry a vector.
// Embedding failure is logged and the item is stored without a vector.
//
// Adding an item whose title (case-insensitive) already exists is a
// silent no-op, so repeated consolidation of the same strategy converges
// instead of erroring.
func (s *Store) Add(ctx context.Context, item *Item) error {
	ctx, span := storeTracer.Start(ctx, "Store.Add")
	defer span.End()

	if item == nil {
		return ErrInvalidItem
	}
	if err := item.Validate(); err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.String("title", item.Title))

	key := normalizeTitle(item.Title)
	s.mu.RLock()
	_, exists := s.byTitle[key]
	s.mu.RUnlock()
	if exists {
		s.logger.Debug("skipping duplicate experience item", zap.String("title", item.Title))
		return nil
	}

	s.embed(ctx, item)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(item)
	return nil
}

// AddWithoutEmbedding inserts one item, never touching the embedder. Used
// when the caller has already embedded the item or wants it excluded from
// similarity ranking until backfilled.
func (s *Store) AddWithoutEmbedding(_ context.Context, item *Item) error {
	if item == nil {
		return ErrInvalidItem
	}
	if err := item.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(item)
	return nil
}

// AddMany consolidates a batch of items and returns how many were
// actually inserted. Invalid items and duplicate titles are skipped with
// a log line rather than failing the batch, so one bad extraction cannot
// discard its siblings.
func (s *Store) AddMany(ctx context.Context, items []*Item) (int, error) {
	ctx, span := storeTracer.Start(ctx, "Store.AddMany")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", len(items)))

	added := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		if item == nil {
			continue
		}
		if err := item.Validate(); err != nil {
			s.logger.Warn("skipping invalid experience item",
				zap.String("title", item.Title),
				zap.Error(err))
			continue
		}

		key := normalizeTitle(item.Title)
		s.mu.RLock()
		_, exists := s.byTitle[key]
		s.mu.RUnlock()
		if exists {
			s.logger.Debug("skipping duplicate experience item", zap.String("title", item.Title))
			continue
		}

		s.embed(ctx, item)

		s.mu.Lock()
		if s.insertLocked(item) {
			added++
		}
		s.mu.Unlock()
	}

	span.SetAttributes(attribute.Int("items_added", added))
	return added, nil
}

// embed computes the item embedding outside the store lock. Failures only
// cost the item its vector.
func (s *Store) embed(ctx context.Context, item *Item) {
	if s.embedder == nil || item.HasEmbedding() {
		return
	}
	vec, err := s.embedder.EmbedQuery(ctx, item.EmbeddingText())
	if err != nil {
		s.logger.Warn("embedding experience item failed, storing without vector",
			zap.String("title", item.Title),
			zap.Error(err))
		return
	}
	item.Embedding = vec
}

// insertLocked appends the item and enforces capacity. Callers hold the
// write lock. Returns false when a racing insert claimed the title first.
func (s *Store) insertLocked(item *Item) bool {
	key := normalizeTitle(item.Title)
	if _, exists := s.byTitle[key]; exists {
		return false
	}

	s.items = append(s.items, item)
	s.byTitle[key] = item

	for len(s.items) > s.maxItems {
		evicted := s.items[0]
		s.items = s.items[1:]
		delete(s.byTitle, normalizeTitle(evicted.Title))
		s.logger.Info("evicted oldest experience item",
			zap.String("title", evicted.Title),
			zap.Int("capacity", s.maxItems))
	}

	s.logger.Debug("added experience item",
		zap.String("title", item.Title),
		zap.Bool("from_success", item.FromSuccess),
		zap.Bool("embedded", item.HasEmbedding()),
		zap.Int("total", len(s.items)))
	return true
}

// GetAll returns clones of every stored item in insertion order.
func (s *Store) GetAll() []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Item, len(s.items))
	for i, item := range s.items {
		out[i] = item.Clone()
	}
	return out
}

// GetByTitle returns a clone of the item with the given title
// (case-insensitive), or ErrItemNotFound.
func (s *Store) GetByTitle(title string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.byTitle[normalizeTitle(title)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrItemNotFound, title)
	}
	return item.Clone(), nil
}

// Filter returns clones of items matching every predicate exactly.
// An empty or nil predicate map matches everything, equal to GetAll.
func (s *Store) Filter(filters map[string]any) []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Item, 0, len(s.items))
	for _, item := range s.items {
		if matchesFilters(item, filters) {
			out = append(out, item.Clone())
		}
	}
	return out
}

// RemoveByTitle deletes the item with the given title, or returns
// ErrItemNotFound.
func (s *Store) RemoveByTitle(title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalizeTitle(title)
	item, ok := s.byTitle[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrItemNotFound, title)
	}

	delete(s.byTitle, key)
	for i := range s.items {
		if s.items[i] == item {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}

	s.logger.Debug("removed experience item", zap.String("title", title))
	return nil
}

// ItemUpdate names the mutable fields of a stored item. Nil pointers
// leave the field unchanged; Metadata entries are merged key by key.
type ItemUpdate struct {
	Description *string
	Content     *string
	FromSuccess *bool
	Metadata    map[string]any
}

// Update applies an in-place update to the item with the given title, or
// returns ErrItemNotFound. Title and created_at are immutable; the stored
// embedding is kept as-is even when the description changes.
func (s *Store) Update(title string, upd ItemUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.byTitle[normalizeTitle(title)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrItemNotFound, title)
	}

	if upd.Description != nil {
		if strings.TrimSpace(*upd.Description) == "" {
			return fmt.Errorf("%w: %w", ErrInvalidItem, ErrEmptyDescription)
		}
		item.Description = *upd.Description
	}
	if upd.Content != nil {
		if strings.TrimSpace(*upd.Content) == "" {
			return fmt.Errorf("%w: %w", ErrInvalidItem, ErrEmptyContent)
		}
		item.Content = *upd.Content
	}
	if upd.FromSuccess != nil {
		item.FromSuccess = *upd.FromSuccess
	}
	if len(upd.Metadata) > 0 {
		if item.Metadata == nil {
			item.Metadata = make(map[string]any, len(upd.Metadata))
		}
		for k, v := range upd.Metadata {
			item.Metadata[k] = v
		}
	}

	s.logger.Debug("updated experience item", zap.String("title", title))
	return nil
}

// Clear removes every item.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = nil
	s.byTitle = make(map[string]*Item)
	s.logger.Debug("cleared experience store")
}

// Statistics summarizes the store contents.
type Statistics struct {
	Total          int     `json:"total_items"`
	FromSuccess    int     `json:"from_success"`
	FromFailure    int     `json:"from_failure"`
	WithEmbeddings int     `json:"with_embeddings"`
	Capacity       int     `json:"capacity"`
	Utilization    float64 `json:"utilization"`
}

// Statistics returns counts by provenance, embedding coverage, and the
// capacity utilization ratio.
func (s *Store) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{
		Total:    len(s.items),
		Capacity: s.maxItems,
	}
	for _, item := range s.items {
		if item.FromSuccess {
			stats.FromSuccess++
		} else {
			stats.FromFailure++
		}
		if item.HasEmbedding() {
			stats.WithEmbeddings++
		}
	}
	if s.maxItems > 0 {
		stats.Utilization = float64(len(s.items)) / float64(s.maxItems)
	}
	return stats
}

// matchesFilters evaluates exact-match predicates against an item. Keys
// name item fields or metadata entries; metadata keys may carry a
// "metadata." prefix and use dot paths into nested maps.
func matchesFilters(item *Item, filters map[string]any) bool {
	for key, want := range filters {
		got, ok := resolveFilterKey(item, key)
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func resolveFilterKey(item *Item, key string) (any, bool) {
	switch key {
	case "title":
		return item.Title, true
	case "description":
		return item.Description, true
	case "content":
		return item.Content, true
	case "source_task_id":
		return item.SourceTaskID, true
	case "is_from_success":
		return item.FromSuccess, true
	}

	path := strings.TrimPrefix(key, "metadata.")
	return lookupPath(item.Metadata, path)
}

// lookupPath walks a dot-separated path through nested string-keyed maps.
func lookupPath(m map[string]any, path string) (any, bool) {
	if m == nil {
		return nil, false
	}

	parts := strings.Split(path, ".")
	var current any = m
	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
