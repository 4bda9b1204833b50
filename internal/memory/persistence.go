package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// storeFileVersion is the persistence format version. Load rejects files
// written by an unknown version.
const storeFileVersion = "1.0"

// storeFile is the on-disk shape of a saved experience store.
type storeFile struct {
	Version  string    `json:"version"`
	SavedAt  time.Time `json:"saved_at"`
	MaxItems int       `json:"max_items"`
	NumItems int       `json:"num_items"`
	Items    []*Item   `json:"items"`
}

// Save writes the store contents to path as a versioned JSON document.
// The write is atomic (temp file plus rename) so a crash mid-save never
// leaves a torn file behind.
func (s *Store) Save(ctx context.Context, path string) error {
	_, span := storeTracer.Start(ctx, "Store.Save")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	s.mu.RLock()
	doc := storeFile{
		Version:  storeFileVersion,
		SavedAt:  time.Now(),
		MaxItems: s.maxItems,
		NumItems: len(s.items),
		Items:    make([]*Item, len(s.items)),
	}
	for i, item := range s.items {
		doc.Items[i] = item.Clone()
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("encoding store file: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating store directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		span.RecordError(err)
		return fmt.Errorf("writing store file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		span.RecordError(err)
		return fmt.Errorf("renaming store file: %w", err)
	}

	s.logger.Info("saved experience store",
		zap.String("path", path),
		zap.Int("items", doc.NumItems))
	return nil
}

// Load replaces the store contents with the items from a file previously
// written by Save. An unreadable, incompatible, or invalid file fails
// with a deserialization error and leaves the in-memory store untouched.
// Embeddings are restored as saved, never recomputed.
//
// When the file holds more items than the store's capacity, the oldest
// overflow is dropped on the way in, mirroring live eviction.
func (s *Store) Load(ctx context.Context, path string) error {
	_, span := storeTracer.Start(ctx, "Store.Load")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("reading store file: %w", err)
	}

	var doc storeFile
	if err := json.Unmarshal(data, &doc); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %v", ErrIncompatibleFile, err)
	}
	if doc.Version != storeFileVersion {
		return fmt.Errorf("%w: version %q, want %q", ErrIncompatibleFile, doc.Version, storeFileVersion)
	}

	byTitle := make(map[string]*Item, len(doc.Items))
	for i, item := range doc.Items {
		if item == nil {
			return fmt.Errorf("%w: null item at index %d", ErrIncompatibleFile, i)
		}
		if err := item.Validate(); err != nil {
			return fmt.Errorf("%w: item %d: %v", ErrIncompatibleFile, i, err)
		}
		key := normalizeTitle(item.Title)
		if _, dup := byTitle[key]; dup {
			return fmt.Errorf("%w: duplicate title %q", ErrIncompatibleFile, item.Title)
		}
		byTitle[key] = item
	}

	items := doc.Items
	if overflow := len(items) - s.maxItems; overflow > 0 {
		for _, evicted := range items[:overflow] {
			delete(byTitle, normalizeTitle(evicted.Title))
		}
		items = items[overflow:]
		s.logger.Warn("store file exceeds capacity, dropping oldest items",
			zap.String("path", path),
			zap.Int("dropped", overflow),
			zap.Int("capacity", s.maxItems))
	}

	s.mu.Lock()
	s.items = items
	s.byTitle = byTitle
	s.mu.Unlock()

	s.logger.Info("loaded experience store",
		zap.String("path", path),
		zap.Int("items", len(items)))
	return nil
}
