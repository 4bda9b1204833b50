package knowledge

import (
	"context"
	"fmt"
	"sync"

	"github.com/cruciblelabs/formulad/internal/vectorstore"
)

// fakeStore implements vectorstore.Store in memory for adapter tests,
// recording the last search request it received.
type fakeStore struct {
	mu sync.Mutex

	results   []vectorstore.SearchResult
	searchErr error

	// infos maps collection name to its info; a missing entry means the
	// collection does not exist.
	infos   map[string]*vectorstore.CollectionInfo
	infoErr error

	added []vectorstore.Document

	lastCollection string
	lastQuery      string
	lastK          int
	lastFilters    map[string]any

	// blockUntilCancel makes searches hang until the context is done.
	blockUntilCancel bool
}

func (f *fakeStore) AddDocuments(ctx context.Context, docs []vectorstore.Document) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, docs...)
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	return ids, nil
}

func (f *fakeStore) Search(ctx context.Context, query string, k int) ([]vectorstore.SearchResult, error) {
	return f.SearchInCollection(ctx, "", query, k, nil)
}

func (f *fakeStore) SearchWithFilters(ctx context.Context, query string, k int, filters map[string]any) ([]vectorstore.SearchResult, error) {
	return f.SearchInCollection(ctx, "", query, k, filters)
}

func (f *fakeStore) SearchInCollection(ctx context.Context, collection string, query string, k int, filters map[string]any) ([]vectorstore.SearchResult, error) {
	if f.blockUntilCancel {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCollection = collection
	f.lastQuery = query
	f.lastK = k
	f.lastFilters = filters
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeStore) DeleteDocuments(ctx context.Context, ids []string) error { return nil }

func (f *fakeStore) DeleteDocumentsFromCollection(ctx context.Context, collection string, ids []string) error {
	return nil
}

func (f *fakeStore) CreateCollection(ctx context.Context, collection string, vectorSize int) error {
	return nil
}

func (f *fakeStore) DeleteCollection(ctx context.Context, collection string) error { return nil }

func (f *fakeStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.infos[collection]
	return ok, nil
}

func (f *fakeStore) ListCollections(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.infos))
	for name := range f.infos {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeStore) GetCollectionInfo(ctx context.Context, collection string) (*vectorstore.CollectionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	info, ok := f.infos[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, collection)
	}
	return info, nil
}

func (f *fakeStore) ExactSearch(ctx context.Context, collection string, query string, k int) ([]vectorstore.SearchResult, error) {
	return f.SearchInCollection(ctx, collection, query, k, nil)
}

func (f *fakeStore) Close() error { return nil }

var _ vectorstore.Store = (*fakeStore)(nil)
