package vectorstore

import (
	"context"
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubEmbedder produces deterministic per-text vectors so identical text
// embeds identically and ranking assertions are stable.
type stubEmbedder struct {
	dim int
	err error
}

func (e *stubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = e.vector(text)
	}
	return results, nil
}

func (e *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}

func (e *stubEmbedder) vector(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vec := make([]float32, e.dim)
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000)/999.0 - 0.5
	}
	return vec
}

// createTestChromemStore creates a chromem store in a temp directory.
func createTestChromemStore(t *testing.T, name string) (*ChromemStore, *stubEmbedder) {
	t.Helper()

	embedder := &stubEmbedder{dim: 384}
	config := ChromemConfig{
		Path:              t.TempDir(),
		DefaultCollection: "test_" + name,
		VectorSize:        384,
	}

	store, err := NewChromemStore(config, embedder, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, embedder
}
