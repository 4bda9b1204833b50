package embeddings

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cruciblelabs/formulad/internal/vectorstore"
)

// Sentinel errors shared by all embedding providers.
var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates the underlying model or service failed.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")
)

// Provider is the interface for embedding providers.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider selects the backend: "fastembed" (default), "remote", or "hash".
	Provider string
	// Model is the embedding model name.
	Model string
	// BaseURL is the OpenAI-compatible endpoint (remote provider only).
	BaseURL string
	// APIKey authenticates remote requests; optional for local TEI servers.
	APIKey string
	// CacheDir is the model cache directory (fastembed only).
	CacheDir string
	// ShowProgress enables download progress bars (fastembed only).
	ShowProgress bool
}

// modelDimensionHints maps known model names to their embedding width.
// Compiled into every build; the cgo fastembed provider keeps a separate
// table keyed by fastembed constants.
var modelDimensionHints = map[string]int{
	"BAAI/bge-small-en-v1.5":                  384,
	"BAAI/bge-small-en":                       384,
	"BAAI/bge-base-en-v1.5":                   768,
	"BAAI/bge-base-en":                        768,
	"BAAI/bge-small-zh-v1.5":                  512,
	"sentence-transformers/all-MiniLM-L6-v2":  384,
	"fast-bge-small-en-v1.5":                  384,
	"fast-bge-small-en":                       384,
	"fast-bge-base-en-v1.5":                   768,
	"fast-bge-base-en":                        768,
	"fast-bge-small-zh-v1.5":                  512,
	"fast-all-MiniLM-L6-v2":                   384,
	"text-embedding-3-small":                  1536,
	"text-embedding-3-large":                  3072,
}

// detectDimensionFromModel returns the embedding dimension for a model name.
// Unknown models fall back to name-pattern heuristics, then to 384.
func detectDimensionFromModel(model string) int {
	if dim, ok := modelDimensionHints[model]; ok {
		return dim
	}
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "large"):
		return 1024
	case strings.Contains(lower, "base"):
		return 768
	case strings.Contains(lower, "small"), strings.Contains(lower, "mini"):
		return 384
	default:
		return 384
	}
}

// NewProvider creates an embedding provider based on the configuration.
//
// The fastembed provider runs models locally over ONNX and requires a cgo
// build; the remote provider talks to any OpenAI-compatible endpoint (TEI,
// OpenAI); the hash provider produces deterministic vectors with no model
// at all, for offline development and tests.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "fastembed", "":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:        cfg.Model,
			CacheDir:     cfg.CacheDir,
			ShowProgress: cfg.ShowProgress,
		})
	case "remote", "tei", "openai":
		return NewRemoteProvider(RemoteConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		})
	case "hash":
		return NewHashProvider(detectDimensionFromModel(cfg.Model))
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
