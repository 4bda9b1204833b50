package vectorstore

import (
	"fmt"

	"github.com/cruciblelabs/formulad/internal/logging"
)

// NewStoreFromProvider creates a store from a provider name and its config.
//
//   - "chromem" (default): embedded chromem-go, no external services
//   - "qdrant": external Qdrant server over gRPC
func NewStoreFromProvider(provider string, chromemCfg *ChromemConfig, qdrantCfg *QdrantConfig, embedder Embedder, logger *logging.Logger) (Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	switch provider {
	case "chromem", "":
		if chromemCfg == nil {
			return nil, fmt.Errorf("%w: chromem config required for chromem provider", ErrInvalidConfig)
		}
		return NewChromemStore(*chromemCfg, embedder, logger.Underlying())

	case "qdrant":
		if qdrantCfg == nil {
			return nil, fmt.Errorf("%w: qdrant config required for qdrant provider", ErrInvalidConfig)
		}
		return NewQdrantStore(*qdrantCfg, embedder, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider %q (supported: chromem, qdrant)", ErrInvalidConfig, provider)
	}
}
