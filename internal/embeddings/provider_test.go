package embeddings

import (
	"errors"
	"testing"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name      string
		cfg       ProviderConfig
		wantDim   int
		wantError bool
	}{
		{
			name: "hash provider",
			cfg: ProviderConfig{
				Provider: "hash",
				Model:    "BAAI/bge-small-en-v1.5",
			},
			wantDim: 384,
		},
		{
			name: "remote provider with valid config",
			cfg: ProviderConfig{
				Provider: "remote",
				BaseURL:  "http://localhost:8080/v1",
				Model:    "BAAI/bge-small-en-v1.5",
			},
			wantDim: 384,
		},
		{
			name: "tei alias",
			cfg: ProviderConfig{
				Provider: "tei",
				BaseURL:  "http://localhost:8080/v1",
				Model:    "BAAI/bge-base-en-v1.5",
			},
			wantDim: 768,
		},
		{
			name: "openai alias",
			cfg: ProviderConfig{
				Provider: "openai",
				BaseURL:  "https://api.openai.com/v1",
				Model:    "text-embedding-3-small",
				APIKey:   "sk-test",
			},
			wantDim: 1536,
		},
		{
			name: "remote provider without base URL",
			cfg: ProviderConfig{
				Provider: "remote",
				Model:    "BAAI/bge-small-en-v1.5",
			},
			wantError: true,
		},
		{
			name: "fastembed with unsupported model",
			cfg: ProviderConfig{
				Provider: "fastembed",
				Model:    "not-a-real-model",
			},
			wantError: true,
		},
		{
			name: "unknown provider",
			cfg: ProviderConfig{
				Provider: "unknown",
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(tt.cfg)
			if tt.wantError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer provider.Close()

			if got := provider.Dimension(); got != tt.wantDim {
				t.Errorf("Dimension() = %d, want %d", got, tt.wantDim)
			}
		})
	}
}

func TestNewProvider_UnknownProviderError(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "bogus"})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestDetectDimensionFromModel(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"BAAI/bge-small-en-v1.5", 384},
		{"BAAI/bge-base-en-v1.5", 768},
		{"BAAI/bge-small-zh-v1.5", 512},
		{"sentence-transformers/all-MiniLM-L6-v2", 384},
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		// Pattern fallbacks for models not in the hint table.
		{"Alibaba-NLP/gte-base-en-v1.5", 768},
		{"intfloat/e5-large-v2", 1024},
		{"some-small-model", 384},
		{"completely-unknown", 384},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := detectDimensionFromModel(tt.model); got != tt.want {
				t.Errorf("detectDimensionFromModel(%q) = %d, want %d", tt.model, got, tt.want)
			}
		})
	}
}
