package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the root configuration shared by every formulad command.
// Sections map one-to-one onto the components they configure; the cmd
// layer translates them into the per-package config types.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	LLM           LLMConfig           `koanf:"llm"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Qdrant        QdrantConfig        `koanf:"qdrant"`
	Memory        MemoryConfig        `koanf:"memory"`
	Agent         AgentConfig         `koanf:"agent"`
	Knowledge     KnowledgeConfig     `koanf:"knowledge"`
	Feedback      FeedbackConfig      `koanf:"feedback"`
	Events        EventsConfig        `koanf:"events"`
	Temporal      TemporalConfig      `koanf:"temporal"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	OTLPEndpoint    string  `koanf:"otlp_endpoint"`
	SampleRatio     float64 `koanf:"sample_ratio"`
	UseTLS          bool    `koanf:"use_tls"`
}

// LLMConfig selects the completion provider used for generation,
// judging, and extraction.
type LLMConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	APIKey   Secret `koanf:"api_key"`
	BaseURL  string `koanf:"base_url"`
	// Timeout is the per-request HTTP timeout in seconds.
	Timeout int `koanf:"timeout"`
}

// EmbeddingsConfig selects the embedding provider used for experience
// and knowledge retrieval.
type EmbeddingsConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	CacheDir string `koanf:"cache_dir"`
}

// VectorStoreConfig selects and configures the vector store backend.
// Path, Collection, and VectorSize apply to the embedded chromem
// backend; the qdrant backend reads the Qdrant section instead.
type VectorStoreConfig struct {
	Provider   string `koanf:"provider"`
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
	Compress   bool   `koanf:"compress"`
}

// QdrantConfig holds connection settings for the qdrant backend.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	UseTLS     bool   `koanf:"use_tls"`
	APIKey     Secret `koanf:"api_key"`
	Collection string `koanf:"collection"`
}

// MemoryConfig holds experience store configuration.
type MemoryConfig struct {
	MaxItems  int    `koanf:"max_items"`
	StorePath string `koanf:"store_path"`
}

// AgentConfig holds the reasoning loop knobs. Zero values defer to the
// agent package defaults.
type AgentConfig struct {
	RetrievalTopK         int     `koanf:"retrieval_top_k"`
	MinSimilarity         float64 `koanf:"min_similarity"`
	MaxGenerationAttempts int     `koanf:"max_generation_attempts"`
	GenerationTemperature float64 `koanf:"generation_temperature"`
	GenerationMaxTokens   int     `koanf:"generation_max_tokens"`
	// ToolTimeout bounds each knowledge tool call, in seconds.
	ToolTimeout     int `koanf:"tool_timeout"`
	LiteratureTopK  int `koanf:"literature_top_k"`
	MaxRefinements  int `koanf:"max_refinements"`
	ParallelWorkers int `koanf:"parallel_workers"`
}

// KnowledgeConfig holds the domain knowledge corpus configuration.
type KnowledgeConfig struct {
	SeedDir              string `koanf:"seed_dir"`
	ConstraintsPath      string `koanf:"constraints_path"`
	TheoryCollection     string `koanf:"theory_collection"`
	LiteratureCollection string `koanf:"literature_collection"`
	Watch                bool   `koanf:"watch"`
}

// FeedbackConfig holds experimental feedback storage configuration.
type FeedbackConfig struct {
	DataDir string `koanf:"data_dir"`
}

// EventsConfig holds NATS event publishing configuration. An empty URL
// disables publishing.
type EventsConfig struct {
	NATSURL string `koanf:"nats_url"`
}

// TemporalConfig holds the Temporal connection used by batch
// distillation workflows.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
}

// Validate checks invariants the config package owns. Component-level
// settings such as logging levels and provider credentials are
// validated by the packages that consume them.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Service name is empty (when telemetry is enabled)
//   - Sample ratio is outside 0-1 (when telemetry is enabled)
//   - LLM timeout is negative
//   - Vector store provider is unknown or vector size is not positive
//   - Memory max_items is not positive
//   - Agent min_similarity is outside 0-1
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry {
		if c.Observability.ServiceName == "" {
			return errors.New("service name required when telemetry is enabled")
		}
		if c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > 1 {
			return fmt.Errorf("sample ratio must be between 0 and 1, got %v", c.Observability.SampleRatio)
		}
	}

	if c.LLM.Timeout < 0 {
		return fmt.Errorf("llm timeout cannot be negative: %d", c.LLM.Timeout)
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown vectorstore provider %q (must be chromem or qdrant)", c.VectorStore.Provider)
	}
	if c.VectorStore.VectorSize < 1 {
		return fmt.Errorf("vector size must be positive, got %d", c.VectorStore.VectorSize)
	}

	if c.Memory.MaxItems < 1 {
		return fmt.Errorf("memory max_items must be positive, got %d", c.Memory.MaxItems)
	}

	if c.Agent.MinSimilarity < 0 || c.Agent.MinSimilarity > 1 {
		return fmt.Errorf("agent min_similarity must be between 0 and 1, got %v", c.Agent.MinSimilarity)
	}

	return nil
}
