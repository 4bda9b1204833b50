package main

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/agent"
	"github.com/cruciblelabs/formulad/internal/config"
	"github.com/cruciblelabs/formulad/internal/embeddings"
	"github.com/cruciblelabs/formulad/internal/extraction"
	"github.com/cruciblelabs/formulad/internal/judge"
	"github.com/cruciblelabs/formulad/internal/knowledge"
	"github.com/cruciblelabs/formulad/internal/llm"
	"github.com/cruciblelabs/formulad/internal/logging"
	"github.com/cruciblelabs/formulad/internal/memory"
	"github.com/cruciblelabs/formulad/internal/retrieval"
	"github.com/cruciblelabs/formulad/internal/vectorstore"
)

// app bundles the wired components a command needs. Every command builds
// the subset it uses through the newApp options and closes the rest down
// with Close.
type app struct {
	cfg  *config.Config
	log  *logging.Logger
	zlog *zap.Logger

	embedder  embeddings.Provider
	store     *memory.Store
	retriever *retrieval.Retriever
	client    llm.Client
	judge     *judge.Judge
	extractor *extraction.Extractor

	knowledgeStore vectorstore.Store
	theory         knowledge.Tool
	literature     knowledge.Tool
	watcher        *knowledge.Watcher
	constraints    *knowledge.Constraints

	agent *agent.Agent
}

// appOptions selects which optional subsystems newApp wires.
type appOptions struct {
	// needLLM wires the completion client, judge, extractor, and agent.
	// Store-only commands (memory list, export) leave it off so they
	// run without credentials.
	needLLM bool
	// needKnowledge wires the vector store and the theory/literature
	// tools.
	needKnowledge bool
	// stderrLogs routes logs to stderr for commands whose stdout
	// carries a protocol.
	stderrLogs bool
}

// newApp wires the components for one command invocation. The experience
// store is loaded from its configured path when the file exists.
func newApp(ctx context.Context, cfg *config.Config, otelProvider log.LoggerProvider, opts appOptions) (*app, error) {
	logCfg := &logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: logging.OutputConfig{Stdout: !opts.stderrLogs, Stderr: opts.stderrLogs, OTEL: otelProvider != nil},
		Fields: map[string]string{"service": "formulad"},
	}
	logger, err := logging.NewLogger(logCfg, otelProvider)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	a := &app{cfg: cfg, log: logger, zlog: logger.Underlying()}

	a.embedder, err = embeddings.NewProvider(embeddings.ProviderConfig{
		Provider: cfg.Embeddings.Provider,
		Model:    cfg.Embeddings.Model,
		BaseURL:  cfg.Embeddings.BaseURL,
		APIKey:   cfg.Embeddings.APIKey.Value(),
		CacheDir: cfg.Embeddings.CacheDir,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing embeddings: %w", err)
	}

	a.store = memory.NewStore(a.zlog,
		memory.WithEmbedder(a.embedder),
		memory.WithMaxItems(cfg.Memory.MaxItems))
	if _, statErr := os.Stat(cfg.Memory.StorePath); statErr == nil {
		if err := a.store.Load(ctx, cfg.Memory.StorePath); err != nil {
			a.Close()
			return nil, fmt.Errorf("loading experience store: %w", err)
		}
	}

	a.retriever, err = retrieval.NewRetriever(a.store, a.embedder, a.zlog)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initializing retriever: %w", err)
	}

	if cfg.Knowledge.ConstraintsPath != "" {
		if err := a.wireConstraints(); err != nil {
			a.Close()
			return nil, err
		}
	}

	if opts.needKnowledge {
		if err := a.wireKnowledge(); err != nil {
			a.Close()
			return nil, err
		}
	}

	if opts.needLLM {
		if err := a.wireLLM(); err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *app) wireConstraints() error {
	path := a.cfg.Knowledge.ConstraintsPath
	if a.cfg.Knowledge.Watch {
		w, err := knowledge.NewWatcher(path, a.zlog)
		if err != nil {
			return fmt.Errorf("watching constraints file: %w", err)
		}
		a.watcher = w
		return nil
	}
	c, err := knowledge.LoadConstraints(path)
	if err != nil {
		return fmt.Errorf("loading constraints file: %w", err)
	}
	a.constraints = c
	return nil
}

// currentConstraints returns the live constraints source, honoring hot
// reload when the watcher is active.
func (a *app) currentConstraints() func() *knowledge.Constraints {
	switch {
	case a.watcher != nil:
		return a.watcher.Current
	case a.constraints != nil:
		c := a.constraints
		return func() *knowledge.Constraints { return c }
	default:
		return nil
	}
}

func (a *app) constraintsText() func() string {
	source := a.currentConstraints()
	if source == nil {
		return nil
	}
	return func() string {
		if c := source(); c != nil {
			return c.PromptText()
		}
		return ""
	}
}

func (a *app) wireKnowledge() error {
	cfg := a.cfg
	store, err := vectorstore.NewStoreFromProvider(cfg.VectorStore.Provider,
		&vectorstore.ChromemConfig{
			Path:              cfg.VectorStore.Path,
			Compress:          cfg.VectorStore.Compress,
			DefaultCollection: cfg.VectorStore.Collection,
			VectorSize:        cfg.VectorStore.VectorSize,
		},
		&vectorstore.QdrantConfig{
			Host:           cfg.Qdrant.Host,
			Port:           cfg.Qdrant.Port,
			UseTLS:         cfg.Qdrant.UseTLS,
			APIKey:         cfg.Qdrant.APIKey.Value(),
			CollectionName: cfg.Qdrant.Collection,
			VectorSize:     cfg.VectorStore.VectorSize,
		},
		a.embedder, a.log)
	if err != nil {
		return fmt.Errorf("initializing vector store: %w", err)
	}
	a.knowledgeStore = store

	theory, err := knowledge.NewTheoryTool(store, knowledge.TheoryConfig{
		Collection: cfg.Knowledge.TheoryCollection,
	}, a.zlog)
	if err != nil {
		return fmt.Errorf("initializing theory tool: %w", err)
	}
	a.theory = theory

	literature, err := knowledge.NewLiteratureTool(store, knowledge.LiteratureConfig{
		Collection: cfg.Knowledge.LiteratureCollection,
		TopK:       cfg.Agent.LiteratureTopK,
	}, a.zlog)
	if err != nil {
		return fmt.Errorf("initializing literature tool: %w", err)
	}
	a.literature = literature
	return nil
}

func (a *app) wireLLM() error {
	cfg := a.cfg
	client, err := llm.NewClient(llm.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey.Value(),
		BaseURL:  cfg.LLM.BaseURL,
		Timeout:  cfg.LLM.Timeout,
	})
	if err != nil {
		return fmt.Errorf("initializing LLM client: %w", err)
	}
	a.client = client

	var judgeOpts []judge.Option
	if text := a.constraintsText(); text != nil {
		judgeOpts = append(judgeOpts, judge.WithConstraints(text))
	}
	j, err := judge.New(client, a.zlog, judgeOpts...)
	if err != nil {
		return fmt.Errorf("initializing judge: %w", err)
	}
	a.judge = j

	a.extractor, err = extraction.New(client, a.zlog)
	if err != nil {
		return fmt.Errorf("initializing extractor: %w", err)
	}

	a.agent, err = agent.New(agent.Deps{
		Client:      client,
		Store:       a.store,
		Retriever:   a.retriever,
		Judge:       j,
		Extractor:   a.extractor,
		Theory:      a.theory,
		Literature:  a.literature,
		Constraints: a.currentConstraints(),
	}, agent.Config{
		RetrievalTopK:         cfg.Agent.RetrievalTopK,
		MinSimilarity:         cfg.Agent.MinSimilarity,
		MaxGenerationAttempts: cfg.Agent.MaxGenerationAttempts,
		GenerationTemperature: cfg.Agent.GenerationTemperature,
		GenerationMaxTokens:   cfg.Agent.GenerationMaxTokens,
		ToolTimeout:           cfg.Agent.ToolTimeout,
		LiteratureTopK:        cfg.Agent.LiteratureTopK,
		MaxRefinements:        cfg.Agent.MaxRefinements,
		ParallelWorkers:       cfg.Agent.ParallelWorkers,
		AutoSavePath:          cfg.Memory.StorePath,
	}, a.zlog)
	if err != nil {
		return fmt.Errorf("initializing agent: %w", err)
	}
	return nil
}

// saveStore persists the experience store to its configured path.
func (a *app) saveStore(ctx context.Context) error {
	return a.store.Save(ctx, a.cfg.Memory.StorePath)
}

// Close releases everything the app holds, tolerating partially wired
// state after a construction failure.
func (a *app) Close() {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.knowledgeStore != nil {
		_ = a.knowledgeStore.Close()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}
