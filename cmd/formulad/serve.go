package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/config"
	"github.com/cruciblelabs/formulad/internal/events"
	"github.com/cruciblelabs/formulad/internal/feedback"
	"github.com/cruciblelabs/formulad/internal/knowledge"
	"github.com/cruciblelabs/formulad/internal/server"
	"github.com/cruciblelabs/formulad/internal/telemetry"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the formulad HTTP API server",
	Long: `Run the formulad HTTP API server until interrupted.

The server exposes the solve loop (POST /v1/solve), the experience store
(GET /v1/memories, GET /v1/memories/stats, GET/DELETE /v1/memories/:title),
lab feedback submission (POST /v1/feedback/results), liveness (GET
/healthz), and Prometheus metrics (GET /metrics). On startup it seeds the
theory and literature knowledge collections from the configured seed
directory when one is set.

Example:
  FORMULAD_LLM_API_KEY=sk-... formulad serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	app, err := newApp(ctx, cfg, tel.LoggerProvider(), appOptions{needLLM: true, needKnowledge: true})
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.Knowledge.SeedDir != "" {
		n, err := knowledge.SeedDirectory(ctx, app.knowledgeStore, cfg.Knowledge.SeedDir, app.zlog)
		if err != nil {
			return fmt.Errorf("seeding knowledge bases: %w", err)
		}
		app.zlog.Info("knowledge bases seeded", zap.Int("documents", n))
	}

	manager, err := feedback.NewManager(cfg.Feedback.DataDir, app.zlog)
	if err != nil {
		return fmt.Errorf("initializing feedback manager: %w", err)
	}
	processor, err := feedback.NewProcessor(manager, app.extractor, app.store, app.zlog,
		feedback.WithAutoSave(cfg.Memory.StorePath))
	if err != nil {
		return fmt.Errorf("initializing feedback processor: %w", err)
	}

	var publisher *events.Publisher
	if cfg.Events.NATSURL != "" {
		publisher, err = events.Connect(cfg.Events.NATSURL, app.zlog)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer publisher.Close()
	}

	srv, err := server.NewServer(server.Deps{
		Solver:    app.agent,
		Store:     app.store,
		Feedback:  manager,
		Processor: processor,
		Events:    publisher,
	}, app.zlog, &server.Config{Port: cfg.Server.Port})
	if err != nil {
		return fmt.Errorf("initializing HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	app.zlog.Info("formulad serving", zap.Int("port", cfg.Server.Port))

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	app.zlog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := app.saveStore(shutdownCtx); err != nil {
		app.zlog.Warn("saving experience store on shutdown", zap.Error(err))
	}
	return nil
}

// telemetryConfig maps the observability section onto the telemetry
// package's config, keeping its defaults for everything the section does
// not cover.
func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = cfg.Observability.EnableTelemetry
	tc.Endpoint = cfg.Observability.OTLPEndpoint
	tc.ServiceName = cfg.Observability.ServiceName
	tc.ServiceVersion = version
	tc.Insecure = !cfg.Observability.UseTLS
	tc.Sampling.Rate = cfg.Observability.SampleRatio
	return tc
}
