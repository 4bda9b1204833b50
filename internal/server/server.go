package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/agent"
	"github.com/cruciblelabs/formulad/internal/events"
	"github.com/cruciblelabs/formulad/internal/feedback"
	"github.com/cruciblelabs/formulad/internal/memory"
)

// Solver runs one formulation task to completion.
type Solver interface {
	Solve(ctx context.Context, task agent.Task) (*agent.Result, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Deps carries the server's collaborators. Solver and Store are
// required; the rest are optional surfaces that disable their routes'
// side effects when nil.
type Deps struct {
	Solver    Solver
	Store     *memory.Store
	Feedback  *feedback.Manager
	Processor *feedback.Processor
	Events    *events.Publisher
}

// Server provides HTTP endpoints for formulad.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	metrics *Metrics
	logger  *zap.Logger
	config  *Config
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Solver == nil {
		return nil, fmt.Errorf("solver cannot be nil")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("memory store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := NewMetrics(logger)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.Middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		deps:    deps,
		metrics: metrics,
		logger:  logger,
		config:  cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.POST("/solve", s.handleSolve)
	v1.GET("/memories", s.handleListMemories)
	v1.GET("/memories/stats", s.handleMemoryStats)
	v1.GET("/memories/:title", s.handleGetMemory)
	v1.DELETE("/memories/:title", s.handleDeleteMemory)
	v1.POST("/feedback/results", s.handleFeedbackResult)
}

// handleHealth returns liveness plus the current store size.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Memories: s.deps.Store.Len(),
	})
}

// handleSolve runs one formulation task through the full loop.
func (s *Server) handleSolve(c echo.Context) error {
	var req SolveRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid solve request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	task := req.Task()
	if err := task.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	start := time.Now()
	res, err := s.deps.Solver.Solve(ctx, task)
	elapsed := time.Since(start)
	if err != nil {
		s.logger.Error("solve failed",
			zap.String("target_material", task.TargetMaterial),
			zap.Error(err))
		if errors.Is(err, agent.ErrGenerationExhausted) {
			return echo.NewHTTPError(http.StatusBadGateway, "formulation generation failed")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "solve failed")
	}

	s.metrics.RecordSolve(string(res.Outcome), elapsed.Seconds())
	s.metrics.SetMemoryItems(s.deps.Store.Len())

	resp := SolveResponse{
		TaskID:               res.TaskID,
		Outcome:              res.Outcome,
		FailureReason:        res.FailureReason,
		ExperiencesConsulted: res.ExperiencesConsulted,
		MemoriesUsed:         res.MemoriesUsed,
		MemoriesExtracted:    res.MemoriesExtracted,
		ElapsedSeconds:       elapsed.Seconds(),
	}
	if res.Candidate != nil {
		f := res.Candidate.Formulation
		resp.Formulation = &f
		resp.Reasoning = res.Candidate.Reasoning
		resp.Confidence = res.Candidate.Confidence
	}
	task.ID = res.TaskID
	resp.RecommendationID = s.recordRecommendation(ctx, task, res)
	s.publishSolveEvents(task, res)

	return c.JSON(http.StatusOK, resp)
}

// recordRecommendation persists the solved task for later experiment
// feedback. Recording failures are logged, never surfaced: the solve
// itself succeeded.
func (s *Server) recordRecommendation(ctx context.Context, task agent.Task, res *agent.Result) string {
	if s.deps.Feedback == nil || res.Candidate == nil {
		return ""
	}

	rec, err := feedback.NewRecommendation(task.Normalize(), res)
	if err != nil {
		s.logger.Warn("recommendation not recorded", zap.Error(err))
		return ""
	}
	id, err := s.deps.Feedback.Save(ctx, rec)
	if err != nil {
		s.logger.Warn("recommendation not recorded",
			zap.String("task_id", res.TaskID),
			zap.Error(err))
		return ""
	}
	return id
}

// publishSolveEvents emits lifecycle events for a finished solve.
// Eventing is best-effort; failures are logged and dropped.
func (s *Server) publishSolveEvents(task agent.Task, res *agent.Result) {
	ev := events.TaskCompletedEvent{
		TaskID:         res.TaskID,
		TargetMaterial: task.TargetMaterial,
		Outcome:        string(res.Outcome),
		FailureReason:  res.FailureReason,
	}
	if res.Candidate != nil {
		ev.HBD = res.Candidate.Formulation.HBD
		ev.HBA = res.Candidate.Formulation.HBA
		ev.MolarRatio = res.Candidate.Formulation.MolarRatio
		ev.Confidence = res.Candidate.Confidence
	}
	if err := s.deps.Events.TaskCompleted(ev); err != nil {
		s.logger.Warn("task completed event not published", zap.Error(err))
	}

	if len(res.MemoriesExtracted) == 0 {
		return
	}
	err := s.deps.Events.MemoryConsolidated(events.MemoryConsolidatedEvent{
		TaskID:    res.TaskID,
		Titles:    res.MemoriesExtracted,
		StoreSize: s.deps.Store.Len(),
	})
	if err != nil {
		s.logger.Warn("memory consolidated event not published", zap.Error(err))
	}
}

// handleListMemories lists experience items, optionally filtered by
// provenance (?success=true|false) or metadata source (?source=), and
// truncated to ?limit=.
func (s *Server) handleListMemories(c echo.Context) error {
	filters := map[string]any{}
	if v := c.QueryParam("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "success must be true or false")
		}
		filters["is_from_success"] = b
	}
	if v := c.QueryParam("source"); v != "" {
		filters["metadata.source"] = v
	}

	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	items := s.deps.Store.Filter(filters)
	total := len(items)
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	summaries := make([]MemorySummary, 0, len(items))
	for _, item := range items {
		summaries = append(summaries, toMemorySummary(item))
	}
	return c.JSON(http.StatusOK, MemoryListResponse{Items: summaries, Total: total})
}

// handleMemoryStats returns store statistics.
func (s *Server) handleMemoryStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Store.Statistics())
}

// handleGetMemory returns one experience item by title.
func (s *Server) handleGetMemory(c echo.Context) error {
	title := memoryTitleParam(c)
	item, err := s.deps.Store.GetByTitle(title)
	if err != nil {
		if errors.Is(err, memory.ErrItemNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "memory not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "lookup failed")
	}
	return c.JSON(http.StatusOK, toMemorySummary(item))
}

// handleDeleteMemory removes one experience item by title.
func (s *Server) handleDeleteMemory(c echo.Context) error {
	title := memoryTitleParam(c)
	if err := s.deps.Store.RemoveByTitle(title); err != nil {
		if errors.Is(err, memory.ErrItemNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "memory not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "delete failed")
	}

	s.metrics.SetMemoryItems(s.deps.Store.Len())
	s.logger.Info("memory deleted", zap.String("title", title))
	return c.NoContent(http.StatusNoContent)
}

// memoryTitleParam extracts and unescapes the :title path parameter.
// Titles carry spaces, so clients percent-encode them.
func memoryTitleParam(c echo.Context) string {
	raw := c.Param("title")
	title, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return title
}

// handleFeedbackResult records a lab experiment result against a
// recommendation and distills it into the experience store.
func (s *Server) handleFeedbackResult(c echo.Context) error {
	if s.deps.Feedback == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "feedback recording is not configured")
	}

	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid feedback request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.RecommendationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recommendation_id is required")
	}

	ctx := c.Request().Context()
	rec, err := s.deps.Feedback.SubmitResult(ctx, req.RecommendationID, req.Result)
	if err != nil {
		switch {
		case errors.Is(err, feedback.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "recommendation not found")
		case errors.Is(err, feedback.ErrInvalidResult):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("submit result failed",
				zap.String("recommendation_id", req.RecommendationID),
				zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "submit failed")
		}
	}

	s.metrics.RecordFeedback(rec.Experiment.LiquidFormed)

	resp := FeedbackResponse{
		RecommendationID: rec.ID,
		Status:           rec.Status,
		PerformanceScore: rec.Experiment.PerformanceScore(),
	}
	if s.deps.Processor != nil {
		report, err := s.deps.Processor.Process(ctx, rec.ID)
		if err != nil {
			// The result is recorded; distillation retries on the
			// next pending sweep.
			s.logger.Warn("feedback distillation deferred",
				zap.String("recommendation_id", rec.ID),
				zap.Error(err))
		} else {
			resp.Processed = true
			resp.MemoriesExtracted = report.MemoriesExtracted
			s.metrics.SetMemoryItems(s.deps.Store.Len())
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
