package server

import (
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/cruciblelabs/formulad/internal/server"

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics instruments the HTTP API. Request-level metrics flow through
// OTel to the collector; domain counters are registered with the default
// Prometheus registry and served on GET /metrics.
type Metrics struct {
	logger *zap.Logger

	// OTel HTTP instruments
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	activeRequests metric.Int64UpDownCounter

	// Prometheus domain collectors
	SolveTotal    *prometheus.CounterVec
	SolveDuration prometheus.Histogram
	FeedbackTotal *prometheus.CounterVec
	MemoryItems   prometheus.Gauge
}

// NewMetrics returns the process-wide metrics instance. Registration
// with the default Prometheus registry happens once; later calls reuse
// the first instance.
func NewMetrics(logger *zap.Logger) *Metrics {
	metricsOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
		m := &Metrics{logger: logger}
		m.initOTel()

		m.SolveTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "formulad_solve_requests_total",
				Help: "Total solve requests by final outcome",
			},
			[]string{"outcome"},
		)
		m.SolveDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "formulad_solve_duration_seconds",
				Help:    "End-to-end solve duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
			},
		)
		m.FeedbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "formulad_feedback_results_total",
				Help: "Total experiment results submitted, by disposition",
			},
			[]string{"disposition"},
		)
		m.MemoryItems = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "formulad_memory_items",
				Help: "Current number of experience items in the store",
			},
		)

		globalMetrics = m
	})
	return globalMetrics
}

func (m *Metrics) initOTel() {
	meter := otel.Meter(instrumentationName)
	var err error

	m.requestsTotal, err = meter.Int64Counter(
		"formulad.http.requests_total",
		metric.WithDescription("Total HTTP requests labeled by method, endpoint, and status code"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create requests counter", zap.Error(err))
	}

	m.requestDur, err = meter.Float64Histogram(
		"formulad.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds, labeled by method, endpoint, and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0, 180.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.activeRequests, err = meter.Int64UpDownCounter(
		"formulad.http.active_requests",
		metric.WithDescription("Number of currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active requests gauge", zap.Error(err))
	}
}

// RecordSolve records one completed solve request.
func (m *Metrics) RecordSolve(outcome string, seconds float64) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.SolveTotal.WithLabelValues(outcome).Inc()
	m.SolveDuration.Observe(seconds)
}

// RecordFeedback records one submitted experiment result.
func (m *Metrics) RecordFeedback(liquidFormed bool) {
	disposition := "no_liquid"
	if liquidFormed {
		disposition = "liquid_formed"
	}
	m.FeedbackTotal.WithLabelValues(disposition).Inc()
}

// SetMemoryItems updates the store size gauge.
func (m *Metrics) SetMemoryItems(n int) {
	m.MemoryItems.Set(float64(n))
}

// Middleware returns an Echo middleware recording per-request metrics.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
			}

			err := next(c)

			// c.Path() is the route template (":title" stays a
			// placeholder), so endpoint cardinality stays bounded.
			endpoint := c.Path()
			if endpoint == "" {
				endpoint = "unmatched"
			}
			attrs := []attribute.KeyValue{
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", endpoint),
				attribute.Int("status", c.Response().Status),
			}

			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
			}
			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, -1)
			}

			return err
		}
	}
}
