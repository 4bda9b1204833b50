// Package events publishes formulad lifecycle events to NATS so external
// consumers such as lab schedulers and dashboards can react to finished
// tasks and store growth without polling the HTTP API.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects carrying formulad lifecycle events.
const (
	// SubjectTaskCompleted receives one event per finished solve,
	// whatever the verdict.
	SubjectTaskCompleted = "formulad.task.completed"
	// SubjectMemoryConsolidated receives one event each time extracted
	// experience items land in the store.
	SubjectMemoryConsolidated = "formulad.memory.consolidated"
)

// TaskCompletedEvent is the payload published on SubjectTaskCompleted.
type TaskCompletedEvent struct {
	TaskID         string    `json:"task_id"`
	TargetMaterial string    `json:"target_material"`
	Outcome        string    `json:"outcome"`
	HBD            string    `json:"hbd,omitempty"`
	HBA            string    `json:"hba,omitempty"`
	MolarRatio     string    `json:"molar_ratio,omitempty"`
	Confidence     float64   `json:"confidence,omitempty"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	CompletedAt    time.Time `json:"completed_at"`
}

// MemoryConsolidatedEvent is the payload published on SubjectMemoryConsolidated.
type MemoryConsolidatedEvent struct {
	TaskID         string    `json:"task_id"`
	Titles         []string  `json:"titles"`
	StoreSize      int       `json:"store_size"`
	ConsolidatedAt time.Time `json:"consolidated_at"`
}

// Publisher emits lifecycle events over a NATS connection.
//
// A nil *Publisher is valid and drops every event, so callers wire the
// publisher unconditionally and leave it nil when eventing is not
// configured.
type Publisher struct {
	nc     *nats.Conn
	owned  bool
	logger *zap.Logger
}

// NewPublisher wraps an existing NATS connection. The connection remains
// owned by the caller; Close does not touch it.
func NewPublisher(nc *nats.Conn, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, logger: logger}
}

// Connect dials NATS at url and returns a publisher owning the
// connection. An empty url disables eventing and returns a nil publisher.
func Connect(url string, logger *zap.Logger) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	p := NewPublisher(nc, logger)
	p.owned = true
	p.logger.Info("event publisher connected", zap.String("url", url))
	return p, nil
}

// TaskCompleted publishes ev on SubjectTaskCompleted. A zero CompletedAt
// is filled with the current time.
func (p *Publisher) TaskCompleted(ev TaskCompletedEvent) error {
	if p == nil || p.nc == nil {
		return nil
	}

	if ev.CompletedAt.IsZero() {
		ev.CompletedAt = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal task completed event: %w", err)
	}

	if err := p.nc.Publish(SubjectTaskCompleted, data); err != nil {
		return fmt.Errorf("publish task completed event: %w", err)
	}

	p.logger.Debug("published event",
		zap.String("subject", SubjectTaskCompleted),
		zap.String("task_id", ev.TaskID),
		zap.String("outcome", ev.Outcome))

	return nil
}

// MemoryConsolidated publishes ev on SubjectMemoryConsolidated. A zero
// ConsolidatedAt is filled with the current time.
func (p *Publisher) MemoryConsolidated(ev MemoryConsolidatedEvent) error {
	if p == nil || p.nc == nil {
		return nil
	}

	if ev.ConsolidatedAt.IsZero() {
		ev.ConsolidatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal memory consolidated event: %w", err)
	}

	if err := p.nc.Publish(SubjectMemoryConsolidated, data); err != nil {
		return fmt.Errorf("publish memory consolidated event: %w", err)
	}

	p.logger.Debug("published event",
		zap.String("subject", SubjectMemoryConsolidated),
		zap.String("task_id", ev.TaskID),
		zap.Int("titles", len(ev.Titles)))

	return nil
}

// Close flushes and closes the connection when the publisher owns it.
// Safe on a nil publisher.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil || !p.owned {
		return
	}
	if err := p.nc.Flush(); err != nil {
		p.logger.Warn("flush before close failed", zap.Error(err))
	}
	p.nc.Close()
}
