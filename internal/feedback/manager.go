package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var feedbackTracer = otel.Tracer("formulad.feedback")

const indexFileName = "index.json"

// indexEntry is the per-recommendation summary kept in index.json so
// listing and filtering never load the full record files.
type indexEntry struct {
	TaskID            string    `json:"task_id"`
	Status            Status    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	TargetMaterial    string    `json:"target_material,omitempty"`
	TargetTemperature float64   `json:"target_temperature,omitempty"`
	File              string    `json:"file"`
}

// Filter narrows a List call.
type Filter struct {
	// Status keeps only recommendations in the given state.
	Status Status

	// TargetMaterial keeps only recommendations for the given material.
	TargetMaterial string

	// Limit bounds the result count after sorting. Zero means no bound.
	Limit int
}

// Stats summarizes the recommendation corpus.
type Stats struct {
	Total      int            `json:"total"`
	ByStatus   map[Status]int `json:"by_status"`
	ByMaterial map[string]int `json:"by_material"`
}

// Manager stores recommendations as one JSON file each plus an index
// file under a data directory. The layout is deliberately plain so
// records stay debuggable, diffable, and portable between instances.
type Manager struct {
	dir    string
	logger *zap.Logger

	mu    sync.Mutex
	index map[string]indexEntry
}

// NewManager opens (or creates) the recommendation directory and loads
// its index.
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("feedback: storage directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating recommendation directory: %w", err)
	}

	m := &Manager{dir: dir, logger: logger, index: map[string]indexEntry{}}
	if err := m.loadIndex(); err != nil {
		return nil, err
	}

	logger.Info("recommendation manager initialized",
		zap.String("dir", dir),
		zap.Int("records", len(m.index)))
	return m, nil
}

func (m *Manager) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(m.dir, indexFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading recommendation index: %w", err)
	}
	if err := json.Unmarshal(data, &m.index); err != nil {
		return fmt.Errorf("decoding recommendation index: %w", err)
	}
	return nil
}

// Save persists a recommendation and updates the index, assigning the ID
// and timestamps on first save. It returns the recommendation ID.
func (m *Manager) Save(ctx context.Context, rec *Recommendation) (string, error) {
	_, span := feedbackTracer.Start(ctx, "feedback.Save")
	defer span.End()

	if rec == nil {
		return "", errors.New("feedback: recommendation is required")
	}
	if err := rec.Validate(); err != nil {
		span.RecordError(err)
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if rec.ID == "" {
		rec.ID = m.nextID(now)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if rec.Version == "" {
		rec.Version = recordVersion
	}

	if err := m.save(rec); err != nil {
		span.RecordError(err)
		return "", err
	}

	span.SetAttributes(attribute.String("recommendation.id", rec.ID))
	m.logger.Info("saved recommendation",
		zap.String("id", rec.ID),
		zap.String("status", string(rec.Status)))
	return rec.ID, nil
}

// save writes the record file and index. Callers hold m.mu.
func (m *Manager) save(rec *Recommendation) error {
	file := rec.ID + ".json"
	if err := writeJSON(filepath.Join(m.dir, file), rec); err != nil {
		return fmt.Errorf("writing recommendation %s: %w", rec.ID, err)
	}

	m.index[rec.ID] = indexEntry{
		TaskID:            rec.TaskID,
		Status:            rec.Status,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
		TargetMaterial:    rec.Task.TargetMaterial,
		TargetTemperature: rec.Task.TargetTemperature,
		File:              file,
	}
	if err := writeJSON(filepath.Join(m.dir, indexFileName), m.index); err != nil {
		return fmt.Errorf("writing recommendation index: %w", err)
	}
	return nil
}

// nextID assigns date-scoped sequential IDs (REC_20250826_001). Callers
// hold m.mu.
func (m *Manager) nextID(now time.Time) string {
	prefix := "REC_" + now.Format("20060102") + "_"
	seq := 1
	for id := range m.index {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(id, prefix)); err == nil && n >= seq {
			seq = n + 1
		}
	}
	return fmt.Sprintf("%s%03d", prefix, seq)
}

// Get loads a recommendation by ID.
func (m *Manager) Get(ctx context.Context, id string) (*Recommendation, error) {
	_, span := feedbackTracer.Start(ctx, "feedback.Get")
	defer span.End()
	span.SetAttributes(attribute.String("recommendation.id", id))

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(id)
}

// get loads a record file. Callers hold m.mu.
func (m *Manager) get(id string) (*Recommendation, error) {
	entry, ok := m.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	data, err := os.ReadFile(filepath.Join(m.dir, entry.File))
	if err != nil {
		return nil, fmt.Errorf("reading recommendation %s: %w", id, err)
	}

	var rec Recommendation
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding recommendation %s: %w", id, err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, rec.Version)
	}
	return &rec, nil
}

// List returns recommendations matching the filter, newest first.
func (m *Manager) List(ctx context.Context, filter Filter) ([]*Recommendation, error) {
	_, span := feedbackTracer.Start(ctx, "feedback.List")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.index))
	for id, entry := range m.index {
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		if filter.TargetMaterial != "" && entry.TargetMaterial != filter.TargetMaterial {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.index[ids[i]], m.index[ids[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return ids[i] > ids[j]
	})
	if filter.Limit > 0 && len(ids) > filter.Limit {
		ids = ids[:filter.Limit]
	}

	recs := make([]*Recommendation, 0, len(ids))
	for _, id := range ids {
		rec, err := m.get(id)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	span.SetAttributes(attribute.Int("result_count", len(recs)))
	return recs, nil
}

// UpdateStatus transitions a recommendation to a new lifecycle state.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status Status) error {
	_, span := feedbackTracer.Start(ctx, "feedback.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("recommendation.id", id),
		attribute.String("status", string(status)))

	if !status.Valid() {
		return fmt.Errorf("feedback: unknown status %q", status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.get(id)
	if err != nil {
		span.RecordError(err)
		return err
	}
	rec.Status = status
	rec.UpdatedAt = time.Now()
	if err := m.save(rec); err != nil {
		span.RecordError(err)
		return err
	}

	m.logger.Info("updated recommendation status",
		zap.String("id", id),
		zap.String("status", string(status)))
	return nil
}

// SubmitResult attaches a lab result to a recommendation and marks it
// completed. The result is normalized and validated first; a solubility
// reported without a formed liquid is discarded with a warning.
func (m *Manager) SubmitResult(ctx context.Context, id string, result ExperimentResult) (*Recommendation, error) {
	_, span := feedbackTracer.Start(ctx, "feedback.SubmitResult")
	defer span.End()
	span.SetAttributes(
		attribute.String("recommendation.id", id),
		attribute.Bool("liquid_formed", result.LiquidFormed))

	if !result.LiquidFormed && result.Solubility != nil {
		m.logger.Warn("solubility reported without a formed liquid, discarding",
			zap.String("id", id))
	}
	result = result.Normalize()
	if err := result.Validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.get(id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	rec.Experiment = &result
	rec.Status = StatusCompleted
	rec.UpdatedAt = time.Now()
	if err := m.save(rec); err != nil {
		span.RecordError(err)
		return nil, err
	}

	m.logger.Info("submitted experiment result",
		zap.String("id", id),
		zap.Bool("liquid_formed", result.LiquidFormed))
	return rec, nil
}

// Statistics summarizes the index by status and target material.
func (m *Manager) Statistics() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		Total:      len(m.index),
		ByStatus:   map[Status]int{},
		ByMaterial: map[string]int{},
	}
	for _, entry := range m.index {
		stats.ByStatus[entry.Status]++
		material := entry.TargetMaterial
		if material == "" {
			material = "unknown"
		}
		stats.ByMaterial[material]++
	}
	return stats
}

// writeJSON writes v as indented JSON via a temp file and rename so a
// crash mid-write never leaves a torn record behind.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
