package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/extraction"
	"github.com/cruciblelabs/formulad/internal/memory"
)

// Processor folds submitted experiment results back into the experience
// store. Experiment-validated items outrank judge-derived ones in the
// sense that their provenance is a measurement, so the processor tags
// them accordingly before consolidation.
type Processor struct {
	manager   *Manager
	extractor *extraction.Extractor
	store     *memory.Store
	logger    *zap.Logger
	autoSave  string
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithAutoSave persists the experience store to path after each
// consolidation.
func WithAutoSave(path string) ProcessorOption {
	return func(p *Processor) { p.autoSave = path }
}

// NewProcessor wires the feedback loop together.
func NewProcessor(manager *Manager, extractor *extraction.Extractor, store *memory.Store, logger *zap.Logger, opts ...ProcessorOption) (*Processor, error) {
	if manager == nil {
		return nil, errors.New("feedback: recommendation manager is required")
	}
	if extractor == nil {
		return nil, errors.New("feedback: extractor is required")
	}
	if store == nil {
		return nil, errors.New("feedback: experience store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Processor{manager: manager, extractor: extractor, store: store, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Report summarizes the processing of one recommendation's feedback.
type Report struct {
	RecommendationID  string   `json:"recommendation_id"`
	LiquidFormed      bool     `json:"is_liquid_formed"`
	Solubility        *float64 `json:"solubility,omitempty"`
	SolubilityUnit    string   `json:"solubility_unit,omitempty"`
	MemoriesExtracted []string `json:"memories_extracted"`
}

// Process distills one completed recommendation's experiment result into
// experience items and consolidates them. The trajectory's outcome is
// rewritten to the experiment disposition and the record is re-saved with
// a processed marker so the same feedback is never folded in twice.
func (p *Processor) Process(ctx context.Context, id string) (*Report, error) {
	ctx, span := feedbackTracer.Start(ctx, "feedback.Process")
	defer span.End()
	span.SetAttributes(attribute.String("recommendation.id", id))

	rec, err := p.manager.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if rec.Experiment == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoResult, id)
	}
	if rec.Trajectory == nil {
		return nil, fmt.Errorf("feedback: recommendation %s has no trajectory", id)
	}

	traj := rec.Trajectory
	traj.Outcome = memory.OutcomeExperiment
	if traj.Metadata == nil {
		traj.Metadata = map[string]any{}
	}
	traj.Metadata["experiment_result"] = rec.Experiment
	traj.Metadata["feedback_processed_at"] = time.Now().Format(time.RFC3339)

	items, err := p.extractor.FromExperiment(ctx, traj, rec.Experiment.Report())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("recommendation %s: %w", id, err)
	}

	for _, item := range items {
		if item.Metadata == nil {
			item.Metadata = map[string]any{}
		}
		item.Metadata["source"] = "experiment_validated"
		item.Metadata["recommendation_id"] = id
		item.Metadata["experiment_date"] = rec.Experiment.ExperimentDate.Format(time.RFC3339)
	}

	if len(items) > 0 {
		added, err := p.store.AddMany(ctx, items)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("consolidating experiment items for %s: %w", id, err)
		}
		p.logger.Info("consolidated experiment-validated items",
			zap.String("id", id),
			zap.Int("added", added))

		if added > 0 && p.autoSave != "" {
			if err := p.store.Save(ctx, p.autoSave); err != nil {
				p.logger.Warn("auto-save failed", zap.Error(err))
			}
		}
	}

	if _, err := p.manager.Save(ctx, rec); err != nil {
		span.RecordError(err)
		return nil, err
	}

	titles := make([]string, len(items))
	for i, item := range items {
		titles[i] = item.Title
	}
	span.SetAttributes(attribute.Int("items.extracted", len(items)))

	return &Report{
		RecommendationID:  id,
		LiquidFormed:      rec.Experiment.LiquidFormed,
		Solubility:        rec.Experiment.Solubility,
		SolubilityUnit:    rec.Experiment.SolubilityUnit,
		MemoriesExtracted: titles,
	}, nil
}

// ProcessPending processes every completed recommendation whose feedback
// has not been folded in yet. Individual failures are logged and skipped
// so one bad record never blocks the rest of the backlog.
func (p *Processor) ProcessPending(ctx context.Context) ([]*Report, error) {
	ctx, span := feedbackTracer.Start(ctx, "feedback.ProcessPending")
	defer span.End()

	recs, err := p.manager.List(ctx, Filter{Status: StatusCompleted})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var reports []*Report
	for _, rec := range recs {
		if rec.Processed() {
			continue
		}
		report, err := p.Process(ctx, rec.ID)
		if err != nil {
			p.logger.Error("feedback processing failed",
				zap.String("id", rec.ID),
				zap.Error(err))
			continue
		}
		reports = append(reports, report)
	}

	span.SetAttributes(attribute.Int("processed", len(reports)))
	p.logger.Info("processed pending feedback", zap.Int("count", len(reports)))
	return reports, nil
}
