// Package extraction distills completed trajectories into experience items.
//
// The extractor runs one elevated-temperature generation call per
// trajectory (or one per trajectory group in self-contrast mode) and
// parses the fixed memory-item section format out of the response.
// Malformed sections are discarded rather than surfaced as errors; an
// extraction that produces nothing is a valid outcome.
package extraction

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/llm"
	"github.com/cruciblelabs/formulad/internal/memory"
)

var extractionTracer = otel.Tracer("formulad.extraction")

const (
	// DefaultMaxItemsPerTrajectory bounds single-trajectory extraction.
	DefaultMaxItemsPerTrajectory = 3
	// maxSelfContrastItems bounds extraction across a trajectory group.
	maxSelfContrastItems = 5

	// Extraction runs hot: diverse phrasings make the distilled strategies
	// less likely to collapse into near-duplicates over many tasks.
	defaultExtractionTemperature = 1.0

	extractionMaxTokens = 2048
)

// ExperimentReport summarizes measured lab results for one recommendation.
// It is a plain value so feedback ingestion can hand results to the
// extractor without the two packages depending on each other.
type ExperimentReport struct {
	LiquidFormed   bool
	Solubility     *float64
	SolubilityUnit string
	Properties     map[string]any
	Notes          string
}

// Extractor converts judged trajectories into new experience items.
type Extractor struct {
	client      llm.Client
	logger      *zap.Logger
	maxItems    int
	temperature float64
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxItemsPerTrajectory overrides the single-trajectory item cap.
func WithMaxItemsPerTrajectory(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxItems = n
		}
	}
}

// WithTemperature overrides the extraction sampling temperature.
func WithTemperature(t float64) Option {
	return func(e *Extractor) {
		e.temperature = t
	}
}

// New creates an Extractor backed by the given completion client.
func New(client llm.Client, logger *zap.Logger, opts ...Option) (*Extractor, error) {
	if client == nil {
		return nil, errors.New("llm client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Extractor{
		client:      client,
		logger:      logger,
		maxItems:    DefaultMaxItemsPerTrajectory,
		temperature: defaultExtractionTemperature,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// FromTrajectory extracts up to the configured maximum of items from a
// single judged trajectory. The prompt differs by outcome: successes
// solicit confirmed generalizable tactics, failures solicit avoidance
// lessons. Items that parse with an empty title, description, or content
// are dropped with a log line, never surfaced as errors.
func (e *Extractor) FromTrajectory(ctx context.Context, traj *memory.Trajectory, outcome memory.Outcome) ([]*memory.Item, error) {
	if traj == nil {
		return nil, errors.New("trajectory is required")
	}

	ctx, span := extractionTracer.Start(ctx, "extraction.FromTrajectory")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", traj.TaskID),
		attribute.String("outcome", string(outcome)),
	)

	var prompt string
	if outcome == memory.OutcomeSuccess {
		prompt = buildSuccessPrompt(traj, e.maxItems)
	} else {
		prompt = buildFailurePrompt(traj, e.maxItems)
	}

	output, err := e.complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("extracting from trajectory: %w", err)
	}

	items := e.buildItems(ParseItems(output), e.maxItems, traj.TaskID, outcome == memory.OutcomeSuccess, map[string]any{
		"extraction_type": "single_trajectory",
	}, traj)

	span.SetAttributes(attribute.Int("items.extracted", len(items)))
	e.logger.Info("extracted experience items from trajectory",
		zap.String("task_id", traj.TaskID),
		zap.String("outcome", string(outcome)),
		zap.Int("count", len(items)))

	return items, nil
}

// FromTrajectories extracts up to five items by comparing multiple
// trajectories for the same task side by side (self-contrast). Synthesized
// items carry success provenance: they encode what separated the winners
// from the losers, not a record of any single failure.
func (e *Extractor) FromTrajectories(ctx context.Context, trajectories []*memory.Trajectory, outcomes []memory.Outcome) ([]*memory.Item, error) {
	if len(trajectories) == 0 {
		e.logger.Warn("no trajectories provided for self-contrast extraction")
		return nil, nil
	}
	if len(outcomes) != len(trajectories) {
		return nil, fmt.Errorf("mismatched trajectories and outcomes: %d vs %d", len(trajectories), len(outcomes))
	}

	ctx, span := extractionTracer.Start(ctx, "extraction.FromTrajectories")
	defer span.End()
	span.SetAttributes(attribute.Int("trajectories", len(trajectories)))

	prompt := buildSelfContrastPrompt(trajectories, outcomes, maxSelfContrastItems)

	output, err := e.complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("extracting from trajectory group: %w", err)
	}

	items := e.buildItems(ParseItems(output), maxSelfContrastItems, trajectories[0].TaskID, true, map[string]any{
		"extraction_type":  "self_contrast",
		"num_trajectories": len(trajectories),
	}, trajectories[0])

	span.SetAttributes(attribute.Int("items.extracted", len(items)))
	e.logger.Info("extracted experience items via self-contrast",
		zap.String("task_id", trajectories[0].TaskID),
		zap.Int("trajectories", len(trajectories)),
		zap.Int("count", len(items)))

	return items, nil
}

// FromExperiment extracts items grounded in measured lab results rather
// than a judge verdict. A formulation that formed a liquid counts as
// verified success provenance; one that stayed solid records the failure.
func (e *Extractor) FromExperiment(ctx context.Context, traj *memory.Trajectory, report ExperimentReport) ([]*memory.Item, error) {
	if traj == nil {
		return nil, errors.New("trajectory is required")
	}

	ctx, span := extractionTracer.Start(ctx, "extraction.FromExperiment")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", traj.TaskID),
		attribute.Bool("experiment.liquid_formed", report.LiquidFormed),
	)

	prompt := buildExperimentPrompt(traj, report, e.maxItems)

	output, err := e.complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("extracting from experiment: %w", err)
	}

	metadata := map[string]any{
		"extraction_type":  "experiment_feedback",
		"is_liquid_formed": report.LiquidFormed,
	}
	if report.Solubility != nil {
		metadata["solubility"] = *report.Solubility
		metadata["solubility_unit"] = report.SolubilityUnit
	}

	items := e.buildItems(ParseItems(output), e.maxItems, traj.TaskID, report.LiquidFormed, metadata, traj)

	span.SetAttributes(attribute.Int("items.extracted", len(items)))
	e.logger.Info("extracted experience items from experiment",
		zap.String("task_id", traj.TaskID),
		zap.Bool("liquid_formed", report.LiquidFormed),
		zap.Int("count", len(items)))

	return items, nil
}

func (e *Extractor) complete(ctx context.Context, prompt string) (string, error) {
	return e.client.Complete(ctx, prompt,
		llm.WithTemperature(e.temperature),
		llm.WithMaxTokens(extractionMaxTokens))
}

// buildItems validates parsed sections into experience items, applying the
// cap, provenance, and shared metadata. Invalid sections are skipped.
func (e *Extractor) buildItems(parsed []ParsedItem, limit int, sourceTaskID string, fromSuccess bool, metadata map[string]any, traj *memory.Trajectory) []*memory.Item {
	if len(parsed) > limit {
		parsed = parsed[:limit]
	}

	items := make([]*memory.Item, 0, len(parsed))
	for _, p := range parsed {
		item, err := memory.NewItem(p.Title, p.Description, p.Content)
		if err != nil {
			e.logger.Warn("discarding malformed extracted item",
				zap.String("title", p.Title),
				zap.Error(err))
			continue
		}

		item.SourceTaskID = sourceTaskID
		item.FromSuccess = fromSuccess
		item.Metadata = make(map[string]any, len(metadata)+1)
		for k, v := range metadata {
			item.Metadata[k] = v
		}
		if material := metaString(traj.Metadata, "target_material"); material != "" {
			item.Metadata["target_material"] = material
		}

		items = append(items, item)
	}
	return items
}
