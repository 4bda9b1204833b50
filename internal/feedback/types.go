// Package feedback closes the loop between recommended formulations and
// measured lab results. Every solved task can be persisted as a
// recommendation record; once an operator submits the experiment outcome,
// the processor distills experiment-validated experience items and
// consolidates them into the store, replacing the judge's guess with
// ground truth.
package feedback

import (
	"errors"
	"fmt"
	"time"

	"github.com/cruciblelabs/formulad/internal/agent"
	"github.com/cruciblelabs/formulad/internal/extraction"
	"github.com/cruciblelabs/formulad/internal/memory"
)

// Common errors for feedback operations.
var (
	ErrNotFound           = errors.New("feedback: recommendation not found")
	ErrInvalidResult      = errors.New("feedback: invalid experiment result")
	ErrNoResult           = errors.New("feedback: recommendation has no experiment result")
	ErrUnsupportedVersion = errors.New("feedback: unsupported record version")
)

// recordVersion is the on-disk format version for recommendation files.
const recordVersion = "1.0"

// DefaultSolubilityUnit is assumed when a result does not name one.
const DefaultSolubilityUnit = "g/L"

// Status is the lifecycle state of a recommendation.
type Status string

const (
	// StatusPending means the formulation awaits lab validation.
	StatusPending Status = "PENDING"

	// StatusCompleted means an experiment result has been submitted.
	StatusCompleted Status = "COMPLETED"

	// StatusCancelled means the recommendation will not be tested.
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusCompleted || s == StatusCancelled
}

// ExperimentResult is measured lab feedback for one recommendation. It
// records what actually happened at the bench, not an LLM's opinion.
type ExperimentResult struct {
	// LiquidFormed reports whether the components formed a liquid at all.
	LiquidFormed bool `json:"is_liquid_formed"`

	// Solubility is the measured solubility of the target material.
	// Required when a liquid formed; meaningless otherwise.
	Solubility *float64 `json:"solubility,omitempty"`

	// SolubilityUnit names the measurement unit. Defaults to g/L.
	SolubilityUnit string `json:"solubility_unit,omitempty"`

	// Properties holds additional measurements (viscosity, density, ...).
	Properties map[string]any `json:"properties,omitempty"`

	// Experimenter records who ran the experiment.
	Experimenter string `json:"experimenter,omitempty"`

	// ExperimentDate is when the measurement was taken.
	ExperimentDate time.Time `json:"experiment_date"`

	// Notes is free-text commentary from the bench.
	Notes string `json:"notes,omitempty"`
}

// Normalize returns a copy with defaults filled in and inconsistent
// fields cleared: a solubility reported without a formed liquid is
// dropped, since nothing was there to dissolve into.
func (r ExperimentResult) Normalize() ExperimentResult {
	if !r.LiquidFormed {
		r.Solubility = nil
	}
	if r.SolubilityUnit == "" {
		r.SolubilityUnit = DefaultSolubilityUnit
	}
	if r.ExperimentDate.IsZero() {
		r.ExperimentDate = time.Now()
	}
	return r
}

// Validate checks the measurement invariant: a formed liquid must carry
// a solubility value.
func (r ExperimentResult) Validate() error {
	if r.LiquidFormed && r.Solubility == nil {
		return fmt.Errorf("%w: solubility is required when a liquid formed", ErrInvalidResult)
	}
	return nil
}

// PerformanceScore maps the result onto a 0-10 ranking scale: no liquid
// scores zero, otherwise the solubility capped at 10.
func (r ExperimentResult) PerformanceScore() float64 {
	if !r.LiquidFormed {
		return 0
	}
	if r.Solubility != nil {
		return min(10, *r.Solubility)
	}
	return 5
}

// Report converts the result into the extractor's input value.
func (r ExperimentResult) Report() extraction.ExperimentReport {
	return extraction.ExperimentReport{
		LiquidFormed:   r.LiquidFormed,
		Solubility:     r.Solubility,
		SolubilityUnit: r.SolubilityUnit,
		Properties:     r.Properties,
		Notes:          r.Notes,
	}
}

// Recommendation is the persistent record of one recommended formulation.
// It carries everything needed to review the proposal, run the experiment,
// submit feedback, and replay the attempt on another instance.
type Recommendation struct {
	// ID is the record identifier ("REC_20250826_001"). Empty on a new
	// record; the manager assigns it on first save.
	ID string `json:"recommendation_id"`

	// Task is the original task specification.
	Task agent.Task `json:"task"`

	// TaskID mirrors Task.ID for index lookups.
	TaskID string `json:"task_id"`

	// Formulation is the recommended composition.
	Formulation memory.Formulation `json:"formulation"`

	// Reasoning is the agent's rationale for the proposal.
	Reasoning string `json:"reasoning"`

	// Confidence is the generator's self-assessed confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Trajectory is the full execution trace behind the recommendation.
	Trajectory *memory.Trajectory `json:"trajectory"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Experiment is the submitted lab result, nil until feedback arrives.
	Experiment *ExperimentResult `json:"experiment_result,omitempty"`

	// Version is the record format version.
	Version string `json:"version"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewRecommendation builds a pending recommendation from a solved task.
// The manager assigns the ID and timestamps on save.
func NewRecommendation(task agent.Task, res *agent.Result) (*Recommendation, error) {
	if res == nil || res.Candidate == nil {
		return nil, errors.New("feedback: result carries no candidate")
	}
	return &Recommendation{
		Task:        task,
		TaskID:      res.TaskID,
		Formulation: res.Candidate.Formulation,
		Reasoning:   res.Candidate.Reasoning,
		Confidence:  res.Candidate.Confidence,
		Trajectory:  res.Trajectory,
		Status:      StatusPending,
		Version:     recordVersion,
	}, nil
}

// Validate checks the fields every stored record must carry.
func (r *Recommendation) Validate() error {
	if r.TaskID == "" {
		return errors.New("feedback: recommendation task id is required")
	}
	if r.Formulation.Empty() {
		return errors.New("feedback: recommendation formulation is empty")
	}
	if r.Status != "" && !r.Status.Valid() {
		return fmt.Errorf("feedback: unknown status %q", r.Status)
	}
	return nil
}

// Processed reports whether experiment feedback has already been folded
// into the experience store.
func (r *Recommendation) Processed() bool {
	if r.Trajectory == nil || r.Trajectory.Metadata == nil {
		return false
	}
	_, ok := r.Trajectory.Metadata["feedback_processed_at"]
	return ok
}
