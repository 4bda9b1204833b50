package memory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome is the final disposition of one formulation attempt.
type Outcome string

const (
	// OutcomeSuccess indicates the attempt satisfied the task requirements.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure indicates the attempt violated a constraint or was
	// otherwise judged unacceptable.
	OutcomeFailure Outcome = "failure"

	// OutcomeExperiment indicates the attempt was resolved by a measured
	// lab experiment rather than the judge.
	OutcomeExperiment Outcome = "experiment_completed"
)

// Valid reports whether o is one of the recognized outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure || o == OutcomeExperiment
}

// Step is one recorded action inside a task attempt.
type Step struct {
	// Action is a short label ("retrieve_experiences", "consult_tool",
	// "generate", "constraint_check").
	Action string `json:"action"`

	// Rationale is free-text reasoning attached to the action.
	Rationale string `json:"rationale,omitempty"`

	// Tool names the knowledge source consulted, when the step was a tool
	// call.
	Tool string `json:"tool,omitempty"`

	// Observation is the intermediate result the step produced.
	Observation string `json:"observation,omitempty"`
}

// Trajectory is the full record of one task execution: the task, the
// ordered steps taken, the structured candidate produced, and eventually
// the Judge's outcome.
//
// A trajectory is appended to while the agent loop runs and frozen once
// the outcome is assigned; the Extractor consumes it afterwards and it is
// not mutated again.
type Trajectory struct {
	TaskID          string         `json:"task_id"`
	TaskDescription string         `json:"task_description"`
	Steps           []Step         `json:"steps,omitempty"`
	Outcome         Outcome        `json:"outcome,omitempty"`
	FinalResult     *Candidate     `json:"final_result,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
}

// NewTrajectory starts a trajectory for a task with a generated task ID.
func NewTrajectory(taskDescription string) *Trajectory {
	return &Trajectory{
		TaskID:          uuid.New().String(),
		TaskDescription: taskDescription,
		StartedAt:       time.Now(),
	}
}

// RecordStep appends a step to the trajectory.
func (t *Trajectory) RecordStep(s Step) {
	t.Steps = append(t.Steps, s)
}

// Judged reports whether an outcome has been assigned.
func (t *Trajectory) Judged() bool {
	return t.Outcome.Valid()
}

// Formulation is a deep-eutectic-solvent candidate: a hydrogen-bond donor,
// a hydrogen-bond acceptor, and their molar ratio.
type Formulation struct {
	HBD        string `json:"HBD"`
	HBA        string `json:"HBA"`
	MolarRatio string `json:"molar_ratio"`
}

// String renders the formulation in the conventional acceptor:donor form.
func (f Formulation) String() string {
	return fmt.Sprintf("%s : %s (%s)", f.HBA, f.HBD, f.MolarRatio)
}

// Empty reports whether no components were proposed.
func (f Formulation) Empty() bool {
	return f.HBD == "" && f.HBA == ""
}

// Candidate is the structured output of one generation step: a proposed
// formulation with its rationale and the generator's own confidence.
type Candidate struct {
	Formulation        Formulation `json:"formulation"`
	Reasoning          string      `json:"reasoning"`
	Confidence         float64     `json:"confidence"`
	SupportingEvidence []string    `json:"supporting_evidence,omitempty"`
}
