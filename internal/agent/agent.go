// Package agent drives the formulation task loop. One Solve call walks a
// task through retrieval of past experiences, consultation of the theory
// and literature knowledge tools, candidate generation, LLM judging, and
// experience extraction back into the shared store, so every task leaves
// the system better prepared for the next one.
//
// Knowledge tools are optional collaborators: a tool that is down, times
// out, or holds no data costs the task its knowledge section, never the
// task itself. Generation is the only retried stage; when the retry cap
// is reached the task fails with an error carrying the last raw model
// response for diagnosis.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/extraction"
	"github.com/cruciblelabs/formulad/internal/judge"
	"github.com/cruciblelabs/formulad/internal/knowledge"
	"github.com/cruciblelabs/formulad/internal/llm"
	"github.com/cruciblelabs/formulad/internal/memory"
	"github.com/cruciblelabs/formulad/internal/retrieval"
)

var agentTracer = otel.Tracer("formulad.agent")

const (
	defaultTargetTemperature     = 25.0
	defaultMaterialCategory      = "polymer"
	defaultMaxGenerationAttempts = 3
	defaultGenerationTemperature = 0.7
	defaultGenerationMaxTokens   = 2048
	defaultToolTimeoutSeconds    = 30
	defaultLiteratureTopK        = 10
	defaultParallelWorkers       = 4

	descriptionLogPreview = 50
)

// ErrGenerationExhausted marks a task whose generation retry budget ran
// out without producing a parsable candidate.
var ErrGenerationExhausted = errors.New("agent: generation retries exhausted")

// GenerationError reports an exhausted generation stage. LastResponse
// holds the raw text of the final attempt so the failure can be diagnosed;
// it is empty when the final attempt failed before returning text.
type GenerationError struct {
	Attempts     int
	LastResponse string
	Err          error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("agent: generation retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error { return ErrGenerationExhausted }

// Task describes one formulation design request.
type Task struct {
	// ID identifies the task. Empty means a fresh UUID is assigned.
	ID string `koanf:"id" json:"task_id"`
	// Description is the natural-language statement of the design goal.
	Description string `koanf:"description" json:"description"`
	// TargetMaterial is the material the solvent must dissolve.
	TargetMaterial string `koanf:"target_material" json:"target_material"`
	// TargetTemperature is the working temperature in degrees Celsius.
	// Zero means unspecified and defaults to 25.
	TargetTemperature float64 `koanf:"target_temperature" json:"target_temperature"`
	// MaterialCategory groups the target material for literature
	// filtering ("polymer", "mineral", "metal_oxide", ...).
	MaterialCategory string `koanf:"material_category" json:"material_category"`
	// Constraints are additional named requirements, rendered into the
	// generation prompt and the judge's evaluation context.
	Constraints map[string]string `koanf:"constraints" json:"constraints,omitempty"`
}

// Normalize returns a copy with defaults filled in.
func (t Task) Normalize() Task {
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.New().String()
	}
	if t.TargetTemperature == 0 {
		t.TargetTemperature = defaultTargetTemperature
	}
	if strings.TrimSpace(t.MaterialCategory) == "" {
		t.MaterialCategory = defaultMaterialCategory
	}
	return t
}

// Validate checks that the task carries enough to work with.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Description) == "" {
		return errors.New("task description is required")
	}
	if strings.TrimSpace(t.TargetMaterial) == "" {
		return errors.New("task target material is required")
	}
	return nil
}

// Config tunes the task loop.
type Config struct {
	// RetrievalTopK bounds the number of past experiences injected into
	// the generation prompt.
	RetrievalTopK int `koanf:"retrieval_top_k"`
	// MinSimilarity drops retrieved experiences scoring below it.
	MinSimilarity float64 `koanf:"min_similarity"`
	// MaxGenerationAttempts caps fresh generation calls per GENERATE
	// visit before the task fails.
	MaxGenerationAttempts int `koanf:"max_generation_attempts"`
	// GenerationTemperature is the candidate sampling temperature.
	GenerationTemperature float64 `koanf:"generation_temperature"`
	// GenerationMaxTokens caps the candidate completion length.
	GenerationMaxTokens int `koanf:"generation_max_tokens"`
	// ToolTimeout bounds each knowledge tool call, in seconds.
	ToolTimeout int `koanf:"tool_timeout"`
	// LiteratureTopK is the number of literature precedents requested.
	LiteratureTopK int `koanf:"literature_top_k"`
	// MaxRefinements enables the self-critique cycle: after a candidate
	// parses, an observe call reviews it and its feedback drives up to
	// this many regenerations. Zero disables refinement.
	MaxRefinements int `koanf:"max_refinements"`
	// ParallelWorkers bounds concurrent attempts in SolveParallel.
	ParallelWorkers int `koanf:"parallel_workers"`
	// AutoSavePath, when set, persists the experience store there after
	// each consolidation that added items.
	AutoSavePath string `koanf:"auto_save_path"`
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.RetrievalTopK <= 0 {
		c.RetrievalTopK = memory.DefaultTopK
	}
	if c.MaxGenerationAttempts <= 0 {
		c.MaxGenerationAttempts = defaultMaxGenerationAttempts
	}
	if c.GenerationTemperature == 0 {
		c.GenerationTemperature = defaultGenerationTemperature
	}
	if c.GenerationMaxTokens <= 0 {
		c.GenerationMaxTokens = defaultGenerationMaxTokens
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = defaultToolTimeoutSeconds
	}
	if c.LiteratureTopK <= 0 {
		c.LiteratureTopK = defaultLiteratureTopK
	}
	if c.ParallelWorkers <= 0 {
		c.ParallelWorkers = defaultParallelWorkers
	}
}

// Validate checks configured values for range errors.
func (c *Config) Validate() error {
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("min_similarity must be in [0, 1], got %g", c.MinSimilarity)
	}
	if c.GenerationTemperature < 0 {
		return fmt.Errorf("generation_temperature cannot be negative, got %g", c.GenerationTemperature)
	}
	if c.MaxRefinements < 0 {
		return fmt.Errorf("max_refinements cannot be negative, got %d", c.MaxRefinements)
	}
	return nil
}

// Deps are the agent's collaborators. Client, Store, Retriever, Judge,
// and Extractor are required; the knowledge tools and the constraints
// source are optional.
type Deps struct {
	Client    llm.Client
	Store     *memory.Store
	Retriever *retrieval.Retriever
	Judge     *judge.Judge
	Extractor *extraction.Extractor

	// Theory and Literature are consulted during CONSULT_TOOLS when
	// non-nil. A nil tool simply contributes no knowledge section.
	Theory     knowledge.Tool
	Literature knowledge.Tool

	// Constraints supplies the current operator constraints; consulted
	// per task so hot reloads take effect. knowledge.Watcher.Current
	// satisfies it.
	Constraints func() *knowledge.Constraints
}

func (d Deps) validate() error {
	if d.Client == nil {
		return errors.New("llm client is required")
	}
	if d.Store == nil {
		return errors.New("experience store is required")
	}
	if d.Retriever == nil {
		return errors.New("retriever is required")
	}
	if d.Judge == nil {
		return errors.New("judge is required")
	}
	if d.Extractor == nil {
		return errors.New("extractor is required")
	}
	return nil
}

// Agent runs formulation tasks through the experience loop. Safe for
// concurrent use; per-task state lives in the run, not the Agent.
type Agent struct {
	deps   Deps
	config Config
	logger *zap.Logger
}

// New creates an Agent.
func New(deps Deps, config Config, logger *zap.Logger) (*Agent, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}

	logger.Info("agent initialized",
		zap.Bool("theory_tool", deps.Theory != nil),
		zap.Bool("literature_tool", deps.Literature != nil),
		zap.Int("retrieval_top_k", config.RetrievalTopK),
		zap.Int("max_generation_attempts", config.MaxGenerationAttempts))

	return &Agent{deps: deps, config: config, logger: logger}, nil
}

// Result is the outcome of one solved task.
type Result struct {
	TaskID string `json:"task_id"`
	// Candidate is the proposed formulation with its reasoning,
	// confidence, and supporting evidence.
	Candidate *memory.Candidate `json:"candidate"`
	// Outcome is the judge's verdict on the attempt.
	Outcome memory.Outcome `json:"outcome"`
	// JudgeThoughts is the judge's analysis text.
	JudgeThoughts string `json:"judge_thoughts,omitempty"`
	// FailureReason explains a failure verdict. Empty on success.
	FailureReason string `json:"failure_reason,omitempty"`
	// ExperiencesConsulted counts the past experiences injected into
	// the generation prompt.
	ExperiencesConsulted int `json:"experiences_consulted"`
	// MemoriesUsed lists the titles of the consulted experiences.
	MemoriesUsed []string `json:"memories_used,omitempty"`
	// MemoriesExtracted lists the titles of experiences distilled from
	// this attempt and consolidated into the store.
	MemoriesExtracted []string `json:"memories_extracted,omitempty"`
	// Trajectory is the full step record of the attempt.
	Trajectory *memory.Trajectory `json:"trajectory,omitempty"`
}

// run carries the mutable state of one task through the loop.
type run struct {
	task        Task
	traj        *memory.Trajectory
	memories    []*memory.Item
	theory      *knowledge.Result
	literature  *knowledge.Result
	feedback    []string
	refinements int
	candidate   *memory.Candidate
	verdict     *judge.Verdict
	extracted   []*memory.Item
}

func newRun(task Task) *run {
	return &run{
		task: task,
		traj: &memory.Trajectory{
			TaskID:          task.ID,
			TaskDescription: task.Description,
			StartedAt:       time.Now(),
			Metadata:        taskMetadata(task),
		},
	}
}

func taskMetadata(task Task) map[string]any {
	meta := map[string]any{
		"target_material":    task.TargetMaterial,
		"target_temperature": task.TargetTemperature,
	}
	if rendered := renderConstraints(task.Constraints); rendered != "" {
		meta["constraints"] = rendered
	}
	return meta
}

func (r *run) result() *Result {
	res := &Result{
		TaskID:               r.task.ID,
		Candidate:            r.candidate,
		ExperiencesConsulted: len(r.memories),
		Trajectory:           r.traj,
	}
	if r.verdict != nil {
		res.Outcome = r.verdict.Status
		res.JudgeThoughts = r.verdict.Thoughts
		res.FailureReason = r.verdict.Reason
	}
	for _, item := range r.memories {
		res.MemoriesUsed = append(res.MemoriesUsed, item.Title)
	}
	for _, item := range r.extracted {
		res.MemoriesExtracted = append(res.MemoriesExtracted, item.Title)
	}
	return res
}

// Solve runs one task through the full loop and returns its result.
//
// Tool failures and extraction failures are absorbed; generation
// exhaustion, judge failures, and context cancellation are returned.
func (a *Agent) Solve(ctx context.Context, task Task) (*Result, error) {
	task = task.Normalize()
	if err := task.Validate(); err != nil {
		return nil, err
	}

	ctx, span := agentTracer.Start(ctx, "agent.Solve")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.material", task.TargetMaterial),
	)

	a.logger.Info("task started",
		zap.String("task_id", task.ID),
		zap.String("description", truncate(task.Description, descriptionLogPreview)))

	r := newRun(task)
	for state := StateRetrieve; state != StateDone; {
		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, "canceled")
			return nil, ctx.Err()
		default:
		}

		next, err := a.step(ctx, state, r)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(state))
			return nil, err
		}
		state = next
	}

	result := r.result()
	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	a.logger.Info("task completed",
		zap.String("task_id", task.ID),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("experiences_consulted", result.ExperiencesConsulted),
		zap.Int("experiences_extracted", len(result.MemoriesExtracted)))
	return result, nil
}

// step executes one state and names the next.
func (a *Agent) step(ctx context.Context, state State, r *run) (State, error) {
	ctx, span := agentTracer.Start(ctx, state.spanName())
	defer span.End()
	span.SetAttributes(attribute.String("task.id", r.task.ID))

	a.logger.Debug("entering state",
		zap.String("task_id", r.task.ID),
		zap.String("state", state.String()))

	switch state {
	case StateRetrieve:
		a.retrieve(ctx, r)
		return StateConsultTools, nil

	case StateConsultTools:
		a.consultTools(ctx, r)
		return StateGenerate, nil

	case StateGenerate:
		return a.generate(ctx, r)

	case StateJudge:
		if err := a.judgeTrajectory(ctx, r); err != nil {
			return state, err
		}
		return StateExtract, nil

	case StateExtract:
		a.extract(ctx, r)
		return StateConsolidate, nil

	case StateConsolidate:
		if err := a.consolidate(ctx, r); err != nil {
			return state, err
		}
		return StateDone, nil

	default:
		return state, fmt.Errorf("agent: unknown state %q", state)
	}
}

// retrieve loads relevant past experiences. A retrieval failure costs the
// task its experience section, nothing more.
func (a *Agent) retrieve(ctx context.Context, r *run) {
	query := memory.Query{
		Text:          r.task.Description,
		TopK:          a.config.RetrievalTopK,
		MinSimilarity: a.config.MinSimilarity,
	}

	items, err := a.deps.Retriever.Retrieve(ctx, query)
	if err != nil {
		a.logger.Error("experience retrieval failed, continuing without memories",
			zap.String("task_id", r.task.ID),
			zap.Error(err))
		items = nil
	}
	r.memories = items

	r.traj.RecordStep(memory.Step{
		Action:    "retrieve_memories",
		Rationale: fmt.Sprintf("Retrieved %d relevant past experiences", len(items)),
	})
}

// consultTools queries the theory and literature tools independently.
// Each call is bounded by the configured tool timeout; failures and
// empty results leave the corresponding knowledge section absent.
func (a *Agent) consultTools(ctx context.Context, r *run) {
	if a.deps.Theory != nil {
		result := a.consultTool(ctx, r, a.deps.Theory, "theory", knowledge.Request{
			Query: fmt.Sprintf("What are the key principles for dissolving %s using DES?", r.task.TargetMaterial),
			Focus: []string{"hydrogen_bonding", "component_selection", "molar_ratio"},
		})
		if result != nil {
			r.theory = result
			r.traj.RecordStep(memory.Step{
				Action:      "query_theory",
				Rationale:   "Retrieved theoretical principles for DES design",
				Tool:        "theory",
				Observation: result.FormattedText,
			})
		}
	}

	if a.deps.Literature != nil {
		result := a.consultTool(ctx, r, a.deps.Literature, "literature", knowledge.Request{
			Query: fmt.Sprintf("DES formulations for %s at %g°C", r.task.TargetMaterial, r.task.TargetTemperature),
			TopK:  a.config.LiteratureTopK,
			Filters: map[string]any{
				"material_type": r.task.MaterialCategory,
				"temperature_range": []float64{
					r.task.TargetTemperature - 10,
					r.task.TargetTemperature + 10,
				},
			},
		})
		if result != nil {
			r.literature = result
			r.traj.RecordStep(memory.Step{
				Action:      "query_literature",
				Rationale:   "Retrieved literature precedents",
				Tool:        "literature",
				Observation: result.FormattedText,
			})
		}
	}
}

func (a *Agent) consultTool(ctx context.Context, r *run, tool knowledge.Tool, name string, req knowledge.Request) *knowledge.Result {
	timeout := time.Duration(a.config.ToolTimeout) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := tool.Query(ctx, req)
	if err != nil {
		a.logger.Warn("knowledge tool call failed, proceeding without it",
			zap.String("task_id", r.task.ID),
			zap.String("tool", name),
			zap.Error(err))
		return nil
	}
	if result == nil {
		a.logger.Debug("knowledge tool returned no data",
			zap.String("task_id", r.task.ID),
			zap.String("tool", name))
		return nil
	}
	return result
}

// generate produces a candidate formulation, retrying fresh completions
// up to the configured cap. A parsed candidate is checked against the
// operator constraints and, when refinement budget remains, reviewed by
// a self-critique call whose feedback drives another GENERATE pass.
func (a *Agent) generate(ctx context.Context, r *run) (State, error) {
	candidate, err := a.generateCandidate(ctx, r)
	if err != nil {
		return StateGenerate, err
	}
	r.candidate = candidate
	r.traj.FinalResult = candidate
	r.traj.RecordStep(memory.Step{
		Action:      "generate_formulation",
		Rationale:   candidate.Reasoning,
		Observation: candidate.Formulation.String(),
	})

	violations := a.checkConstraints(r, candidate)

	if r.refinements < a.config.MaxRefinements {
		if feedback := a.critique(ctx, r, violations); feedback != "" {
			r.refinements++
			r.feedback = append(r.feedback, feedback)
			a.logger.Info("refining candidate",
				zap.String("task_id", r.task.ID),
				zap.Int("refinement", r.refinements))
			return StateGenerate, nil
		}
	}

	return StateJudge, nil
}

func (a *Agent) generateCandidate(ctx context.Context, r *run) (*memory.Candidate, error) {
	prompt := buildFormulationPrompt(r.task, r.memories, r.theory, r.literature, a.constraintsText(), r.feedback)

	var (
		lastResponse string
		lastErr      error
	)
	for attempt := 1; attempt <= a.config.MaxGenerationAttempts; attempt++ {
		output, err := a.deps.Client.Complete(ctx, prompt,
			llm.WithTemperature(a.config.GenerationTemperature),
			llm.WithMaxTokens(a.config.GenerationMaxTokens))
		if err != nil {
			lastResponse, lastErr = "", err
			a.logger.Warn("generation call failed",
				zap.String("task_id", r.task.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		candidate, err := ParseCandidate(output)
		if err != nil {
			lastResponse, lastErr = output, err
			a.logger.Warn("generation output unparsable, retrying",
				zap.String("task_id", r.task.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		return candidate, nil
	}

	return nil, &GenerationError{
		Attempts:     a.config.MaxGenerationAttempts,
		LastResponse: lastResponse,
		Err:          lastErr,
	}
}

// checkConstraints records operator constraint violations as a trajectory
// step. Violations do not fail the task here; the judge weighs them.
func (a *Agent) checkConstraints(r *run, candidate *memory.Candidate) []knowledge.Violation {
	constraints := a.currentConstraints()
	if constraints == nil {
		return nil
	}

	violations := constraints.Check(candidate.Formulation)
	observation := "No violations found"
	if len(violations) > 0 {
		lines := make([]string, len(violations))
		for i, v := range violations {
			lines[i] = v.String()
		}
		observation = strings.Join(lines, "\n")
		a.logger.Warn("candidate violates operator constraints",
			zap.String("task_id", r.task.ID),
			zap.Int("violations", len(violations)))
	}
	r.traj.RecordStep(memory.Step{
		Action:      "constraint_check",
		Rationale:   fmt.Sprintf("Checked candidate against operator constraints: %d violation(s)", len(violations)),
		Observation: observation,
	})
	return violations
}

func (a *Agent) currentConstraints() *knowledge.Constraints {
	if a.deps.Constraints == nil {
		return nil
	}
	return a.deps.Constraints()
}

func (a *Agent) constraintsText() string {
	if c := a.currentConstraints(); c != nil {
		return c.PromptText()
	}
	return ""
}

// judgeTrajectory classifies the attempt. Judge errors, including
// unparsable verdicts, are fatal for the task.
func (a *Agent) judgeTrajectory(ctx context.Context, r *run) error {
	verdict, err := a.deps.Judge.Evaluate(ctx, r.traj)
	if err != nil {
		return fmt.Errorf("task %s: %w", r.task.ID, err)
	}

	r.verdict = verdict
	r.traj.Outcome = verdict.Status
	if verdict.Status == memory.OutcomeFailure && verdict.Reason != "" {
		r.traj.Metadata["failure_reason"] = verdict.Reason
	}
	return nil
}

// extract distills the judged trajectory into new experience items. An
// extraction failure costs the task its new memories, nothing more.
func (a *Agent) extract(ctx context.Context, r *run) {
	items, err := a.deps.Extractor.FromTrajectory(ctx, r.traj, r.verdict.Status)
	if err != nil {
		a.logger.Error("experience extraction failed, nothing to consolidate",
			zap.String("task_id", r.task.ID),
			zap.Error(err))
		return
	}
	r.extracted = items
}

// consolidate adds the extracted items to the shared store and persists
// the store when auto-save is configured.
func (a *Agent) consolidate(ctx context.Context, r *run) error {
	if len(r.extracted) == 0 {
		return nil
	}

	added, err := a.deps.Store.AddMany(ctx, r.extracted)
	if err != nil {
		return fmt.Errorf("consolidating experience items: %w", err)
	}
	a.logger.Info("consolidated experience items",
		zap.String("task_id", r.task.ID),
		zap.Int("extracted", len(r.extracted)),
		zap.Int("added", added))

	if added > 0 && a.config.AutoSavePath != "" {
		if err := a.deps.Store.Save(ctx, a.config.AutoSavePath); err != nil {
			a.logger.Error("auto-save failed",
				zap.String("path", a.config.AutoSavePath),
				zap.Error(err))
		}
	}
	return nil
}

func renderConstraints(constraints map[string]string) string {
	if len(constraints) == 0 {
		return ""
	}
	keys := make([]string, 0, len(constraints))
	for k := range constraints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", k, constraints[k])
	}
	return strings.Join(parts, "; ")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
