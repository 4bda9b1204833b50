package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/judge"
	"github.com/cruciblelabs/formulad/internal/knowledge"
	"github.com/cruciblelabs/formulad/internal/llm"
	"github.com/cruciblelabs/formulad/internal/memory"
)

const observeMaxTokens = 1024

// critique runs the self-critique call over the current candidate and
// returns the feedback to fold into the next generation pass. An empty
// return means the candidate stands. Observe failures fall back to the
// detected constraint violations; they never fail the task.
func (a *Agent) critique(ctx context.Context, r *run, violations []knowledge.Violation) string {
	prompt := buildObservePrompt(r.task, r.candidate, a.constraintsText(), violations)

	output, err := a.deps.Client.Complete(ctx, prompt,
		llm.WithTemperature(0),
		llm.WithMaxTokens(observeMaxTokens))
	if err != nil {
		a.logger.Warn("observe call failed",
			zap.String("task_id", r.task.ID),
			zap.Error(err))
		return violationFeedback(violations)
	}

	obs, err := parseObservation(output)
	if err != nil {
		a.logger.Warn("observe response unparsable",
			zap.String("task_id", r.task.ID),
			zap.Error(err))
		return violationFeedback(violations)
	}

	r.traj.RecordStep(memory.Step{
		Action:      "observe",
		Rationale:   obs.Summary,
		Observation: strings.Join(obs.Issues, "\n"),
	})

	if obs.Sufficient && len(violations) == 0 {
		return ""
	}

	var parts []string
	if obs.Summary != "" {
		parts = append(parts, obs.Summary)
	}
	for _, issue := range obs.Issues {
		parts = append(parts, "- "+issue)
	}
	for _, v := range violations {
		parts = append(parts, "- "+v.String())
	}
	return strings.Join(parts, "\n")
}

func violationFeedback(violations []knowledge.Violation) string {
	if len(violations) == 0 {
		return ""
	}
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = "- " + v.String()
	}
	return "The candidate violates operator constraints:\n" + strings.Join(parts, "\n")
}

// attempt is one parallel candidate pipeline: generation, constraint
// check, and judgment over a private trajectory.
type attempt struct {
	run     *run
	verdict *judge.Verdict
	err     error
}

// SolveParallel generates k candidates concurrently over a shared
// retrieval and tool context, judges each, and returns the best: the
// first success in attempt order, or the highest-confidence candidate
// when every attempt failed. New experiences are distilled once by
// self-contrast over all judged trajectories.
//
// k below two falls back to Solve. An error is returned only when every
// attempt fails or consolidation is cut off by the context.
func (a *Agent) SolveParallel(ctx context.Context, task Task, k int) (*Result, error) {
	if k <= 1 {
		return a.Solve(ctx, task)
	}

	task = task.Normalize()
	if err := task.Validate(); err != nil {
		return nil, err
	}

	ctx, span := agentTracer.Start(ctx, "agent.SolveParallel")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.Int("candidates", k),
	)

	a.logger.Info("parallel task started",
		zap.String("task_id", task.ID),
		zap.Int("candidates", k),
		zap.Int("workers", a.config.ParallelWorkers))

	// Retrieval and tool consultation run once; the attempts diverge only
	// at generation, where sampling temperature provides the diversity.
	base := newRun(task)
	a.retrieve(ctx, base)
	a.consultTools(ctx, base)

	attempts := make([]*attempt, k)
	p := pool.New().WithMaxGoroutines(a.config.ParallelWorkers)
	for i := 0; i < k; i++ {
		p.Go(func() {
			attempts[i] = a.runAttempt(ctx, base)
		})
	}
	p.Wait()

	judged := make([]*attempt, 0, k)
	var firstErr error
	for _, at := range attempts {
		if at.err != nil {
			if firstErr == nil {
				firstErr = at.err
			}
			a.logger.Warn("parallel attempt failed",
				zap.String("task_id", task.ID),
				zap.Error(at.err))
			continue
		}
		judged = append(judged, at)
	}
	if len(judged) == 0 {
		return nil, fmt.Errorf("all %d parallel attempts failed: %w", k, firstErr)
	}

	best := pickBest(judged)

	trajs := make([]*memory.Trajectory, len(judged))
	outcomes := make([]memory.Outcome, len(judged))
	for i, at := range judged {
		trajs[i] = at.run.traj
		outcomes[i] = at.verdict.Status
	}

	items, err := a.deps.Extractor.FromTrajectories(ctx, trajs, outcomes)
	if err != nil {
		a.logger.Error("self-contrast extraction failed, nothing to consolidate",
			zap.String("task_id", task.ID),
			zap.Error(err))
		items = nil
	}
	best.run.extracted = items
	if err := a.consolidate(ctx, best.run); err != nil {
		return nil, err
	}

	result := best.run.result()
	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	a.logger.Info("parallel task completed",
		zap.String("task_id", task.ID),
		zap.Int("judged", len(judged)),
		zap.String("outcome", string(result.Outcome)))
	return result, nil
}

// runAttempt executes one generation pipeline over a private copy of the
// shared context. The trajectory metadata is cloned so concurrent judge
// verdicts never write to the same map.
func (a *Agent) runAttempt(ctx context.Context, base *run) *attempt {
	r := &run{
		task:       base.task,
		memories:   base.memories,
		theory:     base.theory,
		literature: base.literature,
		traj: &memory.Trajectory{
			TaskID:          base.task.ID,
			TaskDescription: base.task.Description,
			StartedAt:       time.Now(),
			Steps:           append([]memory.Step(nil), base.traj.Steps...),
			Metadata:        cloneMetadata(base.traj.Metadata),
		},
	}

	candidate, err := a.generateCandidate(ctx, r)
	if err != nil {
		return &attempt{run: r, err: err}
	}
	r.candidate = candidate
	r.traj.FinalResult = candidate
	r.traj.RecordStep(memory.Step{
		Action:      "generate_formulation",
		Rationale:   candidate.Reasoning,
		Observation: candidate.Formulation.String(),
	})
	a.checkConstraints(r, candidate)

	if err := a.judgeTrajectory(ctx, r); err != nil {
		return &attempt{run: r, err: err}
	}
	return &attempt{run: r, verdict: r.verdict}
}

// pickBest returns the first success in attempt order, falling back to
// the highest-confidence candidate when no attempt succeeded.
func pickBest(judged []*attempt) *attempt {
	for _, at := range judged {
		if at.verdict.Status == memory.OutcomeSuccess {
			return at
		}
	}
	best := judged[0]
	for _, at := range judged[1:] {
		if at.run.candidate.Confidence > best.run.candidate.Confidence {
			best = at
		}
	}
	return best
}

func cloneMetadata(meta map[string]any) map[string]any {
	clone := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		clone[k] = v
	}
	return clone
}
