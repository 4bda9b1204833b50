// Package judge classifies completed formulation trajectories as success
// or failure. It drives an LLM evaluation at temperature zero against
// domain acceptance criteria, so the experience pipeline can learn from
// its own attempts without ground-truth labels.
package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/llm"
	"github.com/cruciblelabs/formulad/internal/memory"
)

var judgeTracer = otel.Tracer("formulad.judge")

const verdictMaxTokens = 1024

// observationPreviewLen caps per-step tool output in the prompt so a noisy
// retrieval step cannot crowd out the final result.
const observationPreviewLen = 200

// Judge evaluates trajectories with an LLM.
type Judge struct {
	client      llm.Client
	logger      *zap.Logger
	constraints func() string
}

// Option configures a Judge.
type Option func(*Judge)

// WithConstraints supplies operator-authored hard constraints to include in
// the evaluation criteria. The function is consulted on every evaluation so
// hot-reloaded constraint files take effect without rebuilding the Judge.
func WithConstraints(source func() string) Option {
	return func(j *Judge) {
		j.constraints = source
	}
}

// New creates a Judge backed by the given completion client.
func New(client llm.Client, logger *zap.Logger, opts ...Option) (*Judge, error) {
	if client == nil {
		return nil, errors.New("llm client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	j := &Judge{
		client: client,
		logger: logger,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Evaluate classifies the trajectory as success or failure.
//
// The generation call runs at temperature zero for determinism. The response
// must follow the fixed Thoughts/Status/Reason format; an unparsable response
// is returned as an error wrapping ErrUnparsableVerdict rather than being
// coerced to a failure verdict.
func (j *Judge) Evaluate(ctx context.Context, traj *memory.Trajectory) (*Verdict, error) {
	if traj == nil {
		return nil, errors.New("trajectory is required")
	}

	ctx, span := judgeTracer.Start(ctx, "judge.Evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", traj.TaskID))

	prompt := j.buildPrompt(traj)

	output, err := j.client.Complete(ctx, prompt,
		llm.WithTemperature(0),
		llm.WithMaxTokens(verdictMaxTokens))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "judge completion failed")
		return nil, fmt.Errorf("judging trajectory: %w", err)
	}

	verdict, err := ParseVerdict(output)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verdict parse failed")
		j.logger.Error("judge response did not match expected format",
			zap.String("task_id", traj.TaskID),
			zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("verdict.status", string(verdict.Status)))
	j.logger.Info("trajectory judged",
		zap.String("task_id", traj.TaskID),
		zap.String("status", string(verdict.Status)))

	return verdict, nil
}

// buildPrompt renders the evaluation prompt from the trajectory's task,
// steps, and final result.
func (j *Judge) buildPrompt(traj *memory.Trajectory) string {
	var sb strings.Builder

	sb.WriteString("You are an expert in evaluating deep eutectic solvent (DES) formulation design outcomes. ")
	sb.WriteString("Given a DES design task, the agent's trajectory in solving it, and the final result, ")
	sb.WriteString("decide whether the agent's execution was successful.\n\n")

	sb.WriteString("## Evaluation Criteria\n\n")
	sb.WriteString("A formulation task is SUCCESSFUL if:\n")
	sb.WriteString("1. The proposed formulation includes valid HBD (hydrogen bond donor) and HBA (hydrogen bond acceptor) components\n")
	sb.WriteString("2. The molar ratio is reasonable and chemically feasible\n")
	sb.WriteString("3. The formulation addresses the target material's dissolution requirements\n")
	sb.WriteString("4. Stated temperature constraints are satisfied\n")
	sb.WriteString("5. The reasoning is scientifically sound and supported by theory or literature\n")
	sb.WriteString("6. No major chemical incompatibilities are present\n\n")

	sb.WriteString("A task is FAILED if the formulation is invalid or incomplete, the components are incompatible, ")
	sb.WriteString("the molar ratio is unrealistic or missing, known chemistry principles are violated, ")
	sb.WriteString("stated constraints are not met, or the reasoning contains fundamental scientific errors.\n\n")

	sb.WriteString("Be strict but fair. Minor issues in an otherwise correct formulation may still be SUCCESS. ")
	sb.WriteString("If there is uncertainty, err on the side of FAILURE to avoid learning from weak examples.\n\n")

	if j.constraints != nil {
		if text := strings.TrimSpace(j.constraints()); text != "" {
			sb.WriteString("## Hard Constraints\n\n")
			sb.WriteString("The following operator constraints are mandatory. A formulation violating any of them is FAILURE:\n\n")
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	}

	sb.WriteString("## Output Format\n\n")
	sb.WriteString("Respond in exactly this format:\n\n")
	sb.WriteString("Thoughts: <your analysis, 2-3 sentences>\n")
	sb.WriteString("Status: SUCCESS\n\n")
	sb.WriteString("OR\n\n")
	sb.WriteString("Thoughts: <your analysis, 2-3 sentences>\n")
	sb.WriteString("Status: FAILURE\n")
	sb.WriteString("Reason: <brief explanation of the failure, 1-2 sentences>\n\n")

	sb.WriteString("## Input\n\n")
	sb.WriteString("**Task Description:**\n")
	sb.WriteString(traj.TaskDescription)
	sb.WriteString("\n\n")

	if material := metadataString(traj.Metadata, "target_material"); material != "" {
		sb.WriteString("**Target Material:** " + material + "\n")
	}
	if temp := metadataString(traj.Metadata, "target_temperature"); temp != "" {
		sb.WriteString("**Target Temperature:** " + temp + "\n")
	}
	if constraints := metadataString(traj.Metadata, "constraints"); constraints != "" {
		sb.WriteString("**Task Constraints:** " + constraints + "\n")
	}
	sb.WriteString("\n**Agent Trajectory:**\n")
	sb.WriteString(formatSteps(traj.Steps))
	sb.WriteString("\n\n**Final Result:**\n")
	writeFinalResult(&sb, traj.FinalResult)

	sb.WriteString("\nNow, evaluate whether this task was completed successfully:")

	return sb.String()
}

func formatSteps(steps []memory.Step) string {
	if len(steps) == 0 {
		return "No steps recorded"
	}

	var sb strings.Builder
	for i, step := range steps {
		fmt.Fprintf(&sb, "\n### Step %d\n", i+1)
		if step.Action != "" {
			sb.WriteString("**Action:** " + step.Action + "\n")
		}
		if step.Rationale != "" {
			sb.WriteString("**Reasoning:** " + step.Rationale + "\n")
		}
		if step.Tool != "" {
			sb.WriteString("**Tool Used:** " + step.Tool + "\n")
			if step.Observation != "" {
				sb.WriteString("**Tool Output:** " + truncate(step.Observation, observationPreviewLen) + "\n")
			}
		}
	}
	return sb.String()
}

func writeFinalResult(sb *strings.Builder, result *memory.Candidate) {
	if result == nil {
		sb.WriteString("- No final result produced\n")
		return
	}
	sb.WriteString("- **HBD:** " + orNA(result.Formulation.HBD) + "\n")
	sb.WriteString("- **HBA:** " + orNA(result.Formulation.HBA) + "\n")
	sb.WriteString("- **Molar Ratio:** " + orNA(result.Formulation.MolarRatio) + "\n")
	fmt.Fprintf(sb, "- **Confidence:** %.2f\n", result.Confidence)
	sb.WriteString("- **Reasoning:** " + orNA(result.Reasoning) + "\n")
}

func metadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok || value == nil {
		return ""
	}
	return fmt.Sprintf("%v", value)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
