package judge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/llm"
	"github.com/cruciblelabs/formulad/internal/memory"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name         string
		output       string
		wantStatus   memory.Outcome
		wantThoughts string
		wantReason   string
		wantErr      bool
	}{
		{
			name:         "success verdict",
			output:       "Thoughts: Valid choline chloride and urea pairing at a known eutectic ratio.\nStatus: SUCCESS",
			wantStatus:   memory.OutcomeSuccess,
			wantThoughts: "Valid choline chloride and urea pairing at a known eutectic ratio.",
		},
		{
			name:         "failure verdict with reason",
			output:       "Thoughts: The ratio 1:50 is far outside any feasible eutectic window.\nStatus: FAILURE\nReason: Unrealistic molar ratio.",
			wantStatus:   memory.OutcomeFailure,
			wantThoughts: "The ratio 1:50 is far outside any feasible eutectic window.",
			wantReason:   "Unrealistic molar ratio.",
		},
		{
			name:       "lowercase status accepted",
			output:     "Thoughts: Fine.\nStatus: success",
			wantStatus: memory.OutcomeSuccess,
		},
		{
			name:       "fenced response still parses",
			output:     "```\nThoughts: Looks right.\nStatus: SUCCESS\n```",
			wantStatus: memory.OutcomeSuccess,
		},
		{
			name:       "surrounding whitespace tolerated",
			output:     "  Thoughts:   Reasonable pairing.  \n   Status:   FAILURE  \n  Reason:  Missing ratio. ",
			wantStatus: memory.OutcomeFailure,
			wantReason: "Missing ratio.",
		},
		{
			name:    "SUCCESSFUL is not a valid status",
			output:  "Thoughts: Looks good.\nStatus: SUCCESSFUL",
			wantErr: true,
		},
		{
			name:    "UNSUCCESSFUL is not a valid status",
			output:  "Thoughts: Looks bad.\nStatus: UNSUCCESSFUL",
			wantErr: true,
		},
		{
			name:    "missing status line",
			output:  "Thoughts: The formulation seems plausible but I cannot conclude.",
			wantErr: true,
		},
		{
			name:    "empty response",
			output:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := ParseVerdict(tt.output)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnparsableVerdict)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, verdict.Status)
			if tt.wantThoughts != "" {
				assert.Equal(t, tt.wantThoughts, verdict.Thoughts)
			}
			assert.Equal(t, tt.wantReason, verdict.Reason)
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("requires client", func(t *testing.T) {
		_, err := New(nil, zap.NewNop())
		require.Error(t, err)
	})

	t.Run("nil logger is replaced", func(t *testing.T) {
		j, err := New(stubClient("Status: SUCCESS"), nil)
		require.NoError(t, err)
		require.NotNil(t, j)
	})
}

// stubClient returns a client that always answers with the given response.
func stubClient(response string) llm.Client {
	return llm.Func(func(ctx context.Context, prompt string, opts ...llm.CompleteOption) (string, error) {
		return response, nil
	})
}

// capturingClient records the last prompt before answering.
func capturingClient(response string, captured *string) llm.Client {
	return llm.Func(func(ctx context.Context, prompt string, opts ...llm.CompleteOption) (string, error) {
		*captured = prompt
		return response, nil
	})
}

func testTrajectory(t *testing.T) *memory.Trajectory {
	t.Helper()
	traj := memory.NewTrajectory("Design a DES to dissolve cellulose at room temperature")
	traj.Metadata = map[string]any{
		"target_material":    "cellulose",
		"target_temperature": 25,
	}
	traj.RecordStep(memory.Step{
		Action:      "Consult theory knowledge base",
		Rationale:   "Need hydrogen bonding fundamentals for cellulose",
		Tool:        "theory",
		Observation: "Cellulose hydroxyl groups form strong intermolecular hydrogen bonds.",
	})
	traj.FinalResult = &memory.Candidate{
		Formulation: memory.Formulation{
			HBD:        "Urea",
			HBA:        "Choline chloride",
			MolarRatio: "1:2",
		},
		Reasoning:  "Strong hydrogen bond network disrupts cellulose crystallinity.",
		Confidence: 0.82,
	}
	return traj
}

func TestJudge_Evaluate(t *testing.T) {
	var prompt string
	j, err := New(capturingClient(
		"Thoughts: Known eutectic system appropriate for cellulose.\nStatus: SUCCESS", &prompt), zap.NewNop())
	require.NoError(t, err)

	verdict, err := j.Evaluate(context.Background(), testTrajectory(t))
	require.NoError(t, err)

	assert.Equal(t, memory.OutcomeSuccess, verdict.Status)
	assert.Equal(t, "Known eutectic system appropriate for cellulose.", verdict.Thoughts)
	assert.Empty(t, verdict.Reason)

	// The prompt must carry the task, the trajectory, and the final result.
	assert.Contains(t, prompt, "Design a DES to dissolve cellulose")
	assert.Contains(t, prompt, "**Target Material:** cellulose")
	assert.Contains(t, prompt, "**Target Temperature:** 25")
	assert.Contains(t, prompt, "### Step 1")
	assert.Contains(t, prompt, "**Tool Used:** theory")
	assert.Contains(t, prompt, "**HBD:** Urea")
	assert.Contains(t, prompt, "**HBA:** Choline chloride")
	assert.Contains(t, prompt, "**Molar Ratio:** 1:2")
	assert.Contains(t, prompt, "Status: SUCCESS")
}

func TestJudge_Evaluate_ConstraintViolation(t *testing.T) {
	// A trajectory proposing a forbidden component must come back as a
	// failure with a stated reason, and the constraints must be visible to
	// the evaluating model.
	var prompt string
	j, err := New(
		capturingClient(
			"Thoughts: Ethylene glycol is explicitly forbidden by the operating constraints.\n"+
				"Status: FAILURE\n"+
				"Reason: The formulation uses a banned component.",
			&prompt),
		zap.NewNop(),
		WithConstraints(func() string {
			return "- Never propose formulations containing ethylene glycol."
		}),
	)
	require.NoError(t, err)

	traj := testTrajectory(t)
	traj.FinalResult.Formulation.HBD = "Ethylene glycol"

	verdict, err := j.Evaluate(context.Background(), traj)
	require.NoError(t, err)

	assert.Equal(t, memory.OutcomeFailure, verdict.Status)
	assert.NotEmpty(t, verdict.Reason)
	assert.Contains(t, prompt, "## Hard Constraints")
	assert.Contains(t, prompt, "ethylene glycol")
}

func TestJudge_Evaluate_ClientError(t *testing.T) {
	j, err := New(llm.Func(func(ctx context.Context, prompt string, opts ...llm.CompleteOption) (string, error) {
		return "", errors.New("connection refused")
	}), zap.NewNop())
	require.NoError(t, err)

	_, err = j.Evaluate(context.Background(), testTrajectory(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "judging trajectory")
}

func TestJudge_Evaluate_UnparsableResponse(t *testing.T) {
	j, err := New(stubClient("I think this formulation is probably fine."), zap.NewNop())
	require.NoError(t, err)

	_, err = j.Evaluate(context.Background(), testTrajectory(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnparsableVerdict)
}

func TestJudge_Evaluate_NilTrajectory(t *testing.T) {
	j, err := New(stubClient("Status: SUCCESS"), zap.NewNop())
	require.NoError(t, err)

	_, err = j.Evaluate(context.Background(), nil)
	require.Error(t, err)
}

func TestJudge_PromptEdgeCases(t *testing.T) {
	t.Run("no steps recorded", func(t *testing.T) {
		var prompt string
		j, err := New(capturingClient("Status: FAILURE\nReason: nothing attempted", &prompt), zap.NewNop())
		require.NoError(t, err)

		traj := memory.NewTrajectory("Design a DES for lignin")
		_, err = j.Evaluate(context.Background(), traj)
		require.NoError(t, err)

		assert.Contains(t, prompt, "No steps recorded")
		assert.Contains(t, prompt, "No final result produced")
	})

	t.Run("long tool output is truncated", func(t *testing.T) {
		var prompt string
		j, err := New(capturingClient("Status: SUCCESS", &prompt), zap.NewNop())
		require.NoError(t, err)

		traj := testTrajectory(t)
		traj.RecordStep(memory.Step{
			Action:      "Search literature",
			Tool:        "literature",
			Observation: strings.Repeat("x", 500),
		})

		_, err = j.Evaluate(context.Background(), traj)
		require.NoError(t, err)

		assert.Contains(t, prompt, strings.Repeat("x", observationPreviewLen)+"...")
		assert.NotContains(t, prompt, strings.Repeat("x", observationPreviewLen+1))
	})
}
