package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/extraction"
	"github.com/cruciblelabs/formulad/internal/judge"
	"github.com/cruciblelabs/formulad/internal/llm"
	"github.com/cruciblelabs/formulad/internal/memory"
)

const (
	judgeSuccessReply = "Thoughts: The formulation is chemically sound and fits the target.\nStatus: SUCCESS\n"

	judgeFailureReply = "Thoughts: The molar ratio is not workable for this material.\nStatus: FAILURE\nReason: Ratio far outside literature precedent.\n"

	successItemsReply = "# Memory Item 1\n" +
		"## Title: Choline chloride with urea dissolves cellulose\n" +
		"## Description: Reline-class mixtures handle polysaccharide targets.\n" +
		"## Content: A 1:2 choline chloride to urea mixture stays liquid at 60C and solvates cellulose hydroxyls.\n"

	failureItemsReply = "# Memory Item 1\n" +
		"## Title: Avoid extreme molar ratios\n" +
		"## Description: Ratios far outside literature ranges fail to form liquids.\n" +
		"## Content: Keep HBA to HBD between 1:1 and 1:3 unless a precedent says otherwise.\n"
)

type stubEmbedder struct{}

func (stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

// routedClient answers by prompt markers instead of replaying a queue, so
// Temporal activity retries cannot desynchronize the replies.
type routedClient struct {
	mu      sync.Mutex
	prompts []string
}

func (c *routedClient) Complete(_ context.Context, prompt string, _ ...llm.CompleteOption) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()

	switch {
	case strings.Contains(prompt, "evaluating deep eutectic solvent"):
		if strings.Contains(prompt, "cellulose") {
			return judgeSuccessReply, nil
		}
		return judgeFailureReply, nil
	case strings.Contains(prompt, "successfully accomplished the task"):
		return successItemsReply, nil
	case strings.Contains(prompt, "attempted to solve the task but failed"):
		return failureItemsReply, nil
	default:
		return "", fmt.Errorf("no scripted route for prompt")
	}
}

func (c *routedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

func newTestActivities(t *testing.T) (*Activities, *memory.Store, *routedClient) {
	t.Helper()

	client := &routedClient{}
	j, err := judge.New(client, zap.NewNop())
	require.NoError(t, err)
	extractor, err := extraction.New(client, zap.NewNop())
	require.NoError(t, err)
	store := memory.NewStore(zap.NewNop(), memory.WithEmbedder(stubEmbedder{}))

	acts, err := NewActivities(j, extractor, store, zap.NewNop())
	require.NoError(t, err)
	return acts, store, client
}

func sampleTrajectory(taskID, description string, outcome memory.Outcome) *memory.Trajectory {
	return &memory.Trajectory{
		TaskID:          taskID,
		TaskDescription: description,
		Steps: []memory.Step{
			{Action: "generate", Rationale: "propose a hydrogen-bonded pair"},
		},
		Outcome: outcome,
		FinalResult: &memory.Candidate{
			Formulation: memory.Formulation{HBD: "urea", HBA: "choline chloride", MolarRatio: "2:1"},
			Reasoning:   "strong hydrogen bond network with the target",
			Confidence:  0.8,
		},
		StartedAt: time.Now(),
	}
}

func writeTrajectory(t *testing.T, dir, name string, traj *memory.Trajectory) {
	t.Helper()
	data, err := json.Marshal(traj)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

// TestDistillWorkflow tests the batch distillation workflow.
func TestDistillWorkflow(t *testing.T) {
	t.Run("re-judges and consolidates in bulk", func(t *testing.T) {
		archiveDir := t.TempDir()
		storePath := filepath.Join(t.TempDir(), "memory.json")

		// Archived as failure, now judged a success.
		writeTrajectory(t, archiveDir, "t1.json",
			sampleTrajectory("task-1", "Dissolve cellulose in a deep eutectic solvent at 60C", memory.OutcomeFailure))
		// Archived as failure, still a failure.
		writeTrajectory(t, archiveDir, "t2.json",
			sampleTrajectory("task-2", "Dissolve chitin in a deep eutectic solvent at 40C", memory.OutcomeFailure))

		acts, store, _ := newTestActivities(t)

		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(DistillWorkflow)
		env.RegisterActivity(acts)

		env.ExecuteWorkflow(DistillWorkflow, DistillConfig{
			ArchiveDir: archiveDir,
			StorePath:  storePath,
		})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result DistillResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, 2, result.Trajectories)
		assert.Equal(t, 2, result.Judged)
		assert.Equal(t, 1, result.Successes)
		assert.Equal(t, 1, result.Failures)
		assert.Equal(t, 1, result.VerdictChanges)
		assert.Equal(t, 2, result.ItemsExtracted)
		assert.Equal(t, 2, result.ItemsConsolidated)
		assert.Equal(t, 2, result.StoreSize)
		assert.Empty(t, result.Errors)

		_, err := store.GetByTitle("Choline chloride with urea dissolves cellulose")
		assert.NoError(t, err)
		_, err = store.GetByTitle("Avoid extreme molar ratios")
		assert.NoError(t, err)

		_, err = os.Stat(storePath)
		assert.NoError(t, err)
	})

	t.Run("records per-trajectory errors and continues", func(t *testing.T) {
		archiveDir := t.TempDir()

		require.NoError(t, os.WriteFile(filepath.Join(archiveDir, "a_bad.json"), []byte("{"), 0o644))
		writeTrajectory(t, archiveDir, "b_good.json",
			sampleTrajectory("task-1", "Dissolve cellulose in a deep eutectic solvent at 60C", memory.OutcomeSuccess))

		acts, store, _ := newTestActivities(t)

		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(DistillWorkflow)
		env.RegisterActivity(acts)

		env.ExecuteWorkflow(DistillWorkflow, DistillConfig{ArchiveDir: archiveDir})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result DistillResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, 2, result.Trajectories)
		assert.Equal(t, 1, result.Judged)
		assert.Equal(t, 1, result.ItemsExtracted)
		assert.Equal(t, 1, result.ItemsConsolidated)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "a_bad.json")
		assert.Equal(t, 1, store.Len())
	})

	t.Run("caps processed trajectories", func(t *testing.T) {
		archiveDir := t.TempDir()
		for i := 1; i <= 3; i++ {
			writeTrajectory(t, archiveDir, fmt.Sprintf("t%d.json", i),
				sampleTrajectory(fmt.Sprintf("task-%d", i), "Dissolve cellulose in a deep eutectic solvent at 60C", memory.OutcomeSuccess))
		}

		acts, _, client := newTestActivities(t)

		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(DistillWorkflow)
		env.RegisterActivity(acts)

		env.ExecuteWorkflow(DistillWorkflow, DistillConfig{
			ArchiveDir:      archiveDir,
			MaxTrajectories: 1,
		})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result DistillResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, 1, result.Trajectories)
		assert.Equal(t, 1, result.Judged)
		// One judge call plus one extraction call.
		assert.Equal(t, 2, client.calls())
	})

	t.Run("empty archive distills nothing", func(t *testing.T) {
		acts, store, client := newTestActivities(t)

		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(DistillWorkflow)
		env.RegisterActivity(acts)

		env.ExecuteWorkflow(DistillWorkflow, DistillConfig{ArchiveDir: t.TempDir()})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result DistillResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, 0, result.Trajectories)
		assert.Equal(t, 0, result.ItemsExtracted)
		assert.Equal(t, 0, store.Len())
		assert.Equal(t, 0, client.calls())
	})

	t.Run("fails when consolidation fails", func(t *testing.T) {
		archiveDir := t.TempDir()
		writeTrajectory(t, archiveDir, "t1.json",
			sampleTrajectory("task-1", "Dissolve cellulose in a deep eutectic solvent at 60C", memory.OutcomeSuccess))

		acts, _, _ := newTestActivities(t)

		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(DistillWorkflow)
		env.RegisterActivity(acts)
		env.OnActivity("ConsolidateActivity", mock.Anything, mock.Anything).
			Return(nil, errors.New("store unavailable"))

		env.ExecuteWorkflow(DistillWorkflow, DistillConfig{ArchiveDir: archiveDir})

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "consolidate")
	})
}
