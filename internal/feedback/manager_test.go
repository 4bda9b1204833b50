package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/agent"
	"github.com/cruciblelabs/formulad/internal/memory"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return m
}

func sampleRecommendation(t *testing.T, material string) *Recommendation {
	t.Helper()
	task := agent.Task{
		ID:                "task-" + material,
		Description:       "Design a DES to dissolve " + material,
		TargetMaterial:    material,
		TargetTemperature: 60,
	}
	traj := memory.NewTrajectory(task.Description)
	traj.TaskID = task.ID
	traj.FinalResult = &memory.Candidate{
		Formulation: memory.Formulation{HBD: "urea", HBA: "choline chloride", MolarRatio: "2:1"},
		Reasoning:   "Strong donor network.",
		Confidence:  0.8,
	}
	res := &agent.Result{
		TaskID:     task.ID,
		Candidate:  traj.FinalResult,
		Outcome:    memory.OutcomeSuccess,
		Trajectory: traj,
	}
	rec, err := NewRecommendation(task, res)
	require.NoError(t, err)
	return rec
}

func TestManager_SaveAssignsSequentialIDs(t *testing.T) {
	m := newTestManager(t)

	id1, err := m.Save(context.Background(), sampleRecommendation(t, "cellulose"))
	require.NoError(t, err)
	id2, err := m.Save(context.Background(), sampleRecommendation(t, "lignin"))
	require.NoError(t, err)

	prefix := "REC_" + time.Now().Format("20060102") + "_"
	assert.Equal(t, prefix+"001", id1)
	assert.Equal(t, prefix+"002", id2)

	_, err = os.Stat(filepath.Join(m.dir, id1+".json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(m.dir, indexFileName))
	assert.NoError(t, err)
}

func TestManager_SaveRoundTrip(t *testing.T) {
	m := newTestManager(t)
	rec := sampleRecommendation(t, "cellulose")

	id, err := m.Save(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, rec.CreatedAt.IsZero())

	loaded, err := m.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, loaded.ID)
	assert.Equal(t, "task-cellulose", loaded.TaskID)
	assert.Equal(t, "urea", loaded.Formulation.HBD)
	assert.Equal(t, StatusPending, loaded.Status)
	assert.Equal(t, "1.0", loaded.Version)
	assert.Equal(t, "cellulose", loaded.Task.TargetMaterial)
	require.NotNil(t, loaded.Trajectory)
	assert.Equal(t, "task-cellulose", loaded.Trajectory.TaskID)
}

func TestManager_GetNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Get(context.Background(), "REC_19990101_001")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_RejectsUnsupportedVersion(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Save(context.Background(), sampleRecommendation(t, "cellulose"))
	require.NoError(t, err)

	path := filepath.Join(m.dir, id+".json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["version"] = "9.9"
	data, err = json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err = m.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestManager_List(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id1, err := m.Save(ctx, sampleRecommendation(t, "cellulose"))
	require.NoError(t, err)
	id2, err := m.Save(ctx, sampleRecommendation(t, "lignin"))
	require.NoError(t, err)
	id3, err := m.Save(ctx, sampleRecommendation(t, "cellulose"))
	require.NoError(t, err)
	require.NoError(t, m.UpdateStatus(ctx, id2, StatusCancelled))

	t.Run("newest first", func(t *testing.T) {
		recs, err := m.List(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, id3, recs[0].ID)
		assert.Equal(t, id1, recs[2].ID)
	})

	t.Run("by status", func(t *testing.T) {
		recs, err := m.List(ctx, Filter{Status: StatusCancelled})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, id2, recs[0].ID)
	})

	t.Run("by material", func(t *testing.T) {
		recs, err := m.List(ctx, Filter{TargetMaterial: "cellulose"})
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("limit", func(t *testing.T) {
		recs, err := m.List(ctx, Filter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, id3, recs[0].ID)
	})
}

func TestManager_UpdateStatus(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id, err := m.Save(ctx, sampleRecommendation(t, "cellulose"))
	require.NoError(t, err)

	require.NoError(t, m.UpdateStatus(ctx, id, StatusCancelled))
	rec, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, rec.Status)

	assert.Error(t, m.UpdateStatus(ctx, id, Status("ARCHIVED")))
	assert.ErrorIs(t, m.UpdateStatus(ctx, "REC_19990101_001", StatusCancelled), ErrNotFound)
}

func TestManager_SubmitResult(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id, err := m.Save(ctx, sampleRecommendation(t, "cellulose"))
	require.NoError(t, err)

	rec, err := m.SubmitResult(ctx, id, ExperimentResult{
		LiquidFormed: true,
		Solubility:   solubility(6.5),
		Experimenter: "jlin",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	require.NotNil(t, rec.Experiment)
	assert.Equal(t, "g/L", rec.Experiment.SolubilityUnit)
	assert.False(t, rec.Experiment.ExperimentDate.IsZero())

	loaded, err := m.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, loaded.Experiment)
	assert.Equal(t, 6.5, *loaded.Experiment.Solubility)
}

func TestManager_SubmitResult_DiscardsStraySolubility(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id, err := m.Save(ctx, sampleRecommendation(t, "cellulose"))
	require.NoError(t, err)

	rec, err := m.SubmitResult(ctx, id, ExperimentResult{LiquidFormed: false, Solubility: solubility(3)})
	require.NoError(t, err)
	assert.Nil(t, rec.Experiment.Solubility)
}

func TestManager_SubmitResult_RequiresSolubility(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id, err := m.Save(ctx, sampleRecommendation(t, "cellulose"))
	require.NoError(t, err)

	_, err = m.SubmitResult(ctx, id, ExperimentResult{LiquidFormed: true})
	assert.ErrorIs(t, err, ErrInvalidResult)

	rec, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
}

func TestManager_Statistics(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Save(ctx, sampleRecommendation(t, "cellulose"))
	require.NoError(t, err)
	_, err = m.Save(ctx, sampleRecommendation(t, "cellulose"))
	require.NoError(t, err)
	id, err := m.Save(ctx, sampleRecommendation(t, "lignin"))
	require.NoError(t, err)
	_, err = m.SubmitResult(ctx, id, ExperimentResult{LiquidFormed: false})
	require.NoError(t, err)

	stats := m.Statistics()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[StatusPending])
	assert.Equal(t, 1, stats.ByStatus[StatusCompleted])
	assert.Equal(t, 2, stats.ByMaterial["cellulose"])
	assert.Equal(t, 1, stats.ByMaterial["lignin"])
}

func TestManager_IndexSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	id, err := m.Save(ctx, sampleRecommendation(t, "cellulose"))
	require.NoError(t, err)

	reopened, err := NewManager(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Statistics().Total)

	rec, err := reopened.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "task-cellulose", rec.TaskID)

	next, err := reopened.Save(ctx, sampleRecommendation(t, "lignin"))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("REC_%s_002", time.Now().Format("20060102")), next)
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager("", zap.NewNop())
	assert.Error(t, err)

	_, err = NewManager("   ", nil)
	assert.Error(t, err)
}
