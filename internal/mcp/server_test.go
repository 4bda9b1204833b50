package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/agent"
	"github.com/cruciblelabs/formulad/internal/memory"
	"github.com/cruciblelabs/formulad/internal/retrieval"
)

// stubSolver returns a canned result or error and records the task it
// was handed.
type stubSolver struct {
	result  *agent.Result
	err     error
	gotTask agent.Task
}

func (s *stubSolver) Solve(_ context.Context, task agent.Task) (*agent.Result, error) {
	s.gotTask = task
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// stubSearcher returns canned scored items and records the query.
type stubSearcher struct {
	items    []retrieval.ScoredItem
	err      error
	gotQuery memory.Query
}

func (s *stubSearcher) RetrieveWithScores(_ context.Context, query memory.Query) ([]retrieval.ScoredItem, error) {
	s.gotQuery = query
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

func successResult() *agent.Result {
	cand := &memory.Candidate{
		Formulation: memory.Formulation{HBD: "urea", HBA: "choline chloride", MolarRatio: "2:1"},
		Reasoning:   "Strong donor network.",
		Confidence:  0.82,
	}
	return &agent.Result{
		TaskID:               "task-1",
		Candidate:            cand,
		Outcome:              memory.OutcomeSuccess,
		ExperiencesConsulted: 2,
		MemoriesUsed:         []string{"Prefer strong donors for cellulose"},
		MemoriesExtracted:    []string{"Reline handles polysaccharides"},
	}
}

func scoredItem(t *testing.T, title string, fromSuccess bool, score float64) retrieval.ScoredItem {
	t.Helper()

	item, err := memory.NewItem(title, "when to apply "+title, "details of "+title)
	require.NoError(t, err)
	item.FromSuccess = fromSuccess
	return retrieval.ScoredItem{Item: item, Score: score}
}

func newTestServer(t *testing.T) (*Server, *stubSolver, *stubSearcher, *memory.Store) {
	t.Helper()

	solver := &stubSolver{result: successResult()}
	searcher := &stubSearcher{}
	store := memory.NewStore(zap.NewNop())
	srv, err := NewServer(nil, solver, store, searcher)
	require.NoError(t, err)
	return srv, solver, searcher, store
}

func textContent(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()

	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewServer(t *testing.T) {
	solver := &stubSolver{result: successResult()}
	searcher := &stubSearcher{}
	store := memory.NewStore(zap.NewNop())

	t.Run("successful creation", func(t *testing.T) {
		cfg := &Config{Name: "test-server", Version: "1.0.0", Logger: zap.NewNop()}
		srv, err := NewServer(cfg, solver, store, searcher)
		require.NoError(t, err)
		require.NotNil(t, srv)
		require.NotNil(t, srv.mcp)
	})

	t.Run("nil config uses defaults", func(t *testing.T) {
		srv, err := NewServer(nil, solver, store, searcher)
		require.NoError(t, err)
		require.NotNil(t, srv)
		require.NotNil(t, srv.logger)
	})

	t.Run("missing solver", func(t *testing.T) {
		_, err := NewServer(nil, nil, store, searcher)
		require.Error(t, err)
		require.Contains(t, err.Error(), "solver is required")
	})

	t.Run("missing store", func(t *testing.T) {
		_, err := NewServer(nil, solver, nil, searcher)
		require.Error(t, err)
		require.Contains(t, err.Error(), "memory store is required")
	})

	t.Run("missing searcher", func(t *testing.T) {
		_, err := NewServer(nil, solver, store, nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "searcher is required")
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)
	require.Equal(t, "formulad", cfg.Name)
	require.Equal(t, "0.1.0", cfg.Version)
	require.NotNil(t, cfg.Logger)
}

func TestHandleSolveFormulation(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the recommendation", func(t *testing.T) {
		srv, solver, _, _ := newTestServer(t)

		res, out, err := srv.handleSolveFormulation(ctx, nil, solveFormulationInput{
			Description:       "Design a DES to dissolve cellulose",
			TargetMaterial:    "cellulose",
			TargetTemperature: 60,
			MaterialCategory:  "polysaccharide",
			Constraints:       map[string]string{"toxicity": "low"},
		})
		require.NoError(t, err)

		assert.Equal(t, "task-1", out.TaskID)
		assert.Equal(t, "urea", out.HBD)
		assert.Equal(t, "choline chloride", out.HBA)
		assert.Equal(t, "2:1", out.MolarRatio)
		assert.Equal(t, "Strong donor network.", out.Reasoning)
		assert.InDelta(t, 0.82, out.Confidence, 1e-9)
		assert.Equal(t, "success", out.Outcome)
		assert.Equal(t, []string{"Prefer strong donors for cellulose"}, out.MemoriesUsed)
		assert.Equal(t, []string{"Reline handles polysaccharides"}, out.MemoriesExtracted)

		assert.Contains(t, textContent(t, res), "Recommended urea : choline chloride (2:1)")

		assert.Equal(t, "cellulose", solver.gotTask.TargetMaterial)
		assert.Equal(t, 60.0, solver.gotTask.TargetTemperature)
		assert.Equal(t, "low", solver.gotTask.Constraints["toxicity"])
	})

	t.Run("failed attempt without candidate", func(t *testing.T) {
		srv, solver, _, _ := newTestServer(t)
		solver.result = &agent.Result{
			TaskID:        "task-2",
			Outcome:       memory.OutcomeFailure,
			FailureReason: "judge rejected all candidates",
		}

		res, out, err := srv.handleSolveFormulation(ctx, nil, solveFormulationInput{
			Description:    "Design a DES to dissolve lignin",
			TargetMaterial: "lignin",
		})
		require.NoError(t, err)

		assert.Empty(t, out.HBD)
		assert.Equal(t, "failure", out.Outcome)
		assert.Equal(t, "judge rejected all candidates", out.FailureReason)
		assert.NotNil(t, out.MemoriesUsed)
		assert.NotNil(t, out.MemoriesExtracted)
		assert.Empty(t, out.MemoriesUsed)
		assert.Empty(t, out.MemoriesExtracted)

		assert.Contains(t, textContent(t, res), "No formulation produced")
	})

	t.Run("rejects missing description", func(t *testing.T) {
		srv, _, _, _ := newTestServer(t)

		_, _, err := srv.handleSolveFormulation(ctx, nil, solveFormulationInput{
			TargetMaterial: "cellulose",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "task description is required")
	})

	t.Run("rejects missing target material", func(t *testing.T) {
		srv, _, _, _ := newTestServer(t)

		_, _, err := srv.handleSolveFormulation(ctx, nil, solveFormulationInput{
			Description: "Design a DES to dissolve cellulose",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "task target material is required")
	})

	t.Run("wraps solver errors", func(t *testing.T) {
		srv, solver, _, _ := newTestServer(t)
		solver.err = errors.New("llm unavailable")

		_, _, err := srv.handleSolveFormulation(ctx, nil, solveFormulationInput{
			Description:    "Design a DES to dissolve cellulose",
			TargetMaterial: "cellulose",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "solve failed")
		assert.Contains(t, err.Error(), "llm unavailable")
	})
}

func TestHandleSearchExperiences(t *testing.T) {
	ctx := context.Background()

	t.Run("returns ranked experiences", func(t *testing.T) {
		srv, _, searcher, _ := newTestServer(t)
		searcher.items = []retrieval.ScoredItem{
			scoredItem(t, "Prefer strong donors for cellulose", true, 0.91),
			scoredItem(t, "Avoid oxalic acid above 40C", false, 0.74),
		}

		res, out, err := srv.handleSearchExperiences(ctx, nil, searchExperiencesInput{
			Query: "dissolve cellulose",
			TopK:  5,
		})
		require.NoError(t, err)

		assert.Equal(t, 2, out.Count)
		require.Len(t, out.Experiences, 2)
		assert.Equal(t, "Prefer strong donors for cellulose", out.Experiences[0]["title"])
		assert.Equal(t, true, out.Experiences[0]["is_from_success"])
		assert.Equal(t, 0.91, out.Experiences[0]["score"])
		assert.Equal(t, "Avoid oxalic acid above 40C", out.Experiences[1]["title"])

		assert.Equal(t, "dissolve cellulose", searcher.gotQuery.Text)
		assert.Equal(t, 5, searcher.gotQuery.TopK)
		assert.Contains(t, textContent(t, res), "Found 2 experiences")
	})

	t.Run("success only sets the provenance filter", func(t *testing.T) {
		srv, _, searcher, _ := newTestServer(t)

		_, _, err := srv.handleSearchExperiences(ctx, nil, searchExperiencesInput{
			Query:       "dissolve lignin",
			SuccessOnly: true,
		})
		require.NoError(t, err)
		assert.Equal(t, true, searcher.gotQuery.Filters["is_from_success"])
	})

	t.Run("rejects empty query", func(t *testing.T) {
		srv, _, _, _ := newTestServer(t)

		_, _, err := srv.handleSearchExperiences(ctx, nil, searchExperiencesInput{Query: "   "})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "query is required")
	})

	t.Run("wraps searcher errors", func(t *testing.T) {
		srv, _, searcher, _ := newTestServer(t)
		searcher.err = errors.New("embedder offline")

		_, _, err := srv.handleSearchExperiences(ctx, nil, searchExperiencesInput{Query: "cellulose"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "experience search failed")
	})

	t.Run("empty result is not an error", func(t *testing.T) {
		srv, _, _, _ := newTestServer(t)

		res, out, err := srv.handleSearchExperiences(ctx, nil, searchExperiencesInput{Query: "chitin"})
		require.NoError(t, err)
		assert.Equal(t, 0, out.Count)
		assert.NotNil(t, out.Experiences)
		assert.Contains(t, textContent(t, res), "Found 0 experiences")
	})
}

func TestHandleMemoryStats(t *testing.T) {
	ctx := context.Background()
	srv, _, _, store := newTestServer(t)

	for _, seed := range []struct {
		title       string
		fromSuccess bool
	}{
		{"Prefer strong donors for cellulose", true},
		{"Match HBD polarity to target solute", true},
		{"Avoid oxalic acid above 40C", false},
	} {
		item, err := memory.NewItem(seed.title, "when to apply "+seed.title, "details of "+seed.title)
		require.NoError(t, err)
		item.FromSuccess = seed.fromSuccess
		require.NoError(t, store.AddWithoutEmbedding(ctx, item))
	}

	res, out, err := srv.handleMemoryStats(ctx, nil, memoryStatsInput{})
	require.NoError(t, err)

	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 2, out.FromSuccess)
	assert.Equal(t, 1, out.FromFailure)
	assert.Equal(t, 0, out.WithEmbeddings)
	assert.Contains(t, textContent(t, res), "3 experiences stored (2 from success, 1 from failure)")
}
