package feedback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/extraction"
	"github.com/cruciblelabs/formulad/internal/llm"
	"github.com/cruciblelabs/formulad/internal/memory"
)

const experimentExtraction = "# Memory Item 1\n" +
	"## Title: Reline dissolves cellulose in the mid single digits\n" +
	"## Description: Use measured ChCl-urea solubility as the baseline for cellulose targets.\n" +
	"## Content: Choline chloride and urea at 2:1 formed a stable liquid and dissolved cellulose at 6.5 g/L; treat that as the reference point when tuning ratios.\n"

type stubEmbedder struct{}

func (stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

// scriptedLLM replays canned replies in order, repeating the last one.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []func() (string, error)
	prompts []string
}

func (s *scriptedLLM) Complete(_ context.Context, prompt string, _ ...llm.CompleteOption) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return reply()
}

func reply(text string) func() (string, error) {
	return func() (string, error) { return text, nil }
}

func replyErr(err error) func() (string, error) {
	return func() (string, error) { return "", err }
}

type processorHarness struct {
	processor *Processor
	manager   *Manager
	store     *memory.Store
	client    *scriptedLLM
}

func newProcessorHarness(t *testing.T, opts ...ProcessorOption) *processorHarness {
	t.Helper()

	client := &scriptedLLM{replies: []func() (string, error){reply(experimentExtraction)}}
	extractor, err := extraction.New(client, zap.NewNop())
	require.NoError(t, err)

	manager, err := NewManager(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	store := memory.NewStore(zap.NewNop(), memory.WithEmbedder(stubEmbedder{}))

	p, err := NewProcessor(manager, extractor, store, zap.NewNop(), opts...)
	require.NoError(t, err)

	return &processorHarness{processor: p, manager: manager, store: store, client: client}
}

// completedRecommendation saves a recommendation and attaches a liquid
// experiment result, leaving it ready for processing.
func completedRecommendation(t *testing.T, m *Manager, material string) string {
	t.Helper()
	id, err := m.Save(context.Background(), sampleRecommendation(t, material))
	require.NoError(t, err)
	_, err = m.SubmitResult(context.Background(), id, ExperimentResult{
		LiquidFormed: true,
		Solubility:   solubility(6.5),
	})
	require.NoError(t, err)
	return id
}

func TestProcessor_Process(t *testing.T) {
	h := newProcessorHarness(t)
	id := completedRecommendation(t, h.manager, "cellulose")

	report, err := h.processor.Process(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, id, report.RecommendationID)
	assert.True(t, report.LiquidFormed)
	require.NotNil(t, report.Solubility)
	assert.Equal(t, 6.5, *report.Solubility)
	assert.Equal(t, "g/L", report.SolubilityUnit)
	assert.Equal(t, []string{"Reline dissolves cellulose in the mid single digits"}, report.MemoriesExtracted)

	item, err := h.store.GetByTitle("Reline dissolves cellulose in the mid single digits")
	require.NoError(t, err)
	assert.True(t, item.FromSuccess)
	assert.Equal(t, "experiment_validated", item.Metadata["source"])
	assert.Equal(t, id, item.Metadata["recommendation_id"])
	assert.Equal(t, "experiment_feedback", item.Metadata["extraction_type"])
	assert.Equal(t, true, item.Metadata["is_liquid_formed"])
	assert.Equal(t, 6.5, item.Metadata["solubility"])
	assert.NotEmpty(t, item.Metadata["experiment_date"])

	reloaded, err := h.manager.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, memory.OutcomeExperiment, reloaded.Trajectory.Outcome)
	assert.True(t, reloaded.Processed())

	require.Len(t, h.client.prompts, 1)
	assert.Contains(t, h.client.prompts[0], "measured laboratory results")
	assert.Contains(t, h.client.prompts[0], "DES Formation: yes (liquid formed)")
	assert.Contains(t, h.client.prompts[0], "Solubility: 6.5 g/L")
}

func TestProcessor_Process_NoLiquid(t *testing.T) {
	h := newProcessorHarness(t)
	id, err := h.manager.Save(context.Background(), sampleRecommendation(t, "cellulose"))
	require.NoError(t, err)
	_, err = h.manager.SubmitResult(context.Background(), id, ExperimentResult{LiquidFormed: false})
	require.NoError(t, err)

	report, err := h.processor.Process(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, report.LiquidFormed)
	assert.Nil(t, report.Solubility)

	item, err := h.store.GetByTitle("Reline dissolves cellulose in the mid single digits")
	require.NoError(t, err)
	assert.False(t, item.FromSuccess)
}

func TestProcessor_Process_RequiresResult(t *testing.T) {
	h := newProcessorHarness(t)
	id, err := h.manager.Save(context.Background(), sampleRecommendation(t, "cellulose"))
	require.NoError(t, err)

	_, err = h.processor.Process(context.Background(), id)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestProcessor_Process_NotFound(t *testing.T) {
	h := newProcessorHarness(t)
	_, err := h.processor.Process(context.Background(), "REC_19990101_001")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProcessor_ProcessPending(t *testing.T) {
	h := newProcessorHarness(t)
	ctx := context.Background()

	processed := completedRecommendation(t, h.manager, "cellulose")
	_, err := h.processor.Process(ctx, processed)
	require.NoError(t, err)

	pending := completedRecommendation(t, h.manager, "lignin")
	_, err = h.manager.Save(ctx, sampleRecommendation(t, "chitin"))
	require.NoError(t, err)

	reports, err := h.processor.ProcessPending(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, pending, reports[0].RecommendationID)

	// Everything is folded in now; a second sweep finds nothing.
	reports, err = h.processor.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestProcessor_ProcessPending_SkipsFailures(t *testing.T) {
	h := newProcessorHarness(t)
	ctx := context.Background()
	h.client.replies = []func() (string, error){
		replyErr(errors.New("llm down")),
		reply(experimentExtraction),
	}

	first := completedRecommendation(t, h.manager, "cellulose")
	second := completedRecommendation(t, h.manager, "lignin")

	// Newest first: the extraction for `second` errors, `first` succeeds.
	reports, err := h.processor.ProcessPending(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, first, reports[0].RecommendationID)

	// The failed record stays unprocessed and is retried on the next sweep.
	reports, err = h.processor.ProcessPending(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, second, reports[0].RecommendationID)
}

func TestProcessor_AutoSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.json")
	h := newProcessorHarness(t, WithAutoSave(path))
	id := completedRecommendation(t, h.manager, "cellulose")

	_, err := h.processor.Process(context.Background(), id)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)

	fresh := memory.NewStore(zap.NewNop())
	require.NoError(t, fresh.Load(context.Background(), path))
	_, err = fresh.GetByTitle("Reline dissolves cellulose in the mid single digits")
	assert.NoError(t, err)
}

func TestNewProcessor_Validation(t *testing.T) {
	h := newProcessorHarness(t)
	extractor, err := extraction.New(h.client, zap.NewNop())
	require.NoError(t, err)

	_, err = NewProcessor(nil, extractor, h.store, zap.NewNop())
	assert.Error(t, err)
	_, err = NewProcessor(h.manager, nil, h.store, zap.NewNop())
	assert.Error(t, err)
	_, err = NewProcessor(h.manager, extractor, nil, zap.NewNop())
	assert.Error(t, err)
}
