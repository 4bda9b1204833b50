package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewItem(t *testing.T) {
	t.Run("creates valid item", func(t *testing.T) {
		item, err := NewItem(
			"Prefer choline chloride acceptors",
			"Choline chloride is the safest default HBA for aqueous tasks.",
			"Across tasks involving aqueous extraction, choline chloride paired reliably with polyol donors.",
		)
		require.NoError(t, err)
		assert.Equal(t, "Prefer choline chloride acceptors", item.Title)
		assert.False(t, item.FromSuccess)
		assert.False(t, item.CreatedAt.IsZero())
		assert.NotNil(t, item.Metadata)
		assert.Empty(t, item.Embedding)
	})

	t.Run("rejects empty title", func(t *testing.T) {
		_, err := NewItem("", "desc", "content")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEmptyTitle)
		assert.ErrorIs(t, err, ErrInvalidItem)
	})

	t.Run("rejects whitespace-only title", func(t *testing.T) {
		_, err := NewItem("   \t", "desc", "content")
		assert.ErrorIs(t, err, ErrEmptyTitle)
	})

	t.Run("rejects empty description", func(t *testing.T) {
		_, err := NewItem("title", "", "content")
		assert.ErrorIs(t, err, ErrEmptyDescription)
	})

	t.Run("rejects empty content", func(t *testing.T) {
		_, err := NewItem("title", "desc", "  ")
		assert.ErrorIs(t, err, ErrEmptyContent)
	})
}

func TestItem_EmbeddingText(t *testing.T) {
	item := &Item{Title: "Ratio tuning", Description: "Sweep molar ratios near eutectic point."}
	assert.Equal(t, "Ratio tuning. Sweep molar ratios near eutectic point.", item.EmbeddingText())
}

func TestItem_PromptString(t *testing.T) {
	item := &Item{Title: "Ratio tuning", Content: "Start at 1:2 and adjust toward the eutectic."}
	assert.Equal(t, "**Ratio tuning**\nStart at 1:2 and adjust toward the eutectic.", item.PromptString())
}

func TestItem_Clone(t *testing.T) {
	item, err := NewItem("t", "d", "c")
	require.NoError(t, err)
	item.Embedding = []float32{0.1, 0.2}
	item.Metadata["application"] = "co2_capture"

	clone := item.Clone()
	clone.Embedding[0] = 9.9
	clone.Metadata["application"] = "changed"
	clone.Title = "other"

	assert.Equal(t, float32(0.1), item.Embedding[0])
	assert.Equal(t, "co2_capture", item.Metadata["application"])
	assert.Equal(t, "t", item.Title)
}

func TestQuery_Normalize(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		q := Query{Text: "dissolve lignin"}.Normalize()
		assert.Equal(t, DefaultTopK, q.TopK)
		assert.Equal(t, 0.0, q.MinSimilarity)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		q := Query{Text: "x", TopK: 7, MinSimilarity: 0.5}.Normalize()
		assert.Equal(t, 7, q.TopK)
		assert.Equal(t, 0.5, q.MinSimilarity)
	})

	t.Run("clamps negative similarity", func(t *testing.T) {
		q := Query{Text: "x", MinSimilarity: -1}.Normalize()
		assert.Equal(t, 0.0, q.MinSimilarity)
	})
}

func TestOutcome_Valid(t *testing.T) {
	assert.True(t, OutcomeSuccess.Valid())
	assert.True(t, OutcomeFailure.Valid())
	assert.True(t, OutcomeExperiment.Valid())
	assert.False(t, Outcome("").Valid())
	assert.False(t, Outcome("partial").Valid())
}

func TestTrajectory(t *testing.T) {
	traj := NewTrajectory("Design a DES for cellulose dissolution")
	require.NotEmpty(t, traj.TaskID)
	assert.False(t, traj.Judged())

	traj.RecordStep(Step{Action: "retrieve_experiences", Observation: "2 items"})
	traj.RecordStep(Step{Action: "consult_tool", Tool: "theory"})
	require.Len(t, traj.Steps, 2)

	traj.Outcome = OutcomeSuccess
	assert.True(t, traj.Judged())
}

func TestFormulation_String(t *testing.T) {
	f := Formulation{HBD: "urea", HBA: "choline chloride", MolarRatio: "1:2"}
	assert.Equal(t, "choline chloride : urea (1:2)", f.String())
	assert.False(t, f.Empty())
	assert.True(t, Formulation{}.Empty())
}
