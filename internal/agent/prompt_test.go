package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruciblelabs/formulad/internal/knowledge"
	"github.com/cruciblelabs/formulad/internal/memory"
)

func TestBuildFormulationPrompt_SectionOrder(t *testing.T) {
	item, err := memory.NewItem("Prefer chloride-rich acceptors",
		"Applies to polysaccharide targets.",
		"Chloride anions disrupt inter-chain hydrogen bonds.")
	require.NoError(t, err)

	theory := &knowledge.Result{FormattedText: "## Theoretical Knowledge\n\n1. Donors matter"}
	literature := &knowledge.Result{FormattedText: "## Literature Precedents\n\nDocument 1"}

	prompt := buildFormulationPrompt(sampleTask(), []*memory.Item{item}, theory, literature,
		"- Forbidden components (must not appear): phenol",
		[]string{"Ratio too extreme.", "Still too extreme."})

	sections := []string{
		"# DES Formulation Design Task",
		"## Task",
		"**Target Material:** cellulose",
		"**Target Temperature:** 60°C",
		"**Constraints:** toxicity: low",
		"## Relevant Past Experiences",
		"## Theoretical Knowledge",
		"## Literature Precedents",
		"## Hard Constraints",
		"## Prior Attempt Feedback",
		"### Critique 1",
		"### Critique 2",
		"## Instructions",
		"Format your response as JSON",
	}
	last := -1
	for _, section := range sections {
		idx := strings.Index(prompt, section)
		require.GreaterOrEqual(t, idx, 0, "missing section %q", section)
		assert.Greater(t, idx, last, "section %q out of order", section)
		last = idx
	}

	assert.Contains(t, prompt, "Prefer chloride-rich acceptors")
	assert.Contains(t, prompt, "phenol")
	assert.Contains(t, prompt, "Ratio too extreme.")
}

func TestBuildFormulationPrompt_Minimal(t *testing.T) {
	task := Task{Description: "Dissolve lignin", TargetMaterial: "lignin", TargetTemperature: 25}

	prompt := buildFormulationPrompt(task, nil, nil, nil, "", nil)

	assert.Contains(t, prompt, "# DES Formulation Design Task")
	assert.Contains(t, prompt, "**Target Temperature:** 25°C")
	assert.Contains(t, prompt, "## Instructions")

	assert.NotContains(t, prompt, "**Constraints:**")
	assert.NotContains(t, prompt, "## Relevant Past Experiences")
	assert.NotContains(t, prompt, "## Theoretical Knowledge")
	assert.NotContains(t, prompt, "## Literature Precedents")
	assert.NotContains(t, prompt, "## Hard Constraints")
	assert.NotContains(t, prompt, "## Prior Attempt Feedback")
}

func TestBuildFormulationPrompt_TemperatureFormat(t *testing.T) {
	task := Task{Description: "d", TargetMaterial: "m", TargetTemperature: 37.5}
	prompt := buildFormulationPrompt(task, nil, nil, nil, "", nil)
	assert.Contains(t, prompt, "**Target Temperature:** 37.5°C")
}

func TestBuildFormulationPrompt_SkipsEmptyToolSections(t *testing.T) {
	empty := &knowledge.Result{FormattedText: ""}
	prompt := buildFormulationPrompt(sampleTask(), nil, empty, empty, "", nil)
	assert.NotContains(t, prompt, "## Theoretical Knowledge")
	assert.NotContains(t, prompt, "## Literature Precedents")
}

func TestBuildObservePrompt(t *testing.T) {
	candidate := &memory.Candidate{
		Formulation: memory.Formulation{HBD: "urea", HBA: "choline chloride", MolarRatio: "2:1"},
		Reasoning:   "Classic reline pairing.",
		Confidence:  0.82,
	}
	violations := []knowledge.Violation{
		{Rule: "forbidden_component", Message: "component \"urea\" is forbidden"},
	}

	prompt := buildObservePrompt(sampleTask(), candidate, "- Forbidden components (must not appear): urea", violations)

	assert.Contains(t, prompt, "You are reviewing a proposed deep eutectic solvent")
	assert.Contains(t, prompt, "- HBD: urea")
	assert.Contains(t, prompt, "- HBA: choline chloride")
	assert.Contains(t, prompt, "- Molar Ratio: 2:1")
	assert.Contains(t, prompt, "- Confidence: 0.82")
	assert.Contains(t, prompt, "- Reasoning: Classic reline pairing.")
	assert.Contains(t, prompt, "## Hard Constraints")
	assert.Contains(t, prompt, "## Detected Constraint Violations")
	assert.Contains(t, prompt, "component \"urea\" is forbidden")
	assert.Contains(t, prompt, `Set "sufficient" to false`)
}

func TestBuildObservePrompt_EmptyFieldsRenderNA(t *testing.T) {
	candidate := &memory.Candidate{Formulation: memory.Formulation{HBD: "urea"}}

	prompt := buildObservePrompt(sampleTask(), candidate, "", nil)

	assert.Contains(t, prompt, "- HBA: N/A")
	assert.Contains(t, prompt, "- Reasoning: N/A")
	assert.NotContains(t, prompt, "## Detected Constraint Violations")
}
