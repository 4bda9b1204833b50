package agent

import (
	"fmt"
	"strings"

	"github.com/cruciblelabs/formulad/internal/knowledge"
	"github.com/cruciblelabs/formulad/internal/memory"
	"github.com/cruciblelabs/formulad/internal/retrieval"
)

// buildFormulationPrompt assembles the composite generation prompt: task
// statement, retrieved experiences, knowledge tool sections, operator
// constraints, accumulated refinement feedback, and the JSON output
// instructions.
func buildFormulationPrompt(task Task, memories []*memory.Item, theory, literature *knowledge.Result, constraints string, feedback []string) string {
	var sb strings.Builder

	sb.WriteString("# DES Formulation Design Task\n\n")

	sb.WriteString("## Task\n")
	sb.WriteString(task.Description)
	sb.WriteString("\n\n")
	sb.WriteString("**Target Material:** " + task.TargetMaterial + "\n")
	fmt.Fprintf(&sb, "**Target Temperature:** %g°C\n", task.TargetTemperature)
	if rendered := renderConstraints(task.Constraints); rendered != "" {
		sb.WriteString("**Constraints:** " + rendered + "\n")
	}
	sb.WriteString("\n")

	if section := retrieval.FormatForPrompt(memories); section != "" {
		sb.WriteString(section)
		sb.WriteString("\n")
	}

	if theory != nil && theory.FormattedText != "" {
		sb.WriteString(theory.FormattedText)
		sb.WriteString("\n\n")
	}

	if literature != nil && literature.FormattedText != "" {
		sb.WriteString(literature.FormattedText)
		sb.WriteString("\n\n")
	}

	if constraints = strings.TrimSpace(constraints); constraints != "" {
		sb.WriteString("## Hard Constraints\n\n")
		sb.WriteString("The following operator constraints are mandatory:\n\n")
		sb.WriteString(constraints)
		sb.WriteString("\n\n")
	}

	if len(feedback) > 0 {
		sb.WriteString("## Prior Attempt Feedback\n\n")
		sb.WriteString("Earlier candidates for this task drew the following critique. ")
		sb.WriteString("Address every point in your next design:\n\n")
		for i, f := range feedback {
			fmt.Fprintf(&sb, "### Critique %d\n%s\n\n", i+1, f)
		}
	}

	sb.WriteString(formulationInstructions)

	return sb.String()
}

const formulationInstructions = `## Instructions

Based on the above information, design a DES formulation. Your output must include:

1. **HBD (Hydrogen Bond Donor)**: Component name
2. **HBA (Hydrogen Bond Acceptor)**: Component name
3. **Molar Ratio**: e.g., "1:2" (HBD:HBA)
4. **Reasoning**: Explain your design choices (2-3 sentences)
5. **Confidence**: 0.0 to 1.0
6. **Supporting Evidence**: List key facts from memory/theory/literature

Format your response as JSON:
` + "```json" + `
{
    "formulation": {
        "HBD": "...",
        "HBA": "...",
        "molar_ratio": "..."
    },
    "reasoning": "...",
    "confidence": 0.0,
    "supporting_evidence": ["...", "..."]
}
` + "```" + `
`

// buildObservePrompt asks for a structured self-critique of a candidate
// against the task and constraints. The response drives the refinement
// decision in the generation cycle.
func buildObservePrompt(task Task, candidate *memory.Candidate, constraints string, violations []knowledge.Violation) string {
	var sb strings.Builder

	sb.WriteString("You are reviewing a proposed deep eutectic solvent (DES) formulation ")
	sb.WriteString("before it is committed. Critique it against the task requirements and ")
	sb.WriteString("decide whether it should be revised.\n\n")

	sb.WriteString("## Task\n")
	sb.WriteString(task.Description)
	sb.WriteString("\n\n")
	sb.WriteString("**Target Material:** " + task.TargetMaterial + "\n")
	fmt.Fprintf(&sb, "**Target Temperature:** %g°C\n", task.TargetTemperature)
	if rendered := renderConstraints(task.Constraints); rendered != "" {
		sb.WriteString("**Constraints:** " + rendered + "\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Proposed Formulation\n")
	sb.WriteString("- HBD: " + orNA(candidate.Formulation.HBD) + "\n")
	sb.WriteString("- HBA: " + orNA(candidate.Formulation.HBA) + "\n")
	sb.WriteString("- Molar Ratio: " + orNA(candidate.Formulation.MolarRatio) + "\n")
	fmt.Fprintf(&sb, "- Confidence: %.2f\n", candidate.Confidence)
	sb.WriteString("- Reasoning: " + orNA(candidate.Reasoning) + "\n\n")

	if constraints = strings.TrimSpace(constraints); constraints != "" {
		sb.WriteString("## Hard Constraints\n\n")
		sb.WriteString(constraints)
		sb.WriteString("\n\n")
	}

	if len(violations) > 0 {
		sb.WriteString("## Detected Constraint Violations\n\n")
		for _, v := range violations {
			sb.WriteString("- " + v.String() + "\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString(`## Your Review

Assess whether the formulation is ready: are the components chemically
compatible, is the molar ratio plausible for a eutectic, does the design
address the target material at the target temperature, and are all stated
constraints satisfied?

Respond with ONLY a valid JSON object:

` + "```json" + `
{
    "summary": "<1-2 sentence assessment>",
    "issues": ["<specific problem to fix>", "..."],
    "sufficient": true
}
` + "```" + `

Set "sufficient" to false when the formulation needs revision, and list
the concrete problems in "issues".
`)

	return sb.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
