package extraction

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cruciblelabs/formulad/internal/memory"
)

// buildSuccessPrompt solicits confirmed, generalizable tactics from a
// successful trajectory.
func buildSuccessPrompt(traj *memory.Trajectory, maxItems int) string {
	var sb strings.Builder

	sb.WriteString("You are an expert in deep eutectic solvent (DES) formulation design. ")
	sb.WriteString("You will be given a DES design task and the corresponding trajectory that represents ")
	sb.WriteString("how an agent successfully accomplished the task.\n\n")

	sb.WriteString("## Guidelines\n")
	sb.WriteString("Extract and summarize useful insights as memory items based on the agent's successful trajectory. ")
	sb.WriteString("The goal is for the memory items to be helpful and generalizable for future similar DES formulation tasks.\n\n")

	sb.WriteString("## Important Notes\n")
	sb.WriteString("- First think about why the trajectory was successful, then summarize the insights.\n")
	fmt.Fprintf(&sb, "- Extract at most %d memory items from the trajectory.\n", maxItems)
	sb.WriteString("- Do not repeat similar or overlapping items.\n")
	sb.WriteString("- Do not mention specific chemical names in the title or description; focus on generalizable DES design principles.\n")
	sb.WriteString("- Focus on reasoning strategies (e.g., \"prioritize hydrogen bond analysis\", \"check viscosity constraints\"), not just factual knowledge.\n\n")

	writeOutputFormat(&sb)
	writeTaskInput(&sb, traj)

	sb.WriteString("\n**Final Result:**\n")
	sb.WriteString(formatCandidate(traj.FinalResult))
	sb.WriteString("\nNow, extract generalizable reasoning strategies from this successful trajectory:")

	return sb.String()
}

// buildFailurePrompt solicits avoidance lessons from a failed trajectory.
func buildFailurePrompt(traj *memory.Trajectory, maxItems int) string {
	var sb strings.Builder

	sb.WriteString("You are an expert in deep eutectic solvent (DES) formulation design. ")
	sb.WriteString("You will be given a DES design task and the corresponding trajectory that represents ")
	sb.WriteString("how an agent attempted to solve the task but failed.\n\n")

	sb.WriteString("## Guidelines\n")
	sb.WriteString("Extract and summarize useful insights as memory items based on the agent's failed trajectory. ")
	sb.WriteString("The goal is for the memory items to help future similar DES formulation tasks avoid the same mistakes.\n\n")

	sb.WriteString("## Important Notes\n")
	sb.WriteString("- First reflect on why the trajectory failed, then summarize the lessons learned and preventative strategies.\n")
	fmt.Fprintf(&sb, "- Extract at most %d memory items from the trajectory.\n", maxItems)
	sb.WriteString("- Do not repeat similar or overlapping items.\n")
	sb.WriteString("- Do not mention specific chemical names in the title or description; focus on generalizable pitfalls and preventative strategies.\n")
	sb.WriteString("- Focus on the reasoning patterns that led to failure (e.g., \"neglected viscosity constraints\", \"ignored literature warnings\").\n\n")

	writeOutputFormat(&sb)
	writeTaskInput(&sb, traj)

	sb.WriteString("\n**Why It Failed:**\n")
	reason := metaString(traj.Metadata, "failure_reason")
	if reason == "" {
		reason = "Unknown"
	}
	sb.WriteString(reason)
	sb.WriteString("\n\nNow, extract lessons and preventative strategies from this failed trajectory:")

	return sb.String()
}

// buildSelfContrastPrompt presents multiple trajectories for the same task
// side by side and asks for patterns consistent across successes and
// divergences that explain failures.
func buildSelfContrastPrompt(trajectories []*memory.Trajectory, outcomes []memory.Outcome, maxItems int) string {
	var sb strings.Builder

	sb.WriteString("You are an expert in deep eutectic solvent (DES) formulation design. ")
	sb.WriteString("You will be given a DES design task and multiple trajectories showing how an agent attempted the task. ")
	sb.WriteString("Some trajectories may be successful and others may have failed.\n\n")

	sb.WriteString("## Guidelines\n")
	sb.WriteString("Compare and contrast these trajectories to identify the most useful and generalizable strategies as memory items.\n\n")
	sb.WriteString("Use self-contrast reasoning:\n")
	sb.WriteString("- Identify patterns and strategies that consistently led to success.\n")
	sb.WriteString("- Identify mistakes or inefficiencies from failed trajectories and formulate preventative strategies.\n")
	sb.WriteString("- Prefer strategies that generalize beyond specific chemical systems or exact formulations.\n\n")

	sb.WriteString("## Important Notes\n")
	sb.WriteString("- Think first: why did some trajectories succeed while others failed?\n")
	fmt.Fprintf(&sb, "- Extract at most %d memory items from all trajectories combined.\n", maxItems)
	sb.WriteString("- Do not repeat similar or overlapping items.\n")
	sb.WriteString("- Do not mention specific chemical names in the title or description; focus on generalizable DES design principles.\n")
	sb.WriteString("- Each memory item must capture actionable, transferable insights.\n\n")

	writeOutputFormat(&sb)

	sb.WriteString("## Input\n\n")
	sb.WriteString("**Task Description:**\n")
	if len(trajectories) > 0 {
		sb.WriteString(trajectories[0].TaskDescription)
	}
	sb.WriteString("\n\n**Trajectories:**\n")
	for i, traj := range trajectories {
		outcome := memory.OutcomeFailure
		if i < len(outcomes) {
			outcome = outcomes[i]
		}
		fmt.Fprintf(&sb, "\n## Trajectory %d (%s)\n", i+1, strings.ToUpper(string(outcome)))
		sb.WriteString("**Final Result:**\n")
		sb.WriteString(formatCandidate(traj.FinalResult))
		sb.WriteString(formatTrajectory(traj.Steps))
		sb.WriteString("\n---\n")
	}

	sb.WriteString("\nNow, extract generalizable strategies by comparing and contrasting these trajectories:")

	return sb.String()
}

// buildExperimentPrompt solicits data-driven insights from measured lab
// results rather than a binary verdict.
func buildExperimentPrompt(traj *memory.Trajectory, report ExperimentReport, maxItems int) string {
	var sb strings.Builder

	sb.WriteString("You are an expert in deep eutectic solvent (DES) formulation design. ")
	sb.WriteString("You will be given a DES design task, the agent's trajectory, the proposed formulation, ")
	sb.WriteString("and the measured laboratory results for that formulation.\n\n")

	sb.WriteString("## Guidelines\n")
	sb.WriteString("Extract data-driven insights as memory items grounded in the experimental measurements. Focus on:\n")
	sb.WriteString("- Formulation-condition-performance mappings (e.g., a component pair and ratio tied to an observed solubility)\n")
	sb.WriteString("- Component effects on measured performance\n")
	sb.WriteString("- Molar ratio effects\n")
	sb.WriteString("- Temperature effects on DES formation\n\n")

	sb.WriteString("## Important Notes\n")
	fmt.Fprintf(&sb, "- Extract at most %d memory items.\n", maxItems)
	sb.WriteString("- Quantitative relationships belong in the content; keep titles and descriptions generalizable.\n")
	sb.WriteString("- Do not repeat similar or overlapping items.\n\n")

	writeOutputFormat(&sb)
	writeTaskInput(&sb, traj)

	sb.WriteString("\n**Proposed Formulation:**\n")
	sb.WriteString(formatCandidate(traj.FinalResult))

	sb.WriteString("\n**Experimental Results:**\n")
	if report.LiquidFormed {
		sb.WriteString("- DES Formation: yes (liquid formed)\n")
	} else {
		sb.WriteString("- DES Formation: no (remained solid or semi-solid)\n")
	}
	if report.Solubility != nil {
		fmt.Fprintf(&sb, "- Solubility: %g %s\n", *report.Solubility, report.SolubilityUnit)
	} else {
		sb.WriteString("- Solubility: N/A (DES not formed)\n")
	}
	if len(report.Properties) > 0 {
		sb.WriteString("\n**Additional Properties:**\n")
		keys := make([]string, 0, len(report.Properties))
		for k := range report.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %v\n", k, report.Properties[k])
		}
	}
	if report.Notes != "" {
		sb.WriteString("\n**Experimental Notes:** " + report.Notes + "\n")
	}

	sb.WriteString("\nNow, extract data-driven formulation insights from these experimental results:")

	return sb.String()
}

func writeOutputFormat(sb *strings.Builder) {
	sb.WriteString("## Output Format\n")
	sb.WriteString("Your output must strictly follow the Markdown format shown below:\n\n")
	sb.WriteString("# Memory Item 1\n")
	sb.WriteString("## Title: <concise identifier of the strategy>\n")
	sb.WriteString("## Description: <one sentence summary of when/how to apply it>\n")
	sb.WriteString("## Content: <1-5 sentences describing the reasoning steps and decision rationales>\n\n")
	sb.WriteString("# Memory Item 2\n")
	sb.WriteString("## Title: ...\n")
	sb.WriteString("## Description: ...\n")
	sb.WriteString("## Content: ...\n\n")
}

func writeTaskInput(sb *strings.Builder, traj *memory.Trajectory) {
	sb.WriteString("## Input\n\n")
	sb.WriteString("**Task Description:**\n")
	sb.WriteString(traj.TaskDescription)
	sb.WriteString("\n\n")

	if material := metaString(traj.Metadata, "target_material"); material != "" {
		sb.WriteString("**Target Material:** " + material + "\n")
	}
	if temp := metaString(traj.Metadata, "target_temperature"); temp != "" {
		sb.WriteString("**Target Temperature:** " + temp + "\n")
	}
	if constraints := metaString(traj.Metadata, "constraints"); constraints != "" {
		sb.WriteString("**Constraints:** " + constraints + "\n")
	}

	sb.WriteString("\n**Agent Trajectory:**\n")
	sb.WriteString(formatTrajectory(traj.Steps))
}

func formatTrajectory(steps []memory.Step) string {
	if len(steps) == 0 {
		return "No steps recorded\n"
	}

	var sb strings.Builder
	for i, step := range steps {
		fmt.Fprintf(&sb, "\n### Step %d\n", i+1)
		if step.Rationale != "" {
			sb.WriteString("**Reasoning:** " + step.Rationale + "\n")
		}
		if step.Action != "" {
			sb.WriteString("**Action:** " + step.Action + "\n")
		}
		if step.Tool != "" {
			sb.WriteString("**Tool:** " + step.Tool + "\n")
		}
		if step.Observation != "" {
			sb.WriteString("**Observation:** " + step.Observation + "\n")
		}
	}
	return sb.String()
}

func formatCandidate(c *memory.Candidate) string {
	if c == nil {
		return "No final result produced\n"
	}
	var sb strings.Builder
	sb.WriteString("- HBD: " + valueOrNA(c.Formulation.HBD) + "\n")
	sb.WriteString("- HBA: " + valueOrNA(c.Formulation.HBA) + "\n")
	sb.WriteString("- Molar Ratio: " + valueOrNA(c.Formulation.MolarRatio) + "\n")
	if c.Reasoning != "" {
		sb.WriteString("- Reasoning: " + c.Reasoning + "\n")
	}
	return sb.String()
}

func metaString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok || value == nil {
		return ""
	}
	return fmt.Sprintf("%v", value)
}

func valueOrNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
