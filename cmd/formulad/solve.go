package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cruciblelabs/formulad/internal/agent"
)

var (
	// solve command flags
	solveDescription string
	solveMaterial    string
	solveTemperature float64
	solveCategory    string
	solveConstraints []string
	solveParallel    int
	solveOutputJSON  bool
)

func init() {
	rootCmd.AddCommand(solveCmd)

	solveCmd.Flags().StringVar(&solveDescription, "description", "", "Natural-language statement of the design goal (required)")
	solveCmd.Flags().StringVar(&solveMaterial, "material", "", "Target material to dissolve (required)")
	solveCmd.Flags().Float64Var(&solveTemperature, "temperature", 0, "Working temperature in °C (default 25)")
	solveCmd.Flags().StringVar(&solveCategory, "category", "", "Material category for literature filtering (polymer, mineral, ...)")
	solveCmd.Flags().StringArrayVar(&solveConstraints, "constraint", nil, "Named constraint as key=value (repeatable)")
	solveCmd.Flags().IntVar(&solveParallel, "parallel", 0, "Generate N candidates concurrently and keep the best")
	solveCmd.Flags().BoolVar(&solveOutputJSON, "json", false, "Output the full result as JSON")
	_ = solveCmd.MarkFlagRequired("description")
	_ = solveCmd.MarkFlagRequired("material")
}

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Solve one formulation task",
	Long: `Solve one formulation task through the full experience loop:
retrieve past experiences, consult the theory and literature knowledge
bases, generate a candidate formulation, judge it, and distill the
attempt back into the experience store.

Examples:
  # Recommend a DES for dissolving lignin
  formulad solve --description "Dissolve lignin at moderate temperature" --material lignin

  # Pin the working temperature and forbid a component
  formulad solve --description "Dissolve cellulose" --material cellulose \
    --temperature 60 --constraint "toxicity=no chlorinated components"

  # Best of four concurrent candidates
  formulad solve --description "Dissolve chitin" --material chitin --parallel 4`,
	RunE: runSolve,
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := newApp(ctx, cfg, nil, appOptions{needLLM: true, needKnowledge: true})
	if err != nil {
		return err
	}
	defer app.Close()

	task := agent.Task{
		Description:       solveDescription,
		TargetMaterial:    solveMaterial,
		TargetTemperature: solveTemperature,
		MaterialCategory:  solveCategory,
		Constraints:       parseConstraintFlags(solveConstraints),
	}

	var res *agent.Result
	if solveParallel > 1 {
		res, err = app.agent.SolveParallel(ctx, task, solveParallel)
	} else {
		res, err = app.agent.Solve(ctx, task)
	}
	if err != nil {
		return err
	}

	if solveOutputJSON {
		return outputJSON(res)
	}
	printResult(res)
	return nil
}

// parseConstraintFlags converts repeated key=value flags into the task
// constraint map. A value without '=' becomes a requirement keyed by
// its ordinal.
func parseConstraintFlags(raw []string) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	constraints := make(map[string]string, len(raw))
	for i, entry := range raw {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			key = fmt.Sprintf("requirement_%d", i+1)
			value = entry
		}
		constraints[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return constraints
}

func printResult(res *agent.Result) {
	fmt.Printf("Task:        %s\n", res.TaskID)
	fmt.Printf("Outcome:     %s\n", res.Outcome)
	if res.Candidate != nil {
		f := res.Candidate.Formulation
		fmt.Printf("Formulation: %s\n", f.String())
		fmt.Printf("Confidence:  %.2f\n", res.Candidate.Confidence)
		if res.Candidate.Reasoning != "" {
			fmt.Printf("Reasoning:   %s\n", truncate(res.Candidate.Reasoning, 400))
		}
	}
	if res.FailureReason != "" {
		fmt.Printf("Reason:      %s\n", res.FailureReason)
	}
	fmt.Printf("Experiences: %d consulted", res.ExperiencesConsulted)
	if len(res.MemoriesUsed) > 0 {
		fmt.Printf(" (%s)", strings.Join(res.MemoriesUsed, ", "))
	}
	fmt.Println()
	if len(res.MemoriesExtracted) > 0 {
		fmt.Printf("Distilled:   %s\n", strings.Join(res.MemoriesExtracted, ", "))
	}
}
