package main

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/agent"
)

var (
	// batch command flags
	batchContinueOnError bool
	batchOutputJSON      bool
)

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().BoolVar(&batchContinueOnError, "continue-on-error", true, "Keep going when a task fails")
	batchCmd.Flags().BoolVar(&batchOutputJSON, "json", false, "Output all results as JSON")
}

var batchCmd = &cobra.Command{
	Use:   "batch <tasks.yaml>",
	Short: "Solve a YAML list of formulation tasks",
	Long: `Solve every task in a YAML file sequentially through the experience
loop. Later tasks benefit from the experiences distilled out of earlier
ones, so ordering the file from simple to hard tends to help.

The file holds a top-level "tasks" list:

  tasks:
    - description: Dissolve lignin at moderate temperature
      target_material: lignin
    - description: Dissolve cellulose below 60C
      target_material: cellulose
      target_temperature: 60
      constraints:
        toxicity: no chlorinated components

Example:
  formulad batch tasks.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

// batchTaskFile is the schema of the batch input file.
type batchTaskFile struct {
	Tasks []agent.Task `koanf:"tasks"`
}

// batchOutcome pairs one task with its result or error for reporting.
type batchOutcome struct {
	Task   agent.Task    `json:"task"`
	Result *agent.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func loadTaskFile(path string) ([]agent.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task file: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parsing task file: %w", err)
	}

	var file batchTaskFile
	if err := k.Unmarshal("", &file); err != nil {
		return nil, fmt.Errorf("decoding task file: %w", err)
	}
	if len(file.Tasks) == 0 {
		return nil, fmt.Errorf("task file %s contains no tasks", path)
	}
	return file.Tasks, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	tasks, err := loadTaskFile(args[0])
	if err != nil {
		return err
	}

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

	outcomes := make([]batchOutcome, 0, len(tasks))
	var failures int
	for i, task := range tasks {
		app.zlog.Info("batch task starting",
			zap.Int("index", i+1),
			zap.Int("total", len(tasks)),
			zap.String("material", task.TargetMaterial))

		res, err := app.agent.Solve(ctx, task)
		outcome := batchOutcome{Task: task, Result: res}
		if err != nil {
			failures++
			outcome.Error = err.Error()
			if !batchContinueOnError {
				outcomes = append(outcomes, outcome)
				reportBatch(outcomes, failures)
				return fmt.Errorf("task %d/%d: %w", i+1, len(tasks), err)
			}
		}
		outcomes = append(outcomes, outcome)
	}

	reportBatch(outcomes, failures)
	if failures > 0 {
		return fmt.Errorf("%d of %d tasks failed", failures, len(tasks))
	}
	return nil
}

func reportBatch(outcomes []batchOutcome, failures int) {
	if batchOutputJSON {
		_ = outputJSON(outcomes)
		return
	}
	for i, o := range outcomes {
		fmt.Printf("--- task %d: %s\n", i+1, truncate(o.Task.Description, 80))
		switch {
		case o.Error != "":
			fmt.Printf("    error: %s\n", o.Error)
		case o.Result != nil:
			printResult(o.Result)
		}
	}
	fmt.Printf("%d tasks, %d failed\n", len(outcomes), failures)
}
