package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/workflows"
)

var (
	// workflows command flags
	wfArchiveDir string
	wfMaxTraj    int
	wfNoSave     bool
	wfOutputJSON bool
)

func init() {
	rootCmd.AddCommand(workflowsCmd)
	workflowsCmd.AddCommand(workflowsWorkerCmd)
	workflowsCmd.AddCommand(workflowsDistillCmd)

	workflowsDistillCmd.Flags().StringVar(&wfArchiveDir, "archive-dir", "", "Directory of archived trajectory JSON files (required)")
	workflowsDistillCmd.Flags().IntVar(&wfMaxTraj, "max", 0, "Cap on trajectories to process (0 = all)")
	workflowsDistillCmd.Flags().BoolVar(&wfNoSave, "no-save", false, "Skip persisting the store after consolidation")
	workflowsDistillCmd.Flags().BoolVar(&wfOutputJSON, "json", false, "Output the run summary as JSON")
	_ = workflowsDistillCmd.MarkFlagRequired("archive-dir")
}

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "Run batch distillation over Temporal",
	Long: `Run batch distillation workflows over Temporal.

Batch distillation re-judges archived trajectories with the current judge
and constraints, extracts experience items under the fresh verdicts, and
consolidates them into the store in one pass. Useful after tightening the
constraints file or upgrading the judge model.

A worker must be polling the task queue for runs to progress:

  # terminal 1
  formulad workflows worker

  # terminal 2
  formulad workflows run-distill --archive-dir ./archive`,
}

func dialTemporal(hostPort, namespace string) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to temporal at %s: %w", hostPort, err)
	}
	return c, nil
}

var workflowsWorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a distillation worker until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		app, err := newApp(cmd.Context(), cfg, nil, appOptions{needLLM: true})
		if err != nil {
			return err
		}
		defer app.Close()

		acts, err := workflows.NewActivities(app.judge, app.extractor, app.store, app.zlog)
		if err != nil {
			return err
		}

		c, err := dialTemporal(cfg.Temporal.HostPort, cfg.Temporal.Namespace)
		if err != nil {
			return err
		}
		defer c.Close()

		w := workflows.NewWorker(c, acts)
		app.zlog.Info("distillation worker starting",
			zap.String("task_queue", workflows.TaskQueue),
			zap.String("temporal", cfg.Temporal.HostPort))
		if err := w.Run(worker.InterruptCh()); err != nil {
			return fmt.Errorf("worker stopped: %w", err)
		}
		return nil
	},
}

var workflowsDistillCmd = &cobra.Command{
	Use:   "run-distill",
	Short: "Start a batch distillation run and wait for its result",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		c, err := dialTemporal(cfg.Temporal.HostPort, cfg.Temporal.Namespace)
		if err != nil {
			return err
		}
		defer c.Close()

		storePath := cfg.Memory.StorePath
		if wfNoSave {
			storePath = ""
		}
		result, err := workflows.ExecuteDistill(cmd.Context(), c, workflows.DistillConfig{
			ArchiveDir:      wfArchiveDir,
			StorePath:       storePath,
			MaxTrajectories: wfMaxTraj,
		})
		if err != nil {
			return err
		}

		if wfOutputJSON {
			return outputJSON(result)
		}
		fmt.Printf("Trajectories: %d found, %d judged (%d success / %d failure, %d verdicts changed)\n",
			result.Trajectories, result.Judged, result.Successes, result.Failures, result.VerdictChanges)
		fmt.Printf("Experiences:  %d extracted, %d consolidated (store now holds %d)\n",
			result.ItemsExtracted, result.ItemsConsolidated, result.StoreSize)
		for _, e := range result.Errors {
			fmt.Printf("  warning: %s\n", e)
		}
		return nil
	},
}
