package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/feedback"
)

var (
	// feedback command flags
	fbLiquidFormed bool
	fbSolubility   float64
	fbUnit         string
	fbExperimenter string
	fbNotes        string
	fbStatus       string
	fbLimit        int
	fbOutputJSON   bool
)

func init() {
	rootCmd.AddCommand(feedbackCmd)
	feedbackCmd.AddCommand(feedbackRecordCmd)
	feedbackCmd.AddCommand(feedbackListCmd)
	feedbackCmd.AddCommand(feedbackProcessCmd)

	feedbackRecordCmd.Flags().BoolVar(&fbLiquidFormed, "liquid", false, "Whether the components formed a liquid")
	feedbackRecordCmd.Flags().Float64Var(&fbSolubility, "solubility", -1, "Measured solubility of the target material")
	feedbackRecordCmd.Flags().StringVar(&fbUnit, "unit", "", "Solubility unit (default g/L)")
	feedbackRecordCmd.Flags().StringVar(&fbExperimenter, "experimenter", "", "Who ran the experiment")
	feedbackRecordCmd.Flags().StringVar(&fbNotes, "notes", "", "Free-text commentary from the bench")

	feedbackListCmd.Flags().StringVar(&fbStatus, "status", "", "Filter by status (PENDING, COMPLETED, CANCELLED)")
	feedbackListCmd.Flags().IntVar(&fbLimit, "limit", 20, "Maximum number of recommendations to show")
	feedbackListCmd.Flags().BoolVar(&fbOutputJSON, "json", false, "Output as JSON")
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record and process lab experiment results",
	Long: `Record and process lab experiment results for past recommendations.

Every solved task served over the API is persisted as a recommendation
record. Once the formulation has been tried at the bench, record the
measured outcome here; it is distilled into experiment-validated
experience items that outrank the judge's guess on future tasks.

Examples:
  # A liquid formed and dissolved 4.2 g/L of the target
  formulad feedback record REC_20260829_001 --liquid --solubility 4.2

  # The components never formed a liquid
  formulad feedback record REC_20260829_002

  # Distill any completed-but-unprocessed results
  formulad feedback process`,
}

var feedbackRecordCmd = &cobra.Command{
	Use:   "record <recommendation-id>",
	Short: "Record a measured experiment result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		app, err := newApp(ctx, cfg, nil, appOptions{needLLM: true})
		if err != nil {
			return err
		}
		defer app.Close()

		manager, err := feedback.NewManager(cfg.Feedback.DataDir, app.zlog)
		if err != nil {
			return err
		}

		result := feedback.ExperimentResult{
			LiquidFormed: fbLiquidFormed,
			Experimenter: fbExperimenter,
			Notes:        fbNotes,
		}
		if fbUnit != "" {
			result.SolubilityUnit = fbUnit
		}
		if fbSolubility >= 0 {
			result.Solubility = &fbSolubility
		}

		rec, err := manager.SubmitResult(ctx, args[0], result)
		if err != nil {
			return err
		}
		fmt.Printf("Result recorded for %s (performance score %.1f)\n",
			rec.ID, rec.Experiment.PerformanceScore())

		processor, err := feedback.NewProcessor(manager, app.extractor, app.store, app.zlog,
			feedback.WithAutoSave(cfg.Memory.StorePath))
		if err != nil {
			return err
		}
		report, err := processor.Process(ctx, rec.ID)
		if err != nil {
			// The result is safely stored; the next process sweep
			// retries distillation.
			app.zlog.Warn("distilling feedback failed, left for a later sweep", zap.Error(err))
			return nil
		}
		for _, title := range report.MemoriesExtracted {
			fmt.Printf("Distilled: %s\n", title)
		}
		return nil
	},
}

var feedbackListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recommendation records",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		app, err := newApp(cmd.Context(), cfg, nil, appOptions{})
		if err != nil {
			return err
		}
		defer app.Close()

		manager, err := feedback.NewManager(cfg.Feedback.DataDir, app.zlog)
		if err != nil {
			return err
		}

		recs, err := manager.List(cmd.Context(), feedback.Filter{
			Status: feedback.Status(fbStatus),
			Limit:  fbLimit,
		})
		if err != nil {
			return err
		}

		if fbOutputJSON {
			return outputJSON(recs)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tMATERIAL\tFORMULATION\tCONFIDENCE")
		for _, rec := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\n",
				rec.ID, rec.Status, rec.Task.TargetMaterial,
				rec.Formulation.String(), rec.Confidence)
		}
		return w.Flush()
	},
}

var feedbackProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Distill all completed-but-unprocessed experiment results",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		app, err := newApp(ctx, cfg, nil, appOptions{needLLM: true})
		if err != nil {
			return err
		}
		defer app.Close()

		manager, err := feedback.NewManager(cfg.Feedback.DataDir, app.zlog)
		if err != nil {
			return err
		}
		processor, err := feedback.NewProcessor(manager, app.extractor, app.store, app.zlog,
			feedback.WithAutoSave(cfg.Memory.StorePath))
		if err != nil {
			return err
		}

		reports, err := processor.ProcessPending(ctx)
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Println("Nothing pending")
			return nil
		}
		for _, report := range reports {
			fmt.Printf("%s: %d experiences distilled\n",
				report.RecommendationID, len(report.MemoriesExtracted))
		}
		return nil
	},
}
