package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cruciblelabs/formulad/internal/memory"
)

var (
	// memory command flags
	memSuccessOnly bool
	memFailureOnly bool
	memLimit       int
	memOutputJSON  bool
)

func init() {
	rootCmd.AddCommand(memoryCmd)
	memoryCmd.AddCommand(memoryListCmd)
	memoryCmd.AddCommand(memoryShowCmd)
	memoryCmd.AddCommand(memoryStatsCmd)
	memoryCmd.AddCommand(memoryExportCmd)
	memoryCmd.AddCommand(memoryImportCmd)
	memoryCmd.AddCommand(memoryRmCmd)

	memoryListCmd.Flags().BoolVar(&memSuccessOnly, "success", false, "Only experiences distilled from successes")
	memoryListCmd.Flags().BoolVar(&memFailureOnly, "failure", false, "Only experiences distilled from failures")
	memoryListCmd.Flags().IntVar(&memLimit, "limit", 0, "Maximum number of items to show (0 = all)")
	memoryListCmd.Flags().BoolVar(&memOutputJSON, "json", false, "Output as JSON")
	memoryShowCmd.Flags().BoolVar(&memOutputJSON, "json", false, "Output as JSON")
	memoryStatsCmd.Flags().BoolVar(&memOutputJSON, "json", false, "Output as JSON")
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and manage the experience store",
	Long: `Inspect and manage the experience store: the distilled strategies the
agent consults when solving formulation tasks.

Examples:
  # List stored experiences
  formulad memory list

  # Show one experience in full
  formulad memory show "Prefer ChCl-based acceptors for lignin"

  # Move a store between machines
  formulad memory export backup.json
  formulad memory import backup.json`,
}

// openStoreApp wires just enough to operate on the store file. No LLM
// credentials or knowledge backends are touched.
func openStoreApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, nil, appOptions{})
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored experiences",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openStoreApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		filters := map[string]any{}
		if memSuccessOnly {
			filters["is_from_success"] = true
		}
		if memFailureOnly {
			filters["is_from_success"] = false
		}
		items := app.store.Filter(filters)
		if memLimit > 0 && len(items) > memLimit {
			items = items[:memLimit]
		}

		if memOutputJSON {
			return outputJSON(items)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TITLE\tFROM\tCREATED\tDESCRIPTION")
		for _, item := range items {
			from := "failure"
			if item.FromSuccess {
				from = "success"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				item.Title, from,
				item.CreatedAt.Format("2006-01-02"),
				truncate(item.Description, 60))
		}
		return w.Flush()
	},
}

var memoryShowCmd = &cobra.Command{
	Use:   "show <title>",
	Short: "Show one experience in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openStoreApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		item, err := app.store.GetByTitle(args[0])
		if err != nil {
			return err
		}
		if memOutputJSON {
			return outputJSON(item)
		}
		printItem(item)
		return nil
	},
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show experience store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openStoreApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		stats := app.store.Statistics()
		if memOutputJSON {
			return outputJSON(stats)
		}
		fmt.Printf("Items:       %d / %d (%.0f%% full)\n", stats.Total, stats.Capacity, stats.Utilization*100)
		fmt.Printf("Provenance:  %d from success, %d from failure\n", stats.FromSuccess, stats.FromFailure)
		fmt.Printf("Embeddings:  %d of %d items\n", stats.WithEmbeddings, stats.Total)
		return nil
	},
}

var memoryExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export the experience store to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openStoreApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.store.Save(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Exported %d experiences to %s\n", app.store.Len(), args[0])
		return nil
	},
}

var memoryImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the experience store with a JSON file's contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openStoreApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.store.Load(cmd.Context(), args[0]); err != nil {
			return err
		}
		if err := app.saveStore(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("Imported %d experiences from %s\n", app.store.Len(), args[0])
		return nil
	},
}

var memoryRmCmd = &cobra.Command{
	Use:   "rm <title>",
	Short: "Remove one experience by title",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openStoreApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.store.RemoveByTitle(args[0]); err != nil {
			return err
		}
		if err := app.saveStore(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("Removed %q\n", args[0])
		return nil
	},
}

func printItem(item *memory.Item) {
	from := "failure"
	if item.FromSuccess {
		from = "success"
	}
	fmt.Printf("Title:       %s\n", item.Title)
	fmt.Printf("Description: %s\n", item.Description)
	fmt.Printf("Content:     %s\n", item.Content)
	fmt.Printf("From:        %s\n", from)
	if item.SourceTaskID != "" {
		fmt.Printf("Source task: %s\n", item.SourceTaskID)
	}
	fmt.Printf("Created:     %s\n", item.CreatedAt.Format("2006-01-02 15:04:05"))
	if len(item.Metadata) > 0 {
		fmt.Println("Metadata:")
		for k, v := range item.Metadata {
			fmt.Printf("  %s: %v\n", k, v)
		}
	}
}
