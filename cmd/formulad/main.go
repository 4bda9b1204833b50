// Package main implements the formulad binary: a CLI and daemon for
// memory-guided deep eutectic solvent formulation.
//
// Single-shot commands (solve, batch, memory, feedback) load the
// experience store, do their work, and exit. Long-running commands
// (serve, mcp, distill worker) stay up until interrupted.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cruciblelabs/formulad/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// cfgFile is the optional config file path shared by every command.
var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "formulad",
	Short: "Memory-guided DES formulation recommendation",
	Long: `formulad recommends deep eutectic solvent formulations for dissolution
tasks. Each solved task is judged, distilled into reusable strategy
memories, and consulted on future tasks, so recommendations improve as
the experience store grows.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path (default: $HOME/.config/formulad/config.yaml)")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("formulad\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

// loadConfig reads the effective configuration, honoring --config when
// set and falling back to the default search path otherwise.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadWithFile(cfgFile)
	}
	return config.Load()
}

// Helper functions shared by subcommands.

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
