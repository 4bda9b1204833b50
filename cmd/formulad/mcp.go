package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cruciblelabs/formulad/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP tool server on stdio",
	Long: `Run the Model Context Protocol server on stdio, exposing the
solve_formulation, search_experiences, and memory_stats tools to MCP
clients. Logs go to stderr; stdout carries the protocol.

Example (Claude Desktop / MCP client config):
  { "command": "formulad", "args": ["mcp"] }`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// stdout carries the MCP protocol; logs must go to stderr.
	app, err := newApp(ctx, cfg, nil, appOptions{needLLM: true, needKnowledge: true, stderrLogs: true})
	if err != nil {
		return err
	}
	defer app.Close()

	mcpCfg := mcp.DefaultConfig()
	mcpCfg.Version = version
	mcpCfg.Logger = app.zlog

	srv, err := mcp.NewServer(mcpCfg, app.agent, app.store, app.retriever)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
