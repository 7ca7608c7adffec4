package main

import (
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// serve
// =============================================================================

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orcaforge gateway server",
		Long: `Start the JSON-RPC 2.0 gateway: one WebSocket session per connection,
agent turns dispatched through the tool registry, mailbox, and MCP pool,
each session watched by an Observer.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "orcaforge.yaml", "Path to YAML configuration file")
	return cmd
}

// =============================================================================
// replay
// =============================================================================

func buildReplayCmd() *cobra.Command {
	var configPath string
	var turnTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "replay [file]",
		Short: "Drive a session end-to-end from a line-oriented conversation file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), configPath, args[0], turnTimeout)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "orcaforge.yaml", "Path to YAML configuration file")
	cmd.Flags().DurationVar(&turnTimeout, "turn-timeout", 0, "Per-turn timeout (0 disables)")
	return cmd
}

// =============================================================================
// mcp
// =============================================================================

func buildMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "MCP subprocess supervision commands",
	}
	cmd.AddCommand(buildMCPProxyCmd())
	return cmd
}

func buildMCPProxyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "proxy [server-config]",
		Short: "Run a persistent stdio MCP proxy over a supervised child server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPProxy(cmd.Context(), args[0])
		},
	}
}
