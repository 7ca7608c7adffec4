// Package main provides the CLI entry point for orcaforge, an interactive
// multi-agent orchestrator: one JSON-RPC 2.0 gateway per deployment, backed
// by a tool registry, an inter-agent mailbox, an MCP transport/proxy
// subsystem, and a session observer.
//
// # Basic usage
//
//	orcaforge serve --config orcaforge.yaml
//	orcaforge replay session.txt --config orcaforge.yaml
//	orcaforge mcp proxy server.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "orcaforge",
		Short:        "orcaforge - interactive multi-agent orchestrator",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	cmd.AddCommand(buildServeCmd(), buildReplayCmd(), buildMCPCmd())
	return cmd
}
