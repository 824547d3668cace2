// Package main provides the CLI entry point for the conversational
// orchestration core.
//
// conductor ingests normalized chat-platform events, dispatches them
// through a classify/execute/answer job pipeline, gates risky tool calls
// behind human approval, runs a budget-aware proactive scheduler against a
// task backlog, and drives deployment promotion through a verify-then-
// promote-or-rollback state machine.
//
// # Basic Usage
//
// Start the server:
//
//	conductor serve --config conductor.yaml
//
// Apply the Store's schema:
//
//	conductor migrate
//
// # Environment Variables
//
//   - CONDUCTOR_STORE_DSN: Postgres connection string
//   - CONDUCTOR_INGEST_SIGNING_SECRET: HMAC secret for inbound webhook signatures
//   - CONDUCTOR_REDIS_ADDR: Redis address backing the scheduler leader lock
//   - CONDUCTOR_METRICS_PORT: metrics/health listener port
//   - CONDUCTOR_DAILY_TOKEN_LIMIT: proactive scheduler's daily token budget
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Populated via -ldflags at release build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conductor",
		Short: "conductor - conversational autonomous-agent orchestration core",
		Long: `conductor ingests chat-platform events, dispatches them through a
classify/execute/answer job pipeline, gates risky tool calls behind human
approval, runs a budget-aware proactive scheduler, and promotes deployments
through a verify-then-promote-or-rollback state machine.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
	)

	return rootCmd
}
