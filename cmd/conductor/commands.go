// commands.go contains the cobra command definitions and their flags. Each
// command builder wires a command to its handler, mirroring main.go's own
// separation of command tree from command logic.
package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the orchestration
// core: ingest HTTP surface, reactive worker pool, proactive scheduler,
// approval expiry sweep, and deployment controller.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestration core",
		Long: `Start the orchestration core with its full component set.

The server will:
1. Load and validate configuration
2. Open the Postgres store
3. Start the HTTP surface (webhook ingest, health, metrics, deployments)
4. Start the reactive worker pool
5. Start the proactive scheduler
6. Start the approval expiry sweep

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config path
  conductor serve

  # Start with a custom config file
  conductor serve --config /etc/conductor/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "conductor.yaml", "Path to YAML configuration file")
	return cmd
}

// buildMigrateCmd creates the "migrate" command that applies the Store's
// schema.
func buildMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Store's schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "conductor.yaml", "Path to YAML configuration file")
	return cmd
}
