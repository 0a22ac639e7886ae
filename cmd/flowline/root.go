package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "flowline",
	Short: "Multi-agent workflow orchestrator",
	Long: `Flowline drives project-board issues through an ordered chain of
autonomous coding agents.

Each issue gets a pipeline: the first agent is assigned and the board
status moves to in-progress; Flowline then polls the platform until the
agent signals completion, hands the issue to the next agent, and finally
moves it into review for a human once every agent has finished.

Core capabilities:
- Durable per-issue pipeline state that survives restarts
- Poll-based completion detection (no webhooks required)
- Per-pipeline backoff so one flaky issue never stalls the rest
- Strictly ordered agent chains with exactly-once transitions`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
