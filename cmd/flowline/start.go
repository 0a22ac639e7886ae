package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowline-dev/flowline/internal/config"
	"github.com/flowline-dev/flowline/internal/orchestrator"
)

var (
	startProject   string
	startWorkflows string
)

var startCmd = &cobra.Command{
	Use:   "start <issue-number>",
	Short: "Start a pipeline for an issue",
	Long: `Start a pipeline for an issue on a project board.

The issue's project must have a workflow configured in workflows.yaml.
The first agent in the chain is assigned immediately and the board
status moves to in-progress; a running 'flowline serve' picks the
pipeline up on its next registry refresh.

Starting an issue that already has a pipeline is a no-op and reports
the existing pipeline.`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startProject, "project", "", "Project board ID (required)")
	startCmd.Flags().StringVar(&startWorkflows, "workflows", "", "Path to workflows.yaml (default: user config dir)")
	startCmd.MarkFlagRequired("project")
}

func runStart(cmd *cobra.Command, args []string) error {
	var issueNumber int
	if _, err := fmt.Sscanf(args[0], "%d", &issueNumber); err != nil || issueNumber <= 0 {
		return fmt.Errorf("invalid issue number %q", args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	registry, err := loadWorkflows(startWorkflows)
	if err != nil {
		return err
	}
	workflow, ok := registry.WorkflowFor(startProject)
	if !ok {
		return fmt.Errorf("no workflow configured for project %q", startProject)
	}

	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()

	pc, err := newPlatformClient(cfg)
	if err != nil {
		return err
	}

	orch := orchestrator.New(st, pc)
	result, err := orch.StartPipeline(ctx, workflow, issueNumber)
	if err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("start pipeline: %s", result.Message)
	}

	fmt.Printf("Pipeline started for %s#%d: %s\n", startProject, issueNumber, result.Message)
	return nil
}
