package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowline-dev/flowline/internal/config"
	"github.com/flowline-dev/flowline/internal/orchestrator"
	"github.com/flowline-dev/flowline/pkg/models"
)

var resumeProject string

var resumeCmd = &cobra.Command{
	Use:   "resume <issue-number>",
	Short: "Clear a pipeline's error and resume polling",
	Long: `Clear the recorded error on a failed pipeline.

The pipeline's position is untouched: the next poll cycle re-observes
the platform and carries on from the agent that was current when the
failure happened. Use this after fixing whatever made the pipeline
fail (an agent gone missing, a revoked token, a deleted board column).`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeProject, "project", "", "Project board ID (required)")
	resumeCmd.MarkFlagRequired("project")
}

func runResume(cmd *cobra.Command, args []string) error {
	var issueNumber int
	if _, err := fmt.Sscanf(args[0], "%d", &issueNumber); err != nil || issueNumber <= 0 {
		return fmt.Errorf("invalid issue number %q", args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()

	orch := orchestrator.New(st, nil)
	info, err := orch.ResumePipeline(ctx, models.PipelineKey{ProjectID: resumeProject, IssueNumber: issueNumber})
	if err != nil {
		return fmt.Errorf("resume pipeline: %w", err)
	}

	fmt.Printf("Pipeline %s#%d resumed at agent %s (%d of %d).\n",
		resumeProject, issueNumber, info.CurrentAgent, info.CurrentAgentIndex+1, len(info.Agents))
	return nil
}
