package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/flowline-dev/flowline/internal/config"
	"github.com/flowline-dev/flowline/internal/store"
	"github.com/flowline-dev/flowline/pkg/models"
)

var (
	statusProject string
	statusIssue   int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline state",
	Long: `Display pipeline state from the store.

Without flags, lists every active pipeline. With --project and --issue,
shows the full state of a single pipeline, including completed agents
and any recorded error.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusProject, "project", "", "Project board ID")
	statusCmd.Flags().IntVar(&statusIssue, "issue", 0, "Issue number")
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	if statusProject != "" && statusIssue > 0 {
		return showOne(cmd, st, models.PipelineKey{ProjectID: statusProject, IssueNumber: statusIssue})
	}
	if statusProject != "" || statusIssue > 0 {
		return fmt.Errorf("--project and --issue must be given together")
	}
	return listActive(cmd, st)
}

func showOne(cmd *cobra.Command, st store.Store, key models.PipelineKey) error {
	rec, err := st.Get(cmd.Context(), key)
	if err != nil {
		if err == store.ErrNotFound {
			return fmt.Errorf("no pipeline for %s", key)
		}
		return fmt.Errorf("read pipeline: %w", err)
	}
	info := rec.State.Info()

	fmt.Printf("Pipeline %s\n", key)
	fmt.Printf("  Status: %s\n", statusColored(info))
	fmt.Printf("  Started: %s ago\n", formatDuration(time.Since(info.StartedAt)))
	fmt.Printf("  Agents: %s\n", strings.Join(info.Agents, " → "))
	if info.CurrentAgent != "" && !info.IsComplete {
		fmt.Printf("  Current: %s (%d of %d)\n", info.CurrentAgent, info.CurrentAgentIndex+1, len(info.Agents))
	}
	if len(info.CompletedAgents) > 0 {
		fmt.Printf("  Completed: %s\n", strings.Join(info.CompletedAgents, ", "))
	}
	if info.Error != "" {
		color.Red("  Error: %s", info.Error)
		fmt.Println("  Run 'flowline resume' to clear the error and retry.")
	}
	return nil
}

func listActive(cmd *cobra.Command, st store.Store) error {
	records, err := st.ListActive(cmd.Context())
	if err != nil {
		return fmt.Errorf("list pipelines: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No active pipelines. Run 'flowline start <issue>' to begin one.")
		return nil
	}

	fmt.Printf("Active pipelines: %d\n\n", len(records))
	for _, rec := range records {
		info := rec.State.Info()
		fmt.Printf("  %s: %s, agent %s (%d/%d done, started %s ago)\n",
			info.ProjectID+"#"+fmt.Sprint(info.IssueNumber),
			string(info.Status),
			info.CurrentAgent,
			len(info.CompletedAgents), len(info.Agents),
			formatDuration(time.Since(info.StartedAt)))
	}
	return nil
}

// statusColored renders the pipeline status with a terminal color.
func statusColored(info *models.PipelineStateInfo) string {
	switch {
	case info.Error != "":
		return color.RedString("errored")
	case info.IsComplete:
		return color.GreenString("complete (in review)")
	default:
		return color.CyanString(string(info.Status))
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
