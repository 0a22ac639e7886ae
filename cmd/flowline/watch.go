package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowline-dev/flowline/internal/config"
	"github.com/flowline-dev/flowline/internal/tui"
	"github.com/flowline-dev/flowline/pkg/models"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show a live dashboard of active pipelines",
	Long: `Show a read-only dashboard of the active pipelines.

The dashboard refreshes from the state store; it does not poll the
agent platform and can run alongside a 'flowline serve' process (or
several, when the store is Postgres).`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()

	fetch := func(ctx context.Context) ([]*models.PipelineStateInfo, error) {
		records, err := st.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		infos := make([]*models.PipelineStateInfo, 0, len(records))
		for _, rec := range records {
			infos = append(infos, rec.State.Info())
		}
		return infos, nil
	}

	if err := tui.Run(ctx, fetch, nil, cfg.TUI.RefreshRate); err != nil && ctx.Err() == nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
