package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowline-dev/flowline/internal/config"
	"github.com/flowline-dev/flowline/internal/orchestrator"
	"github.com/flowline-dev/flowline/internal/poller"
	"github.com/flowline-dev/flowline/internal/tui"
	"github.com/flowline-dev/flowline/pkg/models"
)

var (
	serveWorkflows string
	serveTUI       bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the polling loop for all active pipelines",
	Long: `Run the Flowline poller until interrupted.

The poller tracks every active pipeline in the state store, polls the
agent platform on a fixed cadence, and advances pipelines as agents
finish. The workflow registry file is watched for changes, so projects
can be added, disabled, or retuned without a restart.

With --tui a live dashboard replaces the plain log output.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveWorkflows, "workflows", "", "Path to workflows.yaml (default: user config dir)")
	serveCmd.Flags().BoolVar(&serveTUI, "tui", false, "Show the live dashboard while serving")
}

func runServe(cmd *cobra.Command, args []string) error {
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

	pc, err := newPlatformClient(cfg)
	if err != nil {
		return err
	}

	registry, err := loadWorkflows(serveWorkflows)
	if err != nil {
		return err
	}
	watchStop := make(chan struct{})
	defer close(watchStop)
	if err := registry.Watch(watchStop); err != nil {
		log.Printf("[serve] workflow file watch disabled: %v", err)
	}

	var emitter orchestrator.NotificationEmitter = orchestrator.LogEmitter{}
	var events *orchestrator.ChannelEmitter
	if serveTUI {
		events = orchestrator.NewChannelEmitter(64)
		defer events.Close()
		emitter = orchestrator.MultiEmitter{orchestrator.LogEmitter{}, events}
	}

	orch := orchestrator.New(st, pc, orchestrator.WithEmitter(emitter))
	p := poller.New(pollerConfig(cfg), st, pc, orch, registry, newDetector(cfg))

	if !serveTUI {
		err := p.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	}

	pollDone := make(chan error, 1)
	go func() { pollDone <- p.Run(ctx) }()

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

	if err := tui.Run(ctx, fetch, events.Notifications(), cfg.TUI.RefreshRate); err != nil && ctx.Err() == nil {
		stop()
		<-pollDone
		return fmt.Errorf("dashboard: %w", err)
	}
	stop()
	if err := <-pollDone; err != nil && err != context.Canceled {
		return err
	}
	return nil
}
