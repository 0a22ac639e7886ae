package main

import (
	"context"
	"fmt"

	"github.com/flowline-dev/flowline/internal/config"
	"github.com/flowline-dev/flowline/internal/detector"
	"github.com/flowline-dev/flowline/internal/platform"
	"github.com/flowline-dev/flowline/internal/poller"
	"github.com/flowline-dev/flowline/internal/store"
)

// openStore builds the pipeline state store selected by configuration.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = store.DefaultSQLitePath()
		}
		return store.OpenSQLite(path)
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, fmt.Errorf("store driver is postgres but store.database_url is empty")
		}
		return store.OpenPostgres(ctx, cfg.Store.DatabaseURL)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// newPlatformClient builds the agent-platform API client.
func newPlatformClient(cfg *config.Config) (platform.Client, error) {
	if cfg.Platform.BaseURL == "" {
		return nil, fmt.Errorf("platform.base_url is not configured; run 'flowline config' for paths")
	}
	token, err := config.GetToken(cfg)
	if err != nil {
		return nil, err
	}
	return platform.NewHTTPClient(cfg.Platform.BaseURL, token)
}

// newDetector builds the completion detector from the configured marker
// conventions.
func newDetector(cfg *config.Config) *detector.Detector {
	var preds []detector.MarkerPredicate
	if cfg.Detector.LabelPrefix != "" {
		preds = append(preds, detector.LabelMarker(cfg.Detector.LabelPrefix))
	}
	if cfg.Detector.CommentPrefix != "" {
		preds = append(preds, detector.CommentMarker(cfg.Detector.CommentPrefix))
	}
	if len(preds) == 0 {
		return detector.New(detector.DefaultMarker())
	}
	return detector.New(detector.AnyMarker(preds...))
}

// pollerConfig maps the app configuration onto the poller's tuning.
func pollerConfig(cfg *config.Config) poller.Config {
	return poller.Config{
		Interval:       cfg.Poller.Interval,
		RefreshEvery:   cfg.Poller.RefreshEvery,
		MaxConcurrent:  cfg.Poller.MaxConcurrent,
		BackoffFloor:   cfg.Poller.BackoffFloor,
		BackoffCeiling: cfg.Poller.BackoffCeiling,
		FailureCeiling: cfg.Poller.FailureCeiling,
	}
}

// loadWorkflows loads the workflow registry, preferring an explicit path.
func loadWorkflows(path string) (*config.Registry, error) {
	if path == "" {
		path = config.DefaultWorkflowsPath()
	}
	reg, err := config.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load workflows: %w", err)
	}
	return reg, nil
}
