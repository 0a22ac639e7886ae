package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowline-dev/flowline/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Flowline configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/flowline/config.yaml
Project-specific overrides can be placed in .flowline.yaml
Per-project workflows live in ~/.config/flowline/workflows.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("platform.base_url: %s\n", orUnset(cfg.Platform.BaseURL))
	fmt.Printf("platform.token: %s (source: %s)\n", config.MaskToken(cfg.Platform.Token), config.GetTokenSource(cfg))
	fmt.Printf("store.driver: %s\n", cfg.Store.Driver)
	fmt.Printf("store.path: %s\n", orUnset(cfg.Store.Path))
	fmt.Printf("store.database_url: %s\n", orUnset(cfg.Store.DatabaseURL))
	fmt.Printf("poller.interval: %s\n", cfg.Poller.Interval)
	fmt.Printf("poller.refresh_every: %d\n", cfg.Poller.RefreshEvery)
	fmt.Printf("poller.max_concurrent: %d\n", cfg.Poller.MaxConcurrent)
	fmt.Printf("poller.backoff_floor: %s\n", cfg.Poller.BackoffFloor)
	fmt.Printf("poller.backoff_ceiling: %s\n", cfg.Poller.BackoffCeiling)
	fmt.Printf("poller.failure_ceiling: %d\n", cfg.Poller.FailureCeiling)
	fmt.Printf("detector.label_prefix: %s\n", cfg.Detector.LabelPrefix)
	fmt.Printf("detector.comment_prefix: %s\n", cfg.Detector.CommentPrefix)
	fmt.Printf("tui.refresh_rate: %s\n", cfg.TUI.RefreshRate)
	fmt.Println()
	fmt.Printf("config file: %s\n", config.GetUserConfigPath())
	fmt.Printf("workflows file: %s\n", config.DefaultWorkflowsPath())
	if project := config.GetProjectConfigPath(); project != "" {
		fmt.Printf("project override: %s\n", project)
	}
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Set %s = %s\n", key, value)
}

func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch key {
	case "platform.base_url":
		return cfg.Platform.BaseURL, nil
	case "platform.token":
		return config.MaskToken(cfg.Platform.Token), nil
	case "store.driver":
		return cfg.Store.Driver, nil
	case "store.path":
		return cfg.Store.Path, nil
	case "store.database_url":
		return cfg.Store.DatabaseURL, nil
	case "poller.interval":
		return cfg.Poller.Interval.String(), nil
	case "poller.refresh_every":
		return strconv.Itoa(cfg.Poller.RefreshEvery), nil
	case "poller.max_concurrent":
		return strconv.Itoa(cfg.Poller.MaxConcurrent), nil
	case "poller.backoff_floor":
		return cfg.Poller.BackoffFloor.String(), nil
	case "poller.backoff_ceiling":
		return cfg.Poller.BackoffCeiling.String(), nil
	case "poller.failure_ceiling":
		return strconv.Itoa(cfg.Poller.FailureCeiling), nil
	case "detector.label_prefix":
		return cfg.Detector.LabelPrefix, nil
	case "detector.comment_prefix":
		return cfg.Detector.CommentPrefix, nil
	case "tui.refresh_rate":
		return cfg.TUI.RefreshRate.String(), nil
	default:
		return "", fmt.Errorf("unknown config key: %s", key)
	}
}

func setConfigValue(cfg *config.Config, key, value string) error {
	switch key {
	case "platform.base_url":
		cfg.Platform.BaseURL = value
	case "platform.token":
		cfg.Platform.Token = value
	case "store.driver":
		if value != "sqlite" && value != "postgres" && value != "memory" {
			return fmt.Errorf("store.driver must be sqlite, postgres, or memory")
		}
		cfg.Store.Driver = value
	case "store.path":
		cfg.Store.Path = value
	case "store.database_url":
		cfg.Store.DatabaseURL = value
	case "poller.interval", "poller.backoff_floor", "poller.backoff_ceiling", "tui.refresh_rate":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s must be a duration (e.g. 30s): %w", key, err)
		}
		switch key {
		case "poller.interval":
			cfg.Poller.Interval = d
		case "poller.backoff_floor":
			cfg.Poller.BackoffFloor = d
		case "poller.backoff_ceiling":
			cfg.Poller.BackoffCeiling = d
		case "tui.refresh_rate":
			cfg.TUI.RefreshRate = d
		}
	case "poller.refresh_every", "poller.max_concurrent", "poller.failure_ceiling":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer", key)
		}
		switch key {
		case "poller.refresh_every":
			cfg.Poller.RefreshEvery = n
		case "poller.max_concurrent":
			cfg.Poller.MaxConcurrent = n
		case "poller.failure_ceiling":
			cfg.Poller.FailureCeiling = n
		}
	case "detector.label_prefix":
		cfg.Detector.LabelPrefix = value
	case "detector.comment_prefix":
		cfg.Detector.CommentPrefix = value
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}
