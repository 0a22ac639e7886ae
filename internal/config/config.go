// Package config handles configuration loading and management for Flowline.
// It supports XDG config paths, project-level overrides, environment
// variables, and the per-project workflow registry.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Flowline.
type Config struct {
	Platform PlatformConfig `mapstructure:"platform"`
	Store    StoreConfig    `mapstructure:"store"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Detector DetectorConfig `mapstructure:"detector"`
	TUI      TUIConfig      `mapstructure:"tui"`
}

// PlatformConfig holds the agent-platform API settings.
type PlatformConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// StoreConfig selects and configures the pipeline state store.
type StoreConfig struct {
	// Driver is one of "sqlite", "postgres", or "memory".
	Driver string `mapstructure:"driver"`
	// Path is the SQLite database file. Empty means the XDG default.
	Path string `mapstructure:"path"`
	// DatabaseURL is the Postgres connection string when driver is
	// "postgres".
	DatabaseURL string `mapstructure:"database_url"`
}

// PollerConfig holds the polling cadence and backoff tuning.
type PollerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	RefreshEvery   int           `mapstructure:"refresh_every"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	BackoffFloor   time.Duration `mapstructure:"backoff_floor"`
	BackoffCeiling time.Duration `mapstructure:"backoff_ceiling"`
	FailureCeiling int           `mapstructure:"failure_ceiling"`
}

// DetectorConfig holds the completion-marker conventions agents follow.
type DetectorConfig struct {
	// LabelPrefix matches labels like "done:<agent>".
	LabelPrefix string `mapstructure:"label_prefix"`
	// CommentPrefix matches comments starting "agent-complete:<agent>".
	CommentPrefix string `mapstructure:"comment_prefix"`
}

// TUIConfig holds dashboard display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (FLOWLINE_PLATFORM_TOKEN etc.)
// 2. Project config (.flowline.yaml in current directory or parent)
// 3. User config (~/.config/flowline/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("")

	v.BindEnv("platform.token", "FLOWLINE_PLATFORM_TOKEN")
	v.BindEnv("platform.base_url", "FLOWLINE_PLATFORM_URL")
	v.BindEnv("store.database_url", "FLOWLINE_DATABASE_URL")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Platform.Token = expandEnv(cfg.Platform.Token)
	cfg.Store.DatabaseURL = expandEnv(cfg.Store.DatabaseURL)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Platform.Token = expandEnv(cfg.Platform.Token)
	cfg.Store.DatabaseURL = expandEnv(cfg.Store.DatabaseURL)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("platform.base_url", cfg.Platform.BaseURL)
	v.Set("platform.token", cfg.Platform.Token)
	v.Set("store.driver", cfg.Store.Driver)
	v.Set("store.path", cfg.Store.Path)
	v.Set("store.database_url", cfg.Store.DatabaseURL)
	v.Set("poller.interval", cfg.Poller.Interval.String())
	v.Set("poller.refresh_every", cfg.Poller.RefreshEvery)
	v.Set("poller.max_concurrent", cfg.Poller.MaxConcurrent)
	v.Set("poller.backoff_floor", cfg.Poller.BackoffFloor.String())
	v.Set("poller.backoff_ceiling", cfg.Poller.BackoffCeiling.String())
	v.Set("poller.failure_ceiling", cfg.Poller.FailureCeiling)
	v.Set("detector.label_prefix", cfg.Detector.LabelPrefix)
	v.Set("detector.comment_prefix", cfg.Detector.CommentPrefix)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// DefaultWorkflowsPath returns the path of the workflow registry file.
func DefaultWorkflowsPath() string {
	return filepath.Join(getUserConfigDir(), "workflows.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("platform.base_url", "")
	v.SetDefault("platform.token", "")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "")
	v.SetDefault("store.database_url", "")

	v.SetDefault("poller.interval", "30s")
	v.SetDefault("poller.refresh_every", 4)
	v.SetDefault("poller.max_concurrent", 8)
	v.SetDefault("poller.backoff_floor", "15s")
	v.SetDefault("poller.backoff_ceiling", "8m")
	v.SetDefault("poller.failure_ceiling", 10)

	v.SetDefault("detector.label_prefix", "done:")
	v.SetDefault("detector.comment_prefix", "agent-complete:")

	v.SetDefault("tui.refresh_rate", "1s")
}

// getUserConfigDir returns the XDG config directory for Flowline.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "flowline")
	}

	// Fall back to ~/.config/flowline
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "flowline")
	}
	return filepath.Join(home, ".config", "flowline")
}

// findProjectConfig searches for .flowline.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".flowline.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Poller: PollerConfig{
			Interval:       30 * time.Second,
			RefreshEvery:   4,
			MaxConcurrent:  8,
			BackoffFloor:   15 * time.Second,
			BackoffCeiling: 8 * time.Minute,
			FailureCeiling: 10,
		},
		Detector: DetectorConfig{
			LabelPrefix:   "done:",
			CommentPrefix: "agent-complete:",
		},
		TUI: TUIConfig{
			RefreshRate: time.Second,
		},
	}
}
