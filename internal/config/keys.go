// Package config provides platform token management utilities.
package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoToken is returned when no platform API token is configured.
var ErrNoToken = errors.New("no platform API token configured")

// GetToken returns the platform API token from the configuration.
// It checks in order: environment variable, config file.
func GetToken(cfg *Config) (string, error) {
	// First check environment variable directly
	if token := os.Getenv("FLOWLINE_PLATFORM_TOKEN"); token != "" {
		return token, nil
	}

	// Then check config
	if cfg != nil && cfg.Platform.Token != "" {
		// Expand any remaining env var references
		token := os.ExpandEnv(cfg.Platform.Token)
		if token != "" && !strings.HasPrefix(token, "${") {
			return token, nil
		}
	}

	return "", ErrNoToken
}

// MaskToken returns a masked version of the token for display.
// Shows the first 4 and last 4 characters.
func MaskToken(token string) string {
	if token == "" {
		return "(not set)"
	}

	if len(token) <= 12 {
		return "***"
	}

	return token[:4] + "..." + token[len(token)-4:]
}

// TokenSource represents where a platform token was loaded from.
type TokenSource string

const (
	TokenSourceEnv    TokenSource = "environment"
	TokenSourceConfig TokenSource = "config_file"
	TokenSourceNone   TokenSource = "none"
)

// GetTokenSource returns where the platform token was sourced from.
func GetTokenSource(cfg *Config) TokenSource {
	if os.Getenv("FLOWLINE_PLATFORM_TOKEN") != "" {
		return TokenSourceEnv
	}

	if cfg != nil && cfg.Platform.Token != "" {
		token := os.ExpandEnv(cfg.Platform.Token)
		if token != "" && !strings.HasPrefix(token, "${") {
			return TokenSourceConfig
		}
	}

	return TokenSourceNone
}
