package config

import "testing"

func TestGetToken(t *testing.T) {
	t.Run("from environment", func(t *testing.T) {
		t.Setenv("FLOWLINE_PLATFORM_TOKEN", "env-token")
		token, err := GetToken(nil)
		if err != nil {
			t.Fatalf("GetToken failed: %v", err)
		}
		if token != "env-token" {
			t.Errorf("expected env token, got %q", token)
		}
	})

	t.Run("from config", func(t *testing.T) {
		t.Setenv("FLOWLINE_PLATFORM_TOKEN", "")
		cfg := &Config{Platform: PlatformConfig{Token: "config-token"}}
		token, err := GetToken(cfg)
		if err != nil {
			t.Fatalf("GetToken failed: %v", err)
		}
		if token != "config-token" {
			t.Errorf("expected config token, got %q", token)
		}
	})

	t.Run("not configured", func(t *testing.T) {
		t.Setenv("FLOWLINE_PLATFORM_TOKEN", "")
		if _, err := GetToken(&Config{}); err != ErrNoToken {
			t.Errorf("expected ErrNoToken, got %v", err)
		}
	})

	t.Run("unresolved env reference", func(t *testing.T) {
		t.Setenv("FLOWLINE_PLATFORM_TOKEN", "")
		cfg := &Config{Platform: PlatformConfig{Token: "${FLOWLINE_UNSET_VARIABLE}"}}
		if _, err := GetToken(cfg); err != ErrNoToken {
			t.Errorf("expected ErrNoToken for unresolved reference, got %v", err)
		}
	})
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"", "(not set)"},
		{"short", "***"},
		{"abcd-very-long-token-wxyz", "abcd...wxyz"},
	}
	for _, tt := range tests {
		if got := MaskToken(tt.token); got != tt.want {
			t.Errorf("MaskToken(%q) = %q, want %q", tt.token, got, tt.want)
		}
	}
}

func TestGetTokenSource(t *testing.T) {
	t.Setenv("FLOWLINE_PLATFORM_TOKEN", "env-token")
	if got := GetTokenSource(nil); got != TokenSourceEnv {
		t.Errorf("expected environment source, got %v", got)
	}

	t.Setenv("FLOWLINE_PLATFORM_TOKEN", "")
	cfg := &Config{Platform: PlatformConfig{Token: "config-token"}}
	if got := GetTokenSource(cfg); got != TokenSourceConfig {
		t.Errorf("expected config source, got %v", got)
	}

	if got := GetTokenSource(&Config{}); got != TokenSourceNone {
		t.Errorf("expected none source, got %v", got)
	}
}
