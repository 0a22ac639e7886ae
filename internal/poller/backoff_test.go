package poller

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	floor := 15 * time.Second
	ceiling := 8 * time.Minute

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, 15 * time.Second},
		{2, 30 * time.Second},
		{3, time.Minute},
		{4, 2 * time.Minute},
		{5, 4 * time.Minute},
		{6, 8 * time.Minute},
		{7, 8 * time.Minute},
		{50, 8 * time.Minute},
	}
	for _, tt := range tests {
		if got := backoff(tt.failures, floor, ceiling); got != tt.want {
			t.Errorf("backoff(%d) = %s, want %s", tt.failures, got, tt.want)
		}
	}
}

func TestBackoffCeilingBelowFloor(t *testing.T) {
	if got := backoff(1, time.Minute, time.Second); got != time.Second {
		t.Errorf("backoff with ceiling below floor = %s, want 1s", got)
	}
}
