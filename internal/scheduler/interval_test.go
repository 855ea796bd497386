package scheduler

import (
	"testing"
	"time"
)

func TestNextIntervalBackPressure(t *testing.T) {
	base := 15 * time.Second

	cases := []struct {
		errors int
		want   time.Duration
	}{
		{0, 30 * time.Second},
		{3, 15 * time.Second},
		{7, 7 * time.Second},
		{12, 5 * time.Second},
	}
	for _, tc := range cases {
		got := NextInterval(tc.errors, base, 10, 5)
		if got != tc.want {
			t.Errorf("NextInterval(%d) = %s, want %s", tc.errors, got, tc.want)
		}
	}
}

func TestNextIntervalBounds(t *testing.T) {
	// A clean cycle never stretches the interval past a minute.
	if got := NextInterval(0, 45*time.Second, 10, 5); got != 60*time.Second {
		t.Errorf("idle interval = %s, want 60s", got)
	}
	// The emergency tier never spins faster than 5s even for a tiny base.
	if got := NextInterval(20, 4*time.Second, 10, 5); got != 5*time.Second {
		t.Errorf("emergency interval = %s, want 5s", got)
	}
	// The rapid tier is capped at 8s for large bases.
	if got := NextInterval(6, 40*time.Second, 10, 5); got != 8*time.Second {
		t.Errorf("rapid interval = %s, want 8s", got)
	}
	// Zeroed configuration falls back to defaults rather than dividing zero.
	if got := NextInterval(1, 0, 0, 0); got != defaultBaseInterval {
		t.Errorf("fallback interval = %s, want %s", got, defaultBaseInterval)
	}
}
