package scheduler

import "time"

// Fallback cadence bounds applied when no configuration is supplied.
const (
	defaultBaseInterval       = 15 * time.Second
	defaultEmergencyThreshold = 10
	defaultRapidThreshold     = 5

	emergencyFloor = 5 * time.Second
	rapidCeiling   = 8 * time.Second
	idleCeiling    = 60 * time.Second
)

// NextInterval computes the sleep before the next cycle from the number of
// deduplicated errors the finished cycle produced. More errors shorten the
// interval; a clean cycle stretches it. Computed tiers are snapped to whole
// seconds: the emergency tier never drops below 5s so a tiny base cannot
// spin the loop, the rapid tier never exceeds 8s, and the idle tier never
// exceeds 60s.
func NextInterval(n int, base time.Duration, emergency, rapid int) time.Duration {
	if base <= 0 {
		base = defaultBaseInterval
	}
	if emergency <= 0 {
		emergency = defaultEmergencyThreshold
	}
	if rapid <= 0 {
		rapid = defaultRapidThreshold
	}

	switch {
	case n >= emergency:
		return maxDuration(emergencyFloor, (base / 4).Truncate(time.Second))
	case n >= rapid:
		return minDuration(rapidCeiling, (base / 2).Truncate(time.Second))
	case n == 0:
		return minDuration(idleCeiling, base*2)
	default:
		return base
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
