package reliability

import (
	"fmt"
	"strings"
	"time"
)

const maxDuration = time.Duration(1<<63 - 1)

// DefaultPauses returns the pause table used when none is configured
func DefaultPauses() []time.Duration {
	return []time.Duration{
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
	}
}

// ParsePauses parses a comma separated list of durations such as "50ms,100ms,250ms"
func ParsePauses(schedule string) ([]time.Duration, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil, nil
	}

	parts := strings.Split(schedule, ",")
	pauses := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid pause %q: %w", part, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("invalid pause %q: must not be negative", part)
		}
		pauses = append(pauses, d)
	}

	return pauses, nil
}

// ExponentialPauses builds a pause table of count entries starting at initial and growing by
// multiplier, capped at max. No jitter is applied so the table is deterministic.
func ExponentialPauses(initial, max time.Duration, multiplier float64, count int) []time.Duration {
	if count <= 0 || initial < 0 {
		return nil
	}
	if multiplier < 1 {
		multiplier = 1
	}

	pauses := make([]time.Duration, 0, count)
	delay := float64(initial)
	for i := 0; i < count; i++ {
		// Cap at max interval, then at the largest representable duration
		if max > 0 && delay > float64(max) {
			delay = float64(max)
		}
		if delay >= float64(maxDuration) {
			pauses = append(pauses, maxDuration)
			continue
		}
		pauses = append(pauses, time.Duration(delay))
		delay *= multiplier
	}

	return pauses
}

// pauseFor looks up the pause before the given 1-based attempt.
// Attempts past the end of the table reuse the last entry.
func pauseFor(pauses []time.Duration, attempt int) time.Duration {
	if len(pauses) == 0 || attempt < 1 {
		return 0
	}
	if attempt > len(pauses) {
		return pauses[len(pauses)-1]
	}
	return pauses[attempt-1]
}
