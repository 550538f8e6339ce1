package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// DailyAt converts an "HH:MM" wall-clock time into a five-field cron spec.
func DailyAt(hhmm string) (string, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return "", fmt.Errorf("invalid time of day %q: %w", hhmm, err)
	}
	return fmt.Sprintf("%d %d * * *", parsed.Minute(), parsed.Hour()), nil
}

// EveryHours builds a spec firing every n hours. Steps align to midnight, so
// a 5-hour cadence ticks at 00,05,10,15,20 with a shorter gap at the wrap.
func EveryHours(n int) string {
	if n < 1 {
		n = 1
	}
	if n >= 24 {
		return "0 0 * * *"
	}
	return fmt.Sprintf("0 */%d * * *", n)
}

// EveryMinutes builds a spec firing every n minutes; cadences of an hour or
// more fall through to EveryHours.
func EveryMinutes(n int) string {
	if n < 1 {
		n = 1
	}
	if n >= 60 {
		return EveryHours(n / 60)
	}
	return fmt.Sprintf("*/%d * * * *", n)
}
