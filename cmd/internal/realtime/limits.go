package realtime

import "time"

// Polling limits.
const (
	// Recheck interval between long-poll checks.
	defaultPollInterval = 1 * time.Second

	// Long-poll timeout bounds (seconds as sent by clients).
	defaultLongPollTimeout = 30 * time.Second
	maxLongPollTimeout     = 60 * time.Second

	// Concurrent long-poll waiters per process.
	defaultMaxWaiters = 1024

	// Users idle longer than this are offline.
	defaultPresenceTTL = 5 * time.Minute
)

// DefaultLookback is how far back a zero "since" cursor reaches.
const DefaultLookback = 60 * time.Second

// ClampTimeout maps a client-supplied timeout to the served duration:
// <= 0 becomes the 30s default and anything above 60s is capped at 60s.
func ClampTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return defaultLongPollTimeout
	}
	if seconds > int(maxLongPollTimeout/time.Second) {
		return maxLongPollTimeout
	}
	return time.Duration(seconds) * time.Second
}
