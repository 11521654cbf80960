package jobqueue

import (
	"fmt"
	"time"
)

// Backoff returns the delay before a job that has made attempts tries is
// eligible again.
type Backoff func(attempts int) time.Duration

const (
	BackoffNone        = "none"
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// NoBackoff retries immediately.
func NoBackoff() Backoff {
	return func(int) time.Duration { return 0 }
}

// FixedBackoff waits d between attempts.
func FixedBackoff(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// ExponentialBackoff waits base, 2*base, 4*base, ... capped at limit.
func ExponentialBackoff(base, limit time.Duration) Backoff {
	return func(attempts int) time.Duration {
		if attempts < 1 {
			attempts = 1
		}
		d := base
		for i := 1; i < attempts; i++ {
			d *= 2
			if limit > 0 && d >= limit {
				return limit
			}
		}
		if limit > 0 && d > limit {
			return limit
		}
		return d
	}
}

// NewBackoff builds the named policy.
func NewBackoff(policy string, base, limit time.Duration) (Backoff, error) {
	switch policy {
	case BackoffNone:
		return NoBackoff(), nil
	case BackoffFixed, "":
		return FixedBackoff(base), nil
	case BackoffExponential:
		return ExponentialBackoff(base, limit), nil
	default:
		return nil, fmt.Errorf("unknown backoff policy %q", policy)
	}
}
