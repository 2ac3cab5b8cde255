package notifications

import (
	"errors"
	"time"
)

// ErrNoChannels is returned when a notification has nowhere to go.
var ErrNoChannels = errors.New("no notification channels configured")

// RetryConfig controls how often a failed send is retried.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// backoff returns the wait before retry number attempt (1-based).
func (c RetryConfig) backoff(attempt int) time.Duration {
	backoff := float64(c.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= c.BackoffMultiplier
	}

	if backoff > float64(c.MaxBackoff) {
		backoff = float64(c.MaxBackoff)
	}

	return time.Duration(backoff)
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}
