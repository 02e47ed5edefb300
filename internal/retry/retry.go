// Package retry runs read-only operations again with exponential backoff.
package retry

import (
	"context"
	"time"
)

// Config controls the number of attempts and the delay between them.
type Config struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int

	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration

	// Multiplier grows the delay after every failed attempt.
	Multiplier float64
}

// WithRetry calls fn until it succeeds, shouldRetry rejects its error, the
// attempts run out, or ctx is done. It returns the last result and error.
func WithRetry[T any](ctx context.Context, cfg Config, shouldRetry func(error) bool, fn func() (T, error)) (T, error) {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := cfg.InitialDelay

	var result T
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = fn()
		if err == nil || attempt == attempts || !shouldRetry(err) {
			return result, err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, err
		case <-timer.C:
		}

		delay = next(delay, cfg)
	}
	return result, err
}

func next(delay time.Duration, cfg Config) time.Duration {
	if cfg.Multiplier > 1 {
		delay = time.Duration(float64(delay) * cfg.Multiplier)
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}
