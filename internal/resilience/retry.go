package resilience

import (
	"context"
	"math/rand"
	"time"
)

// Backoff caps.
const (
	defaultRetryBase = time.Second
	maxRetryDelay    = 60 * time.Second
	jitterFraction   = 0.3
)

// RetryPolicy controls the retry loop for transient failures.
type RetryPolicy struct {
	// Attempts is the number of retries after the first try.
	Attempts int
	// Base is the first backoff delay; doubled each attempt.
	Base time.Duration
}

// Retry runs fn, retrying transient failures up to policy.Attempts times
// with exponential backoff (base × 2^attempt) plus 0-30% jitter, capped at
// 60s. retryable decides whether an error is worth another attempt;
// permanent errors and context cancellation return immediately.
func Retry(ctx context.Context, policy RetryPolicy, retryable func(error) bool, fn func() error) error {
	base := policy.Base
	if base <= 0 {
		base = defaultRetryBase
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt >= policy.Attempts || !retryable(err) {
			return err
		}

		delay := base << uint(attempt)
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
		delay += time.Duration(rand.Float64() * jitterFraction * float64(delay))
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
