// Package retry provides the single bounded-retry policy shared by pairing,
// community join, and status actions, so backoff behavior is not duplicated
// per call site.
package retry

import (
	"context"
	"time"
)

// Policy retries an operation up to MaxAttempts times. Backoff receives the
// 1-based number of the attempt that just failed and returns how long to wait
// before the next one. Retryable, when set, can abort early on permanent
// errors.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(error) bool
}

// LinearRemaining returns a backoff of base multiplied by the number of
// attempts still remaining after the failed one. With base=2s and
// maxAttempts=3 the waits are 4s then 2s.
func LinearRemaining(base time.Duration, maxAttempts int) func(int) time.Duration {
	return func(attempt int) time.Duration {
		remaining := maxAttempts - attempt
		if remaining < 1 {
			remaining = 1
		}
		return base * time.Duration(remaining)
	}
}

// Do runs op until it succeeds, a permanent error occurs, the context is
// canceled, or MaxAttempts is exhausted. The last error is returned.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}
