package upstream

import (
	"context"
	"time"

	"rollcall/internal/fault"
)

// Retry executes fn with retries, linear backoff, and cancellation support.
//
// fn receives the 1-based attempt number and must return nil on success.
// Only errors accepted by policy.Retryable are retried; anything else is
// returned immediately.
func Retry(
	ctx context.Context,
	policy RetryPolicy,
	fn func(attempt int) error,
) error {
	retryable := policy.Retryable
	if retryable == nil {
		retryable = fault.IsRetryable
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts || !retryable(err) {
			return err
		}

		select {
		case <-time.After(policy.delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// delay returns the wait before the attempt following attempt.
func (p RetryPolicy) delay(attempt int) time.Duration {
	backoff := time.Duration(attempt) * p.BaseBackoff
	d := backoff
	if p.JitterFn != nil {
		d += p.JitterFn(backoff)
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}
