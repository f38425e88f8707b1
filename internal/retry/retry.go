// Package retry provides bounded exponential backoff for upstream calls.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Func runs one attempt. Returning shouldRetry=false stops the loop
// immediately with the returned error.
type Func func() (shouldRetry bool, err error)

// Retryer executes a Func up to maxRetries+1 times with exponential
// backoff between attempts.
type Retryer struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// New creates a Retryer. maxRetries counts retries after the first
// attempt; the delay doubles per attempt and is capped at maxDelay.
func New(maxRetries int, baseDelay, maxDelay time.Duration) *Retryer {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &Retryer{maxRetries: maxRetries, baseDelay: baseDelay, maxDelay: maxDelay}
}

// Do runs fn until it succeeds, declines retry, exhausts attempts, or
// the context is cancelled.
func (r *Retryer) Do(ctx context.Context, fn Func) error {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.delay(attempt - 1)):
			}
		}

		shouldRetry, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !shouldRetry {
			return err
		}
	}

	return fmt.Errorf("retries exhausted after %d attempts: %w", r.maxRetries+1, lastErr)
}

func (r *Retryer) delay(attempt int) time.Duration {
	d := r.baseDelay * (1 << uint(attempt))
	if d > r.maxDelay || d <= 0 {
		return r.maxDelay
	}
	return d
}
