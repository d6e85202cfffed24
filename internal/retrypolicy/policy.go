// Package retrypolicy centralizes the retry and backoff behavior shared by
// the volume, batch, and deploy components: bounded attempts, capped
// exponential delays, and a pluggable retryable-error predicate.
package retrypolicy

import (
	"context"
	"fmt"
	"time"

	"strato/internal/faults"
)

// Policy bounds a retried operation.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
	// Multiplier scales the delay between attempts. Values below 1 are
	// treated as 2.
	Multiplier float64
	// Retryable decides whether an error deserves another attempt. When nil,
	// faults.IsRetryable is used.
	Retryable func(error) bool
}

// DelayFor returns the backoff before the given attempt (1-based: the delay
// taken after attempt n fails). Delays grow geometrically and never exceed
// MaxDelay.
func (p Policy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * mult)
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Do runs op until it succeeds, exhausts MaxAttempts, returns a
// non-retryable error, or the context is canceled. The returned error is the
// last attempt's error annotated with the attempt count.
func Do(ctx context.Context, clock Clock, policy Policy, op func(ctx context.Context, attempt int) error) error {
	if clock == nil {
		clock = RealClock{}
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = faults.IsRetryable
	}
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	used := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		used = attempt
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == attempts {
			break
		}
		if err := clock.Sleep(ctx, policy.DelayFor(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("after %d attempt(s): %w", used, lastErr)
}
