// Package retry provides exponential backoff for idempotent storage operations
// such as claims and snapshot writes.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Strategy configures exponential backoff.
//
// The schedule follows: delay = min(BaseDelay * ExponentialBase^attempt, MaxDelay)
//
// Example with defaults (50ms base, 2.0 exponential, 1s max):
//
//	Attempt 1: 100ms
//	Attempt 2: 200ms
//	Attempt 3: 400ms
type Strategy struct {
	MaxAttempts     int           // Total attempts, including the first one
	BaseDelay       time.Duration // Initial retry delay
	MaxDelay        time.Duration // Maximum retry delay cap
	ExponentialBase float64       // Backoff multiplier (e.g., 2.0 for doubling)
}

// DefaultStrategy returns the strategy used for claims: 3 attempts, 50ms->1s backoff.
// Claims run inside a dispatch batch, so the schedule stays short.
func DefaultStrategy() Strategy {
	return Strategy{
		MaxAttempts:     3,
		BaseDelay:       50 * time.Millisecond,
		MaxDelay:        time.Second,
		ExponentialBase: 2.0,
	}
}

// NoRetry returns a strategy that runs the operation exactly once.
func NoRetry() Strategy {
	return Strategy{MaxAttempts: 1}
}

// CalculateRetryDelay calculates the delay before the given retry attempt.
func (s Strategy) CalculateRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber <= 0 {
		return s.BaseDelay
	}

	delay := float64(s.BaseDelay) * math.Pow(s.ExponentialBase, float64(attemptNumber))

	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}

	return time.Duration(delay)
}

// IsRetryable checks if another attempt is allowed after attemptCount attempts.
func (s Strategy) IsRetryable(attemptCount int) bool {
	return attemptCount < s.MaxAttempts
}

// GetRetrySchedule returns a human-readable description of the retry schedule.
//
// Example output:
//
//	Retry Schedule:
//	  Attempt 1: immediately
//	  Attempt 2: after 100ms
//	  Attempt 3: after 200ms
func (s Strategy) GetRetrySchedule() string {
	schedule := "Retry Schedule:\n"
	for i := 1; i <= s.MaxAttempts; i++ {
		if i == 1 {
			schedule += "  Attempt 1: immediately\n"
			continue
		}
		schedule += fmt.Sprintf("  Attempt %d: after %v\n", i, s.CalculateRetryDelay(i-1))
	}
	return schedule
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, returns a Permanent error, the attempts are
// exhausted or ctx is done. The last error is returned unwrapped.
func (s Strategy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if !s.IsRetryable(attempt) {
			return err
		}

		timer := time.NewTimer(s.CalculateRetryDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
