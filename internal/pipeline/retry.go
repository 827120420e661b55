package pipeline

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// Class partitions an external-call outcome for the retry driver.
type Class int

const (
	// ClassOK means the call succeeded.
	ClassOK Class = iota
	// ClassRetryable means the call failed transiently and may be retried.
	ClassRetryable
	// ClassFatal means retrying cannot help.
	ClassFatal
)

// Outcome is the typed result of one external-call attempt.
type Outcome struct {
	Class  Class
	Reason error
}

// Ok reports a successful attempt.
func Ok() Outcome { return Outcome{Class: ClassOK} }

// Retryable reports a transient failure.
func Retryable(reason error) Outcome { return Outcome{Class: ClassRetryable, Reason: reason} }

// Fatal reports a permanent failure.
func Fatal(reason error) Outcome { return Outcome{Class: ClassFatal, Reason: reason} }

// ErrRetriesExhausted wraps the last retryable reason once attempts run out.
// Callers treat it as failed-not-stale: the work is eligible again on the
// next scheduled run.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy controls the backoff schedule for the retry driver.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the policy used when config supplies nothing.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Backoff returns the jittered wait before the next attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Retry runs op until it returns ClassOK or ClassFatal, or attempts are
// exhausted. Each external-call wrapper returns an Outcome instead of
// encoding retry decisions at the call site, so the policy lives here alone.
func Retry[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context) (T, Outcome)) (T, error) {
	var zero T
	var lastReason error
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("retry wait: %w", ctx.Err())
			case <-time.After(policy.Backoff(attempt - 1)):
			}
		}
		value, outcome := op(ctx)
		switch outcome.Class {
		case ClassOK:
			return value, nil
		case ClassFatal:
			return zero, outcome.Reason
		case ClassRetryable:
			lastReason = outcome.Reason
			if ctx.Err() != nil {
				return zero, fmt.Errorf("retry canceled: %w", ctx.Err())
			}
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastReason)
}
