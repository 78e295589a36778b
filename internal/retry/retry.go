// Package retry runs an operation under a bounded attempt policy.
package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// DelayFunc returns the wait before the given retry. attempt starts at 1 for
// the wait after the first failure.
type DelayFunc func(attempt int) time.Duration

// Policy bounds how an operation is retried.
type Policy struct {
	MaxAttempts int
	Delay       DelayFunc
	// Retryable decides whether err warrants another attempt. Nil retries
	// every error.
	Retryable func(err error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Linear returns a delay growing by step per attempt.
func Linear(step time.Duration) DelayFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return step * time.Duration(attempt)
	}
}

// Exponential returns a capped exponential delay. Multipliers at or below 1
// default to 2.
func Exponential(initial time.Duration, multiplier float64, max time.Duration) DelayFunc {
	if multiplier <= 1 {
		multiplier = 2
	}
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := float64(initial) * math.Pow(multiplier, float64(attempt-1))
		if max > 0 && d > float64(max) {
			d = float64(max)
		}
		return time.Duration(d)
	}
}

type exhaustedError struct {
	attempts int
	last     error
}

func (e *exhaustedError) Error() string {
	return ErrExhausted.Error() + ": " + e.last.Error()
}

func (e *exhaustedError) Unwrap() []error { return []error{ErrExhausted, e.last} }

// Attempts returns how many attempts were made when err came from Do.
func Attempts(err error) int {
	var ex *exhaustedError
	if errors.As(err, &ex) {
		return ex.attempts
	}
	return 0
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// policy runs out of attempts. Context cancellation stops the loop and is
// returned as is.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = timerSleep
	}

	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx, attempt)
		if last == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(last) {
			return last
		}
		if attempt == maxAttempts {
			break
		}
		var wait time.Duration
		if p.Delay != nil {
			wait = p.Delay(attempt)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, last, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
	return &exhaustedError{attempts: maxAttempts, last: last}
}

func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
