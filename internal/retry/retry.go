// Package retry runs an operation under a bounded exponential backoff policy.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, back off and try again
)

// Policy bounds a retry loop. MaxAttempts counts every attempt including the first.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Clock       clockwork.Clock
	OnRetry     func(attempt int, err error, delay time.Duration)
}

type Classify func(err error) Action

// Operation receives the 1-based attempt number.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Delay returns the wait before retry k (k >= 1): BaseDelay*2^(k-1), capped at MaxDelay.
func (p Policy) Delay(k int) time.Duration {
	if k < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < k; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p Policy) clock() clockwork.Clock {
	if p.Clock == nil {
		return clockwork.NewRealClock()
	}
	return p.Clock
}

// Do runs op until it succeeds, classify says Stop, or MaxAttempts is reached.
// A stopped error is wrapped in *PermanentError and an exhausted one in
// *ExhaustedError; both unwrap to the operation's error.
func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	var zero T
	maxAttempts := max(p.MaxAttempts, 1)
	clock := p.clock()

	for attempt := 1; ; attempt++ {
		val, err := op(ctx, attempt)
		if err == nil {
			return val, nil
		}

		if classify(err) == Stop {
			return zero, &PermanentError{Err: err, Attempts: attempt}
		}
		if attempt >= maxAttempts {
			return zero, &ExhaustedError{Err: err, Attempts: attempt}
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		select {
		case <-clock.After(delay):
		case <-ctx.Done():
			return zero, &CancelledError{Err: ctx.Err(), Last: err, Attempts: attempt}
		}
	}
}

// PermanentError marks an error the classifier refused to retry.
type PermanentError struct {
	Err      error
	Attempts int
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// ExhaustedError is returned once the attempt bound is reached.
type ExhaustedError struct {
	Err      error
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}
func (e *ExhaustedError) Unwrap() error { return e.Err }

// CancelledError is returned when the context ends while waiting for the next attempt.
type CancelledError struct {
	Err      error
	Last     error
	Attempts int
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("context cancelled during retry: %v", e.Err)
}
func (e *CancelledError) Unwrap() error { return e.Err }

// Attempts reports how many attempts produced err, or 0 if err did not come from Do.
func Attempts(err error) int {
	switch e := err.(type) {
	case *PermanentError:
		return e.Attempts
	case *ExhaustedError:
		return e.Attempts
	case *CancelledError:
		return e.Attempts
	}
	return 0
}
