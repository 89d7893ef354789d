package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/casedesk/relay/internal/retry"
	"github.com/casedesk/relay/internal/tracking"
	"github.com/casedesk/relay/logger"
)

const (
	// DefaultMaxAttempts is the default number of attempts per profile, the first included
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the delay before the first retry
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultMaxDelay caps the backoff delay
	DefaultMaxDelay = 30 * time.Second
)

// AttemptRecord describes the retry about to happen for one in-flight call.
type AttemptRecord struct {
	AttemptCount int
	NextDelay    time.Duration
}

// RetryPolicy configures the Retry middleware.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Clock       clockwork.Clock
	Logger      logger.Logger
	OnRetry     func(d *Descriptor, rec AttemptRecord, err *Error)
}

// DefaultRetryPolicy returns the default retry bounds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Delay returns the wait before retry k.
func (p RetryPolicy) Delay(k int) time.Duration {
	return retry.Policy{BaseDelay: p.BaseDelay, MaxDelay: p.MaxDelay}.Delay(k)
}

func (p RetryPolicy) policy(ctx context.Context, d *Descriptor, profile string) retry.Policy {
	log := p.Logger
	if log == nil {
		log = logger.Nop()
	}
	return retry.Policy{
		MaxAttempts: p.MaxAttempts,
		BaseDelay:   p.BaseDelay,
		MaxDelay:    p.MaxDelay,
		Clock:       p.Clock,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			var e *Error
			errors.As(err, &e)
			log.Debug().
				Str("profile", profile).
				Str("method", d.Method()).
				Str("path", d.Path()).
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(err).
				Msg("retrying request")
			tracking.RecordRetry(ctx, profile, KindOf(err).String())
			if p.OnRetry != nil {
				p.OnRetry(d, AttemptRecord{AttemptCount: attempt, NextDelay: delay}, e)
			}
		},
	}
}

// Retry retries Network, Timeout and ServerError failures on the same profile.
// Once the bound is reached the last error is returned with Attempts set.
func Retry(profile string, p RetryPolicy) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, d *Descriptor) (*Response, error) {
			resp, err := retry.Do(ctx, p.policy(ctx, d, profile), classifyRetry,
				func(ctx context.Context, _ int) (*Response, error) {
					return next(ctx, d)
				})
			if err == nil {
				return resp, nil
			}

			var cancelled *retry.CancelledError
			if errors.As(err, &cancelled) {
				e := cancelledError(profile, cancelled.Err)
				e.Attempts = cancelled.Attempts
				return nil, e
			}

			var e *Error
			if !errors.As(err, &e) {
				return nil, err
			}
			e.Attempts = retry.Attempts(err)
			return nil, e
		}
	}
}

func classifyRetry(err error) retry.Action {
	var e *Error
	if !errors.As(err, &e) || e.Cancelled {
		return retry.Stop
	}
	if e.Temporary() {
		return retry.Retry
	}
	return retry.Stop
}
