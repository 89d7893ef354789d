package query

import (
	"errors"
	"slices"
	"time"

	"github.com/casedesk/relay/dispatch"
	"github.com/casedesk/relay/internal/retry"
)

// RetryPolicy is the retry budget applied above the dispatcher. MaxRetries
// does not count the first attempt.
type RetryPolicy struct {
	MaxRetries int
	RetryOn    []dispatch.Kind
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultReadPolicy retries reads up to three times on outages.
func DefaultReadPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		RetryOn:    []dispatch.Kind{dispatch.KindNetwork, dispatch.KindServerError, dispatch.KindTimeout},
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// DefaultWritePolicy retries writes up to twice and only when the request
// cannot have reached the backend.
func DefaultWritePolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		RetryOn:    []dispatch.Kind{dispatch.KindNetwork},
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

func (p RetryPolicy) classify(err error) retry.Action {
	var e *dispatch.Error
	if !errors.As(err, &e) || e.Cancelled || dispatch.IsSessionExpired(err) {
		return retry.Stop
	}
	if slices.Contains(p.RetryOn, e.Kind) {
		return retry.Retry
	}
	return retry.Stop
}

// unwrapRetry strips the retry loop's wrappers so callers see the normalized error.
func unwrapRetry(err error) error {
	var (
		permanent *retry.PermanentError
		exhausted *retry.ExhaustedError
		cancelled *retry.CancelledError
	)
	switch {
	case errors.As(err, &permanent):
		return permanent.Err
	case errors.As(err, &exhausted):
		return exhausted.Err
	case errors.As(err, &cancelled):
		return &dispatch.Error{Kind: dispatch.KindUnknown, Cancelled: true, Err: cancelled.Err}
	default:
		return err
	}
}
