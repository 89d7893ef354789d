package dispatch

import (
	"context"

	"github.com/casedesk/relay/internal/tracking"
	"github.com/casedesk/relay/transport"
)

// Handler sends a call through one profile. Failures are always *Error.
type Handler func(ctx context.Context, d *Descriptor) (*Response, error)

// Middleware decorates a Handler.
type Middleware func(next Handler) Handler

// Chain applies middlewares so that the first one is the outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Send is the innermost handler: one transport attempt, normalized.
func Send(sender transport.Sender) Handler {
	profile := sender.Profile().Name
	return func(ctx context.Context, d *Descriptor) (*Response, error) {
		if err := ctx.Err(); err != nil {
			return nil, cancelledError(profile, err)
		}

		d.countAttempt()
		tracking.RecordAttempt(ctx, profile)

		resp, err := sender.Send(ctx, d.request())
		if err != nil {
			e := Normalize(RawFailure{Err: err, Aborted: ctx.Err() != nil})
			e.Profile = profile
			return nil, e
		}
		if !transport.IsSuccessStatus(resp.StatusCode) {
			e := Normalize(RawFailure{Response: resp})
			e.Profile = profile
			return nil, e
		}
		return newResponse(resp, profile), nil
	}
}
