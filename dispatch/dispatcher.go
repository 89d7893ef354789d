package dispatch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/casedesk/relay/internal/tracking"
	"github.com/casedesk/relay/logger"
	"github.com/casedesk/relay/session"
	"github.com/casedesk/relay/trace"
	"github.com/casedesk/relay/transport"
)

// BreakerSettings configures the per-profile circuit breaker. A zero
// FailureThreshold disables it.
type BreakerSettings struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Options configures a Dispatcher.
type Options struct {
	Retry    RetryPolicy
	Recovery RecoveryConfig
	Breaker  BreakerSettings
	Logger   logger.Logger
}

type candidate struct {
	profile string
	handler Handler
	breaker *gobreaker.CircuitBreaker
}

// Dispatcher tries profiles in priority order until one succeeds.
type Dispatcher struct {
	candidates []candidate
	recovery   RecoveryConfig
	logger     logger.Logger
}

// NewDispatcher wires one pipeline per sender. Senders are tried in the given order.
func NewDispatcher(senders []transport.Sender, opts Options) (*Dispatcher, error) {
	if len(senders) == 0 {
		return nil, transport.NewValidationError("at least one profile is required", "profiles")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = log
	}
	if opts.Recovery.Logger == nil {
		opts.Recovery.Logger = log
	}
	if opts.Recovery.State == nil {
		opts.Recovery.State = session.NewState(nil, log)
	}
	recovery := opts.Recovery.withDefaults()

	d := &Dispatcher{recovery: recovery, logger: log}
	for _, s := range senders {
		p := s.Profile()
		middlewares := []Middleware{Retry(p.Name, opts.Retry)}
		if p.Auth == transport.AuthSession {
			middlewares = append(middlewares, SessionRecovery(p.Name, recovery))
		}
		d.candidates = append(d.candidates, candidate{
			profile: p.Name,
			handler: Chain(Send(s), middlewares...),
			breaker: newBreaker(p.Name, opts.Breaker, log),
		})
	}
	return d, nil
}

func newBreaker(profile string, s BreakerSettings, log logger.Logger) *gobreaker.CircuitBreaker {
	if s.FailureThreshold == 0 {
		return nil
	}
	threshold := s.FailureThreshold
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        profile,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Only environment failures say something about the profile itself.
		IsSuccessful: func(err error) bool {
			var e *Error
			if !errors.As(err, &e) || e.Cancelled {
				return true
			}
			return e.Kind != KindNetwork && e.Kind != KindTimeout
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("profile", name).Str("from", from.String()).Str("to", to.String()).Msg("profile circuit breaker state changed")
		},
	})
}

// Profiles lists profile names in priority order.
func (d *Dispatcher) Profiles() []string {
	names := make([]string, len(d.candidates))
	for i, c := range d.candidates {
		names[i] = c.profile
	}
	return names
}

// State returns the session state the dispatcher recovers against.
func (d *Dispatcher) State() *session.State {
	return d.recovery.State
}

// Dispatch sends desc through the candidates. The first success is returned;
// a failure outside the continuation set is surfaced immediately; otherwise
// the last failure is surfaced once every candidate has been tried.
func (d *Dispatcher) Dispatch(ctx context.Context, desc *Descriptor) (*Response, error) {
	if desc == nil {
		return nil, &Error{Kind: KindUnknown, Err: transport.NewValidationError("descriptor cannot be nil", "descriptor")}
	}
	call := desc.begin()
	ctx, requestID := trace.EnsureRequestID(ctx)
	log := d.logger.WithFields(map[string]any{"request_id": requestID, "method": call.Method(), "path": call.Path()})
	start := time.Now()

	var last error
	for i, c := range d.candidates {
		if err := ctx.Err(); err != nil {
			last = cancelledError(c.profile, err)
			break
		}

		resp, err := c.execute(ctx, call)
		if err == nil {
			resp.Attempts = call.Attempts()
			log.Debug().Str("profile", c.profile).Int("attempts", resp.Attempts).Int("status", resp.Status).Msg("request served")
			tracking.RecordDispatch(ctx, c.profile, time.Since(start), "")
			return resp, nil
		}

		last = err
		if !d.shouldContinue(call, err) {
			break
		}
		if i < len(d.candidates)-1 {
			log.Debug().Str("profile", c.profile).Str("next_profile", d.candidates[i+1].profile).Err(err).Msg("falling back to next profile")
			tracking.RecordFallback(ctx, c.profile, KindOf(err).String())
		}
	}

	var e *Error
	if errors.As(last, &e) {
		e.Attempts = call.Attempts()
	}
	tracking.RecordDispatch(ctx, lastProfile(last), time.Since(start), KindOf(last).String())
	return nil, last
}

func (c candidate) execute(ctx context.Context, call *Descriptor) (*Response, error) {
	if c.breaker == nil {
		return c.handler(ctx, call)
	}
	out, err := c.breaker.Execute(func() (any, error) {
		return c.handler(ctx, call)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &Error{Kind: KindNetwork, Profile: c.profile, Message: "profile circuit open", Err: err}
	}
	if err != nil {
		return nil, err
	}
	return out.(*Response), nil
}

// shouldContinue decides whether a failure may be retried through the next profile.
func (d *Dispatcher) shouldContinue(call *Descriptor, err error) bool {
	var e *Error
	if !errors.As(err, &e) || e.Cancelled || IsSessionExpired(err) {
		return false
	}
	switch e.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindUnauthorized:
		return !d.recovery.Exempt(call.Path())
	case KindClientError:
		return e.Status == http.StatusForbidden
	default:
		return false
	}
}

func lastProfile(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Profile
	}
	return ""
}
