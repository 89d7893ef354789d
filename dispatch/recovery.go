package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/casedesk/relay/internal/tracking"
	"github.com/casedesk/relay/logger"
	"github.com/casedesk/relay/session"
)

const (
	// DefaultProbePath is the current-identity endpoint used to re-validate a session
	DefaultProbePath = "/me"
)

// DefaultExemptPaths are authentication endpoints where a 401 is a business answer.
var DefaultExemptPaths = []string{"/login", "/auth/login", "/logout"}

// RecoveryConfig configures the SessionRecovery middleware.
type RecoveryConfig struct {
	ProbePath   string
	ExemptPaths []string
	State       *session.State
	Logger      logger.Logger
}

func (c RecoveryConfig) withDefaults() RecoveryConfig {
	if c.ProbePath == "" {
		c.ProbePath = DefaultProbePath
	}
	if c.ExemptPaths == nil {
		c.ExemptPaths = DefaultExemptPaths
	}
	if c.State == nil {
		c.State = session.NewState(nil, c.Logger)
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	return c
}

// Exempt reports whether path is an authentication endpoint.
func (c RecoveryConfig) Exempt(path string) bool {
	p := strings.TrimRight(strings.SplitN(path, "?", 2)[0], "/")
	return slices.Contains(c.ExemptPaths, p)
}

// SessionRecovery turns the first 401 of a call into one identity probe and,
// if the probe succeeds, one replay of the original request.
func SessionRecovery(profile string, cfg RecoveryConfig) Middleware {
	cfg = cfg.withDefaults()
	notifier := cfg.State.Notifier()

	return func(next Handler) Handler {
		return func(ctx context.Context, d *Descriptor) (*Response, error) {
			resp, err := next(ctx, d)
			if !IsKind(err, KindUnauthorized) {
				return resp, err
			}

			notifier.Emit(authEvent(session.EventAuthError, profile, d))
			if d.probe || d.state == nil || cfg.Exempt(d.Path()) {
				tracking.RecordRecovery(ctx, profile, tracking.RecoverySkipped)
				return nil, err
			}

			log := cfg.Logger.WithFields(map[string]any{"profile": profile, "path": d.Path()})
			// A second 401 after this call already recovered once is session death.
			if !d.markRecovery() {
				log.Warn().Msg("unauthorized again after session recovery")
				return nil, expire(ctx, cfg.State, profile, d, err)
			}

			probeResp, probeErr := next(ctx, probeFor(d, cfg.ProbePath))
			if probeErr != nil {
				if IsCancelled(probeErr) || ctx.Err() != nil {
					return nil, probeErr
				}
				log.Warn().Err(probeErr).Msg("session probe failed")
				return nil, expire(ctx, cfg.State, profile, d, probeErr)
			}

			if ident, perr := session.ParseIdentity(probeResp.Body); perr == nil {
				cfg.State.SetIdentity(ident)
			} else {
				log.Debug().Err(perr).Msg("session probe returned no identity")
			}

			resp, err = next(ctx, d)
			if err == nil {
				log.Debug().Msg("request replayed after session probe")
				tracking.RecordRecovery(ctx, profile, tracking.RecoveryReplayed)
				return resp, nil
			}
			if IsKind(err, KindUnauthorized) {
				notifier.Emit(authEvent(session.EventAuthError, profile, d))
				return nil, expire(ctx, cfg.State, profile, d, err)
			}
			return nil, err
		}
	}
}

func expire(ctx context.Context, state *session.State, profile string, d *Descriptor, cause error) *Error {
	tracking.RecordRecovery(ctx, profile, tracking.RecoveryExpired)
	state.Expire(authEvent(session.EventSessionExpired, profile, d))
	return &Error{
		Kind:    KindUnauthorized,
		Status:  http.StatusUnauthorized,
		Message: "session expired",
		Profile: profile,
		Err:     fmt.Errorf("%w: %w", ErrSessionExpired, cause),
	}
}

func authEvent(t session.EventType, profile string, d *Descriptor) session.Event {
	return session.Event{
		Type:    t,
		Profile: profile,
		Method:  d.Method(),
		Path:    d.Path(),
		Status:  http.StatusUnauthorized,
	}
}

