package dispatch

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed taxonomy every layer above the transport reasons about.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindTimeout
	KindServerError
	KindClientError
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindServerError:
		return "server_error"
	case KindClientError:
		return "client_error"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// ErrSessionExpired is wrapped by the error returned when session recovery gives up.
var ErrSessionExpired = errors.New("session expired")

// Error is a normalized failure. Status is the raw HTTP status, zero when no
// response was received.
type Error struct {
	Kind      Kind
	Status    int
	Message   string
	Code      string
	Body      []byte
	Profile   string
	Attempts  int
	Cancelled bool
	Err       error
}

// Error returns the backend message verbatim for business failures so callers
// can show it as is.
func (e *Error) Error() string {
	if e.fromBackend() {
		return e.Message
	}
	msg := "relay: " + e.Kind.String()
	if e.Cancelled {
		msg = "relay: cancelled"
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) fromBackend() bool {
	return (e.Kind == KindClientError || e.Kind == KindUnauthorized) &&
		e.Message != "" && e.Message != http.StatusText(e.Status) && e.Err == nil
}

// Temporary reports whether the failure is worth trying again later.
func (e *Error) Temporary() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindServerError:
		return true
	default:
		return false
	}
}

// KindOf returns the Kind of err, or KindUnknown when err is not normalized.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind checks if err is a normalized error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsStatus checks if err carries the given HTTP status.
func IsStatus(err error, status int) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == status
}

// IsCancelled reports whether err is the caller abandoning the call.
func IsCancelled(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Cancelled
}

// IsSessionExpired reports whether err means the session is dead.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

func cancelledError(profile string, cause error) *Error {
	return &Error{Kind: KindUnknown, Cancelled: true, Profile: profile, Err: cause}
}
