package transport

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// CredentialMode controls which cookies a profile sends and keeps.
type CredentialMode int

const (
	// CredentialsNone sends no cookies and keeps none.
	CredentialsNone CredentialMode = iota
	// CredentialsSameOrigin keeps cookies in a jar private to the profile.
	CredentialsSameOrigin
	// CredentialsCrossOrigin shares one cookie jar across every cross-origin profile.
	CredentialsCrossOrigin
)

func (m CredentialMode) String() string {
	switch m {
	case CredentialsNone:
		return "none"
	case CredentialsSameOrigin:
		return "same-origin"
	case CredentialsCrossOrigin:
		return "cross-origin"
	default:
		return fmt.Sprintf("credential-mode(%d)", int(m))
	}
}

// ParseCredentialMode parses the configuration spelling of a credential mode.
func ParseCredentialMode(s string) (CredentialMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "omit":
		return CredentialsNone, nil
	case "same-origin":
		return CredentialsSameOrigin, nil
	case "cross-origin", "include":
		return CredentialsCrossOrigin, nil
	default:
		return CredentialsNone, fmt.Errorf("unknown credential mode %q", s)
	}
}

// AuthMode tells how a profile authenticates.
type AuthMode int

const (
	// AuthSession relies on a cookie-backed server session.
	AuthSession AuthMode = iota
	// AuthBearer attaches an Authorization: Bearer header from a token source.
	AuthBearer
)

func (m AuthMode) String() string {
	if m == AuthBearer {
		return "bearer"
	}
	return "session"
}

// ParseAuthMode parses the configuration spelling of an auth mode.
func ParseAuthMode(s string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "session", "cookie":
		return AuthSession, nil
	case "bearer", "token":
		return AuthBearer, nil
	default:
		return AuthSession, fmt.Errorf("unknown auth mode %q", s)
	}
}

// CallClass selects the timeout budget of a call.
type CallClass int

const (
	// ClassInteractive is the default class for reads and small writes.
	ClassInteractive CallClass = iota
	// ClassLongRunning is for administrative operations such as bulk imports.
	ClassLongRunning
)

func (c CallClass) String() string {
	if c == ClassLongRunning {
		return "long-running"
	}
	return "interactive"
}

// Profile is one named HTTP client configuration. Profiles are fixed at
// process start and never mutated afterwards.
type Profile struct {
	Name           string
	BaseURL        string
	Timeout        time.Duration
	LongTimeout    time.Duration
	Credentials    CredentialMode
	Auth           AuthMode
	DefaultHeaders map[string]string
	// RateLimit caps requests per second sent through the profile (0 = unlimited)
	RateLimit float64
	RateBurst int
}

// Validate checks the profile for missing or inconsistent fields.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return NewValidationError("profile name is required", "name")
	}
	if p.BaseURL == "" {
		return NewValidationError("base URL is required", "base_url")
	}
	u, err := url.Parse(p.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return NewValidationError(fmt.Sprintf("invalid base URL %q", p.BaseURL), "base_url")
	}
	if p.Timeout < 0 || p.LongTimeout < 0 {
		return NewValidationError("timeouts cannot be negative", "timeout")
	}
	if p.RateLimit < 0 {
		return NewValidationError("rate limit cannot be negative", "rate_limit")
	}
	return nil
}

// TimeoutFor returns the timeout applied to a call of the given class.
func (p *Profile) TimeoutFor(class CallClass) time.Duration {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if class == ClassLongRunning {
		if p.LongTimeout > 0 {
			return p.LongTimeout
		}
		return DefaultLongTimeout
	}
	return timeout
}
