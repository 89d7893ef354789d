package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/casedesk/relay/transport"
)

var validOptions = map[string][]string{
	"app.env":                {EnvDevelopment, EnvStaging, EnvProduction},
	"log.level":              {"trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"},
	"store.type":             {StoreMemory, StoreFile, StoreRedis},
	"observability.exporter": {ExporterStdout, ExporterOTLP},
	"observability.protocol": {ProtocolHTTP, ProtocolGRPC},
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct tags first, then the rules that span fields.
func Validate(cfg *Config) error {
	if err := newValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return err
	}

	if err := validateProfiles(cfg); err != nil {
		return fmt.Errorf("profiles config: %w", err)
	}
	if err := validateStore(&cfg.Store); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if cfg.Observability.Enabled && cfg.Observability.Exporter == ExporterOTLP && cfg.Observability.Endpoint == "" {
		return fmt.Errorf("observability config: %w", NewMissingFieldError("observability.endpoint"))
	}
	return nil
}

// fieldError converts a validator failure into a ConfigError keyed by the koanf path.
func fieldError(fe validator.FieldError) *ConfigError {
	_, field, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "required":
		return NewMissingFieldError(field)
	case "oneof":
		return NewInvalidFieldError(field, fmt.Sprintf("invalid value %q", fmt.Sprint(fe.Value())), validOptions[field])
	case "url":
		return NewInvalidFieldError(field, fmt.Sprintf("invalid url %q", fmt.Sprint(fe.Value())), nil)
	case "startswith":
		return NewInvalidFieldError(field, fmt.Sprintf("must start with %q", fe.Param()), nil)
	case "min":
		return NewInvalidFieldError(field, fmt.Sprintf("needs at least %s entries", fe.Param()), nil)
	case "gt", "gte":
		return NewInvalidFieldError(field, fmt.Sprintf("must be %s %s", comparison(fe.Tag()), fe.Param()), nil)
	default:
		return NewInvalidFieldError(field, fmt.Sprintf("failed %s validation", fe.Tag()), nil)
	}
}

func comparison(tag string) string {
	if tag == "gt" {
		return "greater than"
	}
	return "at least"
}

func validateProfiles(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Profiles))
	for i := range cfg.Profiles {
		p := &cfg.Profiles[i]
		field := fmt.Sprintf("profiles[%d]", i)
		if seen[p.Name] {
			return NewInvalidFieldError(field+".name", fmt.Sprintf("duplicate profile %q", p.Name), nil)
		}
		seen[p.Name] = true
		if p.BaseURL == "" && cfg.Backend.BaseURL == "" {
			return NewMissingFieldError(field + ".base_url")
		}
	}
	return nil
}

func validateStore(cfg *StoreConfig) error {
	switch cfg.Type {
	case StoreFile:
		if cfg.File.Dir == "" {
			return NewMissingFieldError("store.file.dir")
		}
	case StoreRedis:
		if err := cfg.Redis.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TransportProfiles converts the profile section into transport profiles, in
// fallback order. A profile without base_url inherits backend.base_url.
func (c *Config) TransportProfiles() ([]transport.Profile, error) {
	out := make([]transport.Profile, 0, len(c.Profiles))
	for i, p := range c.Profiles {
		creds, err := transport.ParseCredentialMode(p.Credentials)
		if err != nil {
			return nil, NewInvalidFieldError(fmt.Sprintf("profiles[%d].credentials", i), err.Error(), nil)
		}
		auth, err := transport.ParseAuthMode(p.Auth)
		if err != nil {
			return nil, NewInvalidFieldError(fmt.Sprintf("profiles[%d].auth", i), err.Error(), nil)
		}
		base := p.BaseURL
		if base == "" {
			base = c.Backend.BaseURL
		}
		out = append(out, transport.Profile{
			Name:           p.Name,
			BaseURL:        base,
			Timeout:        p.Timeout,
			LongTimeout:    p.LongTimeout,
			Credentials:    creds,
			Auth:           auth,
			DefaultHeaders: p.Headers,
			RateLimit:      p.RateLimit,
			RateBurst:      p.RateBurst,
		})
	}
	return out, nil
}
