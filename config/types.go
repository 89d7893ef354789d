package config

import (
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/casedesk/relay/cache/redis"
)

// Config is read once at process start and never mutated afterwards.
// The embedded koanf.Koanf instance keeps the merged raw values for lookups by key.
type Config struct {
	App           AppConfig           `koanf:"app" json:"app" yaml:"app"`
	Log           LogConfig           `koanf:"log" json:"log" yaml:"log"`
	Backend       BackendConfig       `koanf:"backend" json:"backend" yaml:"backend"`
	Profiles      []ProfileConfig     `koanf:"profiles" json:"profiles" yaml:"profiles" validate:"min=1,dive"`
	Retry         RetryConfig         `koanf:"retry" json:"retry" yaml:"retry"`
	Breaker       BreakerConfig       `koanf:"breaker" json:"breaker" yaml:"breaker"`
	Query         QueryConfig         `koanf:"query" json:"query" yaml:"query"`
	Session       SessionConfig       `koanf:"session" json:"session" yaml:"session"`
	Store         StoreConfig         `koanf:"store" json:"store" yaml:"store"`
	Observability ObservabilityConfig `koanf:"observability" json:"observability" yaml:"observability"`

	// k holds the underlying Koanf instance
	k *koanf.Koanf `json:"-" yaml:"-"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name    string `koanf:"name" json:"name" yaml:"name" validate:"required"`
	Version string `koanf:"version" json:"version" yaml:"version" validate:"required"`
	Env     string `koanf:"env" json:"env" yaml:"env" validate:"oneof=development staging production"`
	Debug   bool   `koanf:"debug" json:"debug" yaml:"debug"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty"`
	// Payloads logs request and response bodies at debug level
	Payloads bool `koanf:"payloads" json:"payloads" yaml:"payloads"`
}

// BackendConfig holds the backend location shared by every profile.
type BackendConfig struct {
	BaseURL string `koanf:"base_url" json:"base_url" yaml:"base_url" validate:"required,url"`
	// SettingsPath serves the settings document kept as a last-known-good snapshot
	SettingsPath string `koanf:"settings_path" json:"settings_path" yaml:"settings_path" validate:"required,startswith=/"`
}

// ProfileConfig describes one transport profile. Profiles are tried in the listed order.
type ProfileConfig struct {
	Name string `koanf:"name" json:"name" yaml:"name" validate:"required"`
	// BaseURL overrides backend.base_url for this profile
	BaseURL     string            `koanf:"base_url" json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
	Credentials string            `koanf:"credentials" json:"credentials" yaml:"credentials" validate:"omitempty,oneof=none omit same-origin cross-origin include"`
	Auth        string            `koanf:"auth" json:"auth" yaml:"auth" validate:"omitempty,oneof=session cookie bearer token"`
	Timeout     time.Duration     `koanf:"timeout" json:"timeout" yaml:"timeout" validate:"gte=0"`
	LongTimeout time.Duration     `koanf:"long_timeout" json:"long_timeout" yaml:"long_timeout" validate:"gte=0"`
	Headers     map[string]string `koanf:"headers" json:"headers,omitempty" yaml:"headers,omitempty"`
	RateLimit   float64           `koanf:"rate_limit" json:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	RateBurst   int               `koanf:"rate_burst" json:"rate_burst" yaml:"rate_burst" validate:"gte=0"`
}

// RetryConfig bounds transport-level retries on one profile.
type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts" json:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	BaseDelay   time.Duration `koanf:"base_delay" json:"base_delay" yaml:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `koanf:"max_delay" json:"max_delay" yaml:"max_delay" validate:"gte=0"`
}

// BreakerConfig configures the per-profile circuit breaker. A zero threshold disables it.
type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold" json:"failure_threshold" yaml:"failure_threshold"`
	OpenTimeout      time.Duration `koanf:"open_timeout" json:"open_timeout" yaml:"open_timeout" validate:"gte=0"`
}

// QueryConfig configures the cache and its retry policies.
type QueryConfig struct {
	StaleTime    time.Duration `koanf:"stale_time" json:"stale_time" yaml:"stale_time" validate:"gt=0"`
	ReadRetries  int           `koanf:"read_retries" json:"read_retries" yaml:"read_retries" validate:"gte=0"`
	WriteRetries int           `koanf:"write_retries" json:"write_retries" yaml:"write_retries" validate:"gte=0"`
	BaseDelay    time.Duration `koanf:"base_delay" json:"base_delay" yaml:"base_delay" validate:"gte=0"`
	MaxDelay     time.Duration `koanf:"max_delay" json:"max_delay" yaml:"max_delay" validate:"gte=0"`
}

// SessionConfig configures session recovery and the authentication endpoints.
type SessionConfig struct {
	ProbePath   string   `koanf:"probe_path" json:"probe_path" yaml:"probe_path" validate:"required,startswith=/"`
	LoginPath   string   `koanf:"login_path" json:"login_path" yaml:"login_path" validate:"required,startswith=/"`
	LogoutPath  string   `koanf:"logout_path" json:"logout_path" yaml:"logout_path" validate:"required,startswith=/"`
	ExemptPaths []string `koanf:"exempt_paths" json:"exempt_paths" yaml:"exempt_paths"`
}

// Store types
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// StoreConfig selects where the bearer token and snapshots are persisted.
type StoreConfig struct {
	Type  string          `koanf:"type" json:"type" yaml:"type" validate:"oneof=memory file redis"`
	File  FileStoreConfig `koanf:"file" json:"file" yaml:"file"`
	Redis redis.Config    `koanf:"redis" json:"redis" yaml:"redis"`
}

// FileStoreConfig holds the directory of the file store.
type FileStoreConfig struct {
	Dir string `koanf:"dir" json:"dir" yaml:"dir"`
}

// Exporter names
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// OTLP protocols
const (
	ProtocolHTTP = "http"
	ProtocolGRPC = "grpc"
)

// ObservabilityConfig configures metric export.
type ObservabilityConfig struct {
	Enabled  bool          `koanf:"enabled" json:"enabled" yaml:"enabled"`
	Exporter string        `koanf:"exporter" json:"exporter" yaml:"exporter" validate:"oneof=stdout otlp"`
	Endpoint string        `koanf:"endpoint" json:"endpoint" yaml:"endpoint"`
	Protocol string        `koanf:"protocol" json:"protocol" yaml:"protocol" validate:"oneof=http grpc"`
	Insecure bool          `koanf:"insecure" json:"insecure" yaml:"insecure"`
	Interval time.Duration `koanf:"interval" json:"interval" yaml:"interval" validate:"gt=0"`
}
