package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override, e.g. RELAY_BACKEND_BASE_URL.
	EnvPrefix = "RELAY_"

	// DefaultFile is read from the working directory when present.
	DefaultFile = "relay.yaml"
)

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Option customizes Load.
type Option func(*loadOptions)

type loadOptions struct {
	files    []string
	yaml     [][]byte
	skipEnv  bool
	skipFile bool
}

// WithFile loads an additional YAML file after relay.yaml. A missing file is an error.
func WithFile(path string) Option {
	return func(o *loadOptions) { o.files = append(o.files, path) }
}

// WithYAML merges an inline YAML document over the file layers.
func WithYAML(doc []byte) Option {
	return func(o *loadOptions) { o.yaml = append(o.yaml, doc) }
}

// WithoutEnv ignores RELAY_* environment variables.
func WithoutEnv() Option {
	return func(o *loadOptions) { o.skipEnv = true }
}

// WithoutDefaultFile skips relay.yaml in the working directory.
func WithoutDefaultFile() Option {
	return func(o *loadOptions) { o.skipFile = true }
}

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. Inline YAML documents
// 3. YAML configuration files
// 4. Default values (lowest priority)
func Load(opts ...Option) (*Config, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if !o.skipFile {
		if err := k.Load(file.Provider(DefaultFile), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", DefaultFile, err)
		}
	}
	for _, path := range o.files {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	for _, doc := range o.yaml {
		if err := k.Load(rawbytes.Provider(doc), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
	}

	if !o.skipEnv {
		if err := k.Load(env.Provider(".", env.Opt{
			Prefix:        EnvPrefix,
			TransformFunc: envTransform(k),
			EnvironFunc:   os.Environ,
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load environment variables: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// envTransform maps RELAY_STORE_REDIS_POOL_SIZE to store.redis.pool_size.
// Keys already known to k are matched exactly so underscores inside a key
// survive; anything else splits on the first underscore.
func envTransform(k *koanf.Koanf) func(string, string) (string, any) {
	known := make(map[string]string)
	for _, key := range k.Keys() {
		known[strings.ReplaceAll(key, ".", "_")] = key
	}
	return func(name, value string) (string, any) {
		key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
		if key == "" {
			return "", nil
		}
		if mapped, ok := known[key]; ok {
			if _, isList := k.Get(mapped).([]any); isList {
				return mapped, splitList(value)
			}
			return mapped, value
		}
		return strings.Replace(key, "_", ".", 1), value
	}
}

func splitList(value string) []any {
	var out []any
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaults() map[string]any {
	return map[string]any{
		"app.name":    "relay",
		"app.version": "v1.0.0",
		"app.env":     EnvDevelopment,
		"app.debug":   false,

		"log.level":    "info",
		"log.pretty":   false,
		"log.payloads": false,

		"backend.base_url":      "http://localhost:8080",
		"backend.settings_path": "/settings",

		"profiles": []any{
			map[string]any{
				"name":         "primary",
				"credentials":  "same-origin",
				"auth":         "session",
				"timeout":      "30s",
				"long_timeout": "5m",
			},
			map[string]any{
				"name":         "cross-origin",
				"credentials":  "cross-origin",
				"auth":         "session",
				"timeout":      "30s",
				"long_timeout": "5m",
			},
		},

		"retry.max_attempts": 3,
		"retry.base_delay":   "500ms",
		"retry.max_delay":    "30s",

		"breaker.failure_threshold": 0,
		"breaker.open_timeout":      "30s",

		"query.stale_time":    "5m",
		"query.read_retries":  3,
		"query.write_retries": 2,
		"query.base_delay":    "1s",
		"query.max_delay":     "30s",

		"session.probe_path":   "/me",
		"session.login_path":   "/login",
		"session.logout_path":  "/logout",
		"session.exempt_paths": []any{"/login", "/auth/login", "/logout"},

		"store.type":                "memory",
		"store.file.dir":            "",
		"store.redis.host":          "localhost",
		"store.redis.port":          6379,
		"store.redis.database":      0,
		"store.redis.pool_size":     10,
		"store.redis.dial_timeout":  "5s",
		"store.redis.read_timeout":  "3s",
		"store.redis.write_timeout": "3s",
		"store.redis.max_retries":   3,

		"observability.enabled":  false,
		"observability.exporter": ExporterStdout,
		"observability.endpoint": "",
		"observability.protocol": ProtocolHTTP,
		"observability.insecure": false,
		"observability.interval": "30s",
	}
}
