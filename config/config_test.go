package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casedesk/relay/transport"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(WithoutDefaultFile(), WithoutEnv())
	require.NoError(t, err)

	assert.Equal(t, "relay", cfg.App.Name)
	assert.Equal(t, EnvDevelopment, cfg.App.Env)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "http://localhost:8080", cfg.Backend.BaseURL)

	require.Len(t, cfg.Profiles, 2)
	assert.Equal(t, "primary", cfg.Profiles[0].Name)
	assert.Equal(t, "same-origin", cfg.Profiles[0].Credentials)
	assert.Equal(t, "cross-origin", cfg.Profiles[1].Name)
	assert.Equal(t, 30*time.Second, cfg.Profiles[0].Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Profiles[0].LongTimeout)

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)

	assert.Equal(t, 5*time.Minute, cfg.Query.StaleTime)
	assert.Equal(t, 3, cfg.Query.ReadRetries)
	assert.Equal(t, 2, cfg.Query.WriteRetries)

	assert.Equal(t, "/me", cfg.Session.ProbePath)
	assert.Equal(t, []string{"/login", "/auth/login", "/logout"}, cfg.Session.ExemptPaths)

	assert.Equal(t, StoreMemory, cfg.Store.Type)
	assert.Equal(t, 10, cfg.Store.Redis.PoolSize)
	assert.Equal(t, 5*time.Second, cfg.Store.Redis.DialTimeout)
	assert.False(t, cfg.Observability.Enabled)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	doc := []byte(`
backend:
  base_url: https://api.example.com
profiles:
  - name: edge
    credentials: include
    auth: bearer
    timeout: 10s
    headers:
      X-Client: relay
retry:
  max_attempts: 5
`)
	cfg, err := Load(WithoutDefaultFile(), WithoutEnv(), WithYAML(doc))
	require.NoError(t, err)

	require.Len(t, cfg.Profiles, 1)
	assert.Equal(t, "edge", cfg.Profiles[0].Name)
	assert.Equal(t, 10*time.Second, cfg.Profiles[0].Timeout)
	assert.Equal(t, "relay", cfg.Profiles[0].Headers["X-Client"])
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  env: staging\nlog:\n  level: debug\n"), 0o600))

	cfg, err := Load(WithoutDefaultFile(), WithoutEnv(), WithFile(path))
	require.NoError(t, err)
	assert.Equal(t, EnvStaging, cfg.App.Env)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "debug", cfg.GetString("log.level"))
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(WithoutDefaultFile(), WithoutEnv(), WithFile(filepath.Join(t.TempDir(), "absent.yaml")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent.yaml")
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("RELAY_BACKEND_BASE_URL", "https://env.example.com")
	t.Setenv("RELAY_STORE_REDIS_POOL_SIZE", "20")
	t.Setenv("RELAY_SESSION_EXEMPT_PATHS", "/signin, /signout")
	t.Setenv("RELAY_QUERY_STALE_TIME", "1m")

	doc := []byte("backend:\n  base_url: https://yaml.example.com\n")
	cfg, err := Load(WithoutDefaultFile(), WithYAML(doc))
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, 20, cfg.Store.Redis.PoolSize)
	assert.Equal(t, []string{"/signin", "/signout"}, cfg.Session.ExemptPaths)
	assert.Equal(t, time.Minute, cfg.Query.StaleTime)
}

func TestTransportProfilesInheritBackend(t *testing.T) {
	doc := []byte(`
backend:
  base_url: https://api.example.com
profiles:
  - name: primary
    credentials: same-origin
  - name: mirror
    base_url: https://mirror.example.com
    credentials: cross-origin
    auth: bearer
    rate_limit: 5
    rate_burst: 2
`)
	cfg, err := Load(WithoutDefaultFile(), WithoutEnv(), WithYAML(doc))
	require.NoError(t, err)

	profiles, err := cfg.TransportProfiles()
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	assert.Equal(t, "https://api.example.com", profiles[0].BaseURL)
	assert.Equal(t, transport.CredentialsSameOrigin, profiles[0].Credentials)
	assert.Equal(t, transport.AuthSession, profiles[0].Auth)

	assert.Equal(t, "https://mirror.example.com", profiles[1].BaseURL)
	assert.Equal(t, transport.CredentialsCrossOrigin, profiles[1].Credentials)
	assert.Equal(t, transport.AuthBearer, profiles[1].Auth)
	assert.InDelta(t, 5.0, profiles[1].RateLimit, 0.0001)
	assert.Equal(t, 2, profiles[1].RateBurst)
}

func TestAccessors(t *testing.T) {
	cfg, err := Load(WithoutDefaultFile(), WithoutEnv())
	require.NoError(t, err)

	assert.True(t, cfg.Exists("store.type"))
	assert.False(t, cfg.Exists("store.nope"))
	assert.Equal(t, "fallback", cfg.GetString("store.nope", "fallback"))
	assert.Equal(t, "memory", cfg.All()["store.type"])

	var empty Config
	assert.False(t, empty.Exists("app.name"))
	assert.Empty(t, empty.All())
}

func TestEnvVar(t *testing.T) {
	assert.Equal(t, "RELAY_STORE_REDIS_POOL_SIZE", EnvVar("store.redis.pool_size"))
	assert.Equal(t, "RELAY_BACKEND_BASE_URL", EnvVar("backend.base_url"))
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := Load(WithoutDefaultFile(), WithoutEnv(), WithYAML([]byte("store:\n  type: etcd\n")))
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "invalid", cfgErr.Category)
	assert.Equal(t, "store.type", cfgErr.Field)
	assert.Contains(t, cfgErr.Action, "redis")
}
