package query

import (
	"time"

	"github.com/casedesk/relay/cache"
)

type keyConfig struct {
	staleTime     time.Duration
	sessionScoped bool
	persistKey    string
	persist       bool
}

// KeyOption customizes how one key is cached.
type KeyOption func(*keyConfig)

// WithStaleTime overrides the staleness window of the key.
func WithStaleTime(d time.Duration) KeyOption {
	return func(kc *keyConfig) { kc.staleTime = d }
}

// SessionScoped ties the key to the current session: it is evicted when the
// session is cleared and never served across a session change.
func SessionScoped() KeyOption {
	return func(kc *keyConfig) { kc.sessionScoped = true }
}

// Persisted snapshots every successful fetch under storeKey and serves the
// snapshot when a fetch fails because the backend is unreachable. An empty
// storeKey means cache.SnapshotKeyPrefix followed by the query key.
func Persisted(storeKey string) KeyOption {
	return func(kc *keyConfig) {
		kc.persist = true
		kc.persistKey = storeKey
	}
}

func (c *Cache) keyConfig(key string, opts []KeyOption) keyConfig {
	kc := keyConfig{staleTime: c.cfg.StaleTime}
	for _, opt := range opts {
		opt(&kc)
	}
	switch {
	case !kc.persist || c.cfg.Store == nil:
		kc.persistKey = ""
	case kc.persistKey == "":
		kc.persistKey = cache.SnapshotKey(key)
	}
	return kc
}
