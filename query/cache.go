// Package query caches the results of read calls per logical key, applies
// read and write retry policies above the dispatcher, and serves last-known-good
// snapshots when the backend is unreachable.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/casedesk/relay/cache"
	"github.com/casedesk/relay/dispatch"
	"github.com/casedesk/relay/internal/retry"
	"github.com/casedesk/relay/internal/tracking"
	"github.com/casedesk/relay/logger"
	"github.com/casedesk/relay/session"
)

// DefaultStaleTime is how long a fetched value is served without dispatching.
const DefaultStaleTime = 5 * time.Minute

// Fetcher loads the current value of a key.
type Fetcher func(ctx context.Context) (any, error)

// Config configures a Cache.
type Config struct {
	StaleTime   time.Duration
	ReadPolicy  RetryPolicy
	WritePolicy RetryPolicy
	Clock       clockwork.Clock
	// Store receives last-known-good snapshots of persisted keys (optional)
	Store cache.Cache
	// State scopes session-dependent keys (optional)
	State  *session.State
	Logger logger.Logger
}

type entry struct {
	value          any
	fetchedAt      time.Time
	staleAfter     time.Duration
	sessionScoped  bool
	sessionVersion uint64
}

// Cache holds per-key results. Keys name logical resources, not profiles.
type Cache struct {
	cfg    Config
	clock  clockwork.Clock
	logger logger.Logger
	group  singleflight.Group

	mu      sync.RWMutex
	entries map[string]*entry
	gens    map[string]uint64
}

// New creates a cache. When cfg.State is set, clearing the session evicts its dependent keys.
func New(cfg Config) *Cache {
	if cfg.StaleTime <= 0 {
		cfg.StaleTime = DefaultStaleTime
	}
	if cfg.ReadPolicy.RetryOn == nil {
		cfg.ReadPolicy = DefaultReadPolicy()
	}
	if cfg.WritePolicy.RetryOn == nil {
		cfg.WritePolicy = DefaultWritePolicy()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	c := &Cache{
		cfg:     cfg,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		entries: map[string]*entry{},
		gens:    map[string]uint64{},
	}
	if cfg.State != nil {
		cfg.State.OnClear(func(keys []string) { c.Invalidate(keys...) })
	}
	return c
}

// Read returns the cached value of key while it is fresh. A stale value is
// returned immediately and refreshed in the background. A miss fetches
// under the read policy; concurrent misses of one key share a single fetch.
func (c *Cache) Read(ctx context.Context, key string, fetch Fetcher, opts ...KeyOption) (any, error) {
	kc := c.keyConfig(key, opts)

	if e, ok := c.lookup(key); ok {
		if c.clock.Since(e.fetchedAt) < e.staleAfter {
			tracking.RecordLookup(ctx, tracking.LookupHit)
			return e.value, nil
		}
		tracking.RecordLookup(ctx, tracking.LookupStale)
		c.refresh(ctx, key, fetch, kc)
		return e.value, nil
	}

	tracking.RecordLookup(ctx, tracking.LookupMiss)
	v, err := c.shared(ctx, key, fetch, kc)
	if err == nil {
		return v, nil
	}
	if dispatch.IsCancelled(err) {
		return nil, err
	}

	if kc.persistKey != "" && isOutage(err) {
		if snapshot, serr := c.cfg.Store.Get(ctx, kc.persistKey); serr == nil {
			c.logger.Warn().Str("key", key).Err(err).Msg("serving last-known-good snapshot")
			tracking.RecordLookup(ctx, tracking.LookupPersist)
			return json.RawMessage(snapshot), nil
		}
	}
	return nil, err
}

// Get is Read with a typed fetcher. Persisted snapshots are decoded into T.
func Get[T any](ctx context.Context, c *Cache, key string, fetch func(ctx context.Context) (T, error), opts ...KeyOption) (T, error) {
	var zero T
	v, err := c.Read(ctx, key, func(ctx context.Context) (any, error) { return fetch(ctx) }, opts...)
	if err != nil || v == nil {
		return zero, err
	}
	switch typed := v.(type) {
	case T:
		return typed, nil
	case json.RawMessage:
		return cache.Unmarshal[T](typed)
	default:
		return zero, fmt.Errorf("query: cached value for %q is %T", key, v)
	}
}

// Peek returns the cached value of key, fresh or stale, without fetching.
func (c *Cache) Peek(key string) (any, bool) {
	e, ok := c.lookup(key)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Write stores value as the freshly fetched value of key.
func (c *Cache) Write(key string, value any, opts ...KeyOption) {
	kc := c.keyConfig(key, opts)
	c.mu.Lock()
	c.gens[key]++
	c.mu.Unlock()
	c.group.Forget(key)
	c.store(key, value, kc, c.sessionVersion(), c.generation(key))
}

// Invalidate removes keys. Fetches already in flight for them are not stored.
func (c *Cache) Invalidate(keys ...string) {
	c.mu.Lock()
	for _, key := range keys {
		delete(c.entries, key)
		c.gens[key]++
	}
	c.mu.Unlock()
	for _, key := range keys {
		c.group.Forget(key)
	}
}

// InvalidateMatching removes every key for which match returns true and
// reports how many entries were removed.
func (c *Cache) InvalidateMatching(match func(key string) bool) int {
	c.mu.RLock()
	var keys []string
	for key := range c.entries {
		if match(key) {
			keys = append(keys, key)
		}
	}
	c.mu.RUnlock()
	c.Invalidate(keys...)
	return len(keys)
}

// Mutate runs a state-changing call under the write policy and, once it
// succeeds, invalidates the keys it affects.
func (c *Cache) Mutate(ctx context.Context, fn Fetcher, invalidates ...string) (any, error) {
	p := c.cfg.WritePolicy
	v, err := retry.Do(ctx, c.retryPolicy(p, "write"), p.classify, func(ctx context.Context, _ int) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return nil, unwrapRetry(err)
	}
	c.Invalidate(invalidates...)
	return v, nil
}

func (c *Cache) fetch(ctx context.Context, key string, fetch Fetcher, kc keyConfig) (any, error) {
	version := c.sessionVersion()
	gen := c.generation(key)

	p := c.cfg.ReadPolicy
	v, err := retry.Do(ctx, c.retryPolicy(p, key), p.classify, func(ctx context.Context, _ int) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return nil, unwrapRetry(err)
	}

	c.store(key, v, kc, version, gen)
	if kc.persistKey != "" {
		if perr := cache.SaveJSON(ctx, c.cfg.Store, kc.persistKey, v, 0); perr != nil {
			c.logger.Warn().Str("key", key).Err(perr).Msg("failed to persist snapshot")
		}
	}
	return v, nil
}

// shared joins the single fetch of key. The fetch outlives any one reader:
// a reader whose ctx ends stops waiting, the others still get the result.
func (c *Cache) shared(ctx context.Context, key string, fetch Fetcher, kc keyConfig) (any, error) {
	bg := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.fetch(bg, key, fetch, kc)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, &dispatch.Error{Kind: dispatch.KindUnknown, Cancelled: true, Err: ctx.Err()}
	}
}

// refresh re-fetches key in the background, detached from the caller's cancellation.
func (c *Cache) refresh(ctx context.Context, key string, fetch Fetcher, kc keyConfig) {
	bg := context.WithoutCancel(ctx)
	go func() {
		_, err, _ := c.group.Do(key, func() (any, error) {
			return c.fetch(bg, key, fetch, kc)
		})
		if err != nil {
			c.logger.Debug().Str("key", key).Err(err).Msg("background refresh failed")
		}
	}()
}

func (c *Cache) store(key string, value any, kc keyConfig, version, gen uint64) {
	if kc.sessionScoped && c.cfg.State != nil {
		c.cfg.State.AddDependent(key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key] != gen {
		return
	}
	c.entries[key] = &entry{
		value:          value,
		fetchedAt:      c.clock.Now(),
		staleAfter:     kc.staleTime,
		sessionScoped:  kc.sessionScoped,
		sessionVersion: version,
	}
}

// lookup returns the entry of key unless it belongs to a session that has since changed.
func (c *Cache) lookup(key string) (*entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if e.sessionScoped && e.sessionVersion != c.sessionVersion() {
		return nil, false
	}
	return e, true
}

func (c *Cache) sessionVersion() uint64 {
	if c.cfg.State == nil {
		return 0
	}
	return c.cfg.State.Version()
}

func (c *Cache) generation(key string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[key]
}

func (c *Cache) retryPolicy(p RetryPolicy, key string) retry.Policy {
	return retry.Policy{
		MaxAttempts: p.MaxRetries + 1,
		BaseDelay:   p.BaseDelay,
		MaxDelay:    p.MaxDelay,
		Clock:       c.clock,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.logger.Debug().Str("key", key).Int("attempt", attempt).Dur("delay", delay).Err(err).Msg("retrying query")
		},
	}
}

func isOutage(err error) bool {
	switch dispatch.KindOf(err) {
	case dispatch.KindNetwork, dispatch.KindTimeout, dispatch.KindServerError:
		return true
	default:
		return false
	}
}
