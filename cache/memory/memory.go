// Package memory provides an in-process cache.Cache, the default store when
// no persistent backend is configured.
package memory

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/casedesk/relay/cache"
	"github.com/casedesk/relay/internal/tracking"
)

const storeName = "memory"

type entry struct {
	value      []byte
	expiration time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiration.IsZero() && now.After(e.expiration)
}

// Store is a thread-safe in-memory cache.Cache with TTL support.
type Store struct {
	mu     sync.RWMutex
	data   map[string]entry
	clock  clockwork.Clock
	closed atomic.Bool
}

var _ cache.Cache = (*Store)(nil)

// New creates an empty store using the real clock.
func New() *Store {
	return NewWithClock(clockwork.NewRealClock())
}

// NewWithClock creates an empty store that evaluates TTLs against clock.
func NewWithClock(clock clockwork.Clock) *Store {
	return &Store{data: make(map[string]entry), clock: clock}
}

// Get retrieves a copy of the stored value.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, cache.ErrClosed
	}
	start := s.clock.Now()

	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()

	if !ok || e.expired(s.clock.Now()) {
		tracking.RecordStoreOperation(ctx, storeName, tracking.OpGet, s.clock.Since(start), nil)
		return nil, cache.ErrNotFound
	}
	tracking.RecordStoreOperation(ctx, storeName, tracking.OpGet, s.clock.Since(start), nil)
	return bytes.Clone(e.value), nil
}

// Set stores a copy of value, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	if ttl < 0 {
		return cache.ErrInvalidTTL
	}
	start := s.clock.Now()

	e := entry{value: bytes.Clone(value)}
	if ttl > 0 {
		e.expiration = s.clock.Now().Add(ttl)
	}

	s.mu.Lock()
	s.data[key] = e
	s.mu.Unlock()

	tracking.RecordStoreOperation(ctx, storeName, tracking.OpSet, s.clock.Since(start), nil)
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	tracking.RecordStoreOperation(ctx, storeName, tracking.OpDelete, 0, nil)
	return nil
}

// Health reports ErrClosed after Close.
func (s *Store) Health(context.Context) error {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	return nil
}

// Close drops all values. Close is idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	s.data = make(map[string]entry)
	s.mu.Unlock()
	return nil
}
