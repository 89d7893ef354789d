// Package file provides a directory-backed cache.Cache so persisted state
// survives process restarts without an external server.
package file

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/casedesk/relay/cache"
	"github.com/casedesk/relay/internal/tracking"
)

const (
	storeName = "file"
	fileExt   = ".json"
	dirPerm   = 0o700
	filePerm  = 0o600
)

// envelope is the on-disk record; ExpiresAt is zero for values without TTL.
type envelope struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Store keeps one file per key under a directory.
// Writes go to a temp file first and are renamed into place.
type Store struct {
	dir    string
	clock  clockwork.Clock
	mu     sync.Mutex
	closed atomic.Bool
}

var _ cache.Cache = (*Store)(nil)

// Option customizes a Store.
type Option func(*Store)

// WithClock sets the clock TTLs are evaluated against.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// New opens (creating if needed) a store rooted at dir.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, cache.NewConfigError("store.file.dir", "directory is required", nil)
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, cache.NewConfigError("store.file.dir", "cannot create directory", err)
	}
	s := &Store{dir: dir, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, hex.EncodeToString([]byte(key))+fileExt)
}

// Get reads the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, cache.ErrClosed
	}
	start := time.Now()

	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		tracking.RecordStoreOperation(ctx, storeName, tracking.OpGet, time.Since(start), nil)
		return nil, cache.ErrNotFound
	}
	if err != nil {
		tracking.RecordStoreOperation(ctx, storeName, tracking.OpGet, time.Since(start), err)
		return nil, cache.NewOperationError("get", key, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		tracking.RecordStoreOperation(ctx, storeName, tracking.OpGet, time.Since(start), err)
		return nil, cache.NewOperationError("get", key, err)
	}
	tracking.RecordStoreOperation(ctx, storeName, tracking.OpGet, time.Since(start), nil)

	if !env.ExpiresAt.IsZero() && s.clock.Now().After(env.ExpiresAt) {
		_ = s.remove(key)
		return nil, cache.ErrNotFound
	}
	return env.Value, nil
}

// Set atomically replaces the file for key.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	if ttl < 0 {
		return cache.ErrInvalidTTL
	}
	start := time.Now()

	env := envelope{Value: value}
	if ttl > 0 {
		env.ExpiresAt = s.clock.Now().Add(ttl)
	}
	err := s.write(key, env)
	tracking.RecordStoreOperation(ctx, storeName, tracking.OpSet, time.Since(start), err)
	if err != nil {
		return cache.NewOperationError("set", key, err)
	}
	return nil
}

func (s *Store) write(key string, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	start := time.Now()
	err := s.remove(key)
	tracking.RecordStoreOperation(ctx, storeName, tracking.OpDelete, time.Since(start), err)
	if err != nil {
		return cache.NewOperationError("delete", key, err)
	}
	return nil
}

func (s *Store) remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Health verifies the directory is still reachable.
func (s *Store) Health(ctx context.Context) error {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	start := time.Now()
	_, err := os.Stat(s.dir)
	tracking.RecordStoreOperation(ctx, storeName, tracking.OpHealth, time.Since(start), err)
	if err != nil {
		return cache.NewOperationError("ping", s.dir, err)
	}
	return nil
}

// Close marks the store closed. Files are left on disk.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}
