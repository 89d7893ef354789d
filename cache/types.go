// Package cache provides the byte-store abstraction relay uses for client-side
// persisted state: the bearer token and last-known-good snapshots.
// Values are opaque blobs; every write replaces the previous value wholesale.
package cache

import (
	"context"
	"time"
)

// Cache defines the store contract. All implementations must be thread-safe and context-aware.
//
// Example usage:
//
//	store := memory.New()
//	err := store.Set(ctx, cache.SettingsSnapshotKey, blob, 0)
//	blob, err = store.Get(ctx, cache.SettingsSnapshotKey)
type Cache interface {
	// Get retrieves a value by key.
	// Returns ErrNotFound if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the specified TTL, replacing any previous value.
	// If ttl is 0, the value is stored without expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	// Returns nil if the key doesn't exist (idempotent operation).
	Delete(ctx context.Context, key string) error

	// Health checks that the store is usable.
	Health(ctx context.Context) error

	// Close releases resources. After Close every operation returns ErrClosed.
	Close() error
}
