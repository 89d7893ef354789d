// Package redis provides a Redis-backed cache.Cache so several relay processes
// can share one bearer token and one set of last-known-good snapshots.
package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/casedesk/relay/cache"
	"github.com/casedesk/relay/internal/tracking"
)

const storeName = "redis"

// Client implements the cache.Cache interface using Redis as the backend.
type Client struct {
	client *redis.Client
	config *Config
	closed atomic.Bool
}

var _ cache.Cache = (*Client)(nil)

// NewClient creates a new Redis store.
// Validates configuration and establishes connection.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address(),
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, cache.NewOperationError("ping", cfg.Address(), err)
	}

	return &Client{client: client, config: cfg}, nil
}

// Get retrieves a value from the store.
// Returns cache.ErrNotFound if the key doesn't exist.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if c.closed.Load() {
		return nil, cache.ErrClosed
	}

	start := time.Now()
	result, err := c.client.Get(ctx, key).Bytes()
	duration := time.Since(start)

	if errors.Is(err, redis.Nil) {
		tracking.RecordStoreOperation(ctx, storeName, tracking.OpGet, duration, nil)
		return nil, cache.ErrNotFound
	}
	tracking.RecordStoreOperation(ctx, storeName, tracking.OpGet, duration, err)

	if err != nil {
		return nil, cache.NewOperationError("get", key, err)
	}
	return result, nil
}

// Set stores a value with the specified TTL. TTL of 0 means no expiration.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return cache.ErrClosed
	}
	if ttl < 0 {
		return cache.ErrInvalidTTL
	}

	start := time.Now()
	err := c.client.Set(ctx, key, value, ttl).Err()
	tracking.RecordStoreOperation(ctx, storeName, tracking.OpSet, time.Since(start), err)

	if err != nil {
		return cache.NewOperationError("set", key, err)
	}
	return nil
}

// Delete removes a key. Does not return error if key doesn't exist.
func (c *Client) Delete(ctx context.Context, key string) error {
	if c.closed.Load() {
		return cache.ErrClosed
	}

	start := time.Now()
	err := c.client.Del(ctx, key).Err()
	tracking.RecordStoreOperation(ctx, storeName, tracking.OpDelete, time.Since(start), err)

	if err != nil {
		return cache.NewOperationError("delete", key, err)
	}
	return nil
}

// Health checks if the Redis connection is healthy.
func (c *Client) Health(ctx context.Context) error {
	if c.closed.Load() {
		return cache.ErrClosed
	}

	start := time.Now()
	err := c.client.Ping(ctx).Err()
	tracking.RecordStoreOperation(ctx, storeName, tracking.OpHealth, time.Since(start), err)

	if err != nil {
		return cache.NewOperationError("ping", c.config.Address(), err)
	}
	return nil
}

// Close closes the Redis client. Close is idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.client.Close()
}
