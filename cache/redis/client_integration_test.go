//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casedesk/relay/cache"
	"github.com/casedesk/relay/testing/containers"
)

func startRedis(ctx context.Context, t *testing.T) *Config {
	t.Helper()
	host, port := containers.StartRedis(ctx, t)
	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	return &cfg
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := startRedis(ctx, t)

	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Health(ctx))

	_, err = client.Get(ctx, cache.TokenKey)
	assert.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, client.Set(ctx, cache.TokenKey, []byte("tok"), time.Minute))
	got, err := client.Get(ctx, cache.TokenKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("tok"), got)

	require.NoError(t, client.Delete(ctx, cache.TokenKey))
	require.NoError(t, client.Delete(ctx, cache.TokenKey))
	_, err = client.Get(ctx, cache.TokenKey)
	assert.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Health(ctx), cache.ErrClosed)
}
