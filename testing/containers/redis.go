//go:build integration

// Package containers starts throwaway backing services for integration tests.
package containers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisImage is the image StartRedis runs.
const RedisImage = "redis:7-alpine"

// dockerAvailable reports whether the Docker daemon answers.
func dockerAvailable(ctx context.Context) bool {
	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()
	_, err = provider.DaemonHost(ctx)
	return err == nil
}

// StartRedis runs a Redis container for the duration of t and returns its
// host and mapped port. The test is skipped when Docker is unavailable.
func StartRedis(ctx context.Context, t *testing.T) (host string, port int) {
	t.Helper()
	if !dockerAvailable(ctx) {
		t.Skip("docker is not available, skipping integration test")
	}

	container, err := redis.Run(ctx, RedisImage,
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate redis container: %v", err)
		}
	})

	host, err = container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	t.Logf("redis ready at %s", fmt.Sprintf("%s:%d", host, mapped.Int()))
	return host, mapped.Int()
}
