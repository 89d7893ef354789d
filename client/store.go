package client

import (
	"context"
	"fmt"

	"github.com/casedesk/relay/cache"
	"github.com/casedesk/relay/cache/file"
	"github.com/casedesk/relay/cache/memory"
	"github.com/casedesk/relay/cache/redis"
	"github.com/casedesk/relay/config"
)

// OpenStore opens the persisted store selected by cfg.Type.
func OpenStore(ctx context.Context, cfg *config.StoreConfig) (cache.Cache, error) {
	switch cfg.Type {
	case config.StoreFile:
		return file.New(cfg.File.Dir)
	case config.StoreRedis:
		return redis.NewClient(ctx, &cfg.Redis)
	case config.StoreMemory, "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
