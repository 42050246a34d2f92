// Package cache implements the local conversation snapshot store.
package cache

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edumarket/chatsync/internal/config"
	"github.com/edumarket/chatsync/internal/domain/conversation"
)

// New builds the backend selected by CACHE_BACKEND. The returned cleanup
// releases backend resources.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (conversation.Cache, func(), error) {
	switch cfg.CacheBackend {
	case config.CacheBackendMemory:
		c, err := NewMemoryCache(cfg.CacheMemorySize, log)
		return c, func() {}, err
	case config.CacheBackendFile:
		c, err := NewFileCache(cfg.CacheDir, log)
		return c, func() {}, err
	case config.CacheBackendRedis:
		c, err := NewRedisCache(ctx, cfg.CacheRedisURL, log)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {
			if err := c.Close(); err != nil {
				log.Error().Err(err).Msg("close redis cache")
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}
