package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/edumarket/chatsync/internal/domain/conversation"
)

const (
	snapshotPrefix    = "chatsync:snapshot:"
	participantPrefix = "chatsync:participant:"
)

// RedisCache stores snapshots as JSON strings and keeps a set of keys per
// participant, so several devices of one user can share a cache.
type RedisCache struct {
	client redis.UniversalClient
	log    zerolog.Logger
}

// NewRedisCache connects to the redis instance at redisURL.
func NewRedisCache(ctx context.Context, redisURL string, log zerolog.Logger) (*RedisCache, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL must be provided")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, log), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client redis.UniversalClient, log zerolog.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		log:    log.With().Str("component", "redis-cache").Logger(),
	}
}

// Get returns the snapshot stored under key.
func (c *RedisCache) Get(ctx context.Context, key conversation.Key) (conversation.Snapshot, bool, error) {
	data, err := c.client.Get(ctx, snapshotPrefix+string(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return conversation.Snapshot{}, false, nil
	}
	if err != nil {
		return conversation.Snapshot{}, false, cacheError("redis get", err)
	}

	var snapshot conversation.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		c.log.Warn().Err(err).Str("conversation", key.String()).Msg("discarding unreadable snapshot")
		return conversation.Snapshot{}, false, nil
	}
	return snapshot, true, nil
}

// Set stores the snapshot and indexes it under each participant.
func (c *RedisCache) Set(ctx context.Context, key conversation.Key, snapshot conversation.Snapshot) error {
	snapshot.Key = key
	data, err := json.Marshal(snapshot)
	if err != nil {
		return cacheError("encode snapshot", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, snapshotPrefix+string(key), data, 0)
	for _, id := range snapshot.Participants() {
		pipe.SAdd(ctx, participantPrefix+id, string(key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return cacheError("redis set", err)
	}
	return nil
}

// KeysFor lists the cached conversations participantID takes part in.
func (c *RedisCache) KeysFor(ctx context.Context, participantID string) ([]conversation.Key, error) {
	members, err := c.client.SMembers(ctx, participantPrefix+participantID).Result()
	if err != nil {
		return nil, cacheError("redis smembers", err)
	}
	sort.Strings(members)
	keys := make([]conversation.Key, 0, len(members))
	for _, m := range members {
		keys = append(keys, conversation.Key(m))
	}
	return keys, nil
}

// Close releases the redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
