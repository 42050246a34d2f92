package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumarket/chatsync/internal/config"
	"github.com/edumarket/chatsync/internal/domain/conversation"
)

func backends(t *testing.T) map[string]conversation.Cache {
	t.Helper()
	log := zerolog.Nop()

	mem, err := NewMemoryCache(16, log)
	require.NoError(t, err)

	file, err := NewFileCache(t.TempDir(), log)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]conversation.Cache{
		"memory": mem,
		"file":   file,
		"redis":  NewRedisCacheWithClient(client, log),
	}
}

func snapshotFor(key conversation.Key, self, peer string, texts ...string) conversation.Snapshot {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	snap := conversation.Snapshot{Key: key, SelfID: self, PeerID: peer, PeerName: "Ada"}
	for i, text := range texts {
		snap.Messages = append(snap.Messages, conversation.Message{
			ID:         "m" + string(rune('a'+i)),
			SenderID:   self,
			ReceiverID: peer,
			Text:       text,
			Timestamp:  at.Add(time.Duration(i) * time.Minute),
			Status:     conversation.StatusSent,
		})
	}
	if n := len(snap.Messages); n > 0 {
		snap.LastMessage = snap.Messages[n-1].Text
		snap.LastMessageAt = snap.Messages[n-1].Timestamp
	}
	return snap
}

func TestCache_GetMissing(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := c.Get(context.Background(), "conversation:s1:t1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestCache_SetThenGet(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := conversation.Key("conversation:s1:t1")
			snap := snapshotFor(key, "s1", "t1", "hello", "are you free tomorrow?")
			snap.Messages[1].Attachment = &conversation.Attachment{
				URL:  "https://cdn.example.com/a.png",
				Kind: conversation.KindImage,
				Name: "a.png",
			}

			require.NoError(t, c.Set(ctx, key, snap))

			got, ok, err := c.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			require.Len(t, got.Messages, 2)
			assert.Equal(t, "are you free tomorrow?", got.LastMessage)
			assert.Equal(t, "Ada", got.PeerName)
			require.NotNil(t, got.Messages[1].Attachment)
			assert.Equal(t, "https://cdn.example.com/a.png", got.Messages[1].Attachment.URL)
			assert.True(t, snap.LastMessageAt.Equal(got.LastMessageAt))
		})
	}
}

func TestCache_LastWriterWins(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := conversation.Key("conversation:s1:t1")

			require.NoError(t, c.Set(ctx, key, snapshotFor(key, "s1", "t1", "one")))
			require.NoError(t, c.Set(ctx, key, snapshotFor(key, "s1", "t1", "one", "two")))

			got, ok, err := c.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Len(t, got.Messages, 2)
		})
	}
}

func TestCache_KeysFor(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			k1 := conversation.Key("conversation:s1:t1")
			k2 := conversation.Key("conversation:s1:t2")
			k3 := conversation.Key("conversation:s2:t1")

			require.NoError(t, c.Set(ctx, k1, snapshotFor(k1, "s1", "t1", "a")))
			require.NoError(t, c.Set(ctx, k2, snapshotFor(k2, "s1", "t2", "b")))
			require.NoError(t, c.Set(ctx, k3, snapshotFor(k3, "t1", "s2", "c")))

			keys, err := c.KeysFor(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, []conversation.Key{k1, k2}, keys)

			keys, err = c.KeysFor(ctx, "t1")
			require.NoError(t, err)
			assert.ElementsMatch(t, []conversation.Key{k1, k3}, keys)

			keys, err = c.KeysFor(ctx, "nobody")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	c, err := NewMemoryCache(4, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()
	key := conversation.Key("conversation:s1:t1")

	snap := snapshotFor(key, "s1", "t1", "original")
	require.NoError(t, c.Set(ctx, key, snap))
	snap.Messages[0].Text = "mutated"

	got, _, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Messages[0].Text)
}

func TestMemoryCache_EvictionPrunesIndex(t *testing.T) {
	c, err := NewMemoryCache(1, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()
	k1 := conversation.Key("conversation:s1:t1")
	k2 := conversation.Key("conversation:s1:t2")

	require.NoError(t, c.Set(ctx, k1, snapshotFor(k1, "s1", "t1", "a")))
	require.NoError(t, c.Set(ctx, k2, snapshotFor(k2, "s1", "t2", "b")))

	_, ok, err := c.Get(ctx, k1)
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := c.KeysFor(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []conversation.Key{k2}, keys)

	keys, err = c.KeysFor(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFileCache_CorruptSnapshotIsMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileCache(dir, zerolog.Nop())
	require.NoError(t, err)
	key := conversation.Key("conversation:s1:t1")

	require.NoError(t, os.WriteFile(c.pathFor(key), []byte("{not json"), 0o600))

	_, ok, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileCache_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	key := conversation.Key("conversation:s1:t1")

	first, err := NewFileCache(dir, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, key, snapshotFor(key, "s1", "t1", "persisted")))

	second, err := NewFileCache(dir, zerolog.Nop())
	require.NoError(t, err)
	got, ok, err := second.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "persisted", got.LastMessage)

	keys, err := second.KeysFor(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []conversation.Key{key}, keys)

	_, err = os.Stat(filepath.Join(dir, indexFile))
	assert.NoError(t, err)
}

func TestRedisCache_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	c := NewRedisCacheWithClient(client, zerolog.Nop())
	mr.Close()

	_, _, err := c.Get(context.Background(), "conversation:s1:t1")
	assert.Error(t, err)
}

func TestNew_SelectsBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		cfg     config.Config
		want    interface{}
		wantErr bool
	}{
		{name: "memory", cfg: config.Config{CacheBackend: config.CacheBackendMemory, CacheMemorySize: 8}, want: &MemoryCache{}},
		{name: "file", cfg: config.Config{CacheBackend: config.CacheBackendFile, CacheDir: t.TempDir()}, want: &FileCache{}},
		{name: "redis", cfg: config.Config{CacheBackend: config.CacheBackendRedis, CacheRedisURL: "redis://" + mr.Addr()}, want: &RedisCache{}},
		{name: "unknown", cfg: config.Config{CacheBackend: "tape"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, cleanup, err := New(context.Background(), &tt.cfg, zerolog.Nop())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer cleanup()
			assert.IsType(t, tt.want, c)
		})
	}
}
