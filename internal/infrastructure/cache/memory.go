package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/edumarket/chatsync/internal/domain/conversation"
)

// MemoryCache keeps snapshots in a bounded LRU. It does not survive a
// restart and is meant for tests and ephemeral sessions.
type MemoryCache struct {
	mu        sync.Mutex
	snapshots *lru.Cache
	index     map[string]map[conversation.Key]struct{}
	log       zerolog.Logger
}

// NewMemoryCache creates a cache holding at most size conversations.
func NewMemoryCache(size int, log zerolog.Logger) (*MemoryCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}
	c := &MemoryCache{
		index: make(map[string]map[conversation.Key]struct{}),
		log:   log.With().Str("component", "memory-cache").Logger(),
	}
	snapshots, err := lru.NewWithEvict(size, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.snapshots = snapshots
	return c, nil
}

// Get returns the snapshot stored under key.
func (c *MemoryCache) Get(_ context.Context, key conversation.Key) (conversation.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.snapshots.Get(key)
	if !ok {
		return conversation.Snapshot{}, false, nil
	}
	return clone(value.(conversation.Snapshot)), true, nil
}

// Set replaces the snapshot stored under key.
func (c *MemoryCache) Set(_ context.Context, key conversation.Key, snapshot conversation.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot.Key = key
	c.snapshots.Add(key, clone(snapshot))
	for _, id := range snapshot.Participants() {
		keys, ok := c.index[id]
		if !ok {
			keys = make(map[conversation.Key]struct{})
			c.index[id] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

// KeysFor lists the cached conversations participantID takes part in.
func (c *MemoryCache) KeysFor(_ context.Context, participantID string) ([]conversation.Key, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]conversation.Key, 0, len(c.index[participantID]))
	for key := range c.index[participantID] {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

// onEvict runs inside Add, with c.mu already held.
func (c *MemoryCache) onEvict(key, value interface{}) {
	snapshot, ok := value.(conversation.Snapshot)
	if !ok {
		return
	}
	k := key.(conversation.Key)
	for _, id := range snapshot.Participants() {
		delete(c.index[id], k)
		if len(c.index[id]) == 0 {
			delete(c.index, id)
		}
	}
	c.log.Debug().Str("conversation", k.String()).Msg("evicted cached conversation")
}

func clone(s conversation.Snapshot) conversation.Snapshot {
	messages := make([]conversation.Message, len(s.Messages))
	for i, m := range s.Messages {
		if m.Attachment != nil {
			a := *m.Attachment
			m.Attachment = &a
		}
		messages[i] = m
	}
	s.Messages = messages
	return s
}
