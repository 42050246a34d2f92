package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/edumarket/chatsync/internal/domain/conversation"
	"github.com/edumarket/chatsync/internal/utils/platformerrors"
)

const indexFile = "index.json"

// FileCache stores one JSON document per conversation under a directory,
// plus an index of conversation keys per participant.
type FileCache struct {
	dir string
	mu  sync.Mutex
	log zerolog.Logger
}

// NewFileCache creates dir if needed.
func NewFileCache(dir string, log zerolog.Logger) (*FileCache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &FileCache{
		dir: dir,
		log: log.With().Str("component", "file-cache").Str("dir", dir).Logger(),
	}, nil
}

// Get reads the snapshot stored under key.
func (c *FileCache) Get(ctx context.Context, key conversation.Key) (conversation.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return conversation.Snapshot{}, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.pathFor(key))
	if errors.Is(err, fs.ErrNotExist) {
		return conversation.Snapshot{}, false, nil
	}
	if err != nil {
		return conversation.Snapshot{}, false, cacheError("read snapshot", err)
	}

	var snapshot conversation.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		// a torn or foreign file is treated as a miss
		c.log.Warn().Err(err).Str("conversation", key.String()).Msg("discarding unreadable snapshot")
		return conversation.Snapshot{}, false, nil
	}
	return snapshot, true, nil
}

// Set writes the snapshot atomically and updates the participant index.
func (c *FileCache) Set(ctx context.Context, key conversation.Key, snapshot conversation.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot.Key = key
	data, err := json.Marshal(snapshot)
	if err != nil {
		return cacheError("encode snapshot", err)
	}
	if err := writeAtomic(c.pathFor(key), data); err != nil {
		return cacheError("write snapshot", err)
	}

	index, err := c.readIndex()
	if err != nil {
		return err
	}
	changed := false
	for _, id := range snapshot.Participants() {
		if addKey(index, id, key) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return c.writeIndex(index)
}

// KeysFor lists the cached conversations participantID takes part in.
func (c *FileCache) KeysFor(ctx context.Context, participantID string) ([]conversation.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	index, err := c.readIndex()
	if err != nil {
		return nil, err
	}
	keys := make([]conversation.Key, 0, len(index[participantID]))
	for _, k := range index[participantID] {
		keys = append(keys, conversation.Key(k))
	}
	return keys, nil
}

func (c *FileCache) pathFor(key conversation.Key) string {
	return filepath.Join(c.dir, base64.RawURLEncoding.EncodeToString([]byte(key))+".json")
}

func (c *FileCache) readIndex() (map[string][]string, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, indexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string][]string), nil
	}
	if err != nil {
		return nil, cacheError("read index", err)
	}
	index := make(map[string][]string)
	if err := json.Unmarshal(data, &index); err != nil {
		c.log.Warn().Err(err).Msg("rebuilding unreadable cache index")
		return make(map[string][]string), nil
	}
	return index, nil
}

func (c *FileCache) writeIndex(index map[string][]string) error {
	data, err := json.Marshal(index)
	if err != nil {
		return cacheError("encode index", err)
	}
	if err := writeAtomic(filepath.Join(c.dir, indexFile), data); err != nil {
		return cacheError("write index", err)
	}
	return nil
}

func addKey(index map[string][]string, participantID string, key conversation.Key) bool {
	for _, k := range index[participantID] {
		if k == string(key) {
			return false
		}
	}
	index[participantID] = append(index[participantID], string(key))
	sort.Strings(index[participantID])
	return true
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func cacheError(op string, err error) error {
	return platformerrors.NewError(platformerrors.LayerCache, platformerrors.ErrorTypeInternal, op, err)
}
