// Package persist snapshots the cache registry to a backing store on a
// periodic interval and on controlled shutdown, and restores it at
// startup.
package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the persisted snapshot backend: one opaque blob per named
// cache. Blob contents are compressed by the Manager; stores move bytes.
type Store interface {
	// List returns the names with a persisted blob. An empty backing
	// store (including a missing directory on first run) is not an error.
	List(ctx context.Context) ([]string, error)
	// Read returns the blob for name.
	Read(ctx context.Context, name string) ([]byte, error)
	// Write replaces the blob for name atomically.
	Write(ctx context.Context, name string, data []byte) error
	// Close releases backend resources.
	Close() error
}

const fileExt = ".snap.br"

// FileStore keeps one compressed file per named cache in a directory.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at dir. The directory is
// created lazily on first write; its absence on first run is tolerated.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// List returns the cache names that have a snapshot file.
func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	return names, nil
}

// Read returns the snapshot blob for name.
func (s *FileStore) Read(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %q: %w", name, err)
	}
	return data, nil
}

// Write replaces the snapshot for name using a temporary file and an
// atomic rename, so a crash mid-write never leaves a partial file.
func (s *FileStore) Write(_ context.Context, name string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	target := s.path(name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot %q: %w", name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming snapshot %q: %w", name, err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(name string) string {
	// Cache names come from configuration, but never trust them as paths.
	return filepath.Join(s.dir, filepath.Base(name)+fileExt)
}

const (
	redisKeyPrefix = "gorecs:snapshot:"
	redisIndexKey  = "gorecs:snapshots"

	// redisTTL bounds how long an orphaned snapshot survives an
	// application that stopped flushing.
	redisTTL = 72 * time.Hour
)

// RedisStore keeps one redis value per named cache plus an index set, for
// deployments where the snapshot directory cannot be a local volume.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// List returns the indexed snapshot names.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	return names, nil
}

// Read returns the snapshot blob for name.
func (s *RedisStore) Read(ctx context.Context, name string) ([]byte, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+name).Bytes()
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %q: %w", name, err)
	}
	return data, nil
}

// Write replaces the snapshot for name and refreshes the index.
func (s *RedisStore) Write(ctx context.Context, name string, data []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+name, data, redisTTL)
	pipe.SAdd(ctx, redisIndexKey, name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing snapshot %q: %w", name, err)
	}
	return nil
}

// Close closes the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
