package storage

import (
	"context"
	"time"

	"github.com/coocood/freecache"
)

// Snapshot cache keys
const (
	GalleryCacheKey = "snapshot:gallery"
	RecentCacheKey  = "snapshot:recent"
)

// SnapshotCache holds rendered read responses between mutations.
// Get returns nil, nil on a miss.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Invalidate(ctx context.Context, keys ...string) error
	Close() error
}

// MemoryCache is an in-process SnapshotCache
type MemoryCache struct {
	cache *freecache.Cache
	ttl   int
}

// NewMemoryCache allocates a cache of sizeBytes; entries expire after ttl
func NewMemoryCache(sizeBytes int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		cache: freecache.NewCache(sizeBytes),
		ttl:   max(int(ttl.Seconds()), 1),
	}
}

// Get returns the cached body, or nil on a miss or after expiry
func (mc *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	val, err := mc.cache.Get([]byte(key))
	if err != nil {
		return nil, nil
	}
	return val, nil
}

// Set stores value under key for the configured ttl
func (mc *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	return mc.cache.Set([]byte(key), value, mc.ttl)
}

// Invalidate drops the given keys; unknown keys are ignored
func (mc *MemoryCache) Invalidate(_ context.Context, keys ...string) error {
	for _, key := range keys {
		mc.cache.Del([]byte(key))
	}
	return nil
}

// Close is a no-op, the cache lives as long as the process
func (mc *MemoryCache) Close() error { return nil }

// NoopCache never holds anything
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) ([]byte, error) { return nil, nil }
func (NoopCache) Set(context.Context, string, []byte) error   { return nil }
func (NoopCache) Invalidate(context.Context, ...string) error { return nil }
func (NoopCache) Close() error                                { return nil }
