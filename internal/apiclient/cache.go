package apiclient

import (
	"context"
	"sync"
	"time"
)

// Cache is the response cache consulted before the network. Lookups are
// read-heavy and must not serialize behind unrelated writes.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// MemoryCache is a TTL cache over sync.Map with lazy expiry on read.
type MemoryCache struct {
	store sync.Map // map[string]*cacheEntry
	now   func() time.Time
}

type cacheEntry struct {
	val       []byte
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := c.store.Load(key)
	if !ok {
		return nil, false
	}
	entry := v.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.store.Delete(key)
		return nil, false
	}
	return entry.val, true
}

func (c *MemoryCache) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	c.store.Store(key, &cacheEntry{
		val:       append([]byte(nil), val...),
		expiresAt: c.now().Add(ttl),
	})
}

func (c *MemoryCache) Delete(_ context.Context, key string) {
	c.store.Delete(key)
}
