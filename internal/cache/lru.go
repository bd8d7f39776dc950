package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultLRUSize is the in-process fallback capacity (spec.md 4.8:
// "an in-process LRU (>= 10 000 entries) is used" when CACHE_URL is
// unset). Grounded on the CachedEmbedder pattern in
// internal/embed/cached.go of the amanmcp example, generalised from a
// fixed-type embedding cache to a byte-value cache with TTL.
const DefaultLRUSize = 10000

type entry struct {
	value     []byte
	expiresAt time.Time
}

// LRUCache is the in-process fallback Cache used when no external cache
// endpoint is configured.
type LRUCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, entry]
}

// NewLRU builds an in-process cache with the given capacity (<=0 uses
// DefaultLRUSize).
func NewLRU(size int) (*LRUCache, error) {
	if size <= 0 {
		size = DefaultLRUSize
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{cache: c}, nil
}

func (c *LRUCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.cache.Remove(key)
		return nil, false
	}
	return e.value, true
}

func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, entry{value: value, expiresAt: time.Now().Add(ttl)})
	return nil
}

func (c *LRUCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(key)
	return nil
}

// DelPrefix scans all cached keys for the prefix and removes matches.
// golang-lru/v2 has no native prefix index, so this is O(n) in cache
// size; acceptable since invalidation only runs once per write, not per
// read.
func (c *LRUCache) DelPrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Remove(key)
		}
	}
	return nil
}

func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
	return nil
}

var _ Cache = (*LRUCache)(nil)
