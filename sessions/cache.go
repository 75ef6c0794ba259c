package sessions

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache stores handles by token.
type Cache interface {
	Get(token string) (*Handle, bool)
	Add(token string, h *Handle)
	Len() int
	// Purge removes every entry, reporting each one as evicted.
	Purge()
}

// EvictFunc is called for every handle that leaves a Cache. It must not call
// back into the cache.
type EvictFunc func(token string, h *Handle)

// CacheFactory builds a Cache that reports removals to onEvict.
type CacheFactory func(onEvict EvictFunc) Cache

const (
	DefaultMaxEntries = 10000
	DefaultTTL        = 24 * time.Hour
)

type lruCache struct {
	lru *expirable.LRU[string, *Handle]
}

// NewLRUCache returns a Cache holding at most size handles (0 means
// unbounded), each for at most ttl (0 means no expiry).
func NewLRUCache(size int, ttl time.Duration, onEvict EvictFunc) Cache {
	var cb expirable.EvictCallback[string, *Handle]
	if onEvict != nil {
		cb = func(token string, h *Handle) { onEvict(token, h) }
	}
	return &lruCache{lru: expirable.NewLRU[string, *Handle](size, cb, ttl)}
}

// LRUCache returns a CacheFactory for NewLRUCache.
func LRUCache(size int, ttl time.Duration) CacheFactory {
	return func(onEvict EvictFunc) Cache { return NewLRUCache(size, ttl, onEvict) }
}

func (c *lruCache) Get(token string) (*Handle, bool) { return c.lru.Get(token) }
func (c *lruCache) Len() int                         { return c.lru.Len() }
func (c *lruCache) Purge()                           { c.lru.Purge() }

// Add stores h, evicting any expired entry still held for token.
func (c *lruCache) Add(token string, h *Handle) {
	c.lru.Remove(token)
	c.lru.Add(token, h)
}
