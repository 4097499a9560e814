package geocode

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheCapacity bounds the response cache when no capacity is set.
const DefaultCacheCapacity = 65536

// Cache memoizes results per (provider, canonical key) for the lifetime of
// one job. Concurrent lookups for the same key collapse onto a single
// upstream call: the second caller blocks until the first finishes and then
// observes the same Result.
type Cache struct {
	entries *lru.Cache[string, Result]
	group   singleflight.Group
}

// NewCache creates a bounded response cache.
func NewCache(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	entries, err := lru.New[string, Result](capacity)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: create response cache")
	}
	return &Cache{entries: entries}, nil
}

// Do returns the cached Result for key, or invokes fn at most once across
// all concurrent callers and caches its return. The hit value reports
// whether the Result was served without this caller running fn.
//
// When ctx is cancelled while waiting on another caller's in-flight call,
// Do returns ctx.Err(); the in-flight call itself keeps running and still
// populates the cache for later readers.
func (c *Cache) Do(ctx context.Context, key string, fn func() Result) (r Result, hit bool, err error) {
	if r, ok := c.entries.Get(key); ok {
		return r, true, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		r := fn()
		c.entries.Add(key, r)
		return r, nil
	})

	select {
	case <-ctx.Done():
		return Result{}, false, ctx.Err()
	case res := <-ch:
		return res.Val.(Result), res.Shared, nil
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int { return c.entries.Len() }

// Purge drops every cached entry.
func (c *Cache) Purge() { c.entries.Purge() }
