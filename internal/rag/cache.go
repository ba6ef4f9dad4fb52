package rag

import (
	"container/list"
	"sync"
	"time"
)

// resultCache is a TTL cache for search results keyed by normalized
// question plus search parameters. Eviction removes the oldest insertion,
// not the least recently used entry: a result's freshness depends on when
// it was computed, and reads do not renew it.
type resultCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front = oldest insertion
	ttl      time.Duration
	capacity int
	now      func() time.Time

	hits   int
	misses int
}

type cacheEntry struct {
	key        string
	result     Result
	insertedAt time.Time
}

func newResultCache(ttl time.Duration, capacity int) *resultCache {
	return &resultCache{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// Get returns the cached result for key, if present and unexpired.
func (c *resultCache) Get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return Result{}, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.now().Sub(entry.insertedAt) > c.ttl {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.misses++
		return Result{}, false
	}

	c.hits++
	return entry.result, true
}

// Put stores a result, evicting the oldest insertion at capacity.
// Re-putting an existing key refreshes its insertion time.
func (c *resultCache) Put(key string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}

	for len(c.entries) >= c.capacity {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	entry := &cacheEntry{key: key, result: result, insertedAt: c.now()}
	c.entries[key] = c.order.PushBack(entry)
}

// Clear drops every entry.
func (c *resultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Metrics reports hit/miss counts and current size.
func (c *resultCache) Metrics() (hits, misses, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries)
}
