package largetile

import "sync"

// lruCache is a bounded in-memory tile cache. Recency is tracked with a
// monotonic access counter instead of list reordering; when the cache
// overflows, the tenth of entries with the oldest access stamps is dropped in
// one sweep.
type lruCache struct {
	mu      sync.Mutex
	entries map[Key]*lruEntry
	max     int
	clock   int64
}

type lruEntry struct {
	data   []byte
	access int64
}

func newLRUCache(max int) *lruCache {
	return &lruCache{
		entries: make(map[Key]*lruEntry, max),
		max:     max,
	}
}

func (c *lruCache) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.clock++
	e.access = c.clock
	return e.data, true
}

func (c *lruCache) Put(key Key, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock++
	c.entries[key] = &lruEntry{data: data, access: c.clock}
	if len(c.entries) > c.max {
		c.evict()
	}
}

func (c *lruCache) Delete(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *lruCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evict removes the 10% least recently used entries. Called with the lock
// held.
func (c *lruCache) evict() {
	drop := c.max / 10
	if drop < 1 {
		drop = 1
	}
	for ; drop > 0; drop-- {
		var (
			oldest    Key
			oldestAcc int64
			found     bool
		)
		for key, e := range c.entries {
			if !found || e.access < oldestAcc {
				oldest, oldestAcc, found = key, e.access, true
			}
		}
		if !found {
			return
		}
		delete(c.entries, oldest)
	}
}
