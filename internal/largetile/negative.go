package largetile

import (
	"sync"
	"time"
)

// negativeCache remembers coordinates that produced no tile so repeated
// requests for empty map regions skip the catalog. Entries expire after a TTL
// and the cache sheds its oldest entries when full, so newly uploaded map data
// becomes visible without explicit invalidation.
type negativeCache struct {
	mu      sync.Mutex
	entries map[Key]time.Time
	max     int
	ttl     time.Duration
	now     func() time.Time
}

func newNegativeCache(max int, ttl time.Duration) *negativeCache {
	return &negativeCache{
		entries: make(map[Key]time.Time, max/16),
		max:     max,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Has reports whether key is known empty and the entry is still fresh.
func (c *negativeCache) Has(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	stamp, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.now().Sub(stamp) > c.ttl {
		delete(c.entries, key)
		return false
	}
	return true
}

func (c *negativeCache) Put(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		c.shed()
	}
	c.entries[key] = c.now()
}

func (c *negativeCache) Delete(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *negativeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// shed drops expired entries, then the oldest tenth if still full. Called
// with the lock held.
func (c *negativeCache) shed() {
	now := c.now()
	for key, stamp := range c.entries {
		if now.Sub(stamp) > c.ttl {
			delete(c.entries, key)
		}
	}
	if len(c.entries) < c.max {
		return
	}
	drop := c.max / 10
	if drop < 1 {
		drop = 1
	}
	for ; drop > 0; drop-- {
		var (
			oldest      Key
			oldestStamp time.Time
			found       bool
		)
		for key, stamp := range c.entries {
			if !found || stamp.Before(oldestStamp) {
				oldest, oldestStamp, found = key, stamp, true
			}
		}
		if !found {
			return
		}
		delete(c.entries, oldest)
	}
}
