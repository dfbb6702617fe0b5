package largetile

import (
	"sync"
	"sync/atomic"
)

// tenantCounters counts cache activity for one tenant. Fields are safe for
// concurrent update.
type tenantCounters struct {
	MemoryHits      atomic.Int64
	DiskHits        atomic.Int64
	NegativeHits    atomic.Int64
	Coalesced       atomic.Int64
	Generated       atomic.Int64
	Empty           atomic.Int64
	Failures        atomic.Int64
	Invalidated     atomic.Int64
	GenerationNanos atomic.Int64
}

// Stats keeps one counter block per tenant.
type Stats struct {
	mu      sync.RWMutex
	tenants map[string]*tenantCounters
}

func (s *Stats) tenant(name string) *tenantCounters {
	s.mu.RLock()
	tc := s.tenants[name]
	s.mu.RUnlock()
	if tc != nil {
		return tc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tenants == nil {
		s.tenants = make(map[string]*tenantCounters)
	}
	if tc = s.tenants[name]; tc == nil {
		tc = &tenantCounters{}
		s.tenants[name] = tc
	}
	return tc
}

// TenantSnapshot is a point-in-time copy of one tenant's counters.
type TenantSnapshot struct {
	MemoryHits       int64 `json:"memoryHits"`
	DiskHits         int64 `json:"diskHits"`
	NegativeHits     int64 `json:"negativeHits"`
	Coalesced        int64 `json:"coalesced"`
	Generated        int64 `json:"generated"`
	Empty            int64 `json:"empty"`
	Failures         int64 `json:"failures"`
	Invalidated      int64 `json:"invalidated"`
	GenerationMillis int64 `json:"generationMillis"`
}

// StatsSnapshot carries the per-tenant counters plus the process-wide cache
// sizes, for logging and the status endpoint.
type StatsSnapshot struct {
	Tenants      map[string]TenantSnapshot `json:"tenants"`
	MemoryTiles  int                       `json:"memoryTiles"`
	NegativeKeys int                       `json:"negativeKeys"`
}

// Snapshot returns the current counters of every tenant plus cache sizes.
func (c *Cache) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Tenants:      make(map[string]TenantSnapshot),
		MemoryTiles:  c.lru.Len(),
		NegativeKeys: c.negative.Len(),
	}

	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()
	for name, tc := range c.stats.tenants {
		snap.Tenants[name] = TenantSnapshot{
			MemoryHits:       tc.MemoryHits.Load(),
			DiskHits:         tc.DiskHits.Load(),
			NegativeHits:     tc.NegativeHits.Load(),
			Coalesced:        tc.Coalesced.Load(),
			Generated:        tc.Generated.Load(),
			Empty:            tc.Empty.Load(),
			Failures:         tc.Failures.Load(),
			Invalidated:      tc.Invalidated.Load(),
			GenerationMillis: tc.GenerationNanos.Load() / 1e6,
		}
	}
	return snap
}
