package largetile

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/hearthmap/hearthmap/internal/catalog"
)

// statsEvery is how many pregeneration cycles pass between stats log lines.
const statsEvery = 10

// PregenConfig configures the background pregenerator.
type PregenConfig struct {
	Cache    *Cache
	Store    *catalog.Store
	Logger   *slog.Logger
	Interval time.Duration // cycle interval, default 30s
	MinDelay time.Duration // initial delay window, default 30s..90s
	MaxDelay time.Duration
	Workers  int
}

// Pregenerator walks all active tenants in the background and fills the disk
// tier, so first viewers rarely wait on generation. The initial delay is
// randomised to keep replicas from hitting the catalog at the same moment.
type Pregenerator struct {
	cache    *Cache
	store    *catalog.Store
	logger   *slog.Logger
	interval time.Duration
	minDelay time.Duration
	maxDelay time.Duration
	workers  int
}

// NewPregenerator creates a Pregenerator.
func NewPregenerator(cfg PregenConfig) *Pregenerator {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 30 * time.Second
	}
	if cfg.MaxDelay <= cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay + time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Pregenerator{
		cache:    cfg.Cache,
		store:    cfg.Store,
		logger:   cfg.Logger,
		interval: cfg.Interval,
		minDelay: cfg.MinDelay,
		maxDelay: cfg.MaxDelay,
		workers:  cfg.Workers,
	}
}

func (p *Pregenerator) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

// Run blocks until ctx is cancelled.
func (p *Pregenerator) Run(ctx context.Context) error {
	delay := p.minDelay + time.Duration(rand.Int63n(int64(p.maxDelay-p.minDelay)))
	p.log().Info("pregenerator starting", "delay", delay.Round(time.Second), "interval", p.interval)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	cycles := 0
	for {
		p.cycle(ctx)
		cycles++
		if cycles%statsEvery == 0 {
			snap := p.cache.Snapshot()
			for tenant, ts := range snap.Tenants {
				p.log().Info("tile cache stats", "tenant", tenant,
					"memoryHits", ts.MemoryHits, "diskHits", ts.DiskHits,
					"negativeHits", ts.NegativeHits, "coalesced", ts.Coalesced,
					"generated", ts.Generated, "failures", ts.Failures,
					"generationMillis", ts.GenerationMillis, "invalidated", ts.Invalidated)
			}
			p.log().Info("tile cache size",
				"memoryTiles", snap.MemoryTiles, "negativeKeys", snap.NegativeKeys)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pregenerator) cycle(ctx context.Context) {
	tenants, err := p.store.ListActiveTenants(ctx)
	if err != nil {
		p.log().Error("pregeneration scan failed", "error", err)
		return
	}
	for _, tenant := range tenants {
		maps, err := p.store.ListTenantMaps(ctx, tenant)
		if err != nil {
			p.log().Error("failed to list maps", "tenant", tenant, "error", err)
			continue
		}
		for _, mapID := range maps {
			if ctx.Err() != nil {
				return
			}
			perZoom, err := p.cache.GenerateMissingTiles(ctx, tenant, mapID, p.workers, nil)
			if err != nil {
				p.log().Error("pregeneration failed", "tenant", tenant, "map", mapID, "error", err)
				continue
			}
			total := 0
			for _, n := range perZoom {
				total += n
			}
			if total > 0 {
				p.log().Info("pregenerated tiles",
					"tenant", tenant, "map", mapID, "tiles", total, "perZoom", perZoom)
			}
		}
	}
}
