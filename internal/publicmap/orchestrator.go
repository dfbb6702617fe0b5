// Package publicmap drives public map generation end to end: source loading,
// alignment, composition, the zoom pyramid and marker extraction, plus the
// background scheduler for queued and periodic regeneration.
package publicmap

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hearthmap/hearthmap/internal/catalog"
	"github.com/hearthmap/hearthmap/internal/compose"
	"github.com/hearthmap/hearthmap/internal/hmap"
	"github.com/hearthmap/hearthmap/internal/render"
	"github.com/hearthmap/hearthmap/internal/texres"
	"github.com/hearthmap/hearthmap/internal/tile"
)

// ErrAlreadyRunning is returned when a generation for the same map is in
// flight.
var ErrAlreadyRunning = errors.New("generation already running")

// Progress checkpoints. Composition advances from the phase start to 50,
// the pyramid from 50 towards 100; the decode phase of the snapshot path
// occupies 0..15 before composition begins.
const (
	composeEndPct  = 50
	hmapDecodePct  = 15
	pyramidEndPct  = 100
	composeWorkers = 4
)

// Config configures an Orchestrator.
type Config struct {
	Store         *catalog.Store
	Fetcher       *texres.Fetcher
	Logger        *slog.Logger
	InvalidateURL string // optional webhook, POSTed per generated map
	Client        *http.Client
}

// Orchestrator generates public maps. Generation is single flight per slug;
// concurrent requests for the same map are rejected, different maps may run
// in parallel.
type Orchestrator struct {
	store         *catalog.Store
	fetcher       *texres.Fetcher
	logger        *slog.Logger
	invalidateURL string
	client        *http.Client

	mu      sync.Mutex
	running map[string]struct{}
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Orchestrator{
		store:         cfg.Store,
		fetcher:       cfg.Fetcher,
		logger:        cfg.Logger,
		invalidateURL: cfg.InvalidateURL,
		client:        client,
		running:       make(map[string]struct{}),
	}
}

func (o *Orchestrator) log() *slog.Logger {
	if o.logger != nil {
		return o.logger
	}
	return slog.Default()
}

// Running reports whether a generation for slug is in flight.
func (o *Orchestrator) Running(slug string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[slug]
	return ok
}

// Generate runs a full generation for one public map. It blocks until the run
// finishes; failures are persisted on the map record as well as returned.
func (o *Orchestrator) Generate(ctx context.Context, slug string) error {
	o.mu.Lock()
	if _, ok := o.running[slug]; ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAlreadyRunning, slug)
	}
	o.running[slug] = struct{}{}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.running, slug)
		o.mu.Unlock()
	}()

	if _, err := o.store.GetPublicMap(ctx, slug); err != nil {
		return err
	}
	if err := o.store.MarkRunning(ctx, slug); err != nil {
		return err
	}

	start := time.Now()
	count, bounds, err := o.generate(ctx, slug)
	if err != nil {
		o.log().Error("generation failed", "map", slug, "error", err)
		if ferr := o.store.MarkFailed(context.WithoutCancel(ctx), slug, err.Error()); ferr != nil {
			o.log().Error("failed to persist failure", "map", slug, "error", ferr)
		}
		return err
	}

	duration := time.Since(start).Seconds()
	if err := o.store.MarkCompleted(ctx, slug, count, bounds, duration); err != nil {
		return err
	}
	o.log().Info("generation completed",
		"map", slug, "tiles", count, "duration", time.Since(start).Round(time.Millisecond))

	o.invalidate(slug)
	return nil
}

func (o *Orchestrator) generate(ctx context.Context, slug string) (int, *tile.Bounds, error) {
	tenantSources, err := o.store.ListTenantSources(ctx, slug)
	if err != nil {
		return 0, nil, err
	}
	hmapLinks, err := o.store.ListHmapSourceLinks(ctx, slug)
	if err != nil {
		return 0, nil, err
	}
	if len(tenantSources) == 0 && len(hmapLinks) == 0 {
		o.log().Warn("public map has no sources", "map", slug)
		return 0, nil, nil
	}

	outDir := o.store.PublicTileDir(slug)
	if err := os.RemoveAll(outDir); err != nil {
		return 0, nil, fmt.Errorf("failed to clear tile directory: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, nil, fmt.Errorf("failed to create tile directory: %w", err)
	}

	report := o.progressReporter(ctx, slug)

	var (
		layer      compose.Layer
		markers    *compose.MarkerSet
		composePct = 0
	)
	if len(tenantSources) > 0 {
		layer, markers, err = o.tenantLayer(ctx, slug, tenantSources)
	} else {
		composePct = hmapDecodePct
		layer, markers, err = o.hmapLayer(ctx, slug, hmapLinks, report)
	}
	if err != nil {
		return 0, nil, err
	}

	composer := &compose.Composer{
		OutDir:      outDir,
		Concurrency: composeWorkers,
		Logger:      o.log(),
		OnProgress: func(done, total int) {
			report(composePct + done*(composeEndPct-composePct)/total)
		},
	}

	written, err := composer.ComposeBase(ctx, layer)
	if err != nil {
		return 0, nil, err
	}

	composer.OnProgress = func(done, total int) {
		report(composeEndPct + done*(pyramidEndPct-composeEndPct)/total)
	}
	pyramidCount, err := composer.BuildPyramid(ctx, written)
	if err != nil {
		return 0, nil, err
	}

	if err := compose.WriteMarkers(filepath.Join(outDir, "markers.json"), markers.Markers()); err != nil {
		return 0, nil, err
	}

	var bounds *tile.Bounds
	if len(written) > 0 {
		var b tile.Bounds
		for _, p := range written {
			b.Extend(p.X, p.Y)
		}
		bounds = &b
	}
	return len(written) + pyramidCount, bounds, nil
}

// tenantLayer builds the unified layer from catalog-backed tenant maps.
func (o *Orchestrator) tenantLayer(ctx context.Context, slug string, sources []catalog.TenantSource) (compose.Layer, *compose.MarkerSet, error) {
	aligns := make([]compose.AlignSource, 0, len(sources))
	for _, src := range sources {
		grids, err := o.store.SourceGrids(ctx, src.TenantID, src.MapID)
		if err != nil {
			return nil, nil, err
		}
		tiles, err := o.store.SourceTiles(ctx, src.TenantID, src.MapID)
		if err != nil {
			return nil, nil, err
		}
		aligns = append(aligns, compose.AlignSource{Key: src.Key(), Grids: grids, Tiles: tiles})
	}

	offsets := compose.Align(aligns, o.log())
	storage := o.store.GridStorage()
	layer := compose.BuildLayer(aligns, offsets, func(st catalog.SourceTile) (*image.NRGBA, error) {
		return compose.DecodeFile(filepath.Join(storage, st.FilePath))
	})

	markers := compose.NewMarkerSet()
	for _, src := range sources {
		tws, err := o.store.ThingwallMarkers(ctx, src.TenantID, src.MapID)
		if err != nil {
			return nil, nil, err
		}
		markers.AddFromCatalog(tws, offsets[src.Key()])
	}

	o.log().Info("aligned tenant sources", "map", slug, "sources", len(sources), "tiles", len(layer))
	return layer, markers, nil
}

// hmapLayer decodes the linked snapshots and prepares a lazily-rendered
// layer. Decoding and texture prefetch account for the first progress chunk.
func (o *Orchestrator) hmapLayer(ctx context.Context, slug string, links []catalog.HmapSourceLink, report func(int)) (compose.Layer, *compose.MarkerSet, error) {
	snapshots := make([]*hmap.Data, 0, len(links))
	resources := make(map[string]struct{})
	for i, link := range links {
		src, err := o.store.GetHmapSource(ctx, link.HmapSourceID)
		if err != nil {
			return nil, nil, err
		}
		f, err := o.store.OpenHmapFile(src)
		if err != nil {
			return nil, nil, err
		}
		data, err := hmap.Decode(f)
		f.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode hmap source %d: %w", src.ID, err)
		}
		snapshots = append(snapshots, data)
		for _, g := range data.Grids {
			for _, ts := range g.Tilesets {
				resources[ts.ResourceName] = struct{}{}
			}
		}
		report((i + 1) * hmapDecodePct / (len(links) + 1))
	}

	names := make([]string, 0, len(resources))
	for name := range resources {
		names = append(names, name)
	}
	if o.fetcher != nil {
		if err := o.fetcher.Prefetch(ctx, names); err != nil {
			o.log().Warn("texture prefetch incomplete", "map", slug, "error", err)
		}
	}
	report(hmapDecodePct)

	table := render.FetcherTable{}
	if o.fetcher != nil {
		fetcher := o.fetcher
		table.Lookup = func(name string) *image.NRGBA {
			return fetcher.Get(ctx, name)
		}
	}

	layer, surfaceMarkers := compose.HmapLayer(snapshots, table, o.log())
	markers := compose.NewMarkerSet()
	markers.AddFromHmap(surfaceMarkers)

	o.log().Info("decoded hmap sources",
		"map", slug, "snapshots", len(snapshots), "grids", len(layer), "textures", len(names))
	return layer, markers, nil
}

// progressReporter persists progress in steps of at least five percent. The
// composer and pyramid callbacks fire per tile, possibly from several
// workers; writing every step would turn large maps into catalog churn.
func (o *Orchestrator) progressReporter(ctx context.Context, slug string) func(int) {
	var mu sync.Mutex
	last := -5
	return func(pct int) {
		mu.Lock()
		if pct < last+5 && pct < pyramidEndPct {
			mu.Unlock()
			return
		}
		last = pct
		mu.Unlock()
		if err := o.store.UpdateProgress(ctx, slug, pct); err != nil {
			o.log().Warn("failed to update progress", "map", slug, "error", err)
		}
	}
}

// invalidate notifies an external tile cache that the map changed. Failures
// only log; generation already succeeded.
func (o *Orchestrator) invalidate(slug string) {
	if o.invalidateURL == "" {
		return
	}
	go func() {
		req, err := http.NewRequest(http.MethodPost, o.invalidateURL+"/"+slug, nil)
		if err != nil {
			return
		}
		resp, err := o.client.Do(req)
		if err != nil {
			o.log().Warn("cache invalidation failed", "map", slug, "error", err)
			return
		}
		resp.Body.Close()
	}()
}
