// Package largetile serves per-tenant 400x400 map tiles on demand. Tiles are
// composed from the tenant's 100x100 base tiles, cached in memory and on
// disk, and tracked through a negative cache so empty regions stay cheap.
package largetile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/disintegration/gift"
	"github.com/gen2brain/webp"
	"golang.org/x/sync/singleflight"

	"github.com/hearthmap/hearthmap/internal/catalog"
	"github.com/hearthmap/hearthmap/internal/compose"
	"github.com/hearthmap/hearthmap/internal/tile"
)

// ErrNoTile is returned when a coordinate has no map data.
var ErrNoTile = errors.New("no tile data")

// Key identifies one large tile.
type Key struct {
	Tenant string
	MapID  string
	Coords tile.Coords
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Tenant, k.MapID, k.Coords)
}

// Config configures the cache. Zero values pick the defaults.
type Config struct {
	Store       *catalog.Store
	CacheDir    string // default: the grid storage root; tiles land under tenants/{t}/large/{m}/
	Logger      *slog.Logger
	MaxEntries  int           // in-memory tiles, default 500
	NegativeMax int           // negative cache keys, default 10000
	NegativeTTL time.Duration // default 5m
	CatalogSem  int           // concurrent zoom-0 generations, default 8
	Quality     int           // webp quality, default 85
}

// Cache generates and serves large tiles.
type Cache struct {
	store    *catalog.Store
	dir      string
	logger   *slog.Logger
	lru      *lruCache
	negative *negativeCache
	group    singleflight.Group
	sem      chan struct{}
	quality  int
	stats    Stats
}

// New creates a Cache.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 500
	}
	if cfg.NegativeMax <= 0 {
		cfg.NegativeMax = 10000
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = 5 * time.Minute
	}
	if cfg.CatalogSem <= 0 {
		cfg.CatalogSem = 8
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 85
	}
	if cfg.CacheDir == "" && cfg.Store != nil {
		cfg.CacheDir = cfg.Store.GridStorage()
	}
	return &Cache{
		store:    cfg.Store,
		dir:      cfg.CacheDir,
		logger:   cfg.Logger,
		lru:      newLRUCache(cfg.MaxEntries),
		negative: newNegativeCache(cfg.NegativeMax, cfg.NegativeTTL),
		sem:      make(chan struct{}, cfg.CatalogSem),
		quality:  cfg.Quality,
	}
}

func (c *Cache) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

// GetOrGenerate returns the encoded tile for key, producing and caching it if
// needed. Lookup order is memory, negative cache, disk, then generation;
// concurrent requests for the same key share one generation.
func (c *Cache) GetOrGenerate(ctx context.Context, key Key) ([]byte, error) {
	counters := c.stats.tenant(key.Tenant)
	if data, ok := c.lru.Get(key); ok {
		counters.MemoryHits.Add(1)
		return data, nil
	}
	if c.negative.Has(key) {
		counters.NegativeHits.Add(1)
		return nil, fmt.Errorf("%w: %s", ErrNoTile, key)
	}
	if data, err := os.ReadFile(c.tilePath(key)); err == nil {
		counters.DiskHits.Add(1)
		c.lru.Put(key, data)
		return data, nil
	}

	v, err, shared := c.group.Do(key.String(), func() (any, error) {
		// A racing request may have finished while this one queued.
		if data, ok := c.lru.Get(key); ok {
			return data, nil
		}
		return c.generate(ctx, key)
	})
	if shared {
		counters.Coalesced.Add(1)
	}
	if err != nil {
		if errors.Is(err, ErrNoTile) {
			c.negative.Put(key)
			counters.Empty.Add(1)
		} else {
			counters.Failures.Add(1)
		}
		return nil, err
	}
	return v.([]byte), nil
}

// MarkDirty invalidates the tile stack covering base tile (baseX, baseY) of a
// tenant map across memory, the negative cache and disk. Safe to call for
// coordinates that were never generated.
func (c *Cache) MarkDirty(tenant, mapID string, baseX, baseY int) {
	c.stats.tenant(tenant).Invalidated.Add(1)
	for _, coords := range tile.AncestorStack(baseX, baseY) {
		key := Key{Tenant: tenant, MapID: mapID, Coords: coords}
		c.lru.Delete(key)
		c.negative.Delete(key)
		if err := os.Remove(c.tilePath(key)); err != nil && !os.IsNotExist(err) {
			c.log().Warn("failed to drop cached tile", "key", key.String(), "error", err)
		}
	}
}

func (c *Cache) tilePath(key Key) string {
	return filepath.Join(c.dir, "tenants", key.Tenant, "large", key.MapID,
		strconv.Itoa(key.Coords.Zoom), key.Coords.Filename("webp"))
}

func (c *Cache) generate(ctx context.Context, key Key) ([]byte, error) {
	start := time.Now()
	var (
		img *image.NRGBA
		err error
	)
	if key.Coords.Zoom == 0 {
		// Zoom 0 touches the catalog; the semaphore bounds that load.
		select {
		case c.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		img, err = c.composeBase(ctx, key)
		<-c.sem
	} else {
		img, err = c.composeParent(ctx, key)
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	data := buf.Bytes()

	if err := c.writeTile(key, data); err != nil {
		c.log().Warn("failed to persist tile", "key", key.String(), "error", err)
	}
	c.lru.Put(key, data)
	counters := c.stats.tenant(key.Tenant)
	counters.Generated.Add(1)
	counters.GenerationNanos.Add(int64(time.Since(start)))
	return data, nil
}

// composeBase assembles a zoom-0 large tile from the tenant's catalog base
// tiles within the 4x4 block.
func (c *Cache) composeBase(ctx context.Context, key Key) (*image.NRGBA, error) {
	tiles, err := c.store.SourceTiles(ctx, key.Tenant, key.MapID)
	if err != nil {
		return nil, err
	}

	block := key.Coords.Point()
	var own []catalog.SourceTile
	for _, st := range tiles {
		if st.Coord.Block() == block {
			own = append(own, st)
		}
	}
	return c.renderBlock(key, own)
}

// renderBlock draws the base tiles of one 4x4 block onto a 400x400 canvas.
// The tiles must belong to the block of key.
func (c *Cache) renderBlock(key Key, tiles []catalog.SourceTile) (*image.NRGBA, error) {
	block := key.Coords.Point()
	canvas := image.NewNRGBA(image.Rect(0, 0, tile.OutputTileSize, tile.OutputTileSize))
	found := false
	for _, st := range tiles {
		img, err := compose.DecodeFile(filepath.Join(c.store.GridStorage(), st.FilePath))
		if err != nil {
			c.log().Warn("skipping unreadable base tile", "key", key.String(), "file", st.FilePath, "error", err)
			continue
		}
		x := (st.Coord.X - block.X*tile.BlockSize) * tile.BaseTileSize
		y := (st.Coord.Y - block.Y*tile.BlockSize) * tile.BaseTileSize
		draw.Draw(canvas, image.Rect(x, y, x+tile.BaseTileSize, y+tile.BaseTileSize),
			img, img.Bounds().Min, draw.Src)
		found = true
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNoTile, key)
	}
	return canvas, nil
}

// Nearest neighbour keeps pixel art crisp on zoomed-out tiles.
var shrink = gift.New(gift.Resize(tile.OutputTileSize/2, tile.OutputTileSize/2, gift.NearestNeighborResampling))

// composeParent assembles a tile from its four children one zoom level down,
// generating them recursively as needed.
func (c *Cache) composeParent(ctx context.Context, key Key) (*image.NRGBA, error) {
	const half = tile.OutputTileSize / 2
	canvas := image.NewNRGBA(image.Rect(0, 0, tile.OutputTileSize, tile.OutputTileSize))
	found := false

	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			childKey := Key{
				Tenant: key.Tenant,
				MapID:  key.MapID,
				Coords: tile.Coords{Zoom: key.Coords.Zoom - 1, X: key.Coords.X*2 + dx, Y: key.Coords.Y*2 + dy},
			}
			data, err := c.GetOrGenerate(ctx, childKey)
			if errors.Is(err, ErrNoTile) {
				continue
			}
			if err != nil {
				return nil, err
			}
			img, err := webp.Decode(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("failed to decode child %s: %w", childKey, err)
			}

			small := image.NewNRGBA(image.Rect(0, 0, half, half))
			shrink.Draw(small, img)
			draw.Draw(canvas, image.Rect(dx*half, dy*half, dx*half+half, dy*half+half),
				small, image.Point{}, draw.Src)
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNoTile, key)
	}
	return canvas, nil
}

func (c *Cache) writeTile(key Key, data []byte) error {
	path := c.tilePath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tile-*")
	if err != nil {
		return err
	}
	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
