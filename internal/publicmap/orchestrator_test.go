package publicmap

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthmap/hearthmap/internal/catalog"
	"github.com/hearthmap/hearthmap/internal/hmap"
	"github.com/hearthmap/hearthmap/internal/tile"
)

func newTestStore(t *testing.T) *catalog.Store {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := catalog.Open(filepath.Join(dir, "catalog.db"), filepath.Join(dir, "storage"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func writeBaseTile(t *testing.T, store *catalog.Store, relPath string, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, tile.BaseTileSize, tile.BaseTileSize))
	for y := 0; y < tile.BaseTileSize; y++ {
		for x := 0; x < tile.BaseTileSize; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	full := filepath.Join(store.GridStorage(), relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	f, err := os.Create(full)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func seedTenant(t *testing.T, store *catalog.Store, tenant string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertTenant(ctx, tenant, tenant, true))
	require.NoError(t, store.UpsertTenantMap(ctx, tenant, "map", "Surface"))
}

func TestGenerateFromTenantSource(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, store, "alpha")

	writeBaseTile(t, store, "alpha/0_0.png", color.NRGBA{R: 255, A: 255})
	require.NoError(t, store.UpsertSourceTile(ctx, "alpha", "map", tile.Point{X: 0, Y: 0}, "alpha/0_0.png", 1))
	require.NoError(t, store.UpsertSourceGrid(ctx, "alpha", "map", "g1", tile.Point{X: 0, Y: 0}))
	require.NoError(t, store.InsertMarker(ctx, catalog.Marker{
		TenantID: "alpha", GridID: "g1", PositionX: 10, PositionY: 20,
		Image: "gfx/terobjs/mm/thingwall", Name: "Gate",
	}))

	m, err := store.CreatePublicMap(ctx, "World", "", true, "")
	require.NoError(t, err)
	require.NoError(t, store.AddTenantSource(ctx, m.ID, "alpha", "map", 0, ""))

	orch := New(Config{Store: store, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, orch.Generate(ctx, m.ID))

	got, err := store.GetPublicMap(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusCompleted, got.GenerationStatus)
	assert.Equal(t, 100, got.GenerationProgress)
	// One base tile plus one tile per pyramid level.
	assert.Equal(t, 1+tile.MaxZoom, got.TileCount)
	require.NotNil(t, got.Bounds)
	assert.Equal(t, 0, got.Bounds.MinX)

	outDir := store.PublicTileDir(m.ID)
	_, err = os.Stat(filepath.Join(outDir, "0", "0_0.webp"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(outDir, "6", "0_0.webp"))
	assert.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(outDir, "markers.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"Gate"`)
	assert.Contains(t, string(raw), `"x": 10`)
}

func TestGenerateMergesAlignedSources(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, store, "alpha")
	seedTenant(t, store, "beta")

	// alpha holds (0,0); beta holds the neighbouring tile but maps the shared
	// grid g1 to its own (10,10), so beta's (11,10) lands at unified (1,0).
	writeBaseTile(t, store, "alpha/0_0.png", color.NRGBA{R: 255, A: 255})
	writeBaseTile(t, store, "beta/11_10.png", color.NRGBA{B: 255, A: 255})
	require.NoError(t, store.UpsertSourceTile(ctx, "alpha", "map", tile.Point{X: 0, Y: 0}, "alpha/0_0.png", 1))
	require.NoError(t, store.UpsertSourceGrid(ctx, "alpha", "map", "g1", tile.Point{X: 0, Y: 0}))
	require.NoError(t, store.UpsertSourceTile(ctx, "beta", "map", tile.Point{X: 11, Y: 10}, "beta/11_10.png", 1))
	require.NoError(t, store.UpsertSourceGrid(ctx, "beta", "map", "g1", tile.Point{X: 10, Y: 10}))

	m, err := store.CreatePublicMap(ctx, "World", "", true, "")
	require.NoError(t, err)
	require.NoError(t, store.AddTenantSource(ctx, m.ID, "alpha", "map", 10, ""))
	require.NoError(t, store.AddTenantSource(ctx, m.ID, "beta", "map", 0, ""))

	orch := New(Config{Store: store, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, orch.Generate(ctx, m.ID))

	got, err := store.GetPublicMap(ctx, m.ID)
	require.NoError(t, err)
	// Both base tiles fall into the same zoom-0 block.
	require.NotNil(t, got.Bounds)
	assert.Equal(t, 0, got.Bounds.MinX)
	assert.Equal(t, 0, got.Bounds.MaxX)
}

func TestGenerateEmptyMapCompletes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m, err := store.CreatePublicMap(ctx, "Empty", "", true, "")
	require.NoError(t, err)

	orch := New(Config{Store: store, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, orch.Generate(ctx, m.ID))

	got, err := store.GetPublicMap(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusCompleted, got.GenerationStatus)
	assert.Zero(t, got.TileCount)
	assert.Nil(t, got.Bounds)
}

func TestGenerateUnknownMap(t *testing.T) {
	store := newTestStore(t)
	orch := New(Config{Store: store, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	err := orch.Generate(context.Background(), "missing")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestGenerateSingleFlight(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m, err := store.CreatePublicMap(ctx, "World", "", true, "")
	require.NoError(t, err)

	orch := New(Config{Store: store, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	// Hold the slug as running and verify a second request is rejected.
	orch.mu.Lock()
	orch.running[m.ID] = struct{}{}
	orch.mu.Unlock()

	err = orch.Generate(ctx, m.ID)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	orch.mu.Lock()
	delete(orch.running, m.ID)
	orch.mu.Unlock()
	require.NoError(t, orch.Generate(ctx, m.ID))
}

func TestGenerateConcurrentDistinctMaps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.CreatePublicMap(ctx, "One", "", true, "")
	require.NoError(t, err)
	second, err := store.CreatePublicMap(ctx, "Two", "", true, "")
	require.NoError(t, err)

	orch := New(Config{Store: store, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, slug := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, slug string) {
			defer wg.Done()
			errs[i] = orch.Generate(ctx, slug)
		}(i, slug)
	}
	wg.Wait()
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
}

func TestGenerateFromHmapSource(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	data := &hmap.Data{
		Grids: []*hmap.Grid{{
			SegmentID:   1,
			TileX:       0,
			TileY:       0,
			Tilesets:    []hmap.Tileset{{ResourceName: "gfx/tiles/grass"}},
			TileIndices: make([]byte, hmap.GridTiles),
			ZMap:        make([]float32, hmap.GridTiles),
		}},
		Markers: []hmap.SurfaceMarker{
			{ObjectID: 1, TileX: 50, TileY: 50, Name: "Gate", ResourceName: "gfx/terobjs/mm/thingwall"},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, hmap.Encode(&buf, data))

	src, err := store.CreateHmapSource(ctx, "dump", "dump.hmap", &buf)
	require.NoError(t, err)
	m, err := store.CreatePublicMap(ctx, "Snapshot", "", true, "")
	require.NoError(t, err)
	require.NoError(t, store.AddHmapSourceLink(ctx, m.ID, src.ID, 0))

	// No fetcher: unresolved textures render as the placeholder fill.
	orch := New(Config{Store: store, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, orch.Generate(ctx, m.ID))

	got, err := store.GetPublicMap(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusCompleted, got.GenerationStatus)
	assert.Equal(t, 1+tile.MaxZoom, got.TileCount)

	raw, err := os.ReadFile(filepath.Join(store.PublicTileDir(m.ID), "markers.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"Gate"`)
}
