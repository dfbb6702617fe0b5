package server

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthmap/hearthmap/internal/catalog"
	"github.com/hearthmap/hearthmap/internal/largetile"
	"github.com/hearthmap/hearthmap/internal/publicmap"
	"github.com/hearthmap/hearthmap/internal/tile"
)

type testEnv struct {
	store     *catalog.Store
	cache     *largetile.Cache
	scheduler *publicmap.Scheduler
	srv       *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := catalog.Open(filepath.Join(dir, "catalog.db"), filepath.Join(dir, "storage"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cache := largetile.New(largetile.Config{
		Store:    store,
		CacheDir: filepath.Join(dir, "cache"),
		Logger:   logger,
	})
	orch := publicmap.New(publicmap.Config{Store: store, Logger: logger})
	scheduler := publicmap.NewScheduler(orch, store, logger, 0)

	srv := httptest.NewServer(New(Config{
		Store:     store,
		Cache:     cache,
		Scheduler: scheduler,
		Logger:    logger,
	}).Handler())
	t.Cleanup(srv.Close)

	return &testEnv{store: store, cache: cache, scheduler: scheduler, srv: srv}
}

func (e *testEnv) seedTile(t *testing.T, tenant, mapID string, coord tile.Point) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.UpsertTenant(ctx, tenant, tenant, true))
	require.NoError(t, e.store.UpsertTenantMap(ctx, tenant, mapID, ""))

	img := image.NewNRGBA(image.Rect(0, 0, tile.BaseTileSize, tile.BaseTileSize))
	for y := 0; y < tile.BaseTileSize; y++ {
		for x := 0; x < tile.BaseTileSize; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	rel := filepath.Join(tenant, coord.String()+".png")
	full := filepath.Join(e.store.GridStorage(), rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	f, err := os.Create(full)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, e.store.UpsertSourceTile(ctx, tenant, mapID, coord, rel, 1))
}

func TestServeTenantTile(t *testing.T) {
	env := newTestEnv(t)
	env.seedTile(t, "alpha", "map", tile.Point{X: 0, Y: 0})

	resp, err := http.Get(env.srv.URL + "/tiles/alpha/map/0/0_0.webp")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/webp", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Greater(t, len(body), 12)
	assert.Equal(t, "RIFF", string(body[:4]))
}

func TestServeTenantTileEmptyRegion(t *testing.T) {
	env := newTestEnv(t)
	env.seedTile(t, "alpha", "map", tile.Point{X: 0, Y: 0})

	resp, err := http.Get(env.srv.URL + "/tiles/alpha/map/0/99_99.webp")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeTenantTileBadPath(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/tiles/alpha/map/9/0_0.webp", // beyond max zoom
		"/tiles/alpha/map/x/0_0.webp",
		"/tiles/alpha/map/0/0_0.png",
		"/tiles/alpha/map/0/nope.webp",
	} {
		resp, err := http.Get(env.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestMarkDirtyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedTile(t, "alpha", "map", tile.Point{X: 0, Y: 0})

	_, err := env.cache.GetOrGenerate(context.Background(), largetile.Key{
		Tenant: "alpha", MapID: "map", Coords: tile.Coords{Zoom: 0, X: 0, Y: 0},
	})
	require.NoError(t, err)

	resp, err := http.Post(env.srv.URL+"/tiles/alpha/map/dirty?x=0&y=0", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Post(env.srv.URL+"/tiles/alpha/map/dirty?x=abc", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServeBounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	m, err := env.store.CreatePublicMap(ctx, "World", "", true, "")
	require.NoError(t, err)
	var b tile.Bounds
	b.Extend(-1, -2)
	b.Extend(3, 4)
	require.NoError(t, env.store.MarkCompleted(ctx, m.ID, 9, &b, 1))

	resp, err := http.Get(env.srv.URL + "/public/" + m.ID + "/bounds.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, m.ID, payload["id"])
	assert.EqualValues(t, -1, payload["minX"])
	assert.EqualValues(t, 4, payload["maxY"])
	assert.NotNil(t, payload["tileVersion"])
}

func TestServeBoundsUnknownMap(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/public/missing/bounds.json")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTriggerGeneration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	m, err := env.store.CreatePublicMap(ctx, "World", "", true, "")
	require.NoError(t, err)

	resp, err := http.Post(env.srv.URL+"/public/"+m.ID+"/generate", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var payload map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.True(t, payload["queued"])
	assert.Equal(t, 1, env.scheduler.QueueLength())

	// A second trigger reports the existing queue entry.
	resp, err = http.Post(env.srv.URL+"/public/"+m.ID+"/generate", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.False(t, payload["queued"])

	resp, err = http.Post(env.srv.URL+"/public/missing/generate", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeStatus(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Cache largetile.StatsSnapshot `json:"cache"`
		Queue int                     `json:"queueLength"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Zero(t, payload.Queue)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
