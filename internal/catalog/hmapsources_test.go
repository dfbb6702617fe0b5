package catalog

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthmap/hearthmap/internal/hmap"
)

func hmapFixture(t *testing.T, segment int64, coords ...[2]int32) []byte {
	t.Helper()
	data := &hmap.Data{}
	for _, c := range coords {
		data.Grids = append(data.Grids, &hmap.Grid{
			SegmentID:   segment,
			TileX:       c[0],
			TileY:       c[1],
			Tilesets:    []hmap.Tileset{{ResourceName: "gfx/tiles/grass"}},
			TileIndices: make([]byte, hmap.GridTiles),
			ZMap:        make([]float32, hmap.GridTiles),
		})
	}
	var buf bytes.Buffer
	require.NoError(t, hmap.Encode(&buf, data))
	return buf.Bytes()
}

func TestCreateHmapSource(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	raw := hmapFixture(t, 1, [2]int32{0, 0}, [2]int32{1, 0})
	src, err := store.CreateHmapSource(ctx, "world 14 dump", "world14.hmap", bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "world 14 dump", src.Name)
	assert.Equal(t, "world14.hmap", src.FileName)
	assert.Equal(t, int64(len(raw)), src.FileSizeBytes)
	assert.Nil(t, src.AnalyzedAt)

	// The stored file round-trips through the decoder.
	f, err := store.OpenHmapFile(src)
	require.NoError(t, err)
	defer f.Close()
	data, err := hmap.Decode(f)
	require.NoError(t, err)
	assert.Len(t, data.Grids, 2)
}

func TestCreateHmapSourceRejectsBadSignature(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateHmapSource(ctx, "bad", "bad.hmap", bytes.NewReader([]byte("not an hmap file at all")))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = store.CreateHmapSource(ctx, "short", "short.hmap", bytes.NewReader([]byte("Haven")))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Nothing was written to disk for rejected uploads.
	entries, err := os.ReadDir(filepath.Join(store.GridStorage(), hmapSourceDir))
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestAnalyzeHmapSource(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	raw := hmapFixture(t, 7, [2]int32{-2, 1}, [2]int32{3, -4}, [2]int32{0, 0})
	src, err := store.CreateHmapSource(ctx, "dump", "dump.hmap", bytes.NewReader(raw))
	require.NoError(t, err)

	analyzed, err := store.AnalyzeHmapSource(ctx, src.ID)
	require.NoError(t, err)
	require.NotNil(t, analyzed.TotalGrids)
	assert.Equal(t, 3, *analyzed.TotalGrids)
	require.NotNil(t, analyzed.SegmentCount)
	assert.Equal(t, 1, *analyzed.SegmentCount)
	require.NotNil(t, analyzed.Bounds)
	assert.Equal(t, -2, analyzed.Bounds.MinX)
	assert.Equal(t, 3, analyzed.Bounds.MaxX)
	assert.Equal(t, -4, analyzed.Bounds.MinY)
	assert.Equal(t, 1, analyzed.Bounds.MaxY)
	require.NotNil(t, analyzed.AnalyzedAt)
}

func TestDeleteHmapSourceInUse(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	raw := hmapFixture(t, 1, [2]int32{0, 0})
	src, err := store.CreateHmapSource(ctx, "dump", "dump.hmap", bytes.NewReader(raw))
	require.NoError(t, err)
	m, err := store.CreatePublicMap(ctx, "Map", "", true, "")
	require.NoError(t, err)
	require.NoError(t, store.AddHmapSourceLink(ctx, m.ID, src.ID, 0))

	err = store.DeleteHmapSource(ctx, src.ID)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, store.RemoveHmapSourceLink(ctx, m.ID, src.ID))
	require.NoError(t, store.DeleteHmapSource(ctx, src.ID))
	_, err = store.GetHmapSource(ctx, src.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAnalyzeContributions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m, err := store.CreatePublicMap(ctx, "Map", "", true, "")
	require.NoError(t, err)

	// High-priority source claims (0,0) and (1,0); the second source shares
	// (1,0) and brings (2,0).
	first, err := store.CreateHmapSource(ctx, "first", "a.hmap",
		bytes.NewReader(hmapFixture(t, 1, [2]int32{0, 0}, [2]int32{1, 0})))
	require.NoError(t, err)
	second, err := store.CreateHmapSource(ctx, "second", "b.hmap",
		bytes.NewReader(hmapFixture(t, 1, [2]int32{1, 0}, [2]int32{2, 0})))
	require.NoError(t, err)

	require.NoError(t, store.AddHmapSourceLink(ctx, m.ID, first.ID, 10))
	require.NoError(t, store.AddHmapSourceLink(ctx, m.ID, second.ID, 0))

	report, err := store.AnalyzeContributions(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, report.Sources, 2)

	assert.Equal(t, first.ID, report.Sources[0].HmapSourceID)
	assert.Equal(t, 2, report.Sources[0].NewGrids)
	assert.Equal(t, 0, report.Sources[0].OverlappingGrids)

	assert.Equal(t, second.ID, report.Sources[1].HmapSourceID)
	assert.Equal(t, 1, report.Sources[1].NewGrids)
	assert.Equal(t, 1, report.Sources[1].OverlappingGrids)

	assert.Equal(t, 3, report.UniqueGrids)
	assert.Equal(t, 4, report.TotalGrids)

	// Counters are persisted on the links.
	links, err := store.ListHmapSourceLinks(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, links[0].NewGrids)
	assert.Equal(t, 2, *links[0].NewGrids)
	require.NotNil(t, links[1].OverlappingGrids)
	assert.Equal(t, 1, *links[1].OverlappingGrids)
}
