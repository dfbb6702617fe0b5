package compose

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthmap/hearthmap/internal/catalog"
	"github.com/hearthmap/hearthmap/internal/hmap"
	"github.com/hearthmap/hearthmap/internal/tile"
)

func TestMarkerSetDedupesByPosition(t *testing.T) {
	s := NewMarkerSet()
	s.Add("first", 100, 100, "img")
	s.Add("second", 100, 100, "img")
	s.Add("third", 100, 101, "img")

	markers := s.Markers()
	require.Len(t, markers, 2)
	assert.Equal(t, "first", markers[0].Name)
	assert.Equal(t, 1, markers[0].ID)
	assert.Equal(t, "third", markers[1].Name)
	assert.Equal(t, 2, markers[1].ID)
}

func TestAddFromCatalogAppliesOffsetAndScale(t *testing.T) {
	s := NewMarkerSet()
	s.AddFromCatalog([]catalog.ThingwallMarker{
		{GridCoord: tile.Point{X: 2, Y: 3}, PositionX: 10, PositionY: 20, Image: "thingwall", Name: "Gate"},
	}, tile.Offset{DX: -2, DY: -3})

	markers := s.Markers()
	require.Len(t, markers, 1)
	assert.Equal(t, 10, markers[0].X)
	assert.Equal(t, 20, markers[0].Y)
}

func TestAddFromHmapFiltersThingwalls(t *testing.T) {
	s := NewMarkerSet()
	s.AddFromHmap([]hmap.SurfaceMarker{
		{TileX: 150, TileY: 250, Name: "Gate", ResourceName: "gfx/terobjs/mm/thingwall"},
		{TileX: 10, TileY: 10, Name: "Quest", ResourceName: "gfx/terobjs/mm/questgiver"},
	})

	markers := s.Markers()
	require.Len(t, markers, 1)
	assert.Equal(t, "Gate", markers[0].Name)
	assert.Equal(t, 150, markers[0].X)
	assert.Equal(t, 250, markers[0].Y)
}

func TestWriteMarkers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markers.json")
	require.NoError(t, WriteMarkers(path, []Marker{
		{ID: 1, Name: "Gate", X: 5, Y: 6, Image: "thingwall"},
	}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 1)
	for _, key := range []string{"id", "name", "x", "y", "image"} {
		assert.Contains(t, decoded[0], key)
	}
}

func TestWriteMarkersEmptySet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markers.json")
	require.NoError(t, WriteMarkers(path, nil))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(raw))
}

func TestHmapLayerDominantSegment(t *testing.T) {
	grid := func(seg int64, x, y int32) *hmap.Grid {
		return &hmap.Grid{
			SegmentID:   seg,
			TileX:       x,
			TileY:       y,
			TileIndices: make([]byte, hmap.GridTiles),
			ZMap:        make([]float32, hmap.GridTiles),
		}
	}

	first := &hmap.Data{Grids: []*hmap.Grid{grid(1, 0, 0), grid(1, 1, 0), grid(2, 5, 5)}}
	second := &hmap.Data{Grids: []*hmap.Grid{grid(1, 0, 0), grid(1, 2, 0)}}

	layer, _ := HmapLayer([]*hmap.Data{first, second}, nil, nil)

	// Segment 1 dominates with three distinct grids; segment 2 is dropped.
	assert.Len(t, layer, 3)
	_, hasOutlier := layer[tile.Point{X: 5, Y: 5}]
	assert.False(t, hasOutlier)
	_, hasMerged := layer[tile.Point{X: 2, Y: 0}]
	assert.True(t, hasMerged)
}
