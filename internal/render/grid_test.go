package render

import (
	"image"
	"image/color"
	"testing"

	"github.com/hearthmap/hearthmap/internal/hmap"
	"github.com/hearthmap/hearthmap/internal/tile"
)

func flatGrid(tilesets ...string) *hmap.Grid {
	g := &hmap.Grid{
		TileIndices: make([]byte, hmap.GridTiles),
		ZMap:        make([]float32, hmap.GridTiles),
	}
	for _, ts := range tilesets {
		g.Tilesets = append(g.Tilesets, hmap.Tileset{ResourceName: ts})
	}
	return g
}

func checkerboard(size int, a, b color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x+y)%2 == 0 {
				img.SetNRGBA(x, y, a)
			} else {
				img.SetNRGBA(x, y, b)
			}
		}
	}
	return img
}

func solid(size int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func tableOf(m map[string]*image.NRGBA) Table {
	return FetcherTable{Lookup: func(name string) *image.NRGBA { return m[name] }}
}

func TestGridBaseSampling(t *testing.T) {
	white := color.NRGBA{255, 255, 255, 255}
	black := color.NRGBA{0, 0, 0, 255}
	g := flatGrid("gfx/tiles/checker")
	img := Grid(g, tableOf(map[string]*image.NRGBA{
		"gfx/tiles/checker": checkerboard(16, white, black),
	}))

	// Uniform indices and flat z: no shading, no borders, pure wrap sampling.
	for _, p := range []struct{ x, y int }{{0, 0}, {15, 15}, {16, 0}, {99, 99}, {17, 1}} {
		want := white
		if (p.x%16+p.y%16)%2 != 0 {
			want = black
		}
		if got := img.NRGBAAt(p.x, p.y); got != want {
			t.Errorf("pixel (%d,%d) = %v, want %v", p.x, p.y, got, want)
		}
	}
}

func TestGridMissingTextureFill(t *testing.T) {
	g := flatGrid("gfx/tiles/unknown")
	img := Grid(g, tableOf(nil))

	want := color.NRGBA{128, 128, 128, 255}
	if got := img.NRGBAAt(50, 50); got != want {
		t.Errorf("missing texture pixel = %v, want %v", got, want)
	}
}

func TestGridCliffShading(t *testing.T) {
	g := flatGrid("gfx/tiles/rock")
	// One raised tile well above the cliff threshold.
	g.ZMap[50*tile.BaseTileSize+50] = 100

	img := Grid(g, tableOf(map[string]*image.NRGBA{
		"gfx/tiles/rock": solid(8, color.NRGBA{200, 100, 50, 255}),
	}))

	// The raised pixel and its 4-neighbours are all shaded.
	shaded := color.NRGBA{uint8(200 * 0.4), uint8(100 * 0.4), uint8(50 * 0.4), 255}
	for _, p := range []struct{ x, y int }{{50, 50}, {49, 50}, {51, 50}, {50, 49}, {50, 51}} {
		if got := img.NRGBAAt(p.x, p.y); got != shaded {
			t.Errorf("pixel (%d,%d) = %v, want shaded %v", p.x, p.y, got, shaded)
		}
	}
	// Distant pixels are untouched and alpha is preserved.
	if got := img.NRGBAAt(10, 10); got != (color.NRGBA{200, 100, 50, 255}) {
		t.Errorf("far pixel = %v, want unshaded", got)
	}
}

func TestGridPriorityBorders(t *testing.T) {
	g := flatGrid("gfx/tiles/grass", "gfx/tiles/water")
	// A water tile at (30,30): all grass pixels bordering it turn black.
	g.TileIndices[30*tile.BaseTileSize+30] = 1

	green := color.NRGBA{0, 200, 0, 255}
	blue := color.NRGBA{0, 0, 200, 255}
	img := Grid(g, tableOf(map[string]*image.NRGBA{
		"gfx/tiles/grass": solid(4, green),
		"gfx/tiles/water": solid(4, blue),
	}))

	black := color.NRGBA{A: 255}
	for _, p := range []struct{ x, y int }{{29, 30}, {31, 30}, {30, 29}, {30, 31}} {
		if got := img.NRGBAAt(p.x, p.y); got != black {
			t.Errorf("border pixel (%d,%d) = %v, want black", p.x, p.y, got)
		}
	}
	// The water pixel itself has no higher neighbour and keeps its colour.
	if got := img.NRGBAAt(30, 30); got != blue {
		t.Errorf("water pixel = %v, want %v", got, blue)
	}
	// Diagonal neighbours are not borders.
	if got := img.NRGBAAt(29, 29); got != green {
		t.Errorf("diagonal pixel = %v, want %v", got, green)
	}
}

func TestGridBordersApplyAfterShading(t *testing.T) {
	g := flatGrid("gfx/tiles/grass", "gfx/tiles/water")
	g.TileIndices[30*tile.BaseTileSize+30] = 1
	// Raise the border pixel so it would also be cliff-shaded.
	g.ZMap[30*tile.BaseTileSize+29] = 100

	img := Grid(g, tableOf(map[string]*image.NRGBA{
		"gfx/tiles/grass": solid(4, color.NRGBA{0, 200, 0, 255}),
		"gfx/tiles/water": solid(4, color.NRGBA{0, 0, 200, 255}),
	}))

	if got := img.NRGBAAt(29, 30); got != (color.NRGBA{A: 255}) {
		t.Errorf("pixel (29,30) = %v, want opaque black border over shading", got)
	}
}
