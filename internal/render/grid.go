// Package render rasterises decoded HMap grids into 100x100 tile images.
package render

import (
	"image"
	"image/color"

	"github.com/hearthmap/hearthmap/internal/hmap"
	"github.com/hearthmap/hearthmap/internal/tile"
)

// cliffThreshold is the height difference between 4-neighbours above which a
// tile is shaded as broken ground.
const cliffThreshold = 11.0

// cliffShade is the blend factor toward black applied to broken ground.
const cliffShade = 0.6

// missingTexture fills pixels whose tileset has no resolved texture.
var missingTexture = color.NRGBA{R: 128, G: 128, B: 128, A: 255}

// Table resolves a tileset index of one grid to a texture image, or nil when
// the resource is unavailable.
type Table interface {
	Texture(g *hmap.Grid, tilesetIndex int) *image.NRGBA
}

// Grid renders one decoded grid through three passes: texture sampling, cliff
// shading, and tile-priority edge marking. Borders apply after shading.
func Grid(g *hmap.Grid, tex Table) *image.NRGBA {
	const n = tile.BaseTileSize
	img := image.NewNRGBA(image.Rect(0, 0, n, n))

	// Pass 1: sample each pixel's texture, wrapping by texture size.
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			ts := int(g.TileIndices[y*n+x])
			t := tex.Texture(g, ts)
			if t == nil {
				img.SetNRGBA(x, y, missingTexture)
				continue
			}
			b := t.Bounds()
			tx := b.Min.X + mod(x, b.Dx())
			ty := b.Min.Y + mod(y, b.Dy())
			img.SetNRGBA(x, y, t.NRGBAAt(tx, ty))
		}
	}

	// Pass 2: darken interior pixels whose height breaks against a neighbour.
	for y := 1; y < n-1; y++ {
		for x := 1; x < n-1; x++ {
			if !broken(g, x, y) {
				continue
			}
			c := img.NRGBAAt(x, y)
			c.R = uint8(float64(c.R) * (1 - cliffShade))
			c.G = uint8(float64(c.G) * (1 - cliffShade))
			c.B = uint8(float64(c.B) * (1 - cliffShade))
			img.SetNRGBA(x, y, c)
		}
	}

	// Pass 3: black border where any 4-neighbour has a higher tileset index.
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if higherNeighbour(g, x, y) {
				img.SetNRGBA(x, y, color.NRGBA{A: 255})
			}
		}
	}

	return img
}

func broken(g *hmap.Grid, x, y int) bool {
	const n = tile.BaseTileSize
	z := g.ZMap[y*n+x]
	for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		nz := g.ZMap[(y+d[1])*n+(x+d[0])]
		if diff := z - nz; diff > cliffThreshold || diff < -cliffThreshold {
			return true
		}
	}
	return false
}

func higherNeighbour(g *hmap.Grid, x, y int) bool {
	const n = tile.BaseTileSize
	own := g.TileIndices[y*n+x]
	for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		nx, ny := x+d[0], y+d[1]
		if nx < 0 || nx >= n || ny < 0 || ny >= n {
			continue
		}
		if g.TileIndices[ny*n+nx] > own {
			return true
		}
	}
	return false
}

// mod is a positive modulus for texture wrapping.
func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// FetcherTable adapts a texture lookup function to the Table interface,
// resolving tileset indices through the grid's tileset resource names.
type FetcherTable struct {
	Lookup func(resourceName string) *image.NRGBA
}

func (ft FetcherTable) Texture(g *hmap.Grid, tilesetIndex int) *image.NRGBA {
	if tilesetIndex < 0 || tilesetIndex >= len(g.Tilesets) {
		return nil
	}
	if ft.Lookup == nil {
		return nil
	}
	return ft.Lookup(g.Tilesets[tilesetIndex].ResourceName)
}
