// Package compose assembles unified public-map tiles: it aligns source tile
// layers into one coordinate space, composes 400x400 zoom-0 tiles from 100x100
// base tiles, builds the overview pyramid and extracts thingwall markers.
package compose

import (
	"image"

	"github.com/hearthmap/hearthmap/internal/tile"
)

// Cell is one 100x100 base tile in the unified coordinate space. Cache is the
// source's monotonic timestamp, used to pick the fresher of two overlapping
// tiles. Load is deferred so only tiles that end up in the layer are decoded.
type Cell struct {
	Cache int64
	Load  func() (*image.NRGBA, error)
}

// Layer maps unified zoom-0 base coordinates to their winning cell.
type Layer map[tile.Point]Cell

// Bounds returns the inclusive coordinate bounds of the layer.
func (l Layer) Bounds() tile.Bounds {
	var b tile.Bounds
	for p := range l {
		b.Extend(p.X, p.Y)
	}
	return b
}

// merge adds a cell at p unless an existing cell is at least as fresh.
// Earlier sources carry higher priority, so on equal timestamps the existing
// cell stays.
func (l Layer) merge(p tile.Point, c Cell) {
	if existing, ok := l[p]; ok && existing.Cache >= c.Cache {
		return
	}
	l[p] = c
}
