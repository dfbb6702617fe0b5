package compose

import (
	"image"
	"log/slog"

	"github.com/hearthmap/hearthmap/internal/hmap"
	"github.com/hearthmap/hearthmap/internal/render"
	"github.com/hearthmap/hearthmap/internal/tile"
)

type segmentGrid struct {
	segment int64
	coord   tile.Point
}

// HmapLayer merges decoded snapshots into a renderable layer. Snapshots are
// in priority order and the first claim of a (segment, coordinate) pair wins.
// Segments have independent origins, so only the dominant segment (most
// claimed grids, smallest id on ties) is rendered; its grids rasterise lazily
// through tex. Surface markers of all snapshots are returned in claim order.
func HmapLayer(snapshots []*hmap.Data, tex render.Table, logger *slog.Logger) (Layer, []hmap.SurfaceMarker) {
	if logger == nil {
		logger = slog.Default()
	}

	claims := make(map[segmentGrid]*hmap.Grid)
	perSegment := make(map[int64]int)
	var markers []hmap.SurfaceMarker
	for _, snap := range snapshots {
		for _, g := range snap.Grids {
			key := segmentGrid{segment: g.SegmentID, coord: tile.Point{X: int(g.TileX), Y: int(g.TileY)}}
			if _, taken := claims[key]; taken {
				continue
			}
			claims[key] = g
			perSegment[g.SegmentID]++
		}
		markers = append(markers, snap.Markers...)
	}
	if len(claims) == 0 {
		return Layer{}, markers
	}

	var (
		dominant int64
		best     int
	)
	for seg, n := range perSegment {
		if n > best || (n == best && seg < dominant) {
			dominant, best = seg, n
		}
	}
	if len(perSegment) > 1 {
		logger.Warn("snapshots span multiple segments, rendering the dominant one",
			"segments", len(perSegment), "segment", dominant, "grids", best)
	}

	layer := make(Layer, best)
	for key, g := range claims {
		if key.segment != dominant {
			continue
		}
		g := g
		layer[key.coord] = Cell{
			Load: func() (*image.NRGBA, error) { return render.Grid(g, tex), nil },
		}
	}
	return layer, markers
}
