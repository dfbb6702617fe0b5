package compose

import (
	"image"
	"log/slog"
	"sort"

	"github.com/hearthmap/hearthmap/internal/catalog"
	"github.com/hearthmap/hearthmap/internal/tile"
)

// AlignSource is one tenant map to be placed into the unified coordinate
// space. Grids maps stable cross-tenant grid ids to the source's own base
// tile coordinates.
type AlignSource struct {
	Key   string
	Grids map[string]tile.Point
	Tiles []catalog.SourceTile
}

// Align computes a per-source translation into the unified coordinate space.
// The first source is the base and anchors the space at offset (0,0). Every
// later source is aligned through a grid id it shares with the base; when
// several ids are shared the lexicographically smallest is used so alignment
// is deterministic. A source sharing no grid with the base falls back to
// offset (0,0) with a warning.
func Align(sources []AlignSource, logger *slog.Logger) map[string]tile.Offset {
	offsets := make(map[string]tile.Offset, len(sources))
	if len(sources) == 0 {
		return offsets
	}
	if logger == nil {
		logger = slog.Default()
	}

	base := sources[0]
	offsets[base.Key] = tile.Offset{}

	for _, src := range sources[1:] {
		var shared []string
		for id := range src.Grids {
			if _, ok := base.Grids[id]; ok {
				shared = append(shared, id)
			}
		}

		var offset tile.Offset
		if len(shared) == 0 {
			logger.Warn("source shares no grid with the base, assuming origin offset",
				"source", src.Key, "base", base.Key)
		} else {
			sort.Strings(shared)
			anchor := shared[0]
			ref := base.Grids[anchor]
			own := src.Grids[anchor]
			offset = tile.Offset{DX: ref.X - own.X, DY: ref.Y - own.Y}
			logger.Debug("aligned source",
				"source", src.Key, "anchor", anchor, "dx", offset.DX, "dy", offset.DY)
		}
		offsets[src.Key] = offset
	}
	return offsets
}

// BuildLayer merges the zoom-0 tiles of all sources into one unified layer
// using the given offsets. Overlaps keep the fresher tile; on equal cache
// timestamps the earlier (higher priority) source wins.
func BuildLayer(sources []AlignSource, offsets map[string]tile.Offset, load func(catalog.SourceTile) (*image.NRGBA, error)) Layer {
	layer := make(Layer)
	for _, src := range sources {
		offset := offsets[src.Key]
		for _, st := range src.Tiles {
			st := st
			layer.merge(st.Coord.Add(offset), Cell{
				Cache: st.Cache,
				Load:  func() (*image.NRGBA, error) { return load(st) },
			})
		}
	}
	return layer
}
