package compose

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hearthmap/hearthmap/internal/catalog"
	"github.com/hearthmap/hearthmap/internal/hmap"
	"github.com/hearthmap/hearthmap/internal/tile"
)

// Marker is one viewer-facing map marker in unified pixel coordinates.
type Marker struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Image string `json:"image"`
}

// MarkerSet accumulates markers with position dedup: the first marker at a
// pixel coordinate wins, later ones at the same spot are dropped.
type MarkerSet struct {
	markers []Marker
	seen    map[tile.Point]struct{}
}

func NewMarkerSet() *MarkerSet {
	return &MarkerSet{seen: make(map[tile.Point]struct{})}
}

// Add appends a marker unless its position is already taken. IDs are assigned
// in insertion order starting at 1.
func (s *MarkerSet) Add(name string, x, y int, image string) {
	p := tile.Point{X: x, Y: y}
	if _, dup := s.seen[p]; dup {
		return
	}
	s.seen[p] = struct{}{}
	s.markers = append(s.markers, Marker{
		ID:    len(s.markers) + 1,
		Name:  name,
		X:     x,
		Y:     y,
		Image: image,
	})
}

// Markers returns the accumulated markers in insertion order.
func (s *MarkerSet) Markers() []Marker {
	return s.markers
}

// AddFromCatalog places tenant thingwall markers into the unified space: the
// marker's grid coordinate is translated by the source offset, then scaled to
// pixels with the intra-grid position added.
func (s *MarkerSet) AddFromCatalog(markers []catalog.ThingwallMarker, offset tile.Offset) {
	for _, m := range markers {
		p := m.GridCoord.Add(offset)
		s.Add(m.Name, p.X*tile.BaseTileSize+m.PositionX, p.Y*tile.BaseTileSize+m.PositionY, m.Image)
	}
}

// AddFromHmap places thingwall surface markers of a decoded snapshot. Marker
// tile coordinates are absolute within the segment, one pixel per tile.
func (s *MarkerSet) AddFromHmap(markers []hmap.SurfaceMarker) {
	for _, m := range markers {
		if !strings.Contains(m.ResourceName, "thingwall") {
			continue
		}
		s.Add(m.Name, int(m.TileX), int(m.TileY), m.ResourceName)
	}
}

// WriteMarkers writes the marker list as JSON next to the tiles. An empty set
// still writes a file, so the viewer never sees a 404.
func WriteMarkers(path string, markers []Marker) error {
	if markers == nil {
		markers = []Marker{}
	}
	data, err := json.MarshalIndent(markers, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal markers: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write markers: %w", err)
	}
	return os.Rename(tmp, path)
}
