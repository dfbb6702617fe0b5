package catalog

import (
	"time"

	"github.com/hearthmap/hearthmap/internal/tile"
)

// Generation status values for PublicMap.GenerationStatus.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// PublicMap is one published map, identified by its slug.
type PublicMap struct {
	ID                        string
	Name                      string
	IsActive                  bool
	CreatedAt                 time.Time
	CreatedBy                 string
	AutoRegenerate            bool
	RegenerateIntervalMinutes *int
	GenerationStatus          string
	GenerationProgress        int
	TileCount                 int
	LastGeneratedAt           *time.Time
	LastGenerationDuration    *float64 // seconds
	GenerationError           *string
	Bounds                    *tile.Bounds
}

// TenantSource links a tenant map into a public map. The first source in
// (priority desc, addedAt asc) order is the alignment base.
type TenantSource struct {
	PublicMapID string
	TenantID    string
	MapID       string
	Priority    int
	AddedAt     time.Time
	AddedBy     string
}

// Key returns a stable identifier for offset maps and logs.
func (s TenantSource) Key() string {
	return s.TenantID + "/" + s.MapID
}

// HmapSource is one uploaded .hmap world snapshot.
type HmapSource struct {
	ID            int64
	Name          string
	FileName      string
	FilePath      string // relative to the grid storage root
	FileSizeBytes int64
	TotalGrids    *int
	SegmentCount  *int
	Bounds        *tile.Bounds
	AnalyzedAt    *time.Time
}

// HmapSourceLink attaches an HmapSource to a public map with a priority and
// cached contribution counters.
type HmapSourceLink struct {
	PublicMapID      string
	HmapSourceID     int64
	Priority         int
	AddedAt          time.Time
	NewGrids         *int
	OverlappingGrids *int
}

// SourceTile is one zoom-0 catalog tile of a tenant map. Cache is a monotonic
// integer timestamp used for overlap tie-breaking.
type SourceTile struct {
	Coord    tile.Point
	FilePath string // relative to the grid storage root
	Cache    int64
}

// SourceGrid maps a stable cross-tenant grid id to its per-map coordinate.
type SourceGrid struct {
	GridID string
	Coord  tile.Point
}

// Marker is one tenant map marker, positioned within its grid.
type Marker struct {
	TenantID  string
	GridID    string
	PositionX int
	PositionY int
	Image     string
	Name      string
	Hidden    bool
}

// TenantMapInfo summarises one tenant map for the source picker.
type TenantMapInfo struct {
	TenantID  string
	MapID     string
	Name      string
	TileCount int
}

// BoundsInfo is the viewer-facing bounds payload for one public map.
type BoundsInfo struct {
	ID          string
	Name        string
	Bounds      *tile.Bounds
	TileVersion *int64 // unix seconds of the last completed generation
}
