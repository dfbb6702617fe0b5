package catalog

import (
	"context"
	"fmt"

	"github.com/hearthmap/hearthmap/internal/hmap"
)

// SourceContribution reports how many grids one HMap source contributed to a
// public map.
type SourceContribution struct {
	HmapSourceID     int64  `json:"hmapSourceId"`
	Name             string `json:"name"`
	TotalGrids       int    `json:"totalGrids"`
	NewGrids         int    `json:"newGrids"`
	OverlappingGrids int    `json:"overlappingGrids"`
}

// ContributionReport is the result of analyzing all HMap sources of a public
// map in generation order.
type ContributionReport struct {
	PublicMapID string               `json:"publicMapId"`
	Sources     []SourceContribution `json:"sources"`
	UniqueGrids int                  `json:"uniqueGrids"`
	TotalGrids  int                  `json:"totalGrids"`
}

type gridClaim struct {
	segment int64
	x, y    int32
}

// AnalyzeContributions walks the HMap sources of a public map in generation
// order and counts, per source, the grids it is the first to claim versus the
// grids an earlier source already covers. The counters are persisted on each
// link so listings can show them without re-decoding.
func (s *Store) AnalyzeContributions(ctx context.Context, publicMapID string) (*ContributionReport, error) {
	if _, err := s.GetPublicMap(ctx, publicMapID); err != nil {
		return nil, err
	}
	links, err := s.ListHmapSourceLinks(ctx, publicMapID)
	if err != nil {
		return nil, err
	}

	report := &ContributionReport{PublicMapID: publicMapID}
	claimed := make(map[gridClaim]struct{})

	for _, link := range links {
		src, err := s.GetHmapSource(ctx, link.HmapSourceID)
		if err != nil {
			return nil, err
		}
		f, err := s.OpenHmapFile(src)
		if err != nil {
			return nil, err
		}
		data, err := hmap.Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode hmap source %d: %w", src.ID, err)
		}

		contrib := SourceContribution{
			HmapSourceID: src.ID,
			Name:         src.Name,
			TotalGrids:   len(data.Grids),
		}
		for _, g := range data.Grids {
			key := gridClaim{segment: g.SegmentID, x: g.TileX, y: g.TileY}
			if _, taken := claimed[key]; taken {
				contrib.OverlappingGrids++
				continue
			}
			claimed[key] = struct{}{}
			contrib.NewGrids++
		}

		_, err = s.db.ExecContext(ctx, `
			UPDATE public_map_hmap_sources SET new_grids = ?, overlapping_grids = ?
			WHERE public_map_id = ? AND hmap_source_id = ?`,
			contrib.NewGrids, contrib.OverlappingGrids, publicMapID, src.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to persist contribution for source %d: %w", src.ID, err)
		}

		report.Sources = append(report.Sources, contrib)
		report.TotalGrids += contrib.TotalGrids
	}
	report.UniqueGrids = len(claimed)

	s.log().Debug("analyzed contributions",
		"publicMap", publicMapID,
		"sources", len(report.Sources),
		"uniqueGrids", report.UniqueGrids)
	return report, nil
}
