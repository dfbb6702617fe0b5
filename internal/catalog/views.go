package catalog

import (
	"context"
	"fmt"

	"github.com/hearthmap/hearthmap/internal/tile"
)

// UpsertTenant records a tenant. Used by the provisioning layer and tests.
func (s *Store) UpsertTenant(ctx context.Context, tenantID, name string, active bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, is_active) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, is_active = excluded.is_active`,
		tenantID, name, boolInt(active))
	if err != nil {
		return fmt.Errorf("failed to upsert tenant %q: %w", tenantID, err)
	}
	return nil
}

// UpsertTenantMap records a tenant map.
func (s *Store) UpsertTenantMap(ctx context.Context, tenantID, mapID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_maps (tenant_id, map_id, name) VALUES (?, ?, ?)
		ON CONFLICT(tenant_id, map_id) DO UPDATE SET name = excluded.name`,
		tenantID, mapID, name)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant map %s/%s: %w", tenantID, mapID, err)
	}
	return nil
}

// UpsertSourceTile records one zoom-0 base tile of a tenant map.
func (s *Store) UpsertSourceTile(ctx context.Context, tenantID, mapID string, coord tile.Point, filePath string, cache int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tiles (tenant_id, map_id, zoom, coord_x, coord_y, file, cache)
		VALUES (?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, map_id, zoom, coord_x, coord_y)
		DO UPDATE SET file = excluded.file, cache = excluded.cache`,
		tenantID, mapID, coord.X, coord.Y, filePath, cache)
	if err != nil {
		return fmt.Errorf("failed to upsert tile: %w", err)
	}
	return nil
}

// UpsertSourceGrid records a grid-id to coordinate mapping for a tenant map.
func (s *Store) UpsertSourceGrid(ctx context.Context, tenantID, mapID, gridID string, coord tile.Point) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grids (id, tenant_id, map_id, coord_x, coord_y)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, map_id, id)
		DO UPDATE SET coord_x = excluded.coord_x, coord_y = excluded.coord_y`,
		gridID, tenantID, mapID, coord.X, coord.Y)
	if err != nil {
		return fmt.Errorf("failed to upsert grid: %w", err)
	}
	return nil
}

// InsertMarker records one tenant marker.
func (s *Store) InsertMarker(ctx context.Context, m Marker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markers (tenant_id, grid_id, position_x, position_y, image, name, hidden)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.TenantID, m.GridID, m.PositionX, m.PositionY, m.Image, m.Name, boolInt(m.Hidden))
	if err != nil {
		return fmt.Errorf("failed to insert marker: %w", err)
	}
	return nil
}

// SourceTiles returns all zoom-0 tiles of a tenant map.
func (s *Store) SourceTiles(ctx context.Context, tenantID, mapID string) ([]SourceTile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT coord_x, coord_y, file, cache
		FROM tiles WHERE tenant_id = ? AND map_id = ? AND zoom = 0`,
		tenantID, mapID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tiles for %s/%s: %w", tenantID, mapID, err)
	}
	defer rows.Close()

	var tiles []SourceTile
	for rows.Next() {
		var t SourceTile
		if err := rows.Scan(&t.Coord.X, &t.Coord.Y, &t.FilePath, &t.Cache); err != nil {
			return nil, fmt.Errorf("failed to scan tile: %w", err)
		}
		tiles = append(tiles, t)
	}
	return tiles, rows.Err()
}

// SourceGrids returns the grid-id to coordinate map of a tenant map.
func (s *Store) SourceGrids(ctx context.Context, tenantID, mapID string) (map[string]tile.Point, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, coord_x, coord_y
		FROM grids WHERE tenant_id = ? AND map_id = ?`,
		tenantID, mapID)
	if err != nil {
		return nil, fmt.Errorf("failed to query grids for %s/%s: %w", tenantID, mapID, err)
	}
	defer rows.Close()

	grids := make(map[string]tile.Point)
	for rows.Next() {
		var (
			id string
			p  tile.Point
		)
		if err := rows.Scan(&id, &p.X, &p.Y); err != nil {
			return nil, fmt.Errorf("failed to scan grid: %w", err)
		}
		grids[id] = p
	}
	return grids, rows.Err()
}

// ThingwallMarker joins a visible thingwall marker to its grid coordinate
// within one tenant map.
type ThingwallMarker struct {
	GridCoord tile.Point
	PositionX int
	PositionY int
	Image     string
	Name      string
}

// ThingwallMarkers returns the visible thingwall markers of a tenant joined to
// the grids of the given map.
func (s *Store) ThingwallMarkers(ctx context.Context, tenantID, mapID string) ([]ThingwallMarker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.coord_x, g.coord_y, m.position_x, m.position_y, m.image, m.name
		FROM markers m
		JOIN grids g ON g.tenant_id = m.tenant_id AND g.id = m.grid_id
		WHERE m.tenant_id = ? AND g.map_id = ?
		  AND m.image LIKE '%thingwall%' AND m.hidden = 0`,
		tenantID, mapID)
	if err != nil {
		return nil, fmt.Errorf("failed to query markers for %s/%s: %w", tenantID, mapID, err)
	}
	defer rows.Close()

	var markers []ThingwallMarker
	for rows.Next() {
		var m ThingwallMarker
		if err := rows.Scan(&m.GridCoord.X, &m.GridCoord.Y, &m.PositionX, &m.PositionY, &m.Image, &m.Name); err != nil {
			return nil, fmt.Errorf("failed to scan marker: %w", err)
		}
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

// ListActiveTenants returns the ids of all active tenants.
func (s *Store) ListActiveTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM tenants WHERE is_active = 1 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListTenantMaps returns the map ids of one tenant.
func (s *Store) ListTenantMaps(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT map_id FROM tenant_maps WHERE tenant_id = ? ORDER BY map_id", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list maps for %q: %w", tenantID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListAvailableTenantMaps returns every map of every active tenant with its
// zoom-0 tile count, for the public-map source picker.
func (s *Store) ListAvailableTenantMaps(ctx context.Context) ([]TenantMapInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tm.tenant_id, tm.map_id, tm.name,
		       (SELECT COUNT(*) FROM tiles t
		        WHERE t.tenant_id = tm.tenant_id AND t.map_id = tm.map_id AND t.zoom = 0)
		FROM tenant_maps tm
		JOIN tenants tn ON tn.id = tm.tenant_id
		WHERE tn.is_active = 1
		ORDER BY tm.tenant_id, tm.map_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list available tenant maps: %w", err)
	}
	defer rows.Close()

	var infos []TenantMapInfo
	for rows.Next() {
		var info TenantMapInfo
		if err := rows.Scan(&info.TenantID, &info.MapID, &info.Name, &info.TileCount); err != nil {
			return nil, fmt.Errorf("failed to scan tenant map info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}
