package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// AddTenantSource links a tenant map into a public map.
func (s *Store) AddTenantSource(ctx context.Context, publicMapID, tenantID, mapID string, priority int, addedBy string) error {
	if _, err := s.GetPublicMap(ctx, publicMapID); err != nil {
		return err
	}
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tenant_maps WHERE tenant_id = ? AND map_id = ?",
		tenantID, mapID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check tenant map: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: tenant map %s/%s", ErrNotFound, tenantID, mapID)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO public_map_sources (public_map_id, tenant_id, map_id, priority, added_at, added_by)
		VALUES (?, ?, ?, ?, ?, ?)`,
		publicMapID, tenantID, mapID, priority, s.now().UTC().Unix(), addedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: source %s/%s already linked to %q", ErrInvalidArgument, tenantID, mapID, publicMapID)
		}
		return fmt.Errorf("failed to add source: %w", err)
	}
	return nil
}

// RemoveTenantSource unlinks a tenant map from a public map.
func (s *Store) RemoveTenantSource(ctx context.Context, publicMapID, tenantID, mapID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM public_map_sources
		WHERE public_map_id = ? AND tenant_id = ? AND map_id = ?`,
		publicMapID, tenantID, mapID)
	if err != nil {
		return fmt.Errorf("failed to remove source: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: source %s/%s on %q", ErrNotFound, tenantID, mapID, publicMapID)
	}
	return nil
}

// UpdateTenantSourcePriority changes the ordering priority of one source.
func (s *Store) UpdateTenantSourcePriority(ctx context.Context, publicMapID, tenantID, mapID string, priority int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE public_map_sources SET priority = ?
		WHERE public_map_id = ? AND tenant_id = ? AND map_id = ?`,
		priority, publicMapID, tenantID, mapID)
	if err != nil {
		return fmt.Errorf("failed to update source priority: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: source %s/%s on %q", ErrNotFound, tenantID, mapID, publicMapID)
	}
	return nil
}

// ListTenantSources returns the sources of a public map in deterministic
// generation order: priority desc, then addedAt asc.
func (s *Store) ListTenantSources(ctx context.Context, publicMapID string) ([]TenantSource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT public_map_id, tenant_id, map_id, priority, added_at, added_by
		FROM public_map_sources
		WHERE public_map_id = ?
		ORDER BY priority DESC, added_at ASC, tenant_id ASC, map_id ASC`,
		publicMapID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []TenantSource
	for rows.Next() {
		var (
			src     TenantSource
			addedAt int64
		)
		if err := rows.Scan(&src.PublicMapID, &src.TenantID, &src.MapID, &src.Priority, &addedAt, &src.AddedBy); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		src.AddedAt = timeFromUnix(addedAt)
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// AddHmapSourceLink attaches an uploaded HMap source to a public map.
func (s *Store) AddHmapSourceLink(ctx context.Context, publicMapID string, hmapSourceID int64, priority int) error {
	if _, err := s.GetPublicMap(ctx, publicMapID); err != nil {
		return err
	}
	if _, err := s.GetHmapSource(ctx, hmapSourceID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO public_map_hmap_sources (public_map_id, hmap_source_id, priority, added_at)
		VALUES (?, ?, ?, ?)`,
		publicMapID, hmapSourceID, priority, s.now().UTC().Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: hmap source %d already linked to %q", ErrInvalidArgument, hmapSourceID, publicMapID)
		}
		return fmt.Errorf("failed to add hmap source link: %w", err)
	}
	return nil
}

// RemoveHmapSourceLink detaches an HMap source from a public map.
func (s *Store) RemoveHmapSourceLink(ctx context.Context, publicMapID string, hmapSourceID int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM public_map_hmap_sources
		WHERE public_map_id = ? AND hmap_source_id = ?`,
		publicMapID, hmapSourceID)
	if err != nil {
		return fmt.Errorf("failed to remove hmap source link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: hmap source %d on %q", ErrNotFound, hmapSourceID, publicMapID)
	}
	return nil
}

// ListHmapSourceLinks returns the HMap sources of a public map in generation
// order: priority desc, then addedAt asc.
func (s *Store) ListHmapSourceLinks(ctx context.Context, publicMapID string) ([]HmapSourceLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT public_map_id, hmap_source_id, priority, added_at, new_grids, overlapping_grids
		FROM public_map_hmap_sources
		WHERE public_map_id = ?
		ORDER BY priority DESC, added_at ASC, hmap_source_id ASC`,
		publicMapID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hmap source links: %w", err)
	}
	defer rows.Close()

	var links []HmapSourceLink
	for rows.Next() {
		link, err := scanHmapLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func scanHmapLink(row rowScanner) (HmapSourceLink, error) {
	var (
		link                  HmapSourceLink
		addedAt               int64
		newGrids, overlapping sql.NullInt64
	)
	if err := row.Scan(&link.PublicMapID, &link.HmapSourceID, &link.Priority, &addedAt, &newGrids, &overlapping); err != nil {
		return link, fmt.Errorf("failed to scan hmap source link: %w", err)
	}
	link.AddedAt = timeFromUnix(addedAt)
	link.NewGrids = nullInt(newGrids)
	link.OverlappingGrids = nullInt(overlapping)
	return link, nil
}

// isUniqueViolation detects a primary-key/unique-index conflict from the
// sqlite driver.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
