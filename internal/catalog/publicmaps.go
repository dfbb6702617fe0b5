package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hearthmap/hearthmap/internal/tile"
)

// CreatePublicMap creates a public map. When slug is empty it is derived from
// name; collisions are resolved by suffixing -1, -2, ...
func (s *Store) CreatePublicMap(ctx context.Context, name, slug string, isActive bool, createdBy string) (*PublicMap, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidArgument)
	}
	base := slug
	if base == "" {
		base = name
	}
	base = Slugify(base)

	id := base
	for n := 1; ; n++ {
		var exists int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM public_maps WHERE id = ?", id).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("failed to check slug %q: %w", id, err)
		}
		if exists == 0 {
			break
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}

	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO public_maps (id, name, is_active, created_at, created_by)
		VALUES (?, ?, ?, ?, ?)`,
		id, name, boolInt(isActive), now.Unix(), createdBy)
	if err != nil {
		return nil, fmt.Errorf("failed to insert public map %q: %w", id, err)
	}

	return s.GetPublicMap(ctx, id)
}

// GetPublicMap loads one public map by slug.
func (s *Store) GetPublicMap(ctx context.Context, id string) (*PublicMap, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, is_active, created_at, created_by, auto_regenerate,
		       regenerate_interval_minutes, generation_status, generation_progress,
		       tile_count, last_generated_at, last_generation_duration_seconds,
		       generation_error, min_x, max_x, min_y, max_y
		FROM public_maps WHERE id = ?`, id)
	return scanPublicMap(row, id)
}

// ListPublicMaps returns all public maps, optionally only active ones.
func (s *Store) ListPublicMaps(ctx context.Context, activeOnly bool) ([]*PublicMap, error) {
	query := `
		SELECT id, name, is_active, created_at, created_by, auto_regenerate,
		       regenerate_interval_minutes, generation_status, generation_progress,
		       tile_count, last_generated_at, last_generation_duration_seconds,
		       generation_error, min_x, max_x, min_y, max_y
		FROM public_maps`
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list public maps: %w", err)
	}
	defer rows.Close()

	var maps []*PublicMap
	for rows.Next() {
		m, err := scanPublicMap(rows, "")
		if err != nil {
			return nil, err
		}
		maps = append(maps, m)
	}
	return maps, rows.Err()
}

// PublicMapUpdate carries optional field updates; nil fields are untouched.
type PublicMapUpdate struct {
	Name                      *string
	IsActive                  *bool
	AutoRegenerate            *bool
	RegenerateIntervalMinutes *int
}

// UpdatePublicMap applies the given field updates.
func (s *Store) UpdatePublicMap(ctx context.Context, id string, u PublicMapUpdate) error {
	m, err := s.GetPublicMap(ctx, id)
	if err != nil {
		return err
	}

	if u.Name != nil {
		if *u.Name == "" {
			return fmt.Errorf("%w: name must not be empty", ErrInvalidArgument)
		}
		m.Name = *u.Name
	}
	if u.IsActive != nil {
		m.IsActive = *u.IsActive
	}
	if u.AutoRegenerate != nil {
		m.AutoRegenerate = *u.AutoRegenerate
	}
	if u.RegenerateIntervalMinutes != nil {
		if *u.RegenerateIntervalMinutes <= 0 {
			return fmt.Errorf("%w: regenerate interval must be positive", ErrInvalidArgument)
		}
		m.RegenerateIntervalMinutes = u.RegenerateIntervalMinutes
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE public_maps
		SET name = ?, is_active = ?, auto_regenerate = ?, regenerate_interval_minutes = ?
		WHERE id = ?`,
		m.Name, boolInt(m.IsActive), boolInt(m.AutoRegenerate), m.RegenerateIntervalMinutes, id)
	if err != nil {
		return fmt.Errorf("failed to update public map %q: %w", id, err)
	}
	return nil
}

// DeletePublicMap removes the map row, its source links (cascade) and its
// tile directory.
func (s *Store) DeletePublicMap(ctx context.Context, id string) error {
	if _, err := s.GetPublicMap(ctx, id); err != nil {
		return err
	}

	if err := os.RemoveAll(s.PublicTileDir(id)); err != nil {
		return fmt.Errorf("failed to remove tile directory for %q: %w", id, err)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM public_maps WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete public map %q: %w", id, err)
	}
	return nil
}

// PublicTileDir returns the output directory for a public map's tiles.
func (s *Store) PublicTileDir(id string) string {
	return filepath.Join(s.gridStorage, "public", id)
}

// MarkRunning transitions a map into the running state, clearing progress and
// the previous error.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE public_maps
		SET generation_status = ?, generation_progress = 0, generation_error = NULL
		WHERE id = ?`, StatusRunning, id)
	if err != nil {
		return fmt.Errorf("failed to mark %q running: %w", id, err)
	}
	return requireRow(res, id)
}

// UpdateProgress persists a progress percentage, capped at 99 so only a
// completed run reports 100.
func (s *Store) UpdateProgress(ctx context.Context, id string, pct int) error {
	if pct > 99 {
		pct = 99
	}
	if pct < 0 {
		pct = 0
	}
	// Monotonic within a run: never move progress backwards.
	_, err := s.db.ExecContext(ctx, `
		UPDATE public_maps SET generation_progress = ?
		WHERE id = ? AND generation_progress < ?`, pct, id, pct)
	if err != nil {
		return fmt.Errorf("failed to update progress for %q: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed run.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE public_maps SET generation_status = ?, generation_error = ?
		WHERE id = ?`, StatusFailed, message, id)
	if err != nil {
		return fmt.Errorf("failed to mark %q failed: %w", id, err)
	}
	return nil
}

// MarkCompleted records a successful run. A nil bounds leaves the stored
// bounds untouched (empty map).
func (s *Store) MarkCompleted(ctx context.Context, id string, tileCount int, bounds *tile.Bounds, duration float64) error {
	now := s.now().UTC()
	var err error
	if bounds != nil && bounds.Valid() {
		_, err = s.db.ExecContext(ctx, `
			UPDATE public_maps
			SET generation_status = ?, generation_progress = 100, generation_error = NULL,
			    tile_count = ?, last_generated_at = ?, last_generation_duration_seconds = ?,
			    min_x = ?, max_x = ?, min_y = ?, max_y = ?
			WHERE id = ?`,
			StatusCompleted, tileCount, now.Unix(), duration,
			bounds.MinX, bounds.MaxX, bounds.MinY, bounds.MaxY, id)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE public_maps
			SET generation_status = ?, generation_progress = 100, generation_error = NULL,
			    tile_count = ?, last_generated_at = ?, last_generation_duration_seconds = ?
			WHERE id = ?`,
			StatusCompleted, tileCount, now.Unix(), duration, id)
	}
	if err != nil {
		return fmt.Errorf("failed to mark %q completed: %w", id, err)
	}
	return nil
}

// GetBounds returns the viewer-facing bounds payload, including tileVersion
// derived from the last completed generation.
func (s *Store) GetBounds(ctx context.Context, id string) (*BoundsInfo, error) {
	m, err := s.GetPublicMap(ctx, id)
	if err != nil {
		return nil, err
	}
	info := &BoundsInfo{ID: m.ID, Name: m.Name, Bounds: m.Bounds}
	if m.LastGeneratedAt != nil {
		v := m.LastGeneratedAt.Unix()
		info.TileVersion = &v
	}
	return info, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPublicMap(row rowScanner, id string) (*PublicMap, error) {
	var (
		m                          PublicMap
		isActive, autoRegen        int
		createdAt                  int64
		interval, lastGen          sql.NullInt64
		duration                   sql.NullFloat64
		genError                   sql.NullString
		minX, maxX, minY, maxY     sql.NullInt64
	)
	err := row.Scan(&m.ID, &m.Name, &isActive, &createdAt, &m.CreatedBy, &autoRegen,
		&interval, &m.GenerationStatus, &m.GenerationProgress,
		&m.TileCount, &lastGen, &duration, &genError,
		&minX, &maxX, &minY, &maxY)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: public map %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan public map: %w", err)
	}

	m.IsActive = isActive != 0
	m.AutoRegenerate = autoRegen != 0
	m.CreatedAt = timeFromUnix(createdAt)
	m.RegenerateIntervalMinutes = nullInt(interval)
	m.LastGeneratedAt = nullTime(lastGen)
	if duration.Valid {
		m.LastGenerationDuration = &duration.Float64
	}
	if genError.Valid {
		m.GenerationError = &genError.String
	}
	if minX.Valid && maxX.Valid && minY.Valid && maxY.Valid {
		var b tile.Bounds
		b.Extend(int(minX.Int64), int(minY.Int64))
		b.Extend(int(maxX.Int64), int(maxY.Int64))
		m.Bounds = &b
	}
	return &m, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: public map %q", ErrNotFound, id)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
