// Package catalog is the sqlite-backed persistence layer: public maps and
// their source links, uploaded HMap sources, and the per-tenant tile, grid and
// marker views consumed by the generation core.
package catalog

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store provides catalog access. The underlying *sql.DB pools short-lived
// connections, so one Store may be shared across tasks; each query runs on
// its own connection.
type Store struct {
	db          *sql.DB
	gridStorage string
	logger      *slog.Logger
	now         func() time.Time
}

// Open opens (creating if needed) the catalog database at path. gridStorage
// is the root directory for tiles and uploaded HMap files.
func Open(path, gridStorage string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{
		db:          db,
		gridStorage: gridStorage,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// GridStorage returns the configured storage root.
func (s *Store) GridStorage() string {
	return s.gridStorage
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS tenant_maps (
			tenant_id TEXT NOT NULL REFERENCES tenants(id),
			map_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (tenant_id, map_id)
		);

		CREATE TABLE IF NOT EXISTS tiles (
			tenant_id TEXT NOT NULL,
			map_id TEXT NOT NULL,
			zoom INTEGER NOT NULL,
			coord_x INTEGER NOT NULL,
			coord_y INTEGER NOT NULL,
			file TEXT NOT NULL,
			cache INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, map_id, zoom, coord_x, coord_y)
		);

		CREATE TABLE IF NOT EXISTS grids (
			id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			map_id TEXT NOT NULL,
			coord_x INTEGER NOT NULL,
			coord_y INTEGER NOT NULL,
			PRIMARY KEY (tenant_id, map_id, id)
		);

		CREATE TABLE IF NOT EXISTS markers (
			tenant_id TEXT NOT NULL,
			grid_id TEXT NOT NULL,
			position_x INTEGER NOT NULL,
			position_y INTEGER NOT NULL,
			image TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			hidden INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS markers_tenant ON markers (tenant_id, image);

		CREATE TABLE IF NOT EXISTS public_maps (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			auto_regenerate INTEGER NOT NULL DEFAULT 0,
			regenerate_interval_minutes INTEGER,
			generation_status TEXT NOT NULL DEFAULT 'pending',
			generation_progress INTEGER NOT NULL DEFAULT 0,
			tile_count INTEGER NOT NULL DEFAULT 0,
			last_generated_at INTEGER,
			last_generation_duration_seconds REAL,
			generation_error TEXT,
			min_x INTEGER, max_x INTEGER, min_y INTEGER, max_y INTEGER
		);

		CREATE TABLE IF NOT EXISTS public_map_sources (
			public_map_id TEXT NOT NULL REFERENCES public_maps(id) ON DELETE CASCADE,
			tenant_id TEXT NOT NULL,
			map_id TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			added_at INTEGER NOT NULL,
			added_by TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (public_map_id, tenant_id, map_id)
		);

		CREATE TABLE IF NOT EXISTS hmap_sources (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			file_name TEXT NOT NULL,
			file_path TEXT NOT NULL,
			file_size_bytes INTEGER NOT NULL,
			total_grids INTEGER,
			segment_count INTEGER,
			min_x INTEGER, max_x INTEGER, min_y INTEGER, max_y INTEGER,
			analyzed_at INTEGER
		);

		CREATE TABLE IF NOT EXISTS public_map_hmap_sources (
			public_map_id TEXT NOT NULL REFERENCES public_maps(id) ON DELETE CASCADE,
			hmap_source_id INTEGER NOT NULL REFERENCES hmap_sources(id),
			priority INTEGER NOT NULL DEFAULT 0,
			added_at INTEGER NOT NULL,
			new_grids INTEGER,
			overlapping_grids INTEGER,
			PRIMARY KEY (public_map_id, hmap_source_id)
		);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func (s *Store) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// nullTime converts a unix-seconds column to *time.Time.
func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func timeFromUnix(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
