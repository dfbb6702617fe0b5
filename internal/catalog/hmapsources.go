package catalog

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hearthmap/hearthmap/internal/hmap"
	"github.com/hearthmap/hearthmap/internal/tile"
)

// hmapSourceDir is the upload directory under the grid storage root.
const hmapSourceDir = "hmap-sources"

// CreateHmapSource validates and stores an uploaded .hmap file. The signature
// is checked before anything touches disk; files shorter than the signature or
// larger than hmap.MaxFileSize are rejected.
func (s *Store) CreateHmapSource(ctx context.Context, name, fileName string, r io.Reader) (*HmapSource, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidArgument)
	}

	head := make([]byte, len(hmap.Magic))
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("%w: file too short for an hmap signature", ErrInvalidArgument)
	}
	if string(head) != hmap.Magic {
		return nil, fmt.Errorf("%w: not an hmap file", ErrInvalidArgument)
	}

	dir := filepath.Join(s.gridStorage, hmapSourceDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create hmap source dir: %w", err)
	}

	relPath := filepath.Join(hmapSourceDir,
		fmt.Sprintf("%s_%s", s.now().UTC().Format("20060102150405"), filepath.Base(fileName)))
	fullPath := filepath.Join(s.gridStorage, relPath)

	out, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create hmap file: %w", err)
	}

	// Re-prepend the signature we consumed for validation, and cap the copy
	// one byte past the limit so oversize uploads are detected.
	limited := io.LimitReader(r, hmap.MaxFileSize-int64(len(head))+1)
	n, err := io.Copy(out, io.MultiReader(bytes.NewReader(head), limited))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(fullPath)
		return nil, fmt.Errorf("failed to store hmap file: %w", err)
	}
	if n > hmap.MaxFileSize {
		os.Remove(fullPath)
		return nil, fmt.Errorf("%w: hmap file exceeds %d bytes", ErrInvalidArgument, int64(hmap.MaxFileSize))
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO hmap_sources (name, file_name, file_path, file_size_bytes)
		VALUES (?, ?, ?, ?)`,
		name, filepath.Base(fileName), relPath, n)
	if err != nil {
		os.Remove(fullPath)
		return nil, fmt.Errorf("failed to insert hmap source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.GetHmapSource(ctx, id)
}

// GetHmapSource loads one uploaded HMap source.
func (s *Store) GetHmapSource(ctx context.Context, id int64) (*HmapSource, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, file_name, file_path, file_size_bytes,
		       total_grids, segment_count, min_x, max_x, min_y, max_y, analyzed_at
		FROM hmap_sources WHERE id = ?`, id)

	var (
		src                    HmapSource
		totalGrids, segments   sql.NullInt64
		minX, maxX, minY, maxY sql.NullInt64
		analyzedAt             sql.NullInt64
	)
	err := row.Scan(&src.ID, &src.Name, &src.FileName, &src.FilePath, &src.FileSizeBytes,
		&totalGrids, &segments, &minX, &maxX, &minY, &maxY, &analyzedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: hmap source %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan hmap source: %w", err)
	}

	src.TotalGrids = nullInt(totalGrids)
	src.SegmentCount = nullInt(segments)
	src.AnalyzedAt = nullTime(analyzedAt)
	if minX.Valid && maxX.Valid && minY.Valid && maxY.Valid {
		var b tile.Bounds
		b.Extend(int(minX.Int64), int(minY.Int64))
		b.Extend(int(maxX.Int64), int(maxY.Int64))
		src.Bounds = &b
	}
	return &src, nil
}

// ListHmapSources returns all uploaded HMap sources.
func (s *Store) ListHmapSources(ctx context.Context) ([]*HmapSource, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM hmap_sources ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list hmap sources: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sources := make([]*HmapSource, 0, len(ids))
	for _, id := range ids {
		src, err := s.GetHmapSource(ctx, id)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// DeleteHmapSource removes an uploaded HMap source and its file. Deletion is
// forbidden while any public map references it.
func (s *Store) DeleteHmapSource(ctx context.Context, id int64) error {
	src, err := s.GetHmapSource(ctx, id)
	if err != nil {
		return err
	}

	var refs int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM public_map_hmap_sources WHERE hmap_source_id = ?", id).Scan(&refs)
	if err != nil {
		return fmt.Errorf("failed to count references: %w", err)
	}
	if refs > 0 {
		return fmt.Errorf("%w: hmap source %d is referenced by %d public map(s)", ErrInvalidArgument, id, refs)
	}

	if err := os.Remove(filepath.Join(s.gridStorage, src.FilePath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove hmap file: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM hmap_sources WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete hmap source: %w", err)
	}
	return nil
}

// OpenHmapFile opens the stored file of an HMap source for decoding.
func (s *Store) OpenHmapFile(src *HmapSource) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.gridStorage, src.FilePath))
	if err != nil {
		return nil, fmt.Errorf("failed to open hmap file %q: %w", src.FilePath, err)
	}
	return f, nil
}

// AnalyzeHmapSource decodes the stored file and records grid count, segment
// count and coordinate bounds.
func (s *Store) AnalyzeHmapSource(ctx context.Context, id int64) (*HmapSource, error) {
	src, err := s.GetHmapSource(ctx, id)
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
		if errors.Is(err, hmap.ErrInvalidFormat) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return nil, err
	}

	segments := make(map[int64]struct{})
	var bounds tile.Bounds
	for _, g := range data.Grids {
		segments[g.SegmentID] = struct{}{}
		bounds.Extend(int(g.TileX), int(g.TileY))
	}

	if bounds.Valid() {
		_, err = s.db.ExecContext(ctx, `
			UPDATE hmap_sources
			SET total_grids = ?, segment_count = ?, min_x = ?, max_x = ?, min_y = ?, max_y = ?, analyzed_at = ?
			WHERE id = ?`,
			len(data.Grids), len(segments),
			bounds.MinX, bounds.MaxX, bounds.MinY, bounds.MaxY,
			s.now().UTC().Unix(), id)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE hmap_sources
			SET total_grids = 0, segment_count = 0, analyzed_at = ?
			WHERE id = ?`,
			s.now().UTC().Unix(), id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store analysis: %w", err)
	}

	return s.GetHmapSource(ctx, id)
}
