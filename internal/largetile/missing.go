package largetile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"os"
	"time"

	"github.com/gen2brain/webp"

	"github.com/hearthmap/hearthmap/internal/catalog"
	"github.com/hearthmap/hearthmap/internal/tile"
	"github.com/hearthmap/hearthmap/internal/worker"
)

// GenerateMissingTiles fills the disk tier with every tile of a tenant map
// that the catalog can support but disk does not hold yet. The catalog is
// queried exactly once: zoom-0 blocks compose from that bulk-loaded tile
// list, and each higher level composes from the on-disk tiles of the level
// below. onProgress may be nil. Returns the number of tiles generated per
// zoom level.
func (c *Cache) GenerateMissingTiles(ctx context.Context, tenant, mapID string, workers int, onProgress worker.ProgressFunc) (map[int]int, error) {
	if workers <= 0 {
		workers = 4
	}

	tiles, err := c.store.SourceTiles(ctx, tenant, mapID)
	if err != nil {
		return nil, err
	}
	if len(tiles) == 0 {
		return nil, nil
	}

	blocks := make(map[tile.Point][]catalog.SourceTile)
	for _, st := range tiles {
		b := st.Coord.Block()
		blocks[b] = append(blocks[b], st)
	}
	level := make(map[tile.Point]struct{}, len(blocks))
	for b := range blocks {
		level[b] = struct{}{}
	}

	perZoom := make(map[int]int)
	for z := 0; z <= tile.MaxZoom; z++ {
		var tasks []worker.Task
		for p := range level {
			coords := tile.Coords{Zoom: z, X: p.X, Y: p.Y}
			if _, err := os.Stat(c.tilePath(Key{Tenant: tenant, MapID: mapID, Coords: coords})); err == nil {
				continue
			}
			tasks = append(tasks, worker.Task{Coords: coords})
		}

		if len(tasks) > 0 {
			pool := worker.New(worker.Config{
				Workers:    workers,
				OnProgress: onProgress,
				Generator: worker.GeneratorFunc(func(ctx context.Context, coords tile.Coords) (string, error) {
					key := Key{Tenant: tenant, MapID: mapID, Coords: coords}
					var err error
					if coords.Zoom == 0 {
						err = c.materializeBase(key, blocks[coords.Point()])
					} else {
						err = c.materializeParent(key)
					}
					if err != nil {
						// Empty blocks are expected for sparse maps.
						if errors.Is(err, ErrNoTile) {
							return "", nil
						}
						return "", err
					}
					return c.tilePath(key), nil
				}),
			})
			for _, r := range pool.Run(ctx, tasks) {
				if r.Err != nil {
					return perZoom, r.Err
				}
				if r.Path != "" {
					perZoom[z]++
				}
			}
		}

		level = tile.Parents(level)
	}

	c.log().Debug("pregenerated tiles", "tenant", tenant, "map", mapID, "perZoom", perZoom)
	return perZoom, nil
}

// materializeBase renders a zoom-0 tile from already-loaded catalog rows and
// writes it to the disk tier.
func (c *Cache) materializeBase(key Key, tiles []catalog.SourceTile) error {
	start := time.Now()
	img, err := c.renderBlock(key, tiles)
	if err != nil {
		return err
	}
	if err := c.materialize(key, img); err != nil {
		return err
	}
	counters := c.stats.tenant(key.Tenant)
	counters.Generated.Add(1)
	counters.GenerationNanos.Add(int64(time.Since(start)))
	return nil
}

// materializeParent renders a tile from the on-disk tiles of the level below
// and writes it to the disk tier. The catalog is never touched.
func (c *Cache) materializeParent(key Key) error {
	start := time.Now()
	const half = tile.OutputTileSize / 2
	canvas := image.NewNRGBA(image.Rect(0, 0, tile.OutputTileSize, tile.OutputTileSize))
	found := false

	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			childKey := Key{
				Tenant: key.Tenant,
				MapID:  key.MapID,
				Coords: tile.Coords{Zoom: key.Coords.Zoom - 1, X: key.Coords.X*2 + dx, Y: key.Coords.Y*2 + dy},
			}
			data, err := os.ReadFile(c.tilePath(childKey))
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return err
			}
			img, err := webp.Decode(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("failed to decode child %s: %w", childKey, err)
			}

			small := image.NewNRGBA(image.Rect(0, 0, half, half))
			shrink.Draw(small, img)
			draw.Draw(canvas, image.Rect(dx*half, dy*half, dx*half+half, dy*half+half),
				small, image.Point{}, draw.Src)
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNoTile, key)
	}
	if err := c.materialize(key, canvas); err != nil {
		return err
	}
	counters := c.stats.tenant(key.Tenant)
	counters.Generated.Add(1)
	counters.GenerationNanos.Add(int64(time.Since(start)))
	return nil
}

func (c *Cache) materialize(key Key, img *image.NRGBA) error {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{Quality: c.quality}); err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := c.writeTile(key, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return nil
}
