package compose

import (
	"context"
	"image"
	"image/draw"
	"os"
	"sync"
	"sync/atomic"

	"github.com/disintegration/gift"
	"golang.org/x/sync/errgroup"

	"github.com/hearthmap/hearthmap/internal/tile"
)

// downsample halves a child tile with box filtering before it is placed into
// its parent quadrant.
var downsample = gift.New(gift.Resize(tile.OutputTileSize/2, tile.OutputTileSize/2, gift.BoxResampling))

// BuildPyramid derives zoom levels 1..MaxZoom from the zoom-0 tiles written
// by ComposeBase. Each parent tile packs its up-to-four children, box-filtered
// to half size, into quadrants. Returns the number of pyramid tiles written.
func (c *Composer) BuildPyramid(ctx context.Context, base []tile.Point) (int, error) {
	level := make(map[tile.Point]struct{}, len(base))
	for _, p := range base {
		level[p] = struct{}{}
	}
	if len(level) == 0 {
		return 0, nil
	}

	// Parent counts are known upfront, so progress is over the whole pyramid.
	total := 0
	counting := level
	for z := 1; z <= tile.MaxZoom; z++ {
		counting = tile.Parents(counting)
		total += len(counting)
	}

	var done atomic.Int64
	written := 0
	for z := 1; z <= tile.MaxZoom; z++ {
		parents := tile.Parents(level)

		var mu sync.Mutex
		next := make(map[tile.Point]struct{}, len(parents))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.concurrency())
		for parent := range parents {
			parent := parent
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				ok, err := c.composeParent(z, parent)
				if err != nil {
					return err
				}
				if ok {
					mu.Lock()
					next[parent] = struct{}{}
					mu.Unlock()
				}
				c.progress(int(done.Add(1)), total)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return written, err
		}

		written += len(next)
		level = next
	}
	return written, nil
}

// composeParent reports whether the parent produced a tile. A parent with no
// decodable child yields no file.
func (c *Composer) composeParent(zoom int, parent tile.Point) (bool, error) {
	const half = tile.OutputTileSize / 2
	canvas := image.NewNRGBA(image.Rect(0, 0, tile.OutputTileSize, tile.OutputTileSize))
	contributed := false

	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			child := tile.Coords{Zoom: zoom - 1, X: parent.X*2 + dx, Y: parent.Y*2 + dy}
			img, err := DecodeFile(c.TilePath(child))
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				c.log().Warn("skipping unreadable child tile", "coord", child.String(), "error", err)
				continue
			}

			small := image.NewNRGBA(image.Rect(0, 0, half, half))
			downsample.Draw(small, img)
			rect := image.Rect(dx*half, dy*half, dx*half+half, dy*half+half)
			draw.Draw(canvas, rect, small, image.Point{}, draw.Src)
			contributed = true
		}
	}
	if !contributed {
		return false, nil
	}

	return true, EncodeFile(c.TilePath(tile.Coords{Zoom: zoom, X: parent.X, Y: parent.Y}), canvas)
}
