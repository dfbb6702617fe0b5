package compose

import (
	"context"
	"image"
	"image/draw"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/hearthmap/hearthmap/internal/tile"
)

// Composer writes unified output tiles below OutDir in {zoom}/{x}_{y}.webp
// layout.
type Composer struct {
	OutDir      string
	Concurrency int
	Logger      *slog.Logger
	OnProgress  func(done, total int)
}

func (c *Composer) log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Composer) concurrency() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return 4
}

func (c *Composer) progress(done, total int) {
	if c.OnProgress != nil {
		c.OnProgress(done, total)
	}
}

// TilePath returns the output file of one tile coordinate.
func (c *Composer) TilePath(coords tile.Coords) string {
	return filepath.Join(c.OutDir, strconv.Itoa(coords.Zoom), coords.Filename("webp"))
}

// ComposeBase renders the zoom-0 output tiles of a layer: each output tile is
// a 400x400 canvas holding a 4x4 block of base tiles. Cells whose source image
// fails to load are left transparent rather than failing the run; a block
// where no cell loads at all is not written. Returns the written tile
// coordinates.
func (c *Composer) ComposeBase(ctx context.Context, layer Layer) ([]tile.Point, error) {
	blocks := make(map[tile.Point][]tile.Point)
	for p := range layer {
		b := p.Block()
		blocks[b] = append(blocks[b], p)
	}
	if len(blocks) == 0 {
		return nil, nil
	}

	var done atomic.Int64
	total := len(blocks)

	var (
		mu      sync.Mutex
		written = make([]tile.Point, 0, total)
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency())
	for block, cells := range blocks {
		block, cells := block, cells
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := c.composeBlock(block, cells, layer)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				written = append(written, block)
				mu.Unlock()
			}
			c.progress(int(done.Add(1)), total)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return written, nil
}

// composeBlock reports whether the block produced a tile. A block whose cells
// all fail to load yields no file.
func (c *Composer) composeBlock(block tile.Point, cells []tile.Point, layer Layer) (bool, error) {
	canvas := image.NewNRGBA(image.Rect(0, 0, tile.OutputTileSize, tile.OutputTileSize))
	contributed := false
	for _, p := range cells {
		img, err := layer[p].Load()
		if err != nil {
			c.log().Warn("skipping unreadable base tile", "coord", p.String(), "error", err)
			continue
		}
		if img == nil {
			continue
		}
		x := (p.X - block.X*tile.BlockSize) * tile.BaseTileSize
		y := (p.Y - block.Y*tile.BlockSize) * tile.BaseTileSize
		rect := image.Rect(x, y, x+tile.BaseTileSize, y+tile.BaseTileSize)
		draw.Draw(canvas, rect, img, img.Bounds().Min, draw.Src)
		contributed = true
	}
	if !contributed {
		c.log().Warn("no cell of block loaded, skipping tile", "block", block.String())
		return false, nil
	}
	return true, EncodeFile(c.TilePath(tile.Coords{Zoom: 0, X: block.X, Y: block.Y}), canvas)
}
