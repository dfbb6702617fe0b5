// Package tile provides integer tile coordinate math for the public-map
// coordinate space. Zoom 0 tiles are 400x400 pixels and cover a 4x4 block of
// 100x100 base tiles; each higher zoom level halves the coordinate space.
package tile

import "fmt"

// MaxZoom is the highest generated zoom level (inclusive).
const MaxZoom = 6

// BaseTileSize is the edge length of a base (per-grid) tile in pixels.
const BaseTileSize = 100

// OutputTileSize is the edge length of a generated output tile in pixels.
const OutputTileSize = 400

// BlockSize is the number of base tiles along one edge of a zoom-0 output tile.
const BlockSize = OutputTileSize / BaseTileSize

// FloorDiv returns floor(a/b) for positive b, correct for negative a.
// Go's integer division truncates toward zero, which maps -1/2 to 0; tile
// coordinates need -1/2 -> -1 so that negative coordinates land in the right
// parent tile.
func FloorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// Point is a tile coordinate pair at a single zoom level.
type Point struct {
	X int
	Y int
}

// Parent returns the coordinate of the enclosing tile one zoom level up.
func (p Point) Parent() Point {
	return Point{X: FloorDiv(p.X, 2), Y: FloorDiv(p.Y, 2)}
}

// Block returns the zoom-0 output tile covering this base tile coordinate.
func (p Point) Block() Point {
	return Point{X: FloorDiv(p.X, BlockSize), Y: FloorDiv(p.Y, BlockSize)}
}

// Add returns the point translated by an offset.
func (p Point) Add(o Offset) Point {
	return Point{X: p.X + o.DX, Y: p.Y + o.DY}
}

// String returns the tile filename stem in "{x}_{y}" format.
func (p Point) String() string {
	return fmt.Sprintf("%d_%d", p.X, p.Y)
}

// Offset is a per-source translation into the unified coordinate space,
// expressed in zoom-0 base tile units.
type Offset struct {
	DX int
	DY int
}

// Shift scales the offset from zoom 0 to zoom z using an arithmetic right
// shift. Only defined for z >= 0.
func (o Offset) Shift(z int) Offset {
	return Offset{DX: o.DX >> z, DY: o.DY >> z}
}

// Coords identifies one generated tile: zoom level plus tile coordinate.
type Coords struct {
	Zoom int
	X    int
	Y    int
}

// String returns the coordinate as "z{zoom}/{x}_{y}".
func (c Coords) String() string {
	return fmt.Sprintf("z%d/%d_%d", c.Zoom, c.X, c.Y)
}

// Filename returns the tile filename "{x}_{y}.{ext}".
func (c Coords) Filename(ext string) string {
	return fmt.Sprintf("%d_%d.%s", c.X, c.Y, ext)
}

// Point returns the coordinate pair without the zoom level.
func (c Coords) Point() Point {
	return Point{X: c.X, Y: c.Y}
}

// Bounds is an inclusive coordinate rectangle in zoom-0 unified coordinates.
type Bounds struct {
	MinX, MaxX int
	MinY, MaxY int
	valid      bool
}

// Valid reports whether any point has been recorded.
func (b Bounds) Valid() bool {
	return b.valid
}

// Extend grows the bounds to include (x, y).
func (b *Bounds) Extend(x, y int) {
	if !b.valid {
		b.MinX, b.MaxX = x, x
		b.MinY, b.MaxY = y, y
		b.valid = true
		return
	}
	if x < b.MinX {
		b.MinX = x
	}
	if x > b.MaxX {
		b.MaxX = x
	}
	if y < b.MinY {
		b.MinY = y
	}
	if y > b.MaxY {
		b.MaxY = y
	}
}

// Block returns the bounds mapped to zoom-0 output tile coordinates.
func (b Bounds) Block() Bounds {
	if !b.valid {
		return Bounds{}
	}
	return Bounds{
		MinX:  FloorDiv(b.MinX, BlockSize),
		MaxX:  FloorDiv(b.MaxX, BlockSize),
		MinY:  FloorDiv(b.MinY, BlockSize),
		MaxY:  FloorDiv(b.MaxY, BlockSize),
		valid: true,
	}
}

// ForEach calls fn for every coordinate within the bounds.
func (b Bounds) ForEach(fn func(Point)) {
	if !b.valid {
		return
	}
	for y := b.MinY; y <= b.MaxY; y++ {
		for x := b.MinX; x <= b.MaxX; x++ {
			fn(Point{X: x, Y: y})
		}
	}
}

// Count returns the number of coordinates within the bounds.
func (b Bounds) Count() int {
	if !b.valid {
		return 0
	}
	return (b.MaxX - b.MinX + 1) * (b.MaxY - b.MinY + 1)
}

// Parents returns the set of parent coordinates one zoom level up from the
// given children.
func Parents(children map[Point]struct{}) map[Point]struct{} {
	parents := make(map[Point]struct{}, len(children)/2+1)
	for child := range children {
		parents[child.Parent()] = struct{}{}
	}
	return parents
}

// AncestorStack returns the tile coordinates covering base coordinate
// (baseX, baseY) at zoom levels 0..MaxZoom: the zoom-0 output tile followed by
// its six ancestors.
func AncestorStack(baseX, baseY int) []Coords {
	p := Point{X: baseX, Y: baseY}.Block()
	stack := make([]Coords, 0, MaxZoom+1)
	for z := 0; z <= MaxZoom; z++ {
		stack = append(stack, Coords{Zoom: z, X: p.X, Y: p.Y})
		p = p.Parent()
	}
	return stack
}
