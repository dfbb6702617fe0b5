package tile

import (
	"math"
	"testing"
)

func TestFloorDiv(t *testing.T) {
	tests := []struct {
		a, b, want int
	}{
		{0, 2, 0},
		{1, 2, 0},
		{2, 2, 1},
		{-1, 2, -1},
		{-2, 2, -1},
		{-3, 2, -2},
		{-4, 4, -1},
		{-5, 4, -2},
		{7, 4, 1},
		{-7, 4, -2},
	}

	for _, tt := range tests {
		if got := FloorDiv(tt.a, tt.b); got != tt.want {
			t.Errorf("FloorDiv(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestFloorDivMatchesMathFloor(t *testing.T) {
	for a := -100; a <= 100; a++ {
		for _, b := range []int{2, 4} {
			want := int(math.Floor(float64(a) / float64(b)))
			if got := FloorDiv(a, b); got != want {
				t.Fatalf("FloorDiv(%d, %d) = %d, want %d", a, b, got, want)
			}
		}
	}
}

func TestPointParentAndBlock(t *testing.T) {
	tests := []struct {
		p      Point
		parent Point
		block  Point
	}{
		{Point{0, 0}, Point{0, 0}, Point{0, 0}},
		{Point{5, 5}, Point{2, 2}, Point{1, 1}},
		{Point{-1, -1}, Point{-1, -1}, Point{-1, -1}},
		{Point{-4, 3}, Point{-2, 1}, Point{-1, 0}},
		{Point{7, -5}, Point{3, -3}, Point{1, -2}},
	}

	for _, tt := range tests {
		if got := tt.p.Parent(); got != tt.parent {
			t.Errorf("%v.Parent() = %v, want %v", tt.p, got, tt.parent)
		}
		if got := tt.p.Block(); got != tt.block {
			t.Errorf("%v.Block() = %v, want %v", tt.p, got, tt.block)
		}
	}
}

func TestOffsetShift(t *testing.T) {
	o := Offset{DX: 8, DY: -8}

	if got := o.Shift(0); got != o {
		t.Errorf("Shift(0) = %v, want %v", got, o)
	}
	if got := o.Shift(2); got != (Offset{DX: 2, DY: -2}) {
		t.Errorf("Shift(2) = %v, want {2 -2}", got)
	}
	// Arithmetic shift keeps negative offsets negative.
	if got := (Offset{DX: -1, DY: -1}).Shift(3); got != (Offset{DX: -1, DY: -1}) {
		t.Errorf("Shift(3) = %v, want {-1 -1}", got)
	}
}

func TestBoundsExtend(t *testing.T) {
	var b Bounds
	if b.Valid() {
		t.Fatal("zero Bounds should not be valid")
	}
	if b.Count() != 0 {
		t.Fatalf("empty bounds Count() = %d, want 0", b.Count())
	}

	b.Extend(3, -2)
	b.Extend(-1, 4)

	if !b.Valid() {
		t.Fatal("bounds should be valid after Extend")
	}
	if b.MinX != -1 || b.MaxX != 3 || b.MinY != -2 || b.MaxY != 4 {
		t.Errorf("bounds = %+v, want [-1,3]x[-2,4]", b)
	}
	if b.Count() != 5*7 {
		t.Errorf("Count() = %d, want 35", b.Count())
	}
}

func TestBoundsBlock(t *testing.T) {
	var b Bounds
	b.Extend(-5, 0)
	b.Extend(6, 7)

	blk := b.Block()
	if blk.MinX != -2 || blk.MaxX != 1 || blk.MinY != 0 || blk.MaxY != 1 {
		t.Errorf("Block() = %+v, want [-2,1]x[0,1]", blk)
	}
}

func TestCoordsFilename(t *testing.T) {
	c := Coords{Zoom: 3, X: -2, Y: 7}
	if got := c.Filename("webp"); got != "-2_7.webp" {
		t.Errorf("Filename = %q, want -2_7.webp", got)
	}
	if got := c.String(); got != "z3/-2_7" {
		t.Errorf("String = %q, want z3/-2_7", got)
	}
}

func TestParents(t *testing.T) {
	children := map[Point]struct{}{
		{0, 0}: {},
		{1, 1}: {},
		{2, 0}: {},
		{-1, -1}: {},
	}

	parents := Parents(children)
	want := map[Point]struct{}{
		{0, 0}:   {},
		{1, 0}:   {},
		{-1, -1}: {},
	}

	if len(parents) != len(want) {
		t.Fatalf("got %d parents, want %d: %v", len(parents), len(want), parents)
	}
	for p := range want {
		if _, ok := parents[p]; !ok {
			t.Errorf("missing parent %v", p)
		}
	}
}

func TestAncestorStack(t *testing.T) {
	// Base tile (20, 20) -> zoom-0 output tile (5, 5), then halving per level.
	stack := AncestorStack(20, 20)
	want := []Coords{
		{0, 5, 5},
		{1, 2, 2},
		{2, 1, 1},
		{3, 0, 0},
		{4, 0, 0},
		{5, 0, 0},
		{6, 0, 0},
	}

	if len(stack) != len(want) {
		t.Fatalf("stack length = %d, want %d", len(stack), len(want))
	}
	for i, c := range want {
		if stack[i] != c {
			t.Errorf("stack[%d] = %v, want %v", i, stack[i], c)
		}
	}
}
