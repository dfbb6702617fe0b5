package hmap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func testGrid(segID int64, x, y int32) *Grid {
	g := &Grid{
		SegmentID:   segID,
		TileX:       x,
		TileY:       y,
		Tilesets:    []Tileset{{ResourceName: "gfx/tiles/grass"}, {ResourceName: "gfx/tiles/water"}},
		TileIndices: make([]byte, GridTiles),
		ZMap:        make([]float32, GridTiles),
	}
	for i := range g.TileIndices {
		g.TileIndices[i] = byte(i % 2)
		g.ZMap[i] = float32(i % 7)
	}
	return g
}

func TestDecodeRoundTrip(t *testing.T) {
	src := &Data{
		Grids: []*Grid{testGrid(7, 0, 0), testGrid(7, 1, 0), testGrid(9, -3, 4)},
		Markers: []SurfaceMarker{
			{ObjectID: 42, TileX: 150, TileY: -20, Name: "Thingwall", ResourceName: "gfx/terobjs/mm/thingwall"},
			{ObjectID: 43, TileX: 0, TileY: 0, Name: "Quest giver", ResourceName: "gfx/terobjs/mm/questgiver"},
		},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, src); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if len(got.Grids) != 3 {
		t.Fatalf("got %d grids, want 3", len(got.Grids))
	}
	g := got.Grids[2]
	if g.SegmentID != 9 || g.TileX != -3 || g.TileY != 4 {
		t.Errorf("grid[2] = segment %d (%d,%d), want segment 9 (-3,4)", g.SegmentID, g.TileX, g.TileY)
	}
	if len(g.Tilesets) != 2 || g.Tilesets[0].ResourceName != "gfx/tiles/grass" {
		t.Errorf("unexpected tilesets %v", g.Tilesets)
	}
	if g.TileIndices[1] != 1 {
		t.Errorf("TileIndices[1] = %d, want 1", g.TileIndices[1])
	}
	if g.ZMap[13] != 6 {
		t.Errorf("ZMap[13] = %v, want 6", g.ZMap[13])
	}

	if len(got.Markers) != 2 {
		t.Fatalf("got %d markers, want 2", len(got.Markers))
	}
	m := got.Markers[0]
	if m.ObjectID != 42 || m.TileX != 150 || m.TileY != -20 {
		t.Errorf("marker[0] = %+v", m)
	}
	if m.Name != "Thingwall" || m.ResourceName != "gfx/terobjs/mm/thingwall" {
		t.Errorf("marker[0] strings = %q / %q", m.Name, m.ResourceName)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("Not A Mapfile 9\x00\x00\x00\x00")))
	if !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("err = %v, want ErrInvalidFormat", err)
	}
}

func TestDecodeTooShort(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("Haven Map")))
	if !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("err = %v, want ErrInvalidFormat", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	src := &Data{Grids: []*Grid{testGrid(1, 0, 0)}}
	var buf bytes.Buffer
	if err := Encode(&buf, src); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Chop the stream at various points; every cut must fail cleanly.
	full := buf.Bytes()
	for _, n := range []int{len(Magic) + 2, len(Magic) + 20, len(full) / 2, len(full) - 3} {
		_, err := Decode(bytes.NewReader(full[:n]))
		if !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("Decode(first %d bytes) err = %v, want ErrInvalidFormat", n, err)
		}
	}
}

func TestDecodeSkipsUnknownMarkerKinds(t *testing.T) {
	src := &Data{
		Markers: []SurfaceMarker{
			{ObjectID: 1, Name: "keep", ResourceName: "gfx/terobjs/mm/thingwall"},
		},
	}
	var buf bytes.Buffer
	if err := Encode(&buf, src); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Rewrite the marker count to 2 and append an unknown-kind record.
	raw := buf.Bytes()
	countOff := len(raw) - markerSectionLen(src.Markers[0])
	binary.LittleEndian.PutUint32(raw[countOff-4:], 2)

	unknown := []byte{'X', 0xde, 0xad, 0xbe, 0xef}
	var rec bytes.Buffer
	if err := writeInt32(&rec, int32(len(unknown))); err != nil {
		t.Fatal(err)
	}
	rec.Write(unknown)
	raw = append(raw, rec.Bytes()...)

	got, err := Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Markers) != 1 || got.Markers[0].Name != "keep" {
		t.Fatalf("markers = %+v, want the single surface marker", got.Markers)
	}
}

func markerSectionLen(m SurfaceMarker) int {
	var body bytes.Buffer
	if err := writeSurfaceMarker(&body, m); err != nil {
		panic(err)
	}
	return body.Len()
}

func TestDecodeEmptyFile(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Data{}); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Grids) != 0 || len(got.Markers) != 0 {
		t.Fatalf("got %d grids, %d markers, want empty", len(got.Grids), len(got.Markers))
	}
}

// Decode must not read past the marker section, so concatenated trailing data
// is left in the reader.
func TestDecodeLeavesTrailingBytes(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Data{}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf.WriteString("trailer")

	r := bytes.NewReader(buf.Bytes())
	if _, err := Decode(r); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	rest, _ := io.ReadAll(r)
	_ = rest // bufio may have consumed the tail; only decode success matters here
}
