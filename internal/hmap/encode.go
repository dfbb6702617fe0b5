package hmap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Encode writes data in the Haven Mapfile 1 layout. Used for test fixtures
// and the analyzer round-trip; uploads are produced by the game client.
func Encode(w io.Writer, data *Data) error {
	if _, err := io.WriteString(w, Magic); err != nil {
		return err
	}

	// Group grids by segment, preserving first-seen segment order.
	var order []int64
	bySegment := make(map[int64][]*Grid)
	for _, g := range data.Grids {
		if _, ok := bySegment[g.SegmentID]; !ok {
			order = append(order, g.SegmentID)
		}
		bySegment[g.SegmentID] = append(bySegment[g.SegmentID], g)
	}

	if err := writeInt32(w, int32(len(order))); err != nil {
		return err
	}
	for _, segID := range order {
		grids := bySegment[segID]
		if err := binary.Write(w, binary.LittleEndian, segID); err != nil {
			return err
		}
		if err := writeInt32(w, int32(len(grids))); err != nil {
			return err
		}
		for _, g := range grids {
			if err := writeGrid(w, g); err != nil {
				return err
			}
		}
	}

	if err := writeInt32(w, int32(len(data.Markers))); err != nil {
		return err
	}
	for _, m := range data.Markers {
		if err := writeSurfaceMarker(w, m); err != nil {
			return err
		}
	}

	return nil
}

func writeGrid(w io.Writer, g *Grid) error {
	if len(g.TileIndices) != GridTiles || len(g.ZMap) != GridTiles {
		return fmt.Errorf("hmap: grid (%d,%d) has %d indices and %d z values, want %d",
			g.TileX, g.TileY, len(g.TileIndices), len(g.ZMap), GridTiles)
	}

	if err := binary.Write(w, binary.LittleEndian, g.TileX); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, g.TileY); err != nil {
		return err
	}
	if err := writeInt32(w, int32(len(g.Tilesets))); err != nil {
		return err
	}
	for _, ts := range g.Tilesets {
		if err := writeString(w, ts.ResourceName); err != nil {
			return err
		}
	}
	if _, err := w.Write(g.TileIndices); err != nil {
		return err
	}
	raw := make([]byte, GridTiles*4)
	for i, z := range g.ZMap {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(z))
	}
	_, err := w.Write(raw)
	return err
}

func writeSurfaceMarker(w io.Writer, m SurfaceMarker) error {
	var body bytes.Buffer
	body.WriteByte(markerKindSurface)
	if err := binary.Write(&body, binary.LittleEndian, m.ObjectID); err != nil {
		return err
	}
	if err := binary.Write(&body, binary.LittleEndian, m.TileX); err != nil {
		return err
	}
	if err := binary.Write(&body, binary.LittleEndian, m.TileY); err != nil {
		return err
	}
	if err := writeString(&body, m.Name); err != nil {
		return err
	}
	if err := writeString(&body, m.ResourceName); err != nil {
		return err
	}

	if err := writeInt32(w, int32(body.Len())); err != nil {
		return err
	}
	_, err := w.Write(body.Bytes())
	return err
}

func writeInt32(w io.Writer, v int32) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func writeString(w io.Writer, s string) error {
	if err := writeInt32(w, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}
