// Package hmap decodes the binary "Haven Mapfile 1" world snapshot format:
// per-segment grids of 100x100 tile indices with height maps and tileset
// tables, followed by a marker section.
package hmap

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Magic is the file signature. Files shorter than this are rejected outright.
const Magic = "Haven Mapfile 1"

// GridTiles is the number of tiles in one grid (100x100).
const GridTiles = 100 * 100

// MaxFileSize is the largest accepted upload.
const MaxFileSize = 500 << 20

// maxStringLen bounds length-prefixed strings so a corrupt prefix cannot
// trigger a huge allocation.
const maxStringLen = 1 << 16

// ErrInvalidFormat is returned for a bad signature or a truncated or corrupt
// stream.
var ErrInvalidFormat = errors.New("hmap: invalid format")

// Tileset names one texture resource referenced by grid tile indices.
type Tileset struct {
	ResourceName string
}

// Grid is one decoded 100x100 world grid.
type Grid struct {
	SegmentID   int64
	TileX       int32
	TileY       int32
	Tilesets    []Tileset
	TileIndices []byte    // GridTiles entries indexing into Tilesets
	ZMap        []float32 // GridTiles height values
}

// SurfaceMarker is a kind-'S' marker: a named object placed on the surface.
type SurfaceMarker struct {
	ObjectID     uint64
	TileX        int32
	TileY        int32
	Name         string
	ResourceName string
}

// Data is the decoded content of one HMap file.
type Data struct {
	Grids   []*Grid
	Markers []SurfaceMarker
}

// markerKindSurface tags surface markers in the marker section. Other kinds
// are skipped by their record length.
const markerKindSurface = 'S'

// Decode reads a complete HMap stream. Any truncation or malformed field
// yields ErrInvalidFormat.
func Decode(r io.Reader) (*Data, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("%w: missing signature", ErrInvalidFormat)
	}
	if string(magic) != Magic {
		return nil, fmt.Errorf("%w: bad signature %q", ErrInvalidFormat, magic)
	}

	segmentCount, err := readInt32(br)
	if err != nil {
		return nil, err
	}
	if segmentCount < 0 {
		return nil, fmt.Errorf("%w: negative segment count", ErrInvalidFormat)
	}

	data := &Data{}
	for s := int32(0); s < segmentCount; s++ {
		var segmentID int64
		if err := binary.Read(br, binary.LittleEndian, &segmentID); err != nil {
			return nil, truncated(err)
		}
		gridCount, err := readInt32(br)
		if err != nil {
			return nil, err
		}
		if gridCount < 0 {
			return nil, fmt.Errorf("%w: negative grid count", ErrInvalidFormat)
		}
		for g := int32(0); g < gridCount; g++ {
			grid, err := readGrid(br, segmentID)
			if err != nil {
				return nil, err
			}
			data.Grids = append(data.Grids, grid)
		}
	}

	markers, err := readMarkers(br)
	if err != nil {
		return nil, err
	}
	data.Markers = markers

	return data, nil
}

func readGrid(br *bufio.Reader, segmentID int64) (*Grid, error) {
	grid := &Grid{SegmentID: segmentID}

	if err := binary.Read(br, binary.LittleEndian, &grid.TileX); err != nil {
		return nil, truncated(err)
	}
	if err := binary.Read(br, binary.LittleEndian, &grid.TileY); err != nil {
		return nil, truncated(err)
	}

	tilesetCount, err := readInt32(br)
	if err != nil {
		return nil, err
	}
	if tilesetCount < 0 || tilesetCount > 256 {
		return nil, fmt.Errorf("%w: tileset count %d out of range", ErrInvalidFormat, tilesetCount)
	}
	grid.Tilesets = make([]Tileset, tilesetCount)
	for i := range grid.Tilesets {
		name, err := readString(br)
		if err != nil {
			return nil, err
		}
		grid.Tilesets[i].ResourceName = name
	}

	grid.TileIndices = make([]byte, GridTiles)
	if _, err := io.ReadFull(br, grid.TileIndices); err != nil {
		return nil, truncated(err)
	}

	raw := make([]byte, GridTiles*4)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, truncated(err)
	}
	grid.ZMap = make([]float32, GridTiles)
	for i := range grid.ZMap {
		grid.ZMap[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}

	return grid, nil
}

func readMarkers(br *bufio.Reader) ([]SurfaceMarker, error) {
	count, err := readInt32(br)
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative marker count", ErrInvalidFormat)
	}

	var markers []SurfaceMarker
	for i := int32(0); i < count; i++ {
		// Each record carries its body length so unknown kinds can be skipped.
		recordLen, err := readInt32(br)
		if err != nil {
			return nil, err
		}
		if recordLen < 1 || recordLen > 1<<20 {
			return nil, fmt.Errorf("%w: marker record length %d out of range", ErrInvalidFormat, recordLen)
		}
		body := make([]byte, recordLen)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, truncated(err)
		}

		if body[0] != markerKindSurface {
			continue
		}
		m, err := parseSurfaceMarker(body[1:])
		if err != nil {
			return nil, err
		}
		markers = append(markers, m)
	}

	return markers, nil
}

func parseSurfaceMarker(body []byte) (SurfaceMarker, error) {
	br := bufio.NewReader(bytes.NewReader(body))
	var m SurfaceMarker

	if err := binary.Read(br, binary.LittleEndian, &m.ObjectID); err != nil {
		return m, truncated(err)
	}
	if err := binary.Read(br, binary.LittleEndian, &m.TileX); err != nil {
		return m, truncated(err)
	}
	if err := binary.Read(br, binary.LittleEndian, &m.TileY); err != nil {
		return m, truncated(err)
	}

	name, err := readString(br)
	if err != nil {
		return m, err
	}
	m.Name = name

	res, err := readString(br)
	if err != nil {
		return m, err
	}
	m.ResourceName = res

	return m, nil
}

func readInt32(br *bufio.Reader) (int32, error) {
	var v int32
	if err := binary.Read(br, binary.LittleEndian, &v); err != nil {
		return 0, truncated(err)
	}
	return v, nil
}

func readString(br *bufio.Reader) (string, error) {
	n, err := readInt32(br)
	if err != nil {
		return "", err
	}
	if n < 0 || n > maxStringLen {
		return "", fmt.Errorf("%w: string length %d out of range", ErrInvalidFormat, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return "", truncated(err)
	}
	return string(buf), nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated stream", ErrInvalidFormat)
	}
	return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
}
