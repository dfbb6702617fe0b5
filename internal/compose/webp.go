package compose

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/png" // catalog source tiles
	"os"
	"path/filepath"

	"github.com/gen2brain/webp"
)

// webpQuality is the lossy encoding quality for generated tiles.
const webpQuality = 85

// EncodeFile writes img to path as lossy WebP. The file appears atomically:
// writes go to a temp file in the same directory which is renamed over path.
func EncodeFile(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create tile directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tile-*.webp")
	if err != nil {
		return fmt.Errorf("failed to create temp tile: %w", err)
	}
	err = webp.Encode(tmp, img, webp.Options{Quality: webpQuality})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to rename tile into place: %w", err)
	}
	return nil
}

// DecodeFile reads a WebP (or PNG, for catalog source tiles) image from path
// and converts it to NRGBA.
func DecodeFile(path string) (*image.NRGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba, nil
	}
	out := image.NewNRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out, nil
}
