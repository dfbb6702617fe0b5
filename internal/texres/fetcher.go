// Package texres resolves external texture resource names (e.g.
// "gfx/tiles/grass") to decoded images, backed by a shared on-disk cache.
package texres

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"image"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "image/png" // registered decoder for cached/downloaded textures

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Config configures a Fetcher.
type Config struct {
	// BaseURL is the resource server root; resource names are appended as
	// paths with a ".png" extension.
	BaseURL string
	// CacheDir holds downloaded textures, content-addressed by resource name.
	CacheDir string
	// PrefetchWorkers bounds concurrent downloads during Prefetch (default 4).
	PrefetchWorkers int
	// Client defaults to an http.Client with a 30s timeout.
	Client *http.Client
}

// Fetcher loads and caches texture resources. It is safe for concurrent use;
// concurrent Get calls for the same name coalesce into one download. Resources
// that turn out to be missing are memoised as absent for the lifetime of the
// fetcher (one generation run).
type Fetcher struct {
	cfg    Config
	logger *slog.Logger
	group  singleflight.Group

	mu     sync.RWMutex
	images map[string]*image.NRGBA
}

// New creates a Fetcher. The cache directory is created on first use.
func New(cfg Config, logger *slog.Logger) *Fetcher {
	if cfg.PrefetchWorkers <= 0 {
		cfg.PrefetchWorkers = 4
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "hmap-tile-cache"
	}

	return &Fetcher{
		cfg:    cfg,
		logger: logger,
		images: make(map[string]*image.NRGBA),
	}
}

// Prefetch bulk-populates the cache for the given resource names ahead of
// rendering. Failures are logged and memoised as absent; Prefetch itself only
// fails on context cancellation.
func (f *Fetcher) Prefetch(ctx context.Context, names []string) error {
	seen := make(map[string]struct{}, len(names))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.PrefetchWorkers)
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f.Get(ctx, name)
			return nil
		})
	}
	return g.Wait()
}

// Get returns the texture for name, or nil when the resource is missing or
// cannot be decoded.
func (f *Fetcher) Get(ctx context.Context, name string) *image.NRGBA {
	f.mu.RLock()
	img, ok := f.images[name]
	f.mu.RUnlock()
	if ok {
		return img
	}

	v, _, _ := f.group.Do(name, func() (any, error) {
		return f.load(ctx, name), nil
	})
	return v.(*image.NRGBA)
}

// load resolves one resource from disk or network and records the result,
// nil included, in the memory table.
func (f *Fetcher) load(ctx context.Context, name string) *image.NRGBA {
	img := f.loadFromDisk(name)
	if img == nil {
		img = f.download(ctx, name)
	}

	f.mu.Lock()
	f.images[name] = img
	f.mu.Unlock()
	return img
}

func (f *Fetcher) loadFromDisk(name string) *image.NRGBA {
	file, err := os.Open(f.cachePath(name))
	if err != nil {
		return nil
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		f.log().Warn("discarding corrupt cached texture", "resource", name, "error", err)
		return nil
	}
	return toNRGBA(img)
}

func (f *Fetcher) download(ctx context.Context, name string) *image.NRGBA {
	if f.cfg.BaseURL == "" {
		return nil
	}

	reqURL := f.cfg.BaseURL
	if reqURL[len(reqURL)-1] != '/' {
		reqURL += "/"
	}
	reqURL += name + ".png"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		f.log().Warn("bad texture request", "resource", name, "error", err)
		return nil
	}

	resp, err := f.cfg.Client.Do(req)
	if err != nil {
		f.log().Warn("texture fetch failed", "resource", name, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.log().Warn("texture not available", "resource", name, "status", resp.StatusCode)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		f.log().Warn("texture read failed", "resource", name, "error", err)
		return nil
	}

	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		f.log().Warn("texture decode failed", "resource", name, "error", err)
		return nil
	}

	if err := f.writeToDisk(name, body); err != nil {
		f.log().Warn("texture cache write failed", "resource", name, "error", err)
	}

	return toNRGBA(img)
}

func (f *Fetcher) writeToDisk(name string, data []byte) error {
	if err := os.MkdirAll(f.cfg.CacheDir, 0o755); err != nil {
		return err
	}
	tmp := f.cachePath(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.cachePath(name))
}

// cachePath content-addresses a resource name so arbitrary names cannot
// escape the cache directory.
func (f *Fetcher) cachePath(name string) string {
	sum := sha1.Sum([]byte(name))
	return filepath.Join(f.cfg.CacheDir, hex.EncodeToString(sum[:])+".png")
}

func (f *Fetcher) log() *slog.Logger {
	if f.logger != nil {
		return f.logger
	}
	return slog.Default()
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	dst := image.NewNRGBA(img.Bounds())
	draw.Copy(dst, img.Bounds().Min, img, img.Bounds(), draw.Src, nil)
	return dst
}
