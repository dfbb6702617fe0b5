// Package server exposes the HTTP surface: per-tenant large tiles with
// on-demand generation, published public-map tiles with bounds and markers,
// cache invalidation and a status endpoint.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hearthmap/hearthmap/internal/catalog"
	"github.com/hearthmap/hearthmap/internal/largetile"
	"github.com/hearthmap/hearthmap/internal/publicmap"
	"github.com/hearthmap/hearthmap/internal/tile"
)

// Config configures a Server. Scheduler is optional; without it the
// generation trigger endpoint responds 503.
type Config struct {
	Store        *catalog.Store
	Cache        *largetile.Cache
	Scheduler    *publicmap.Scheduler
	Logger       *slog.Logger
	CacheControl string // for tile responses, default "public, max-age=60"
}

// Server serves tiles and the management API.
type Server struct {
	store        *catalog.Store
	cache        *largetile.Cache
	scheduler    *publicmap.Scheduler
	logger       *slog.Logger
	cacheControl string
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.CacheControl == "" {
		cfg.CacheControl = "public, max-age=60"
	}
	return &Server{
		store:        cfg.Store,
		cache:        cfg.Cache,
		scheduler:    cfg.Scheduler,
		logger:       cfg.Logger,
		cacheControl: cfg.CacheControl,
	}
}

func (s *Server) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /tiles/{tenant}/{mapid}/{zoom}/{file}", s.serveTenantTile)
	mux.HandleFunc("POST /tiles/{tenant}/{mapid}/dirty", s.markDirty)

	mux.HandleFunc("GET /public/{slug}/bounds.json", s.serveBounds)
	mux.HandleFunc("GET /public/{slug}/markers.json", s.servePublicFile)
	mux.HandleFunc("GET /public/{slug}/{zoom}/{file}", s.servePublicTile)
	mux.HandleFunc("POST /public/{slug}/generate", s.triggerGeneration)

	mux.HandleFunc("GET /status", s.serveStatus)

	return withCORS(mux)
}

// serveTenantTile generates and serves one per-tenant large tile.
func (s *Server) serveTenantTile(w http.ResponseWriter, r *http.Request) {
	coords, ok := parseTileRequest(r.PathValue("zoom"), r.PathValue("file"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	key := largetile.Key{
		Tenant: r.PathValue("tenant"),
		MapID:  r.PathValue("mapid"),
		Coords: coords,
	}

	data, err := s.cache.GetOrGenerate(r.Context(), key)
	if err != nil {
		if errors.Is(err, largetile.ErrNoTile) {
			http.NotFound(w, r)
			return
		}
		s.log().Error("tile generation failed", "key", key.String(), "error", err)
		http.Error(w, "tile generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/webp")
	w.Header().Set("Cache-Control", s.cacheControl)
	_, _ = w.Write(data)
}

// markDirty invalidates the cached tile stack over a base coordinate, given
// as ?x=&y= query parameters. Called by the upload pipeline when grid data
// changes.
func (s *Server) markDirty(w http.ResponseWriter, r *http.Request) {
	x, errX := strconv.Atoi(r.URL.Query().Get("x"))
	y, errY := strconv.Atoi(r.URL.Query().Get("y"))
	if errX != nil || errY != nil {
		http.Error(w, "x and y query parameters required", http.StatusBadRequest)
		return
	}
	s.cache.MarkDirty(r.PathValue("tenant"), r.PathValue("mapid"), x, y)
	w.WriteHeader(http.StatusNoContent)
}

// serveBounds returns the viewer bootstrap payload for a public map.
func (s *Server) serveBounds(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.GetBounds(r.Context(), r.PathValue("slug"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "failed to load bounds", http.StatusInternalServerError)
		return
	}

	payload := map[string]any{
		"id":          info.ID,
		"name":        info.Name,
		"tileVersion": info.TileVersion,
	}
	if info.Bounds != nil {
		payload["minX"] = info.Bounds.MinX
		payload["maxX"] = info.Bounds.MaxX
		payload["minY"] = info.Bounds.MinY
		payload["maxY"] = info.Bounds.MaxY
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) servePublicTile(w http.ResponseWriter, r *http.Request) {
	coords, ok := parseTileRequest(r.PathValue("zoom"), r.PathValue("file"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	dir := s.store.PublicTileDir(r.PathValue("slug"))
	w.Header().Set("Cache-Control", s.cacheControl)
	http.ServeFile(w, r, filepath.Join(dir, strconv.Itoa(coords.Zoom), coords.Filename("webp")))
}

func (s *Server) servePublicFile(w http.ResponseWriter, r *http.Request) {
	dir := s.store.PublicTileDir(r.PathValue("slug"))
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, filepath.Join(dir, "markers.json"))
}

// triggerGeneration queues a regeneration of one public map.
func (s *Server) triggerGeneration(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		http.Error(w, "generation not available", http.StatusServiceUnavailable)
		return
	}
	slug := r.PathValue("slug")
	if _, err := s.store.GetPublicMap(r.Context(), slug); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "failed to load map", http.StatusInternalServerError)
		return
	}

	queued := s.scheduler.Enqueue(slug)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]bool{"queued": queued})
}

// serveStatus reports cache counters and the generation queue depth.
func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Cache largetile.StatsSnapshot `json:"cache"`
		Queue int                     `json:"queueLength"`
	}{
		Cache: s.cache.Snapshot(),
	}
	if s.scheduler != nil {
		status.Queue = s.scheduler.QueueLength()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.log().Error("failed to encode status", "error", err)
	}
}

// parseTileRequest parses the numeric zoom path segment and "{x}_{y}.webp"
// filename of a tile URL.
func parseTileRequest(zoomSeg, file string) (tile.Coords, bool) {
	zoom, err := strconv.Atoi(zoomSeg)
	if err != nil || zoom < 0 || zoom > tile.MaxZoom {
		return tile.Coords{}, false
	}

	name, found := strings.CutSuffix(file, ".webp")
	if !found {
		return tile.Coords{}, false
	}
	xs, ys, found := strings.Cut(name, "_")
	if !found {
		return tile.Coords{}, false
	}
	x, errX := strconv.Atoi(xs)
	y, errY := strconv.Atoi(ys)
	if errX != nil || errY != nil {
		return tile.Coords{}, false
	}
	return tile.Coords{Zoom: zoom, X: x, Y: y}, true
}

// withCORS allows browser viewers hosted elsewhere to request tiles.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
