package publicmap

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/hearthmap/hearthmap/internal/catalog"
)

// defaultScanInterval is how often the scheduler checks for maps due an
// automatic regeneration.
const defaultScanInterval = 30 * time.Second

// Scheduler serialises generation requests through a FIFO queue with
// dedup and periodically enqueues maps whose auto-regenerate interval has
// elapsed.
type Scheduler struct {
	orch         *Orchestrator
	store        *catalog.Store
	logger       *slog.Logger
	scanInterval time.Duration

	mu     sync.Mutex
	queued map[string]struct{}
	order  []string
	wake   chan struct{}
}

// NewScheduler creates a scheduler. scanInterval defaults when zero.
func NewScheduler(orch *Orchestrator, store *catalog.Store, logger *slog.Logger, scanInterval time.Duration) *Scheduler {
	if scanInterval <= 0 {
		scanInterval = defaultScanInterval
	}
	return &Scheduler{
		orch:         orch,
		store:        store,
		logger:       logger,
		scanInterval: scanInterval,
		queued:       make(map[string]struct{}),
		wake:         make(chan struct{}, 1),
	}
}

func (s *Scheduler) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// Enqueue adds a map to the generation queue. Returns false when the map is
// already queued.
func (s *Scheduler) Enqueue(slug string) bool {
	s.mu.Lock()
	if _, ok := s.queued[slug]; ok {
		s.mu.Unlock()
		return false
	}
	s.queued[slug] = struct{}{}
	s.order = append(s.order, slug)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// QueueLength returns the number of maps waiting for generation.
func (s *Scheduler) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func (s *Scheduler) pop() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return "", false
	}
	slug := s.order[0]
	s.order = s.order[1:]
	delete(s.queued, slug)
	return slug, true
}

// Run drains the queue and scans for due auto-regenerations until ctx is
// cancelled. Generations run one at a time.
func (s *Scheduler) Run(ctx context.Context) error {
	// The first scan waits a randomised fraction of the interval so several
	// replicas do not hit the catalog at the same moment.
	first := time.NewTimer(s.initialDelay())
	defer first.Stop()
	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()

	for {
		for {
			slug, ok := s.pop()
			if !ok {
				break
			}
			s.generate(ctx, slug)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-first.C:
			s.scan(ctx)
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

// initialDelay picks a startup delay between a sixth of the scan interval and
// the full interval. With the 30s default that is 5..30s.
func (s *Scheduler) initialDelay() time.Duration {
	min := s.scanInterval / 6
	return min + time.Duration(rand.Int63n(int64(s.scanInterval-min)+1))
}

func (s *Scheduler) generate(ctx context.Context, slug string) {
	if err := s.orch.Generate(ctx, slug); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			s.log().Debug("skipping queued map, already running", "map", slug)
			return
		}
		s.log().Error("queued generation failed", "map", slug, "error", err)
	}
}

// scan enqueues every active auto-regenerate map whose interval has elapsed
// since its last completed run.
func (s *Scheduler) scan(ctx context.Context) {
	maps, err := s.store.ListPublicMaps(ctx, true)
	if err != nil {
		s.log().Error("auto-regenerate scan failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, m := range maps {
		if !s.due(m, now) {
			continue
		}
		if s.Enqueue(m.ID) {
			s.log().Info("scheduled auto-regeneration", "map", m.ID)
		}
	}
}

func (s *Scheduler) due(m *catalog.PublicMap, now time.Time) bool {
	if !m.AutoRegenerate || m.RegenerateIntervalMinutes == nil {
		return false
	}
	if m.GenerationStatus == catalog.StatusRunning || s.orch.Running(m.ID) {
		return false
	}
	if m.LastGeneratedAt == nil {
		return true
	}
	interval := time.Duration(*m.RegenerateIntervalMinutes) * time.Minute
	return now.Sub(*m.LastGeneratedAt) >= interval
}
