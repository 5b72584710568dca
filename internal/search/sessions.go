package search

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultSessionTTL  = 30 * time.Minute
	minSweepInterval   = 30 * time.Second
	maxSessionsPerNode = 10000
)

// Sessions is an id-keyed registry of live controllers. Idle sessions are
// evicted by a background janitor so abandoned browsers don't pin timers
// and state forever.
type Sessions struct {
	factory func() *Controller
	ttl     time.Duration
	logger  *slog.Logger

	mu         sync.Mutex
	items      map[string]*Controller
	janitorRun atomic.Bool
}

func NewSessions(factory func() *Controller, ttl time.Duration, logger *slog.Logger) *Sessions {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		factory: factory,
		ttl:     ttl,
		logger:  logger,
		items:   make(map[string]*Controller),
	}
}

// Create registers a fresh controller and returns its id.
// Returns ok=false when the registry is full.
func (s *Sessions) Create() (string, *Controller, bool) {
	controller := s.factory()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) >= maxSessionsPerNode {
		controller.Close()
		return "", nil, false
	}
	id := newSessionID()
	s.items[id] = controller
	return id, controller, true
}

func (s *Sessions) Get(id string) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	controller, ok := s.items[id]
	return controller, ok
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// StartBackground launches the eviction janitor. Subsequent calls are no-ops.
func (s *Sessions) StartBackground(ctx context.Context) {
	if s.janitorRun.CompareAndSwap(false, true) {
		go s.runJanitor(ctx)
	}
}

func (s *Sessions) runJanitor(ctx context.Context) {
	interval := s.ttl / 4
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-ticker.C:
			s.evictIdle(time.Now())
		}
	}
}

func (s *Sessions) evictIdle(now time.Time) {
	var evicted []*Controller
	s.mu.Lock()
	for id, controller := range s.items {
		if now.Sub(controller.LastActive()) > s.ttl {
			delete(s.items, id)
			evicted = append(evicted, controller)
		}
	}
	remaining := len(s.items)
	s.mu.Unlock()

	for _, controller := range evicted {
		controller.Close()
	}
	if len(evicted) > 0 {
		s.logger.Debug("idle search sessions evicted",
			slog.Int("evicted", len(evicted)),
			slog.Int("remaining", remaining),
		)
	}
}

func (s *Sessions) closeAll() {
	s.mu.Lock()
	items := s.items
	s.items = make(map[string]*Controller)
	s.mu.Unlock()
	for _, controller := range items {
		controller.Close()
	}
}

func newSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// rand.Read never fails on supported platforms.
		panic(err)
	}
	return hex.EncodeToString(buf)
}
