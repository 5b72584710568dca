package search

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"moviestream/searchservice/internal/domain"
	"moviestream/searchservice/internal/metrics"
)

const (
	// DefaultDebounceInterval is the quiet period collapsing a keystroke
	// burst into one dispatch.
	DefaultDebounceInterval = 500 * time.Millisecond
	defaultRequestTimeout   = 10 * time.Second

	genericSearchError      = "Error fetching movies. Please try again later."
	upstreamFailureFallback = "Failed to fetch movies"
)

// Gateway is the upstream movie lookup the controller dispatches to.
type Gateway interface {
	Search(ctx context.Context, term string) (domain.SearchOutcome, error)
}

// Recorder receives successful nonempty searches for popularity counting.
// Implementations must never surface their failures to the caller.
type Recorder interface {
	RecordSearch(ctx context.Context, term string, representative domain.MovieRecord)
}

// Controller owns one user's search session: it debounces keystrokes into at
// most one gateway dispatch per quiet interval and reconciles asynchronous
// responses against the current intent.
//
// Every dispatch carries a monotonically increasing sequence number, and a
// response mutates state only while its sequence is still the latest, so the
// applied result is always last-dispatched-wins regardless of arrival order.
type Controller struct {
	gateway  Gateway
	recorder Recorder
	logger   *slog.Logger
	debounce time.Duration
	timeout  time.Duration

	mu         sync.Mutex
	state      domain.SessionState
	timer      *time.Timer
	timerGen   uint64
	seq        uint64
	cancel     context.CancelFunc
	lastActive time.Time
	closed     bool
}

type ControllerOption func(*Controller)

func WithRecorder(recorder Recorder) ControllerOption {
	return func(c *Controller) {
		c.recorder = recorder
	}
}

func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithDebounceInterval(interval time.Duration) ControllerOption {
	return func(c *Controller) {
		if interval > 0 {
			c.debounce = interval
		}
	}
}

func WithRequestTimeout(timeout time.Duration) ControllerOption {
	return func(c *Controller) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func NewController(gateway Gateway, opts ...ControllerOption) *Controller {
	c := &Controller{
		gateway:    gateway,
		logger:     slog.Default(),
		debounce:   DefaultDebounceInterval,
		timeout:    defaultRequestTimeout,
		lastActive: time.Now(),
	}
	c.state.Results = []domain.MovieRecord{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnInputChange records the raw term and reschedules the debounce timer.
// Each call replaces any pending timer, so only the last keystroke within a
// quiet window triggers a dispatch.
func (c *Controller) OnInputChange(raw string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.state.RawTerm = raw
	c.lastActive = time.Now()

	c.timerGen++
	gen := c.timerGen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, func() {
		c.debounceElapsed(gen)
	})
}

func (c *Controller) debounceElapsed(gen uint64) {
	c.mu.Lock()
	// A Stop that loses the race with the timer firing still ends up here;
	// the generation check makes the replacement authoritative.
	if c.closed || gen != c.timerGen {
		c.mu.Unlock()
		return
	}

	term := c.state.RawTerm
	c.state.DebouncedTerm = term

	if !domain.Dispatchable(term) {
		c.invalidateLocked()
		// Advance the sequence too: a canceled dispatch may still return
		// and must not commit its error over the cleared state.
		c.seq++
		c.state.Results = []domain.MovieRecord{}
		c.state.ErrorMessage = ""
		c.state.IsLoading = false
		c.mu.Unlock()
		return
	}

	c.invalidateLocked()
	c.seq++
	seq := c.seq
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	c.cancel = cancel
	c.state.IsLoading = true
	c.state.ErrorMessage = ""
	c.mu.Unlock()

	metrics.SearchDispatchesTotal.Inc()
	go c.dispatch(ctx, cancel, seq, term)
}

// invalidateLocked cancels any in-flight dispatch so it can no longer mutate
// session state. Callers must hold c.mu.
func (c *Controller) invalidateLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) dispatch(ctx context.Context, cancel context.CancelFunc, seq uint64, term string) {
	defer cancel()

	outcome, err := c.gateway.Search(ctx, term)

	c.mu.Lock()
	if c.closed || seq != c.seq {
		c.mu.Unlock()
		metrics.StaleResponsesDropped.Inc()
		c.logger.Debug("stale search response discarded", slog.String("term", term))
		return
	}
	c.cancel = nil
	c.state.IsLoading = false

	switch {
	case err != nil:
		c.state.Results = []domain.MovieRecord{}
		c.state.ErrorMessage = genericSearchError
		c.logger.Warn("search dispatch failed",
			slog.String("term", term),
			slog.String("error", err.Error()),
		)
	case !outcome.OK:
		message := outcome.Message
		if message == "" {
			message = upstreamFailureFallback
		}
		c.state.Results = []domain.MovieRecord{}
		c.state.ErrorMessage = message
	default:
		results := outcome.Results
		if results == nil {
			results = []domain.MovieRecord{}
		}
		c.state.Results = results
		c.state.ErrorMessage = ""
		if len(results) > 0 && c.recorder != nil {
			representative := results[0]
			timeout := c.timeout
			recorder := c.recorder
			// Popularity counting never blocks the result update and its
			// failures never reach the session.
			go func() {
				recordCtx, recordCancel := context.WithTimeout(context.Background(), timeout)
				defer recordCancel()
				recorder.RecordSearch(recordCtx, term, representative)
			}()
		}
	}
	c.mu.Unlock()
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.state
	state.Results = append([]domain.MovieRecord(nil), c.state.Results...)
	if state.Results == nil {
		state.Results = []domain.MovieRecord{}
	}
	return state
}

// LastActive reports the time of the most recent keystroke.
func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Close stops the debounce timer and invalidates any in-flight dispatch.
// The controller accepts no further input afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.invalidateLocked()
}
