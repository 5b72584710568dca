package omdb

import (
	"sync"
	"time"
)

// HealthSnapshot describes recent upstream behavior for diagnostics.
type HealthSnapshot struct {
	Configured          bool       `json:"configured"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastError           string     `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs,omitempty"`
	TotalRequests       int64      `json:"totalRequests,omitempty"`
	TotalFailures       int64      `json:"totalFailures,omitempty"`
}

type healthState struct {
	mu                  sync.Mutex
	consecutiveFailures int
	lastError           string
	lastSuccessAt       *time.Time
	lastFailureAt       *time.Time
	lastLatency         time.Duration
	totalRequests       int64
	totalFailures       int64
}

func (h *healthState) recordSuccess(latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	h.consecutiveFailures = 0
	h.lastError = ""
	h.lastSuccessAt = &now
	h.lastLatency = latency
	h.totalRequests++
}

func (h *healthState) recordFailure(err error, latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	h.consecutiveFailures++
	if err != nil {
		h.lastError = err.Error()
	}
	h.lastFailureAt = &now
	h.lastLatency = latency
	h.totalRequests++
	h.totalFailures++
}

// Health returns a snapshot of upstream request outcomes.
func (c *Client) Health() HealthSnapshot {
	c.health.mu.Lock()
	defer c.health.mu.Unlock()
	return HealthSnapshot{
		Configured:          c.Enabled(),
		ConsecutiveFailures: c.health.consecutiveFailures,
		LastError:           c.health.lastError,
		LastSuccessAt:       c.health.lastSuccessAt,
		LastFailureAt:       c.health.lastFailureAt,
		LastLatencyMS:       c.health.lastLatency.Milliseconds(),
		TotalRequests:       c.health.totalRequests,
		TotalFailures:       c.health.totalFailures,
	}
}
