package poller

import (
	"sync"
	"time"
)

// HealthStatus mirrors the three-state health surface clients see for a
// discovery source (here, the single multiplexer adapter).
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

// sourceHealth tracks consecutive adapter failures, grounded on the
// teacher's internal/monitor/health.go but narrowed to the single tmux
// adapter this poller drives (no per-source map, since there is one source).
type sourceHealth struct {
	mu               sync.Mutex
	discoverFailures int
	captureFailures  int
	lastErr          string
	lastFailAt       time.Time
}

func newSourceHealth() *sourceHealth {
	return &sourceHealth{}
}

func (h *sourceHealth) recordDiscoverSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.discoverFailures = 0
}

func (h *sourceHealth) recordDiscoverFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.discoverFailures++
	h.lastErr = err.Error()
	h.lastFailAt = time.Now()
}

func (h *sourceHealth) recordCaptureFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.captureFailures++
	h.lastErr = err.Error()
	h.lastFailAt = time.Now()
}

func (h *sourceHealth) recordCaptureSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.captureFailures = 0
}

// Status computes the health status against a consecutive-failure
// threshold (spec.md's HealthWarningThreshold knob, default 3).
func (h *sourceHealth) Status(threshold int) HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.discoverFailures >= threshold {
		return StatusFailed
	}
	if h.captureFailures >= threshold {
		return StatusDegraded
	}
	return StatusHealthy
}

func (h *sourceHealth) LastError() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}
