// Package poller implements the multiplexer poller (C5): it periodically
// asks the adapter for the live terminal set, classifies each terminal's
// process, and publishes snapshots and raw captures onto the event bus.
package poller

import (
	"context"
	"log"
	"time"

	"github.com/agent-racer/observer/internal/adapter"
	"github.com/agent-racer/observer/internal/bus"
)

const (
	snapshotTimeout = 5 * time.Second
	captureTimeout  = 2 * time.Second
)

// Snapshot is the payload of a multiplexer:snapshot event.
type Snapshot struct {
	Groups    []adapter.Group
	Terminals []adapter.Terminal
}

// Captured is the payload of a terminal:captured event — raw bytes for an
// assistant terminal, not yet classified (that's C2's job, called by C7).
type Captured struct {
	TerminalID string
	Content    string
	CapturedAt time.Time
}

// HealthEvent is the payload of a source:health event, published whenever
// the adapter's consecutive-failure status changes (spec.md's source
// health tracking supplement).
type HealthEvent struct {
	Status    HealthStatus
	LastError string
}

// Poller keeps no per-terminal state between ticks; across ticks it keeps
// only its timer, the adapter handle and the adapter health tracking
// (health, lastStatus).
type Poller struct {
	adapter      adapter.Adapter
	bus          *bus.Bus
	interval     time.Duration
	captureLines int
	healthThresh int
	health       *sourceHealth
	lastStatus   HealthStatus
}

func New(a adapter.Adapter, b *bus.Bus, interval time.Duration, captureLines, healthThreshold int) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if captureLines <= 0 {
		captureLines = 150
	}
	if healthThreshold <= 0 {
		healthThreshold = 3
	}
	return &Poller{
		adapter:      a,
		bus:          b,
		interval:     interval,
		captureLines: captureLines,
		healthThresh: healthThreshold,
		health:       newSourceHealth(),
		lastStatus:   StatusHealthy,
	}
}

// Run ticks every p.interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Health reports the current adapter health status.
func (p *Poller) Health() (HealthStatus, string) {
	return p.health.Status(p.healthThresh), p.health.LastError()
}

func (p *Poller) tick(ctx context.Context) {
	listCtx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	terminals, groups, err := p.adapter.ListTerminals(listCtx)
	cancel()

	if err != nil {
		// spec.md §4.5: "Errors from the adapter are logged and produce an
		// empty snapshot" — never alter session state on a transient failure.
		log.Printf("[poller] list terminals failed: %v", err)
		p.health.recordDiscoverFailure(err)
		p.bus.Publish(bus.Event{Topic: bus.TopicSnapshot, Payload: Snapshot{}})
		p.publishHealthOnChange()
		return
	}
	p.health.recordDiscoverSuccess()

	for i := range terminals {
		// An adapter that already knows its own process kind (e.g. a
		// synthetic adapter standing in for a real multiplexer) is trusted
		// as-is; TmuxAdapter always reports ProcessEmpty here, so this is a
		// no-op for the real host binding and every terminal still goes
		// through PID classification.
		if terminals[i].Process == adapter.ProcessEmpty {
			terminals[i].Process = classifyPID(int32(terminals[i].PID))
		}
		if terminals[i].WorkingDir == "" {
			terminals[i].WorkingDir = workingDirOf(int32(terminals[i].PID))
		}
	}

	p.bus.Publish(bus.Event{
		Topic:   bus.TopicSnapshot,
		Payload: Snapshot{Groups: groups, Terminals: terminals},
		High:    true,
	})

	for _, term := range terminals {
		if term.Process != adapter.ProcessAssistant {
			continue
		}
		p.captureAndPublish(ctx, term.ID)
	}

	p.publishHealthOnChange()
}

// publishHealthOnChange emits a source:health event only when the adapter's
// health status actually changes, so a steady-healthy or steady-failed
// adapter doesn't spam the bus every tick.
func (p *Poller) publishHealthOnChange() {
	status, lastErr := p.Health()
	if status == p.lastStatus {
		return
	}
	p.lastStatus = status
	p.bus.Publish(bus.Event{
		Topic:   bus.TopicSourceHealth,
		Payload: HealthEvent{Status: status, LastError: lastErr},
		High:    true,
	})
}

func (p *Poller) captureAndPublish(ctx context.Context, terminalID string) {
	capCtx, cancel := context.WithTimeout(ctx, captureTimeout)
	content, err := p.adapter.Capture(capCtx, terminalID, p.captureLines)
	cancel()

	if err != nil {
		log.Printf("[poller] capture %s failed: %v", terminalID, err)
		p.health.recordCaptureFailure(err)
		return
	}
	p.health.recordCaptureSuccess()

	p.bus.Publish(bus.Event{
		Topic: bus.TopicCaptured,
		Payload: Captured{
			TerminalID: terminalID,
			Content:    content,
			CapturedAt: time.Now(),
		},
	})
}
