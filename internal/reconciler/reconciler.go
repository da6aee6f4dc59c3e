// Package reconciler is the central brain (C7): it consumes multiplexer
// snapshots, assistant hooks, and parsed terminal verdicts, enforces the
// status state machine and the hook-precedence/min-hold/coalescing rules,
// and is the only writer of session status (spec.md §4.7).
package reconciler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/agent-racer/observer/internal/adapter"
	"github.com/agent-racer/observer/internal/bus"
	"github.com/agent-racer/observer/internal/parser"
	"github.com/agent-racer/observer/internal/persona"
	"github.com/agent-racer/observer/internal/poller"
	"github.com/agent-racer/observer/internal/project"
	"github.com/agent-racer/observer/internal/session"
	"github.com/agent-racer/observer/internal/statemachine"
)

// HookKind enumerates the assistant lifecycle callbacks spec.md §4.6 names.
type HookKind string

const (
	HookPreToolUse    HookKind = "pre_tool_use"
	HookPostToolUse   HookKind = "post_tool_use"
	HookStop          HookKind = "stop"
	HookUserPrompt    HookKind = "user_prompt"
	HookSubagentStart HookKind = "subagent_start"
	HookSubagentStop  HookKind = "subagent_stop"
	HookError         HookKind = "error"
)

// hookImpliedStatus maps each hook kind to the status it asserts. This is an
// Open Question spec.md leaves to implementers (§9 calls out only the
// precedence/priority rules, not a concrete per-kind mapping); see
// DESIGN.md for the reasoning behind each entry.
var hookImpliedStatus = map[HookKind]statemachine.Status{
	HookPreToolUse:    statemachine.Working,
	HookPostToolUse:   statemachine.Working,
	HookStop:          statemachine.Idle,
	HookUserPrompt:    statemachine.Working,
	HookSubagentStart: statemachine.Working,
	HookSubagentStop:  statemachine.Working,
	HookError:         statemachine.Error,
}

// HookEvent is the payload of an assistant:hook bus event.
type HookEvent struct {
	EventID    string
	TerminalID string
	SessionID  string // assistant-reported session identifier, seeds the persona when this hook creates the session
	Kind       HookKind
	Tool       string
	Payload    string
}

// StatusChanged is the payload of a session:status_changed bus event.
type StatusChanged struct {
	TerminalID string
	PersonaID  string
	OldStatus  statemachine.Status
	NewStatus  statemachine.Status
}

const (
	acceptThreshold = 0.7
)

// Config holds the tunable timings from spec.md §6.6.
type Config struct {
	HookPrecedence time.Duration
	MinHold        time.Duration
	Coalesce       time.Duration
	IdleGrace      time.Duration
}

func DefaultConfig() Config {
	return Config{
		HookPrecedence: 2000 * time.Millisecond,
		MinHold:        1000 * time.Millisecond,
		Coalesce:       50 * time.Millisecond,
		IdleGrace:      5 * time.Minute,
	}
}

// Reconciler is the sole writer of session.Store status.
type Reconciler struct {
	bus      *bus.Bus
	store    *session.Store
	parser   *parser.Parser
	personas *persona.Registry
	projects *project.Registry
	cfg      Config

	pendingMu sync.Mutex
	pending   map[string]*pendingCoalesce
}

type pendingCoalesce struct {
	timer  *time.Timer
	old    statemachine.Status
	latest statemachine.Status
}

func New(b *bus.Bus, store *session.Store, p *parser.Parser, personas *persona.Registry, projects *project.Registry, cfg Config) *Reconciler {
	return &Reconciler{
		bus:      b,
		store:    store,
		parser:   p,
		personas: personas,
		projects: projects,
		cfg:      cfg,
		pending:  make(map[string]*pendingCoalesce),
	}
}

// Start subscribes to the bus topics this component consumes. Handlers run
// on the bus's per-topic dispatcher goroutine, never concurrently with each
// other for the same topic, but snapshot/hook/captured dispatchers can run
// concurrently with one another — session.Store's own locking keeps that safe.
func (r *Reconciler) Start(ctx context.Context) {
	r.bus.Subscribe(ctx, bus.TopicSnapshot, func(ev bus.Event) {
		snap, ok := ev.Payload.(poller.Snapshot)
		if !ok {
			return
		}
		r.handleSnapshot(snap)
	})
	r.bus.Subscribe(ctx, bus.TopicHook, func(ev bus.Event) {
		hev, ok := ev.Payload.(HookEvent)
		if !ok {
			return
		}
		r.handleHook(hev)
	})
	r.bus.Subscribe(ctx, bus.TopicCaptured, func(ev bus.Event) {
		captured, ok := ev.Payload.(poller.Captured)
		if !ok {
			return
		}
		r.handleCaptured(captured)
	})
}

// handleSnapshot implements rule 1 (existence).
func (r *Reconciler) handleSnapshot(snap poller.Snapshot) {
	now := time.Now()
	present := make(map[string]bool, len(snap.Terminals))

	for _, term := range snap.Terminals {
		if term.Process != adapter.ProcessAssistant {
			continue
		}
		present[term.ID] = true

		if _, ok := r.store.Get(term.ID); !ok {
			sess := r.personas.GetOrCreate(term.ID)
			r.store.Create(sess.ID, term.ID, statemachine.Idle, now)
			if proj, ok := r.projects.Resolve(term.WorkingDir); ok {
				r.store.SetProjectID(term.ID, proj.ID)
			}
			r.emitStatusChanged(term.ID, sess.ID, statemachine.Idle, statemachine.Idle)
		} else {
			r.store.MarkPresent(term.ID)
		}
	}

	for _, st := range r.store.GetAll() {
		if present[st.TerminalID] {
			continue
		}
		if r.store.MarkMissing(st.TerminalID, now, r.cfg.IdleGrace) {
			r.store.Remove(st.TerminalID)
		}
	}
}

// handleHook implements rules 2, 4, 5, 6 for hook-sourced transitions, and
// creates the session when the hook names a terminal not yet known.
func (r *Reconciler) handleHook(ev HookEvent) {
	now := time.Now()
	st, ok := r.store.Get(ev.TerminalID)
	if !ok {
		seed := ev.SessionID
		if seed == "" {
			seed = ev.TerminalID
		}
		p := r.personas.GetOrCreate(seed)
		st = r.store.Create(p.ID, ev.TerminalID, statemachine.Idle, now)
		r.emitStatusChanged(ev.TerminalID, p.ID, statemachine.Idle, statemachine.Idle)
	}

	r.store.SetHookUpdate(ev.TerminalID, now)

	// Rule 4: post_tool_use and stop always clear a prior failure; error is
	// the only kind that sets one.
	switch ev.Kind {
	case HookError:
		r.store.SetError(ev.TerminalID, session.LastError{Tool: ev.Tool, Message: ev.Payload, Timestamp: now})
		r.bus.Publish(bus.Event{Topic: bus.TopicErrorSet, Payload: ev, High: true})
	case HookPostToolUse, HookStop:
		r.store.ClearError(ev.TerminalID)
		r.bus.Publish(bus.Event{Topic: bus.TopicErrorCleared, Payload: ev})
	}

	newStatus, ok := hookImpliedStatus[ev.Kind]
	if !ok {
		return
	}
	if !statemachine.CanTransition(st.Status, newStatus) {
		log.Printf("[reconciler] hook %s: illegal transition %s -> %s on %s, rejected", ev.Kind, st.Status, newStatus, ev.TerminalID)
		return
	}
	if newStatus == st.Status {
		return
	}

	updated, ok := r.store.SetStatus(ev.TerminalID, newStatus, session.SourceHook, now)
	if !ok {
		return
	}
	r.emit(ev.TerminalID, updated.PersonaID, st.Status, newStatus)
}

// handleCaptured implements rules 2 and 3 for terminal-sourced transitions.
func (r *Reconciler) handleCaptured(captured poller.Captured) {
	st, ok := r.store.Get(captured.TerminalID)
	if !ok {
		return
	}

	verdict := r.parser.Parse(captured.Content)
	r.store.SetTerminalContent(captured.TerminalID, captured.Content, verdict.Confidence)

	if verdict.Status == parser.StatusUnknown {
		return
	}

	now := time.Now()
	if st.LastHookUpdateAt != nil && now.Sub(*st.LastHookUpdateAt) <= r.cfg.HookPrecedence {
		// Rule 2: inside the hook precedence window, terminal verdicts may
		// update content (already done above) but never status.
		return
	}

	newStatus := statemachine.Status(verdict.Status)
	if !r.acceptTerminalVerdict(st, newStatus, verdict.Confidence, now) {
		return
	}

	updated, ok := r.store.SetStatus(captured.TerminalID, newStatus, session.SourceTerminal, now)
	if !ok {
		return
	}
	r.emit(captured.TerminalID, updated.PersonaID, st.Status, newStatus)
}

// acceptTerminalVerdict implements rule 3(a)-(c).
func (r *Reconciler) acceptTerminalVerdict(st *session.State, newStatus statemachine.Status, confidence float64, now time.Time) bool {
	if newStatus == st.Status {
		return false
	}
	if !statemachine.CanTransition(st.Status, newStatus) {
		return false
	}
	if confidence < acceptThreshold {
		return false
	}
	if statemachine.HigherPriority(newStatus, st.Status) {
		return true
	}
	return now.Sub(st.StatusChangedAt) >= r.cfg.MinHold
}

// emit applies the coalescing window (rule 5): waiting/error transitions are
// always emitted immediately; everything else may be coalesced within
// r.cfg.Coalesce and collapsed to a single final emission.
func (r *Reconciler) emit(terminalID, personaID string, old, newStatus statemachine.Status) {
	if newStatus == statemachine.Waiting || newStatus == statemachine.Error {
		r.flushPending(terminalID)
		r.emitStatusChanged(terminalID, personaID, old, newStatus)
		return
	}

	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	pc, exists := r.pending[terminalID]
	if !exists {
		pc = &pendingCoalesce{old: old}
		r.pending[terminalID] = pc
	}
	pc.latest = newStatus
	if pc.timer != nil {
		pc.timer.Stop()
	}
	pc.timer = time.AfterFunc(r.cfg.Coalesce, func() {
		r.pendingMu.Lock()
		cur, ok := r.pending[terminalID]
		if ok {
			delete(r.pending, terminalID)
		}
		r.pendingMu.Unlock()
		if ok && cur.latest != cur.old {
			r.emitStatusChanged(terminalID, personaID, cur.old, cur.latest)
		}
	})
}

// flushPending discards any in-flight coalesced transition for a terminal
// and stops its timer, called before an uncoalescable waiting/error
// emission so the pending timer cannot fire after it. The discarded
// transition is not emitted; the waiting/error emission carries the final
// status.
func (r *Reconciler) flushPending(terminalID string) {
	r.pendingMu.Lock()
	pc, ok := r.pending[terminalID]
	if ok {
		delete(r.pending, terminalID)
		if pc.timer != nil {
			pc.timer.Stop()
		}
	}
	r.pendingMu.Unlock()
}

func (r *Reconciler) emitStatusChanged(terminalID, personaID string, old, newStatus statemachine.Status) {
	r.bus.Publish(bus.Event{
		Topic: bus.TopicStatusChanged,
		Payload: StatusChanged{
			TerminalID: terminalID,
			PersonaID:  personaID,
			OldStatus:  old,
			NewStatus:  newStatus,
		},
		High: true,
	})
}
