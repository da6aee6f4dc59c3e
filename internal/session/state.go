// Package session holds the per-terminal session record (C4), the single
// source of truth consulted by every outgoing broadcast message. Status may
// only be changed through the reconciler so that invariants and emission
// stay atomic.
package session

import (
	"time"

	"github.com/agent-racer/observer/internal/statemachine"
)

// Source tags which subsystem produced the current status.
type Source string

const (
	SourceHook       Source = "hook"
	SourceTerminal   Source = "terminal"
	SourceReconciler Source = "reconciler"
)

// LastError is the most recently observed tool failure for a session.
type LastError struct {
	Tool      string    `json:"tool"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// State is a single session record, keyed by terminal id.
type State struct {
	ID                 string              `json:"id"`
	TerminalID         string              `json:"terminalId"`
	PersonaID          string              `json:"personaId,omitempty"`
	ProjectID          string              `json:"projectId,omitempty"`
	Status             statemachine.Status `json:"status"`
	StatusSource       Source              `json:"statusSource"`
	StatusChangedAt    time.Time           `json:"statusChangedAt"`
	LastActivityAt     time.Time           `json:"lastActivityAt"`
	LastHookUpdateAt   *time.Time          `json:"lastHookUpdateAt,omitempty"`
	TerminalContent    string              `json:"terminalContent,omitempty"`
	TerminalConfidence float64             `json:"terminalConfidence,omitempty"`
	LastError          *LastError          `json:"lastError,omitempty"`

	// MissingSnapshots counts consecutive poller snapshots in which this
	// session's terminal was absent; two consecutive absences plus an idle
	// grace period mark the session for removal (spec.md §4.7 rule 1).
	MissingSnapshots int `json:"-"`
}

// Clone returns a deep copy so callers can mutate it without touching the
// registry's copy.
func (s *State) Clone() *State {
	c := *s
	if s.LastHookUpdateAt != nil {
		t := *s.LastHookUpdateAt
		c.LastHookUpdateAt = &t
	}
	if s.LastError != nil {
		e := *s.LastError
		c.LastError = &e
	}
	return &c
}

// NeedsAttention is the authoritative "needs attention" definition from
// spec.md §9 open question (3): waiting/error status, or a live prompt.
func (s *State) NeedsAttention(hasPrompt bool) bool {
	return s.Status == statemachine.Waiting || s.Status == statemachine.Error || hasPrompt
}
