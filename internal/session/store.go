package session

import (
	"sync"
	"time"

	"github.com/agent-racer/observer/internal/statemachine"
)

// Store is the in-memory session registry, keyed by terminal id. It is the
// only shared mutable store for session status (spec.md §5); writes are
// serialized by a single mutex and reads return copies so callers never
// observe a record mid-mutation.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*State
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*State)}
}

func (s *Store) Get(terminalID string) (*State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[terminalID]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

func (s *Store) GetAll() []*State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*State, 0, len(s.sessions))
	for _, st := range s.sessions {
		out = append(out, st.Clone())
	}
	return out
}

// Create registers a brand-new session for terminalID with the given
// initial status, per spec.md §4.7 rule 1 ("On snapshot, for each assistant
// terminal not yet in C4, create a session with status=idle,
// status_source=reconciler"). id is the persona-derived session identifier
// (persona.Persona.ID); it seeds both State.ID and State.PersonaID since a
// session has exactly one persona for its lifetime. Returns the existing
// session unchanged if one is already present.
func (s *Store) Create(id, terminalID string, status statemachine.Status, now time.Time) *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[terminalID]; ok {
		return existing.Clone()
	}
	st := &State{
		ID:              id,
		TerminalID:      terminalID,
		PersonaID:       id,
		Status:          status,
		StatusSource:    SourceReconciler,
		StatusChangedAt: now,
		LastActivityAt:  now,
	}
	s.sessions[terminalID] = st
	return st.Clone()
}

// SetStatus is the only way a session's status field changes — callers
// outside the reconciler (C7) must not call this directly, preserving
// spec.md §4.4's "status may only be changed via C7" rule. now must be
// >= the session's current LastActivityAt so status_changed_at <=
// last_activity_at always holds; SetStatus bumps LastActivityAt to now if
// needed to preserve that invariant.
func (s *Store) SetStatus(terminalID string, status statemachine.Status, source Source, now time.Time) (*State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[terminalID]
	if !ok {
		return nil, false
	}
	st.Status = status
	st.StatusSource = source
	st.StatusChangedAt = now
	if now.After(st.LastActivityAt) {
		st.LastActivityAt = now
	}
	return st.Clone(), true
}

// Touch bumps last_activity_at without changing status.
func (s *Store) Touch(terminalID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[terminalID]; ok && now.After(st.LastActivityAt) {
		st.LastActivityAt = now
	}
}

// SetProjectID attaches a resolved project to a session once, on creation.
func (s *Store) SetProjectID(terminalID, projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[terminalID]; ok {
		st.ProjectID = projectID
	}
}

// SetHookUpdate records the hook precedence window start.
func (s *Store) SetHookUpdate(terminalID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[terminalID]; ok {
		t := at
		st.LastHookUpdateAt = &t
		if at.After(st.LastActivityAt) {
			st.LastActivityAt = at
		}
	}
}

// SetTerminalContent updates the cached terminal verdict without touching
// status — a terminal verdict may update content during the hook
// precedence window even when it cannot change status (spec.md §4.7 rule 2).
func (s *Store) SetTerminalContent(terminalID, content string, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[terminalID]; ok {
		st.TerminalContent = content
		st.TerminalConfidence = confidence
	}
}

func (s *Store) SetError(terminalID string, err LastError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[terminalID]; ok {
		e := err
		st.LastError = &e
	}
}

func (s *Store) ClearError(terminalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[terminalID]; ok {
		st.LastError = nil
	}
}

// MarkMissing increments the consecutive-absence counter and reports
// whether the session is now eligible for removal: missing for two
// consecutive snapshots and idle for at least idleGrace.
func (s *Store) MarkMissing(terminalID string, now time.Time, idleGrace time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[terminalID]
	if !ok {
		return false
	}
	st.MissingSnapshots++
	return st.MissingSnapshots >= 2 && now.Sub(st.LastActivityAt) >= idleGrace
}

// MarkPresent resets the consecutive-absence counter for a session seen in
// the latest snapshot.
func (s *Store) MarkPresent(terminalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[terminalID]; ok {
		st.MissingSnapshots = 0
	}
}

func (s *Store) Remove(terminalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, terminalID)
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
