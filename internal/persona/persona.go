// Package persona manages the stable identity referenced (but not owned) by
// sessions: a persona is seeded deterministically from an incoming session
// identifier, at most one per identifier (spec.md §3). The full
// achievement/XP bookkeeping that once consumed this identity is an
// explicit Non-goal; what remains is the DI seam spec.md's Design Notes §9
// calls out so a future gamification collaborator can be wired in without
// an import cycle.
package persona

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Persona is a stable, opaque identity derived from a session identifier.
type Persona struct {
	ID              string
	SourceSessionID string
}

// AwardXPFunc is the callback seam described in spec.md's Design Notes:
// a gamification collaborator is wired in after both modules are
// constructed, breaking the persona <-> challenge cyclic dependency.
type AwardXPFunc func(personaID string, amount int)

// Registry seeds and looks up personas by session identifier.
type Registry struct {
	mu       sync.Mutex
	byOrigin map[string]*Persona

	awardXP AwardXPFunc
}

func NewRegistry() *Registry {
	return &Registry{byOrigin: make(map[string]*Persona)}
}

// SetAwardXP installs the XP-awarding callback. Must be called after both
// the registry and its collaborator are constructed; nil is a valid no-op.
func (r *Registry) SetAwardXP(f AwardXPFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.awardXP = f
}

// GetOrCreate returns the persona for sessionID, seeding a new one
// deterministically on first sight. The same sessionID always yields the
// same persona ID, even across process restarts.
func (r *Registry) GetOrCreate(sessionID string) *Persona {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byOrigin[sessionID]; ok {
		return p
	}
	p := &Persona{ID: deriveID(sessionID), SourceSessionID: sessionID}
	r.byOrigin[sessionID] = p
	return p
}

// AwardXP forwards to the installed callback, a no-op if none is set (the
// default for this build, which carries the seam but not the bookkeeping
// behind it).
func (r *Registry) AwardXP(personaID string, amount int) {
	r.mu.Lock()
	cb := r.awardXP
	r.mu.Unlock()
	if cb != nil {
		cb(personaID, amount)
	}
}

// deriveID seeds a stable persona id from a session identifier.
func deriveID(sessionID string) string {
	sum := sha256.Sum256([]byte("persona:" + sessionID))
	return hex.EncodeToString(sum[:])[:16]
}
