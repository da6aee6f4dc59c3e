package session

import (
	"testing"
	"time"

	"github.com/agent-racer/observer/internal/statemachine"
)

func TestCreateIsIdempotent(t *testing.T) {
	s := NewStore()
	now := time.Now()
	a := s.Create("sess-1", "term-1", statemachine.Idle, now)
	b := s.Create("sess-2", "term-1", statemachine.Working, now.Add(time.Second))

	if a.ID != b.ID {
		t.Fatalf("Create on an existing terminal id should return the existing session, got %q then %q", a.ID, b.ID)
	}
	if s.Count() != 1 {
		t.Fatalf("count = %d, want 1", s.Count())
	}
}

func TestSetStatusPreservesInvariant(t *testing.T) {
	s := NewStore()
	base := time.Now()
	s.Create("sess-1", "term-1", statemachine.Idle, base)

	changedAt := base.Add(5 * time.Second)
	st, ok := s.SetStatus("term-1", statemachine.Working, SourceReconciler, changedAt)
	if !ok {
		t.Fatal("SetStatus on an existing session should succeed")
	}
	if st.StatusChangedAt.After(st.LastActivityAt) {
		t.Fatalf("invariant violated: status_changed_at %v > last_activity_at %v", st.StatusChangedAt, st.LastActivityAt)
	}
}

func TestMarkMissingRemovalEligibility(t *testing.T) {
	s := NewStore()
	base := time.Now()
	s.Create("sess-1", "term-1", statemachine.Idle, base)

	// First absence: not yet eligible even well past the grace period.
	if s.MarkMissing("term-1", base.Add(time.Hour), 5*time.Minute) {
		t.Fatal("should not be eligible after only one missing snapshot")
	}
	// Second consecutive absence, past idle grace: eligible.
	if !s.MarkMissing("term-1", base.Add(time.Hour+time.Second), 5*time.Minute) {
		t.Fatal("should be eligible after two consecutive missing snapshots past idle grace")
	}
}

func TestMarkPresentResetsMissingCounter(t *testing.T) {
	s := NewStore()
	base := time.Now()
	s.Create("sess-1", "term-1", statemachine.Idle, base)

	s.MarkMissing("term-1", base.Add(time.Hour), 5*time.Minute)
	s.MarkPresent("term-1")
	if s.MarkMissing("term-1", base.Add(2*time.Hour), 5*time.Minute) {
		t.Fatal("missing counter should have reset after MarkPresent")
	}
}

func TestErrorLifecycle(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.Create("sess-1", "term-1", statemachine.Idle, now)

	s.SetError("term-1", LastError{Tool: "Bash", Message: "exit 1", Timestamp: now})
	st, _ := s.Get("term-1")
	if st.LastError == nil || st.LastError.Tool != "Bash" {
		t.Fatalf("expected last error set, got %+v", st.LastError)
	}

	s.ClearError("term-1")
	st, _ = s.Get("term-1")
	if st.LastError != nil {
		t.Fatalf("expected last error cleared, got %+v", st.LastError)
	}
}

func TestGetReturnsIndependentCopy(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.Create("sess-1", "term-1", statemachine.Idle, now)

	st, _ := s.Get("term-1")
	st.Status = statemachine.Error

	fresh, _ := s.Get("term-1")
	if fresh.Status == statemachine.Error {
		t.Fatal("mutating a Get() result must not affect the stored session")
	}
}
