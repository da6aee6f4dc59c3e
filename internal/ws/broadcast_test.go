package ws

import (
	"testing"
	"time"

	"github.com/agent-racer/observer/internal/persona"
	"github.com/agent-racer/observer/internal/project"
	"github.com/agent-racer/observer/internal/session"
	"github.com/agent-racer/observer/internal/statemachine"
)

func newTestBroadcaster(store *session.Store, filter *PrivacyFilter) *Broadcaster {
	b := NewBroadcaster(store, persona.NewRegistry(), project.NewRegistry(), 0, 0, 0)
	if filter != nil {
		b.SetPrivacyFilter(filter)
	}
	return b
}

func TestSessionsNoFilter(t *testing.T) {
	store := session.NewStore()
	now := time.Now()
	store.Create("s1", "t1", statemachine.Idle, now)
	store.Create("s2", "t2", statemachine.Working, now)

	b := newTestBroadcaster(store, nil)
	sessions := b.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestSessionsMaskTerminalIDs(t *testing.T) {
	store := session.NewStore()
	now := time.Now()
	store.Create("persona-1", "t1", statemachine.Idle, now)

	b := newTestBroadcaster(store, &PrivacyFilter{MaskTerminalIDs: true})
	sessions := b.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].ID == "persona-1" {
		t.Error("session ID should have been masked")
	}
	if sessions[0].ID == "" {
		t.Error("masked session ID should not be empty")
	}
}

func TestSessionsCarriesLastError(t *testing.T) {
	store := session.NewStore()
	now := time.Now()
	store.Create("s1", "t1", statemachine.Idle, now)
	store.SetError("t1", session.LastError{Tool: "bash", Message: "boom", Timestamp: now})

	b := newTestBroadcaster(store, nil)
	sessions := b.Sessions()
	if len(sessions) != 1 || sessions[0].LastError == nil {
		t.Fatalf("expected last_error to survive the wire projection, got %+v", sessions)
	}
	if sessions[0].LastError.Tool != "bash" {
		t.Errorf("expected tool=bash, got %q", sessions[0].LastError.Tool)
	}
}

func TestSetPrivacyFilterReplacesInPlace(t *testing.T) {
	store := session.NewStore()
	now := time.Now()
	store.Create("s1", "t1", statemachine.Idle, now)

	b := newTestBroadcaster(store, nil)
	if !b.privacyFilter().IsNoop() {
		t.Fatal("default filter should be a no-op")
	}

	b.SetPrivacyFilter(&PrivacyFilter{MaskTerminalIDs: true})
	sessions := b.Sessions()
	if sessions[0].ID == "s1" {
		t.Error("expected the replaced filter to mask the terminal id")
	}
}

func TestBroadcasterSequenceNumberWrapAround(t *testing.T) {
	b := newTestBroadcaster(session.NewStore(), nil)

	maxUint64 := ^uint64(0)
	b.seq.Store(maxUint64 - 3)

	var seqs []uint64
	for i := 0; i < 5; i++ {
		seqs = append(seqs, b.seq.Add(1))
	}

	expected := []uint64{maxUint64 - 2, maxUint64 - 1, maxUint64, 0, 1}
	for i := range expected {
		if seqs[i] != expected[i] {
			t.Errorf("seq[%d]: expected %d, got %d", i, expected[i], seqs[i])
		}
	}
}

func TestBroadcasterSequenceNumberIncrement(t *testing.T) {
	b := newTestBroadcaster(session.NewStore(), nil)
	if b.seq.Load() != 0 {
		t.Errorf("expected initial seq to be 0, got %d", b.seq.Load())
	}
	for i := 0; i < 5; i++ {
		if got := b.seq.Add(1); got != uint64(i+1) {
			t.Errorf("seq step %d: expected %d, got %d", i, i+1, got)
		}
	}
}
