package persona

import "testing"

func TestGetOrCreateIsDeterministicAndStable(t *testing.T) {
	r := NewRegistry()
	a := r.GetOrCreate("session-abc")
	b := r.GetOrCreate("session-abc")
	if a.ID != b.ID {
		t.Fatalf("same session id produced different personas: %q vs %q", a.ID, b.ID)
	}

	r2 := NewRegistry()
	c := r2.GetOrCreate("session-abc")
	if a.ID != c.ID {
		t.Fatalf("persona id is not deterministic across registries: %q vs %q", a.ID, c.ID)
	}
}

func TestGetOrCreateDistinctForDifferentSessions(t *testing.T) {
	r := NewRegistry()
	a := r.GetOrCreate("session-1")
	b := r.GetOrCreate("session-2")
	if a.ID == b.ID {
		t.Fatal("different session ids must not collide")
	}
}

func TestAwardXPNoopWithoutCallback(t *testing.T) {
	r := NewRegistry()
	r.AwardXP("whatever", 10) // must not panic
}

func TestAwardXPInvokesCallback(t *testing.T) {
	r := NewRegistry()
	var gotID string
	var gotAmount int
	r.SetAwardXP(func(id string, amount int) {
		gotID = id
		gotAmount = amount
	})
	r.AwardXP("p1", 25)
	if gotID != "p1" || gotAmount != 25 {
		t.Fatalf("callback got (%q, %d), want (p1, 25)", gotID, gotAmount)
	}
}
