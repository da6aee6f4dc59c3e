package statemachine

import "testing"

func TestCanTransitionSelfIsAlwaysLegal(t *testing.T) {
	for _, s := range []Status{Idle, Typing, Working, Waiting, Error} {
		if !CanTransition(s, s) {
			t.Errorf("CanTransition(%s, %s) = false, want true", s, s)
		}
	}
}

func TestCanTransitionLegalMoves(t *testing.T) {
	tests := []struct{ from, to Status }{
		{Idle, Typing},
		{Idle, Working},
		{Typing, Working},
		{Working, Waiting},
		{Waiting, Idle},
		{Error, Idle},
	}
	for _, tc := range tests {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tc.from, tc.to)
		}
	}
}

func TestCanTransitionRejectsWorkingToTyping(t *testing.T) {
	// Working may only resolve to idle/waiting/error — typing mid-work
	// isn't a legal status, only a terminal update.
	if CanTransition(Working, Typing) {
		t.Error("CanTransition(Working, Typing) = true, want false")
	}
}

func TestCanTransitionRejectsErrorToTyping(t *testing.T) {
	if CanTransition(Error, Typing) {
		t.Error("CanTransition(Error, Typing) = true, want false")
	}
}

func TestTransitionReturnsTransitionErrorOnIllegalMove(t *testing.T) {
	got, err := Transition(Working, Typing)
	if err == nil {
		t.Fatal("expected an error transitioning Working -> Typing")
	}
	if got != Working {
		t.Errorf("Transition returned %s on failure, want the caller's prior status %s", got, Working)
	}
	var transErr *TransitionError
	if te, ok := err.(*TransitionError); !ok {
		t.Fatalf("error type = %T, want *TransitionError", err)
	} else {
		transErr = te
	}
	if transErr.From != Working || transErr.To != Typing {
		t.Errorf("TransitionError = %+v, want From=Working To=Typing", transErr)
	}
}

func TestTransitionSucceedsOnLegalMove(t *testing.T) {
	got, err := Transition(Idle, Waiting)
	if err != nil {
		t.Fatalf("Transition(Idle, Waiting): %v", err)
	}
	if got != Waiting {
		t.Errorf("Transition returned %s, want Waiting", got)
	}
}

func TestHigherPriorityOrdering(t *testing.T) {
	if !HigherPriority(Error, Waiting) {
		t.Error("expected Error to outrank Waiting")
	}
	if !HigherPriority(Waiting, Working) {
		t.Error("expected Waiting to outrank Working")
	}
	if HigherPriority(Idle, Typing) {
		t.Error("expected Idle not to outrank Typing")
	}
	if HigherPriority(Working, Working) {
		t.Error("a status should never outrank itself")
	}
}
