package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agent-racer/observer/internal/adapter"
	"github.com/agent-racer/observer/internal/session"
	"github.com/agent-racer/observer/internal/statemachine"
)

type fakeAdapter struct {
	mu sync.Mutex

	sentText    string
	sentKey     string
	closedPanes []string
	focused     string

	createPaneErr error
	panesCreated  int
}

func (f *fakeAdapter) ListTerminals(ctx context.Context) ([]adapter.Terminal, []adapter.Group, error) {
	return nil, nil, nil
}

func (f *fakeAdapter) Capture(ctx context.Context, terminalID string, lines int) (string, error) {
	return "", nil
}

func (f *fakeAdapter) SendText(ctx context.Context, terminalID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentText = text
	return nil
}

func (f *fakeAdapter) SendKey(ctx context.Context, terminalID, keyName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentKey = keyName
	return nil
}

func (f *fakeAdapter) CreatePane(ctx context.Context, groupID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createPaneErr != nil {
		return "", f.createPaneErr
	}
	f.panesCreated++
	return groupID + ":pane", nil
}

func (f *fakeAdapter) CreateGroup(ctx context.Context, sessionName, name string) (string, error) {
	return sessionName + ":0", nil
}

func (f *fakeAdapter) ClosePane(ctx context.Context, terminalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedPanes = append(f.closedPanes, terminalID)
	return nil
}

func (f *fakeAdapter) CloseGroup(ctx context.Context, groupID string) error { return nil }

func (f *fakeAdapter) RenameGroup(ctx context.Context, groupID, name string) error { return nil }

func (f *fakeAdapter) Focus(ctx context.Context, terminalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.focused = terminalID
	return nil
}

func TestSendTextSubmitSendsEnter(t *testing.T) {
	fa := &fakeAdapter{}
	s := NewSurface(fa, session.NewStore(), 4)

	if err := s.SendText(context.Background(), "t1", "hello", SendFlags{Submit: true}); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.sentText != "hello" {
		t.Errorf("sentText = %q, want %q", fa.sentText, "hello")
	}
	if fa.sentKey != "Enter" {
		t.Errorf("sentKey = %q, want Enter", fa.sentKey)
	}
}

func TestSendTextPermissionResponseSkipsEnter(t *testing.T) {
	fa := &fakeAdapter{}
	s := NewSurface(fa, session.NewStore(), 4)

	if err := s.SendText(context.Background(), "t1", "y", SendFlags{Submit: true, PermissionResponse: true}); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.sentKey != "" {
		t.Errorf("sentKey = %q, want no key sent for a permission response", fa.sentKey)
	}
}

func TestSendSignalMapsToKeySequence(t *testing.T) {
	tests := []struct {
		signal  string
		wantKey string
	}{
		{"interrupt", "C-c"},
		{"terminate", "C-c"},
		{"eof", "C-d"},
		{"suspend", "C-z"},
		{"quit", "C-\\"},
	}
	for _, tc := range tests {
		t.Run(tc.signal, func(t *testing.T) {
			fa := &fakeAdapter{}
			s := NewSurface(fa, session.NewStore(), 4)
			if err := s.SendSignal(context.Background(), "t1", tc.signal); err != nil {
				t.Fatalf("SendSignal: %v", err)
			}
			fa.mu.Lock()
			defer fa.mu.Unlock()
			if fa.sentKey != tc.wantKey {
				t.Errorf("sentKey = %q, want %q", fa.sentKey, tc.wantKey)
			}
		})
	}
}

func TestSendSignalUnknownSignal(t *testing.T) {
	fa := &fakeAdapter{}
	s := NewSurface(fa, session.NewStore(), 4)
	if err := s.SendSignal(context.Background(), "t1", "nonsense"); err == nil {
		t.Error("expected an error for an unknown signal name")
	}
}

func TestDismissWaitingRequiresWaitingStatus(t *testing.T) {
	store := session.NewStore()
	store.Create("p1", "t1", statemachine.Idle, time.Now())
	fa := &fakeAdapter{}
	s := NewSurface(fa, store, 4)

	if err := s.DismissWaiting("t1"); err == nil {
		t.Error("expected an error dismissing a non-waiting session")
	}
}

func TestDismissWaitingClearsWaitingStatus(t *testing.T) {
	store := session.NewStore()
	store.Create("p1", "t1", statemachine.Waiting, time.Now())
	fa := &fakeAdapter{}
	s := NewSurface(fa, store, 4)

	if err := s.DismissWaiting("t1"); err != nil {
		t.Fatalf("DismissWaiting: %v", err)
	}
	st, _ := store.Get("t1")
	if st.Status != statemachine.Idle {
		t.Errorf("status = %s, want idle", st.Status)
	}
}

func TestDismissWaitingUnknownTerminal(t *testing.T) {
	fa := &fakeAdapter{}
	s := NewSurface(fa, session.NewStore(), 4)
	if err := s.DismissWaiting("nope"); err == nil {
		t.Error("expected an error for an unknown terminal")
	}
}

func TestCreatePaneEnforcesPerGroupCap(t *testing.T) {
	fa := &fakeAdapter{}
	s := NewSurface(fa, session.NewStore(), 2)

	for i := 0; i < 2; i++ {
		if _, err := s.CreatePane(context.Background(), "g1"); err != nil {
			t.Fatalf("CreatePane %d: %v", i, err)
		}
	}

	if _, err := s.CreatePane(context.Background(), "g1"); err == nil {
		t.Error("expected the third pane in the group to be rejected by the cap")
	}
}

func TestCreatePaneRollsBackInflightOnAdapterError(t *testing.T) {
	fa := &fakeAdapter{createPaneErr: errors.New("tmux: boom")}
	s := NewSurface(fa, session.NewStore(), 1)

	if _, err := s.CreatePane(context.Background(), "g1"); err == nil {
		t.Fatal("expected the adapter error to surface")
	}

	// The failed attempt must not have consumed the per-group cap: a retry
	// against the same group should still be allowed.
	fa.createPaneErr = nil
	if _, err := s.CreatePane(context.Background(), "g1"); err != nil {
		t.Fatalf("CreatePane retry after rollback: %v", err)
	}
}

func TestCloseGroupClearsInflightCount(t *testing.T) {
	fa := &fakeAdapter{}
	s := NewSurface(fa, session.NewStore(), 1)

	if _, err := s.CreatePane(context.Background(), "g1"); err != nil {
		t.Fatalf("CreatePane: %v", err)
	}
	if err := s.CloseGroup(context.Background(), "g1"); err != nil {
		t.Fatalf("CloseGroup: %v", err)
	}

	// The cap was reset by CloseGroup, so a fresh pane in the same group id
	// should be allowed again.
	if _, err := s.CreatePane(context.Background(), "g1"); err != nil {
		t.Fatalf("CreatePane after CloseGroup: %v", err)
	}
}

func TestFocusDelegatesToAdapter(t *testing.T) {
	fa := &fakeAdapter{}
	s := NewSurface(fa, session.NewStore(), 4)

	if err := s.Focus(context.Background(), "t1"); err != nil {
		t.Fatalf("Focus: %v", err)
	}
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.focused != "t1" {
		t.Errorf("focused = %q, want t1", fa.focused)
	}
}

func TestHookIngestToEvent(t *testing.T) {
	var ingest HookIngest
	ev := ingest.ToEvent("e1", "t1", "tool_call", "bash", `{"cmd":"ls"}`, "s1")

	if ev.EventID != "e1" || ev.TerminalID != "t1" || ev.SessionID != "s1" {
		t.Fatalf("unexpected event identity: %+v", ev)
	}
	if string(ev.Kind) != "tool_call" || ev.Tool != "bash" {
		t.Fatalf("unexpected event kind/tool: %+v", ev)
	}
}

func TestIsPasswordPrompt(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{"Password:", true},
		{"sudo password for alice:", true},
		{"Enter passphrase for key '/home/alice/.ssh/id_ed25519':", true},
		{"$ ls -la", false},
		{"Please enter your name:", false},
	}
	for _, tc := range tests {
		if got := IsPasswordPrompt(tc.content); got != tc.want {
			t.Errorf("IsPasswordPrompt(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}
