// Package mock provides a synthetic Adapter standing in for a real
// multiplexer, for demos and local development without tmux or a running
// assistant. It plugs into the real pipeline (poller -> bus -> reconciler
// -> broadcaster) exactly like adapter.TmuxAdapter, so nothing downstream
// knows it isn't talking to a live terminal.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/agent-racer/observer/internal/adapter"
)

// fakeTerminal is one synthetic pane stepping through a scripted sequence of
// terminal contents, each standing in for a pattern.Class the parser is
// expected to recognize (spec.md's v1 pattern table).
type fakeTerminal struct {
	id, groupID, workingDir string
	script                  []string
	idx                     int
}

// FakeAdapter implements adapter.Adapter with a small fixed roster of
// terminals whose captured content advances one script step per Capture
// call through a realistic working/waiting/error/idle sequence; once the
// last step is reached, every later Capture returns that last step.
type FakeAdapter struct {
	mu        sync.Mutex
	terminals []*fakeTerminal
	groups    []adapter.Group
	nextID    int
}

// NewFakeAdapter seeds two synthetic assistant panes and one plain shell
// pane, enough to exercise multi-session broadcast without per-call config.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		groups: []adapter.Group{
			{ID: "demo:0", Name: "demo"},
		},
		terminals: []*fakeTerminal{
			{
				id:         "demo:0.0",
				groupID:    "demo:0",
				workingDir: "/home/demo/project-a",
				script: []string{
					"$ claude\n> implement the retry logic\n",
					"⠋ thinking… esc to interrupt\n",
					"Running Bash(go test ./...)\nexecuting go test\n",
					"do you want to proceed?\n[y/n]: ",
					"> ",
				},
			},
			{
				id:         "demo:0.1",
				groupID:    "demo:0",
				workingDir: "/home/demo/project-b",
				script: []string{
					"$ codex\n> refactor the parser\n",
					"generating patch…\n",
					"panic: runtime error: index out of range\n",
					"> ",
				},
			},
		},
	}
}

func (f *FakeAdapter) ListTerminals(ctx context.Context) ([]adapter.Terminal, []adapter.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]adapter.Terminal, 0, len(f.terminals)+1)
	for i, t := range f.terminals {
		out = append(out, adapter.Terminal{
			ID:         t.id,
			GroupID:    t.groupID,
			Index:      i,
			Active:     i == 0,
			Width:      120,
			Height:     40,
			Process:    adapter.ProcessAssistant,
			WorkingDir: t.workingDir,
			PID:        0,
		})
	}
	out = append(out, adapter.Terminal{
		ID:      "demo:0.2",
		GroupID: "demo:0",
		Index:   len(f.terminals),
		Process: adapter.ProcessShell,
	})
	groups := make([]adapter.Group, len(f.groups))
	copy(groups, f.groups)
	return out, groups, nil
}

func (f *FakeAdapter) Capture(ctx context.Context, terminalID string, lines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.find(terminalID)
	if t == nil {
		return "", fmt.Errorf("mock: unknown terminal %q", terminalID)
	}
	content := t.script[t.idx]
	if t.idx < len(t.script)-1 {
		t.idx++
	}
	return content, nil
}

func (f *FakeAdapter) SendText(ctx context.Context, terminalID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.find(terminalID) == nil {
		return fmt.Errorf("mock: unknown terminal %q", terminalID)
	}
	return nil
}

func (f *FakeAdapter) SendKey(ctx context.Context, terminalID, keyName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.find(terminalID) == nil {
		return fmt.Errorf("mock: unknown terminal %q", terminalID)
	}
	return nil
}

// Focus is a no-op in mock mode: there's no real multiplexer to switch to.
func (f *FakeAdapter) Focus(ctx context.Context, terminalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.find(terminalID) == nil {
		return fmt.Errorf("mock: unknown terminal %q", terminalID)
	}
	return nil
}

func (f *FakeAdapter) CreatePane(ctx context.Context, groupID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var found bool
	for _, g := range f.groups {
		if g.ID == groupID {
			found = true
			break
		}
	}
	if !found {
		return "", fmt.Errorf("mock: unknown group %q", groupID)
	}

	f.nextID++
	id := fmt.Sprintf("%s.%d", groupID, 100+f.nextID)
	f.terminals = append(f.terminals, &fakeTerminal{
		id:         id,
		groupID:    groupID,
		workingDir: "/home/demo/project-a",
		script:     []string{"> "},
	})
	return id, nil
}

func (f *FakeAdapter) CreateGroup(ctx context.Context, sessionName, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := fmt.Sprintf("%s:%d", sessionName, f.nextID)
	f.groups = append(f.groups, adapter.Group{ID: id, Name: name})
	return id, nil
}

func (f *FakeAdapter) ClosePane(ctx context.Context, terminalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, t := range f.terminals {
		if t.id == terminalID {
			f.terminals = append(f.terminals[:i], f.terminals[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("mock: unknown terminal %q", terminalID)
}

func (f *FakeAdapter) CloseGroup(ctx context.Context, groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, g := range f.groups {
		if g.ID == groupID {
			f.groups = append(f.groups[:i], f.groups[i+1:]...)
			kept := f.terminals[:0]
			for _, t := range f.terminals {
				if t.groupID != groupID {
					kept = append(kept, t)
				}
			}
			f.terminals = kept
			return nil
		}
	}
	return fmt.Errorf("mock: unknown group %q", groupID)
}

func (f *FakeAdapter) RenameGroup(ctx context.Context, groupID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, g := range f.groups {
		if g.ID == groupID {
			f.groups[i].Name = name
			return nil
		}
	}
	return fmt.Errorf("mock: unknown group %q", groupID)
}

func (f *FakeAdapter) find(terminalID string) *fakeTerminal {
	for _, t := range f.terminals {
		if t.id == terminalID {
			return t
		}
	}
	return nil
}

var _ adapter.Adapter = (*FakeAdapter)(nil)
