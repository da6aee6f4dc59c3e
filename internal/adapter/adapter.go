// Package adapter is the only module that knows the host terminal
// multiplexer (spec.md §6.3). Every other component talks to an Adapter
// interface, never to tmux directly.
package adapter

import "context"

// ProcessKind tags the process occupying a Terminal.
type ProcessKind string

const (
	ProcessAssistant     ProcessKind = "assistant"
	ProcessShell         ProcessKind = "shell"
	ProcessGeneric       ProcessKind = "generic-process"
	ProcessEmpty         ProcessKind = "empty"
)

// Terminal is the external identity of a single pane, produced fresh by
// every List call — the adapter owns nothing across calls.
type Terminal struct {
	ID         string
	GroupID    string
	Index      int
	Active     bool
	Width      int
	Height     int
	Process    ProcessKind
	WorkingDir string
	PID        int
}

// Group is the multiplexer's "window": a named container of terminals.
type Group struct {
	ID   string
	Name string
}

// Adapter is the host-specific multiplexer binding (spec.md §6.3). All
// methods are expected to honor ctx cancellation/timeouts; the poller and
// command surface apply the per-call timeouts from spec.md §5.
type Adapter interface {
	ListTerminals(ctx context.Context) ([]Terminal, []Group, error)
	Capture(ctx context.Context, terminalID string, lines int) (string, error)
	SendText(ctx context.Context, terminalID, text string) error
	SendKey(ctx context.Context, terminalID, keyName string) error
	CreatePane(ctx context.Context, groupID string) (string, error)
	CreateGroup(ctx context.Context, sessionName, name string) (string, error)
	ClosePane(ctx context.Context, terminalID string) error
	CloseGroup(ctx context.Context, groupID string) error
	RenameGroup(ctx context.Context, groupID, name string) error
	Focus(ctx context.Context, terminalID string) error
}
