// Package ws implements the backpressure-aware broadcast fabric (C8) and the
// external HTTP/WebSocket surface: the hook ingestion endpoint and the
// client command channel (C9), and the outbound message catalogue (spec.md
// §6.1/§6.2).
package ws

import (
	"time"

	"github.com/agent-racer/observer/internal/adapter"
	"github.com/agent-racer/observer/internal/session"
	"github.com/agent-racer/observer/internal/statemachine"
)

// MessageType tags every outbound WebSocket message.
type MessageType string

const (
	MsgConnected      MessageType = "connected"
	MsgWindows        MessageType = "windows"
	MsgPaneUpdate     MessageType = "pane_update"
	MsgPaneRemoved    MessageType = "pane_removed"
	MsgTerminalOutput MessageType = "terminal_output"
	MsgTerminalDiff   MessageType = "terminal_diff"
	MsgError          MessageType = "error"
	MsgPersonas       MessageType = "personas"
	MsgPersonaUpdate  MessageType = "persona_update"
	MsgProjects       MessageType = "projects"
	MsgProjectUpdate  MessageType = "project_update"
	MsgXPGain         MessageType = "xp_gain"
	MsgEvent          MessageType = "event"
	MsgCommandResult  MessageType = "command_result"
	MsgSourceHealth   MessageType = "source_health"
)

// Priority is the delivery class a message carries, per spec.md §4.8.
type Priority int

const (
	Low Priority = iota
	Normal
	High
)

// priorityOf classifies a message type; unknown types default to Normal.
var priorityOf = map[MessageType]Priority{
	MsgConnected:      Normal,
	MsgWindows:        Normal,
	MsgPaneUpdate:     High,
	MsgPaneRemoved:    High,
	MsgTerminalOutput: High,
	MsgTerminalDiff:   High,
	MsgError:          High,
	MsgPersonas:       Normal,
	MsgPersonaUpdate:  Normal,
	MsgProjects:       Normal,
	MsgProjectUpdate:  Normal,
	MsgXPGain:         Normal,
	MsgEvent:          Low,
	MsgCommandResult:  Normal,
	MsgSourceHealth:   High,
}

// Message is the wire envelope: {"type": ..., "payload": ...}.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

func (m Message) priority() Priority {
	if p, ok := priorityOf[m.Type]; ok {
		return p
	}
	return Normal
}

// ConnectedPayload acknowledges a new WebSocket connection.
type ConnectedPayload struct {
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}

// WindowsPayload carries the multiplexer's current group set.
type WindowsPayload struct {
	Groups []adapter.Group `json:"groups"`
}

// SessionInfo is the client-facing projection of a session.State, per
// spec.md §6.1. It carries only id, name, status, terminalPrompt,
// pendingQuestion and lastError; the gamification-derived fields (tier,
// badges, personality, health, stats, activeSubagents, tokens) and avatar
// are not part of the struct and never appear on the wire.
type SessionInfo struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Status          statemachine.Status `json:"status"`
	TerminalPrompt  string              `json:"terminalPrompt,omitempty"`
	PendingQuestion string              `json:"pendingQuestion,omitempty"`
	LastError       *session.LastError  `json:"lastError,omitempty"`
}

// PaneUpdatePayload reports a single pane's latest session projection.
type PaneUpdatePayload struct {
	PaneID  string      `json:"paneId"`
	Session SessionInfo `json:"session"`
}

// PaneRemovedPayload reports that a pane/session no longer exists.
type PaneRemovedPayload struct {
	PaneID string `json:"paneId"`
}

// TerminalOutputPayload carries a raw capture for a pane.
type TerminalOutputPayload struct {
	PaneID  string `json:"paneId"`
	Target  string `json:"target"`
	Content string `json:"content"`
}

// DiffOp is one line-level edit in a terminal_diff payload. The multiplexer
// poller supersedes full terminal emulation (an explicit Non-goal), so diffs
// are a coarse line-replace, not a cursor/escape-state reconstruction.
type DiffOp struct {
	Op   string `json:"op"` // "add" | "remove"
	Line string `json:"line"`
}

// TerminalDiffPayload carries an incremental update for a pane's content.
type TerminalDiffPayload struct {
	PaneID string   `json:"paneId"`
	Target string   `json:"target"`
	Ops    []DiffOp `json:"ops"`
	Seq    uint64   `json:"seq"`
}

// ErrorPayload reports a server-side error condition to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PersonaPayload is the wire projection of a persona.Persona.
type PersonaPayload struct {
	ID string `json:"id"`
}

// ProjectPayload is the wire projection of a project.Project.
type ProjectPayload struct {
	ID   string `json:"id"`
	Root string `json:"root"`
}

// XPGainPayload reports a persona XP award.
type XPGainPayload struct {
	PersonaID string `json:"personaId"`
	Amount    int    `json:"amount"`
}

// SourceHealthPayload reports the adapter's current health status, per
// spec.md's source-health-tracking supplement; emitted only when the
// status actually changes (see poller.HealthEvent).
type SourceHealthPayload struct {
	Status    string `json:"status"`
	LastError string `json:"lastError,omitempty"`
}

// EventPayload is the low-priority bus-activity echo.
type EventPayload struct {
	EventType string    `json:"eventType"`
	PaneID    string    `json:"paneId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandRequest is an inbound client->server command, per spec.md §6.2.
type CommandRequest struct {
	Command    string `json:"command"`
	TerminalID string `json:"terminalId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	Session    string `json:"session,omitempty"`
	Name       string `json:"name,omitempty"`
	Text       string `json:"text,omitempty"`
	Signal     string `json:"signal,omitempty"`
	Flags      struct {
		Submit             *bool `json:"submit,omitempty"`
		PermissionResponse bool  `json:"permissionResponse,omitempty"`
	} `json:"flags,omitempty"`
}

// CommandResponse is the uniform reply shape for every client command —
// commands never throw across the boundary (spec.md §4.9).
type CommandResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HookRequest is the inbound JSON body of POST /hook (spec.md §6.4).
type HookRequest struct {
	EventID    string `json:"event_id"`
	TerminalID string `json:"terminal_id"`
	Kind       string `json:"kind"`
	Tool       string `json:"tool,omitempty"`
	Payload    string `json:"payload,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

// HookResponse mirrors CommandResponse's {ok, error?} shape for the hook endpoint.
type HookResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
