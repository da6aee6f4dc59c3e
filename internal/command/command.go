// Package command implements the external command surface (C9): the
// client->server command handlers from spec.md §4.9. Every handler returns
// {ok, error?} and never panics across the boundary.
package command

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/agent-racer/observer/internal/adapter"
	"github.com/agent-racer/observer/internal/reconciler"
	"github.com/agent-racer/observer/internal/session"
	"github.com/agent-racer/observer/internal/statemachine"
)

const sendTimeout = 2 * time.Second

// signalKeys maps a signal name to the multiplexer key sequence that
// produces the corresponding control character (spec.md §4.9).
var signalKeys = map[string]string{
	"interrupt": "C-c",
	"terminate": "C-c",
	"eof":       "C-d",
	"suspend":   "C-z",
	"quit":      "C-\\",
}

// passwordPromptPatterns detects masked-entry prompts, deliberately kept
// independent of the parser's pattern registry (spec.md §4.9): the core
// never logs matched text, it only signals the UI to switch input modes.
var passwordPromptPatterns = regexp.MustCompile(`(?i)(?:sudo password for|password:|enter passphrase|enter pin|authentication required)`)

// IsPasswordPrompt reports whether content looks like a masked-entry prompt.
func IsPasswordPrompt(content string) bool {
	return passwordPromptPatterns.MatchString(content)
}

// Surface dispatches client commands against the multiplexer adapter and
// the reconciler's session store. Pane creation is capped per group to limit
// runaway fan-out from a single client; group creation is not capped.
type Surface struct {
	adapter adapter.Adapter
	store   *session.Store

	maxPanesPerGroup int

	inflightMu sync.Mutex
	inflight   map[string]int // groupID -> panes created through this Surface, capped at maxPanesPerGroup; reset by CloseGroup
}

func NewSurface(a adapter.Adapter, store *session.Store, maxPanesPerGroup int) *Surface {
	if maxPanesPerGroup <= 0 {
		maxPanesPerGroup = 4
	}
	return &Surface{
		adapter:          a,
		store:            store,
		maxPanesPerGroup: maxPanesPerGroup,
		inflight:         make(map[string]int),
	}
}

// SendFlags mirrors the client command's optional flags.
type SendFlags struct {
	Submit             bool
	PermissionResponse bool
}

// SendText writes text to a terminal. When flags.Submit, the Enter key
// follows. When flags.PermissionResponse, no trailing newline is sent (a
// single-key answer) regardless of Submit.
func (s *Surface) SendText(ctx context.Context, terminalID, text string, flags SendFlags) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := s.adapter.SendText(ctx, terminalID, text); err != nil {
		return fmt.Errorf("send_text: %w", err)
	}
	if flags.PermissionResponse {
		return nil
	}
	if flags.Submit {
		if err := s.adapter.SendKey(ctx, terminalID, "Enter"); err != nil {
			return fmt.Errorf("send_text submit: %w", err)
		}
	}
	return nil
}

// SendSignal translates signal to the adapter's key sequence for it.
func (s *Surface) SendSignal(ctx context.Context, terminalID, signalName string) error {
	key, ok := signalKeys[signalName]
	if !ok {
		return fmt.Errorf("send_signal: unknown signal %q", signalName)
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := s.adapter.SendKey(ctx, terminalID, key); err != nil {
		return fmt.Errorf("send_signal: %w", err)
	}
	return nil
}

// DismissWaiting sets a waiting session's status to idle locally, with no
// side effect on the assistant. Only permitted if the session is currently
// waiting (spec.md §4.9); the reconciler is bypassed for concurrency
// reasons but follows the exact same invariant it would enforce.
func (s *Surface) DismissWaiting(terminalID string) error {
	st, ok := s.store.Get(terminalID)
	if !ok {
		return fmt.Errorf("dismiss_waiting: unknown terminal %q", terminalID)
	}
	if st.Status != statemachine.Waiting {
		return fmt.Errorf("dismiss_waiting: session is %s, not waiting", st.Status)
	}
	if _, ok := s.store.SetStatus(terminalID, statemachine.Idle, session.SourceReconciler, time.Now()); !ok {
		return fmt.Errorf("dismiss_waiting: session disappeared")
	}
	return nil
}

// Refresh asks the adapter for a fresh capture, discarding the reconciler's
// usual poll cadence for this one terminal.
func (s *Surface) Refresh(ctx context.Context, terminalID string, lines int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	content, err := s.adapter.Capture(ctx, terminalID, lines)
	if err != nil {
		return "", fmt.Errorf("refresh: %w", err)
	}
	return content, nil
}

func (s *Surface) Close(ctx context.Context, terminalID string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := s.adapter.ClosePane(ctx, terminalID); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// CreatePane enforces the per-group cap before delegating to the adapter.
func (s *Surface) CreatePane(ctx context.Context, groupID string) (string, error) {
	s.inflightMu.Lock()
	if s.inflight[groupID] >= s.maxPanesPerGroup {
		s.inflightMu.Unlock()
		return "", fmt.Errorf("create_pane: group %q already has %d panes (max %d)", groupID, s.inflight[groupID], s.maxPanesPerGroup)
	}
	s.inflight[groupID]++
	s.inflightMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	id, err := s.adapter.CreatePane(ctx, groupID)
	if err != nil {
		s.inflightMu.Lock()
		s.inflight[groupID]--
		s.inflightMu.Unlock()
		return "", fmt.Errorf("create_pane: %w", err)
	}
	return id, nil
}

func (s *Surface) CreateGroup(ctx context.Context, sessionName, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	id, err := s.adapter.CreateGroup(ctx, sessionName, name)
	if err != nil {
		return "", fmt.Errorf("create_group: %w", err)
	}
	return id, nil
}

func (s *Surface) CloseGroup(ctx context.Context, groupID string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := s.adapter.CloseGroup(ctx, groupID); err != nil {
		return fmt.Errorf("close_group: %w", err)
	}
	s.inflightMu.Lock()
	delete(s.inflight, groupID)
	s.inflightMu.Unlock()
	return nil
}

func (s *Surface) RenameGroup(ctx context.Context, groupID, name string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := s.adapter.RenameGroup(ctx, groupID, name); err != nil {
		return fmt.Errorf("rename_group: %w", err)
	}
	return nil
}

// Focus switches the attached multiplexer client to terminalID, for the
// /api/sessions/{id}/focus HTTP surface.
func (s *Surface) Focus(ctx context.Context, terminalID string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := s.adapter.Focus(ctx, terminalID); err != nil {
		return fmt.Errorf("focus: %w", err)
	}
	return nil
}

// HookIngest is the translation step from spec.md §6.4's hook HTTP request
// into an assistant:hook bus event, factored out so both the HTTP handler
// and tests can exercise it without a live server.
type HookIngest struct {
	Dedup func(ctx context.Context, eventID string) (bool, error) // true if newly inserted
}

func (h *HookIngest) ToEvent(eventID, terminalID, kind, tool, payload, sessionID string) reconciler.HookEvent {
	return reconciler.HookEvent{
		EventID:    eventID,
		TerminalID: terminalID,
		SessionID:  sessionID,
		Kind:       reconciler.HookKind(kind),
		Tool:       tool,
		Payload:    payload,
	}
}
