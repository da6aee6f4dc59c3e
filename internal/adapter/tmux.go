package adapter

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// TmuxAdapter drives a local tmux server via exec.Command, the only way the
// multiplexer is controlled (grounded on wingedpig-trellis's
// internal/terminal/tmux.go: list-panes/capture-pane/send-keys/load-buffer).
// Terminal ids are tmux pane targets ("session:window.pane"); group ids are
// "session:window".
type TmuxAdapter struct {
	tmuxPath string
}

// NewTmuxAdapter resolves the tmux binary on PATH. Returns an error if tmux
// is not installed, since every Adapter method depends on it.
func NewTmuxAdapter() (*TmuxAdapter, error) {
	path, err := exec.LookPath("tmux")
	if err != nil {
		return nil, fmt.Errorf("tmux not found: %w", err)
	}
	return &TmuxAdapter{tmuxPath: path}, nil
}

var paneListRe = regexp.MustCompile(`^([^\t]+)\t(\d+)\t(\d+)\t(\d+)\t(\d+)\t(\d+)\t([01])\t(.*)$`)

// ListTerminals lists every pane across every tmux session. Process is
// always reported as ProcessEmpty here — process-kind classification is the
// poller's (C5) job, since it requires walking the process tree, not
// something the adapter itself should decide.
const tmuxPaneFormat = "#{session_name}:#{window_index}\t#{window_index}\t#{pane_index}\t#{pane_width}\t#{pane_height}\t#{pane_pid}\t#{?pane_active,1,0}\t#{pane_current_path}"

func (a *TmuxAdapter) ListTerminals(ctx context.Context) ([]Terminal, []Group, error) {
	cmd := exec.CommandContext(ctx, a.tmuxPath, "list-panes", "-a", "-F", tmuxPaneFormat)
	out, err := cmd.Output()
	if err != nil {
		if strings.Contains(err.Error(), "no server running") {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("tmux list-panes: %w", err)
	}
	return parsePaneList(string(out))
}

// parsePaneList parses tab-separated tmux list-panes -F output (see
// tmuxPaneFormat) into Terminal/Group values. Pulled out of ListTerminals so
// the parsing logic is exercisable without a live tmux server.
func parsePaneList(output string) ([]Terminal, []Group, error) {
	groupSeen := make(map[string]bool)
	var terminals []Terminal
	var groups []Group

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := paneListRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		groupID := m[1]
		winIdx, _ := strconv.Atoi(m[2])
		paneIdx, _ := strconv.Atoi(m[3])
		width, _ := strconv.Atoi(m[4])
		height, _ := strconv.Atoi(m[5])
		pid, _ := strconv.Atoi(m[6])
		active := m[7] == "1"
		workingDir := m[8]

		terminalID := fmt.Sprintf("%s.%d", groupID, paneIdx)
		terminals = append(terminals, Terminal{
			ID:         terminalID,
			GroupID:    groupID,
			Index:      winIdx,
			Active:     active,
			Width:      width,
			Height:     height,
			Process:    ProcessEmpty,
			WorkingDir: workingDir,
			PID:        pid,
		})

		if !groupSeen[groupID] {
			groupSeen[groupID] = true
			groups = append(groups, Group{ID: groupID, Name: groupID})
		}
	}

	return terminals, groups, nil
}

// Capture returns the last `lines` lines of a pane's content, including
// scrollback history when lines exceeds the visible viewport.
func (a *TmuxAdapter) Capture(ctx context.Context, terminalID string, lines int) (string, error) {
	args := []string{"capture-pane", "-t", terminalID, "-p", "-e"}
	if lines > 0 {
		args = append(args, "-S", fmt.Sprintf("-%d", lines))
	}
	cmd := exec.CommandContext(ctx, a.tmuxPath, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane %s: %w", terminalID, err)
	}
	return string(out), nil
}

// SendText pastes text into a pane via tmux's load-buffer/paste-buffer pair,
// which (unlike send-keys) survives special characters and multi-line input.
func (a *TmuxAdapter) SendText(ctx context.Context, terminalID, text string) error {
	load := exec.CommandContext(ctx, a.tmuxPath, "load-buffer", "-")
	load.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	load.Stderr = &stderr
	if err := load.Run(); err != nil {
		return fmt.Errorf("tmux load-buffer: %s: %w", stderr.String(), err)
	}

	paste := exec.CommandContext(ctx, a.tmuxPath, "paste-buffer", "-d", "-t", terminalID)
	return paste.Run()
}

// SendKey sends a single named key (e.g. "Enter", "C-c") to a pane.
func (a *TmuxAdapter) SendKey(ctx context.Context, terminalID, keyName string) error {
	cmd := exec.CommandContext(ctx, a.tmuxPath, "send-keys", "-t", terminalID, keyName)
	return cmd.Run()
}

// CreatePane opens a new window within groupID (tmux has no sub-window pane
// creation API suitable here; a new window stands in for "pane" in the
// group, matching wingedpig-trellis's own NewWindow granularity).
func (a *TmuxAdapter) CreatePane(ctx context.Context, groupID string) (string, error) {
	cmd := exec.CommandContext(ctx, a.tmuxPath, "new-window", "-t", groupID, "-P", "-F", "#{window_index}")
	cmd.Env = filterTMUXEnv(os.Environ())
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("tmux new-window: %w", err)
	}
	idx := strings.TrimSpace(string(out))
	return fmt.Sprintf("%s:%s.0", groupID, idx), nil
}

// CreateGroup creates a new tmux session named sessionName, with its first
// window named name, and returns that window's group id ("sessionName:0");
// groups are tmux windows, identified as session:window.
func (a *TmuxAdapter) CreateGroup(ctx context.Context, sessionName, name string) (string, error) {
	args := []string{"new-session", "-d", "-s", sessionName}
	if name != "" {
		args = append(args, "-n", name)
	}
	cmd := exec.CommandContext(ctx, a.tmuxPath, args...)
	cmd.Env = filterTMUXEnv(os.Environ())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tmux new-session: %s: %w", stderr.String(), err)
	}
	return fmt.Sprintf("%s:0", sessionName), nil
}

func (a *TmuxAdapter) ClosePane(ctx context.Context, terminalID string) error {
	cmd := exec.CommandContext(ctx, a.tmuxPath, "kill-pane", "-t", terminalID)
	return cmd.Run()
}

func (a *TmuxAdapter) CloseGroup(ctx context.Context, groupID string) error {
	cmd := exec.CommandContext(ctx, a.tmuxPath, "kill-window", "-t", groupID)
	return cmd.Run()
}

func (a *TmuxAdapter) RenameGroup(ctx context.Context, groupID, name string) error {
	cmd := exec.CommandContext(ctx, a.tmuxPath, "rename-window", "-t", groupID, name)
	return cmd.Run()
}

// Focus switches the client's attached tmux session to terminalID's window
// and pane, for the /api/sessions/{id}/focus HTTP surface.
func (a *TmuxAdapter) Focus(ctx context.Context, terminalID string) error {
	if err := exec.CommandContext(ctx, a.tmuxPath, "select-window", "-t", terminalID).Run(); err != nil {
		return fmt.Errorf("tmux select-window %s: %w", terminalID, err)
	}
	if err := exec.CommandContext(ctx, a.tmuxPath, "select-pane", "-t", terminalID).Run(); err != nil {
		return fmt.Errorf("tmux select-pane %s: %w", terminalID, err)
	}
	return nil
}

// filterTMUXEnv strips the TMUX env var so commands run cleanly even when
// the server process itself happens to be launched from inside a session.
func filterTMUXEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, e := range env {
		if !strings.HasPrefix(e, "TMUX=") {
			out = append(out, e)
		}
	}
	return out
}
