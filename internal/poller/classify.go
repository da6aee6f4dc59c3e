package poller

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/agent-racer/observer/internal/adapter"
)

// assistantNames are direct matches for a known AI coding assistant binary.
var assistantNames = map[string]bool{
	"claude":      true,
	"claude-code": true,
	"codex":       true,
	"gemini":      true,
}

// shellNames are interactive shells that, alone, aren't interesting but
// might have an assistant running as a child.
var shellNames = map[string]bool{
	"bash": true, "zsh": true, "fish": true, "sh": true, "dash": true,
}

// classifyPID implements spec.md §4.5 step 1: direct match on a known
// assistant command wins; otherwise, a known shell defers to its direct
// children (assistant child -> assistant, any other child -> generic-process,
// no children -> shell); anything else with no children is empty.
func classifyPID(pid int32) adapter.ProcessKind {
	p, err := process.NewProcess(pid)
	if err != nil {
		return adapter.ProcessEmpty
	}

	if isAssistant(p) {
		return adapter.ProcessAssistant
	}

	name, _ := p.Name()
	if !shellNames[name] {
		return adapter.ProcessEmpty
	}

	children, err := p.Children()
	if err != nil || len(children) == 0 {
		return adapter.ProcessShell
	}
	for _, c := range children {
		if isAssistant(c) {
			return adapter.ProcessAssistant
		}
	}
	return adapter.ProcessGeneric
}

// isAssistant matches a direct assistant binary, or a node process whose
// command line names one of the assistants (their CLIs commonly ship as
// node-launched scripts).
func isAssistant(p *process.Process) bool {
	name, err := p.Name()
	if err != nil {
		return false
	}
	if assistantNames[name] {
		return true
	}
	if name != "node" {
		return false
	}
	cmdline, err := p.Cmdline()
	if err != nil {
		return false
	}
	lower := strings.ToLower(cmdline)
	if strings.Contains(lower, "node_modules/.bin") {
		return false
	}
	for assistant := range assistantNames {
		if strings.Contains(lower, assistant) {
			return true
		}
	}
	return false
}

// workingDirOf best-effort resolves a process's current working directory.
func workingDirOf(pid int32) string {
	p, err := process.NewProcess(pid)
	if err != nil {
		return ""
	}
	cwd, err := p.Cwd()
	if err != nil {
		return ""
	}
	return cwd
}
