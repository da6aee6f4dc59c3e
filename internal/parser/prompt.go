package parser

import (
	"regexp"
	"strings"
)

// PromptKind tags the variant of a structured prompt.
type PromptKind string

const (
	PromptPermission PromptKind = "permission"
	PromptPlan       PromptKind = "plan"
	PromptQuestion   PromptKind = "question"
	PromptFeedback   PromptKind = "feedback"
)

// Option is a single selectable answer extracted from a prompt.
type Option struct {
	Key   string
	Label string
}

// Prompt is the structured descriptor extracted from a waiting buffer.
type Prompt struct {
	Kind          PromptKind
	Tool          string // permission only
	Command       string // permission only, optional
	Options       []Option
	Question      string
	Footer        string
	SelectedIndex int // question only; -1 if none
	ContentHash   string
}

var (
	// permissionHeaderRe captures a leading tool name in parens next to an
	// allow/deny affordance, e.g. "Allow this command? (Bash)".
	permissionHeaderRe = regexp.MustCompile(`(?i)allow this (?:command|action)\??\s*\(([^)]+)\)`)
	permissionToolOnly = regexp.MustCompile(`(?i)\(([A-Za-z][\w.-]*)\)\s*$`)
	planHeaderRe       = regexp.MustCompile(`(?i)^\s*(?:ready to code\?|here'?s (?:the|my) plan)`)
	footerRe           = regexp.MustCompile(`(?i)^\s*\[y/n\]\s*:?\s*$|^\s*press enter to continue\s*$`)

	numberedOptionRe = regexp.MustCompile(`^\s*(\d+)\.\s+(.+)$`)
	bulletOptionRe   = regexp.MustCompile(`^\s*[•\-*]\s+(.+)$`)
	arrowOptionRe    = regexp.MustCompile(`^\s*[►▶→]\s*(.+)$`)
)

// extractPrompt builds a structured Prompt from a waiting-classified tail.
// It never fails; when no permission, plan or option structure is
// recognized it still returns a best-effort feedback prompt carrying the
// line questionLine picks.
func extractPrompt(tail string) *Prompt {
	lines := splitNonEmpty(tail)
	if len(lines) == 0 {
		return nil
	}

	options, style := extractOptions(lines)
	question := questionLine(lines)
	footer := footerLine(lines)

	p := &Prompt{Options: options, Question: question, Footer: footer, SelectedIndex: -1}
	p.ContentHash = ContentHash(tail)

	if tool, cmd, ok := extractPermission(lines); ok {
		p.Kind = PromptPermission
		p.Tool = tool
		p.Command = cmd
		return p
	}

	if hasPlanHeader(lines) {
		p.Kind = PromptPlan
		return p
	}

	if style == optionStyleNone {
		p.Kind = PromptFeedback
		return p
	}

	p.Kind = PromptQuestion
	return p
}

// extractPermission looks for a leading tool name in parentheses next to an
// allow/deny affordance, per spec.md §4.2.6.a.
func extractPermission(lines []string) (tool, command string, ok bool) {
	for _, line := range lines {
		if m := permissionHeaderRe.FindStringSubmatch(line); m != nil {
			full := strings.TrimSpace(m[1])
			tool, command = splitToolCommand(full)
			return tool, command, true
		}
	}
	// Fall back to any trailing "(Tool)" on an "allow"-flavored line.
	for _, line := range lines {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "allow") {
			continue
		}
		if m := permissionToolOnly.FindStringSubmatch(line); m != nil {
			tool, command = splitToolCommand(strings.TrimSpace(m[1]))
			return tool, command, true
		}
	}
	return "", "", false
}

// splitToolCommand splits "Bash: git status" into ("Bash", "git status"),
// or returns the whole string as the tool name when there is no colon.
func splitToolCommand(s string) (tool, command string) {
	if idx := strings.Index(s, ":"); idx >= 0 {
		return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+1:])
	}
	return s, ""
}

func hasPlanHeader(lines []string) bool {
	for _, line := range lines {
		if planHeaderRe.MatchString(line) {
			return true
		}
	}
	return false
}

type optionStyle int

const (
	optionStyleNone optionStyle = iota
	optionStyleNumbered
	optionStyleBullet
	optionStyleArrow
)

// extractOptions finds the earliest-appearing option style (numbered,
// bulleted, or arrowed) and returns every option rendered in that style,
// per spec.md §4.2.6.c: "the earliest-appearing style wins".
func extractOptions(lines []string) ([]Option, optionStyle) {
	style := optionStyleNone
	for _, line := range lines {
		switch {
		case numberedOptionRe.MatchString(line):
			style = optionStyleNumbered
		case bulletOptionRe.MatchString(line):
			style = optionStyleBullet
		case arrowOptionRe.MatchString(line):
			style = optionStyleArrow
		default:
			continue
		}
		break
	}
	if style == optionStyleNone {
		return nil, optionStyleNone
	}

	var options []Option
	for _, line := range lines {
		switch style {
		case optionStyleNumbered:
			if m := numberedOptionRe.FindStringSubmatch(line); m != nil {
				options = append(options, Option{Key: m[1], Label: strings.TrimSpace(m[2])})
			}
		case optionStyleBullet:
			if m := bulletOptionRe.FindStringSubmatch(line); m != nil {
				label := strings.TrimSpace(m[1])
				options = append(options, Option{Key: label, Label: label})
			}
		case optionStyleArrow:
			if m := arrowOptionRe.FindStringSubmatch(line); m != nil {
				label := strings.TrimSpace(m[1])
				options = append(options, Option{Key: label, Label: label})
			}
		}
	}
	return options, style
}

// questionLine picks the last non-footer, non-option line ending in "?" or
// otherwise the last substantive line, as the prompt's question text.
func questionLine(lines []string) string {
	fallback := ""
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || footerRe.MatchString(line) || isOptionLine(line) {
			continue
		}
		if strings.HasSuffix(line, "?") {
			return line
		}
		if fallback == "" {
			fallback = line
		}
	}
	return fallback
}

func footerLine(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if footerRe.MatchString(strings.TrimSpace(lines[i])) {
			return strings.TrimSpace(lines[i])
		}
	}
	return ""
}

func isOptionLine(line string) bool {
	return numberedOptionRe.MatchString(line) || bulletOptionRe.MatchString(line) || arrowOptionRe.MatchString(line)
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
