package pattern

import "time"

// v1Spec returns the built-in pattern table. Patterns are intentionally
// layered: high-confidence, specific phrasings for waiting/error live
// alongside low-confidence catch-alls (e.g. a bare "Error:") that must
// never be allowed to override an ongoing working state on their own —
// the classification threshold in the parser enforces that, not the
// pattern's own confidence.
func v1Spec() (string, string, time.Time, map[Class][]rawPattern) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	raw := map[Class][]rawPattern{
		ClassWaiting: {
			{name: "permission_prompt", expr: `(?m)^\s*allow this (?:command|action)\??`, confidence: 0.9},
			{name: "tool_confirm_bracket", expr: `\[y/n\]\s*:?\s*$`, confidence: 0.85},
			{name: "do_you_want_to_proceed", expr: `do you want to proceed\??`, confidence: 0.85},
			{name: "plan_header", expr: `(?m)^\s*(?:ready to code\?|here'?s (?:the|my) plan)`, confidence: 0.85},
			{name: "would_you_like", expr: `would you like`, confidence: 0.75},
			{name: "press_enter_continue", expr: `press enter to continue`, confidence: 0.8},
			{name: "numbered_choice", expr: `(?m)^\s*\d+\.\s+.+`, confidence: 0.7},
			{name: "password_prompt", expr: `(?:sudo password for|password:|enter passphrase|enter pin|authentication required)`, confidence: 0.9},
		},
		ClassError: {
			{name: "tool_failure", expr: `command failed with exit code \d+`, confidence: 0.85},
			{name: "traceback", expr: `traceback \(most recent call last\)`, confidence: 0.9},
			{name: "panic", expr: `(?m)^panic:`, confidence: 0.95},
			{name: "fatal", expr: `(?m)^\s*fatal(?:\s+error)?:`, confidence: 0.9},
			{name: "generic_error_prefix", expr: `(?m)^\s*error:`, confidence: 0.5},
		},
		ClassWorking: {
			{name: "spinner_working", expr: `[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏]\s*\S*(?:working|thinking|running)?`, confidence: 0.9},
			{name: "generating", expr: `(?m)^\s*(?:generating|thinking|working)\b.*$`, confidence: 0.8},
			{name: "esc_to_interrupt", expr: `esc to interrupt`, confidence: 0.85},
			{name: "running_tool", expr: `(?m)^\s*(?:running|executing)\s+\S+`, confidence: 0.75},
		},
		ClassIdle: {
			{name: "shell_prompt", expr: `(?m)^[\w./~-]*\s*[%$#>]\s*$`, confidence: 0.75},
			{name: "human_turn_marker", expr: `(?m)^>\s*$`, confidence: 0.8},
			{name: "done_marker", expr: `(?:^|\n)done\.?\s*$`, confidence: 0.7},
		},
	}

	return "v1", "*", created, raw
}
