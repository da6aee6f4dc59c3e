package parser

import (
	"strings"
	"testing"

	"github.com/agent-racer/observer/internal/pattern"
)

func newTestParser() *Parser {
	return New(pattern.Default(), DefaultMaxLines)
}

func TestParse_EmptyIsUnknown(t *testing.T) {
	p := newTestParser()
	for _, s := range []string{"", "   ", "\n\n\t"} {
		v := p.Parse(s)
		if v.Status != StatusUnknown || v.Confidence != 0 {
			t.Errorf("Parse(%q) = %+v, want unknown/0", s, v)
		}
	}
}

// S2 — permission waiting prompt.
func TestParse_PermissionPrompt(t *testing.T) {
	p := newTestParser()
	buf := "Some output...\nAllow this command? (Bash)\n[y/n]:\n"
	v := p.Parse(buf)

	if v.Status != StatusWaiting {
		t.Fatalf("status = %v, want waiting", v.Status)
	}
	if v.Confidence < 0.7 {
		t.Fatalf("confidence = %v, want >= 0.7", v.Confidence)
	}
	if v.Prompt == nil || v.Prompt.Kind != PromptPermission {
		t.Fatalf("prompt = %+v, want permission", v.Prompt)
	}
	if v.Prompt.Tool != "Bash" {
		t.Fatalf("tool = %q, want Bash", v.Prompt.Tool)
	}
}

// S3 — tool failure beats a working spinner because error's class
// priority outranks working, even though the spinner's own confidence is
// higher than the failure pattern's.
func TestParse_ToolFailureBeatsWorking(t *testing.T) {
	p := newTestParser()
	buf := "⠋ Working...\nCommand failed with exit code 1\n"
	v := p.Parse(buf)

	if v.Status != StatusError {
		t.Fatalf("status = %v, want error", v.Status)
	}
}

func TestParse_GenericErrorPrefixNeverOverridesWorking(t *testing.T) {
	p := newTestParser()
	// "Error:" alone is a 0.5-confidence match, below the idle/error floor,
	// so a bare mention must not beat an in-progress spinner.
	buf := "Generating response...\nerror: see log for details\n"
	v := p.Parse(buf)
	if v.Status != StatusWorking {
		t.Fatalf("status = %v, want working (generic error prefix must not win)", v.Status)
	}
}

func TestParse_PlanPrompt(t *testing.T) {
	p := newTestParser()
	buf := "Here's the plan:\n1. Do the thing\n2. Do the other thing\nReady to code?\n"
	v := p.Parse(buf)
	if v.Status != StatusWaiting {
		t.Fatalf("status = %v, want waiting", v.Status)
	}
	if v.Prompt == nil || v.Prompt.Kind != PromptPlan {
		t.Fatalf("prompt = %+v, want plan", v.Prompt)
	}
	if len(v.Prompt.Options) != 2 {
		t.Fatalf("options = %+v, want 2", v.Prompt.Options)
	}
}

func TestParse_GenericQuestionWithBullets(t *testing.T) {
	p := newTestParser()
	buf := "Which approach would you like?\n• Fast\n• Thorough\n"
	v := p.Parse(buf)
	if v.Status != StatusWaiting {
		t.Fatalf("status = %v, want waiting", v.Status)
	}
	if v.Prompt == nil {
		t.Fatal("expected prompt")
	}
	if len(v.Prompt.Options) != 2 || v.Prompt.Options[0].Label != "Fast" {
		t.Fatalf("options = %+v", v.Prompt.Options)
	}
}

func TestParse_Idempotent(t *testing.T) {
	p := newTestParser()
	buf := "Allow this command? (Bash)\n[y/n]:\n"
	a := p.Parse(buf)
	b := p.Parse(buf)
	if a.Status != b.Status || a.Confidence != b.Confidence {
		t.Fatalf("parse not idempotent: %+v vs %+v", a, b)
	}
}

func TestParse_TailTruncation(t *testing.T) {
	p := New(pattern.Default(), 2)
	// The waiting marker is far above the retained tail window, so with a
	// 2-line window it must not be seen.
	var b strings.Builder
	b.WriteString("Allow this command? (Bash)\n[y/n]:\n")
	for i := 0; i < 100; i++ {
		b.WriteString("scrollback noise\n")
	}
	v := p.Parse(b.String())
	if v.Status == StatusWaiting {
		t.Fatalf("status = %v, want something other than waiting once the prompt scrolled out of the tail window", v.Status)
	}
}

func TestContentHash_StableAndContentOnly(t *testing.T) {
	a := ContentHash("  hello\n")
	b := ContentHash("hello")
	if a != b {
		t.Fatalf("hash should be content-only, got %q vs %q", a, b)
	}
}
