// Package parser classifies captured terminal content into a coarse status
// plus, for waiting buffers, a structured prompt. It never panics and never
// retains state between calls — parse(s) == parse(s) for any s.
package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/agent-racer/observer/internal/pattern"
)

// Status is the coarse classification the parser produces. It deliberately
// does not include the full session status vocabulary (no "typing") — the
// parser only ever observes what is on screen.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusWaiting Status = "waiting"
	StatusError   Status = "error"
	StatusUnknown Status = "unknown"
)

// idleErrorThreshold is the classification floor for the idle/error classes
// per spec.md §4.2 step 4: a generic "Error:" match (confidence 0.5) must
// not be allowed to override ongoing working state, so the floor sits above
// it. Waiting and working use their own pattern confidence unmodified.
const idleErrorThreshold = 0.7

// DefaultMaxLines bounds how much of the captured buffer is considered;
// only the tail is retained to focus on the live region.
const DefaultMaxLines = 50

// Verdict is the parser's output for a single capture.
type Verdict struct {
	Status     Status
	Confidence float64
	Prompt     *Prompt
}

// Parser classifies terminal buffers against a pattern registry version.
// A Parser is stateless and safe for concurrent use; all inputs are pure
// function arguments.
type Parser struct {
	registry *pattern.Registry
	maxLines int
}

// New builds a Parser bound to a registry. maxLines <= 0 uses DefaultMaxLines.
func New(registry *pattern.Registry, maxLines int) *Parser {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Parser{registry: registry, maxLines: maxLines}
}

// Parse classifies content using the registry's current version.
func (p *Parser) Parse(content string) Verdict {
	return p.ParseVersion(content, p.registry.GetCurrent())
}

// ParseVersion classifies content against a specific pattern version,
// letting callers pin an older version for reproducibility.
func (p *Parser) ParseVersion(content string, version *pattern.Version) Verdict {
	if strings.TrimSpace(content) == "" {
		return Verdict{Status: StatusUnknown, Confidence: 0}
	}

	tail := tailLines(content, p.maxLines)

	type classResult struct {
		class      pattern.Class
		confidence float64
	}

	var best *classResult
	for _, class := range []pattern.Class{pattern.ClassWaiting, pattern.ClassError, pattern.ClassWorking, pattern.ClassIdle} {
		conf, matched := bestMatch(version.Patterns(class), tail)
		if !matched {
			continue
		}
		if class == pattern.ClassIdle || class == pattern.ClassError {
			if conf < idleErrorThreshold {
				continue
			}
		}
		if best == nil || pattern.ClassPriority[class] > pattern.ClassPriority[best.class] {
			best = &classResult{class: class, confidence: conf}
		}
	}

	if best == nil {
		return Verdict{Status: StatusUnknown, Confidence: 0}
	}

	v := Verdict{Status: Status(best.class), Confidence: best.confidence}
	if best.class == pattern.ClassWaiting {
		v.Prompt = extractPrompt(tail)
	}
	return v
}

// bestMatch scans a class's patterns in order and returns the
// highest-confidence match, or (0, false) if none match.
func bestMatch(patterns []pattern.Pattern, content string) (float64, bool) {
	var best float64
	found := false
	for _, p := range patterns {
		if !p.MatchString(content) {
			continue
		}
		found = true
		if p.Confidence > best {
			best = p.Confidence
		}
	}
	return best, found
}

// tailLines keeps only the last n lines of s (blank lines included), after
// normalizing CRLF line endings.
func tailLines(s string, n int) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// ContentHash returns a stable, content-only hash of prompt text so
// downstream consumers can deduplicate identical prompts across captures.
func ContentHash(s string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(s)))
	return hex.EncodeToString(sum[:])[:16]
}
