package ws

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
)

// PrivacyFilter masks and path-filters outbound session data, grounded on
// the teacher's session.PrivacyFilter but retargeted at the wire-level
// SessionInfo DTO: working directories no longer live on session.State, so
// the allow/block decision takes the project working directory as a
// separate argument rather than reading it off the filtered value.
type PrivacyFilter struct {
	MaskTerminalIDs bool
	AllowedPaths    []string
	BlockedPaths    []string
}

// IsAllowed reports whether a session whose terminal resolved to workingDir
// should be broadcast at all. An unresolved (empty) working directory is
// always allowed.
func (f *PrivacyFilter) IsAllowed(workingDir string) bool {
	if workingDir == "" {
		return true
	}
	if len(f.AllowedPaths) > 0 {
		allowed := false
		for _, pattern := range f.AllowedPaths {
			if matchPathOrParent(pattern, workingDir) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	for _, pattern := range f.BlockedPaths {
		if matchPathOrParent(pattern, workingDir) {
			return false
		}
	}
	return true
}

func matchPathOrParent(pattern, path string) bool {
	for p := path; p != "." && p != "" && p != filepath.Dir(p); p = filepath.Dir(p) {
		if matched, _ := filepath.Match(pattern, p); matched {
			return true
		}
	}
	return false
}

// Apply returns a copy of info with sensitive fields masked.
func (f *PrivacyFilter) Apply(info SessionInfo) SessionInfo {
	if f.MaskTerminalIDs && info.ID != "" {
		info.ID = shortHash(info.ID)
	}
	return info
}

// IsNoop reports whether the filter does nothing.
func (f *PrivacyFilter) IsNoop() bool {
	return !f.MaskTerminalIDs && len(f.AllowedPaths) == 0 && len(f.BlockedPaths) == 0
}

func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:6])
}
