package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/agent-racer/observer/internal/session"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Monitor MonitorConfig `yaml:"monitor"`
	Sound   SoundConfig   `yaml:"sound"`
	Privacy PrivacyConfig `yaml:"privacy"`
	Tuning  TuningConfig  `yaml:"tuning"`
	Pattern PatternConfig `yaml:"pattern"`
}

// TuningConfig collects the timing/sizing knobs spec.md §6.6 calls out as
// implementation-defined. All durations are milliseconds in the YAML file;
// the accessor methods below convert them to time.Duration.
type TuningConfig struct {
	CaptureLines      int   `yaml:"capture_lines"`
	PollIntervalMS    int   `yaml:"poll_interval_ms"`
	HookPrecedenceMS  int   `yaml:"hook_precedence_ms"`
	MinHoldMS         int   `yaml:"min_hold_ms"`
	CoalesceMS        int   `yaml:"coalesce_ms"`
	IdleGraceMS       int   `yaml:"idle_grace_ms"`
	RetentionDays     int   `yaml:"retention_days"`
	SweepIntervalMS   int   `yaml:"sweep_interval_ms"`
	MaxPanesPerGroup  int   `yaml:"max_panes_per_group"`
	PauseHighBytes    int64 `yaml:"pause_high_bytes"`
	ResumeLowBytes    int64 `yaml:"resume_low_bytes"`
	TerminalCacheSize int   `yaml:"terminal_cache_size"`
}

func (t TuningConfig) PollInterval() time.Duration   { return time.Duration(t.PollIntervalMS) * time.Millisecond }
func (t TuningConfig) HookPrecedence() time.Duration { return time.Duration(t.HookPrecedenceMS) * time.Millisecond }
func (t TuningConfig) MinHold() time.Duration        { return time.Duration(t.MinHoldMS) * time.Millisecond }
func (t TuningConfig) Coalesce() time.Duration       { return time.Duration(t.CoalesceMS) * time.Millisecond }
func (t TuningConfig) IdleGrace() time.Duration      { return time.Duration(t.IdleGraceMS) * time.Millisecond }
func (t TuningConfig) Retention() time.Duration      { return time.Duration(t.RetentionDays) * 24 * time.Hour }
func (t TuningConfig) SweepInterval() time.Duration  { return time.Duration(t.SweepIntervalMS) * time.Millisecond }

// PatternConfig selects which registered pattern.Version the parser runs
// against; empty Version keeps pattern.Default()'s built-in current version.
type PatternConfig struct {
	Version string `yaml:"version"`
}

// PrivacyConfig controls what session metadata is exposed to connected clients.
type PrivacyConfig struct {
	// MaskWorkingDirs replaces full directory paths with just the last
	// path component (e.g. "/home/user/secret-project" → "secret-project").
	MaskWorkingDirs bool `yaml:"mask_working_dirs"`

	// MaskSessionIDs replaces composite session IDs with opaque short hashes.
	MaskSessionIDs bool `yaml:"mask_session_ids"`

	// MaskPIDs hides process IDs from broadcast data.
	MaskPIDs bool `yaml:"mask_pids"`

	// MaskTmuxTargets hides tmux pane locations from broadcast data.
	MaskTmuxTargets bool `yaml:"mask_tmux_targets"`

	// AllowedPaths is a list of glob patterns. When non-empty, only sessions
	// whose working directory matches at least one pattern are broadcast.
	AllowedPaths []string `yaml:"allowed_paths"`

	// BlockedPaths is a list of glob patterns. Sessions whose working
	// directory matches any pattern are excluded from broadcast.
	// BlockedPaths is evaluated after AllowedPaths.
	BlockedPaths []string `yaml:"blocked_paths"`
}

// NewPrivacyFilter converts the config into a session.PrivacyFilter.
func (p *PrivacyConfig) NewPrivacyFilter() *session.PrivacyFilter {
	return &session.PrivacyFilter{
		MaskWorkingDirs: p.MaskWorkingDirs,
		MaskSessionIDs:  p.MaskSessionIDs,
		MaskPIDs:        p.MaskPIDs,
		MaskTmuxTargets: p.MaskTmuxTargets,
		AllowedPaths:    p.AllowedPaths,
		BlockedPaths:    p.BlockedPaths,
	}
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AuthToken      string   `yaml:"auth_token"`
	MaxConnections int      `yaml:"max_connections"`
}

// MonitorConfig holds the poller's source-health tuning (spec.md's
// "Source health tracking" supplement); the per-CLI session/churn knobs
// this struct used to carry belonged to the deleted internal/monitor
// package (see DESIGN.md) and went with it.
type MonitorConfig struct {
	HealthWarningThreshold int `yaml:"health_warning_threshold"`
}

type SoundConfig struct {
	Enabled       bool    `yaml:"enabled" json:"enabled"`
	MasterVolume  float64 `yaml:"master_volume" json:"master_volume"`
	AmbientVolume float64 `yaml:"ambient_volume" json:"ambient_volume"`
	SfxVolume     float64 `yaml:"sfx_volume" json:"sfx_volume"`
	EnableAmbient bool    `yaml:"enable_ambient" json:"enable_ambient"`
	EnableSfx     bool    `yaml:"enable_sfx" json:"enable_sfx"`
}

func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads config from the given path, or returns default config if path doesn't exist
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return Load(path)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "127.0.0.1",
			MaxConnections: 1000,
		},
		Monitor: MonitorConfig{
			HealthWarningThreshold: 3,
		},
		Sound: SoundConfig{
			Enabled:       true,
			MasterVolume:  1.0,
			AmbientVolume: 1.0,
			SfxVolume:     1.0,
			EnableAmbient: true,
			EnableSfx:     true,
		},
		Tuning: TuningConfig{
			CaptureLines:      150,
			PollIntervalMS:    1000,
			HookPrecedenceMS:  2000,
			MinHoldMS:         1000,
			CoalesceMS:        50,
			IdleGraceMS:       300000,
			RetentionDays:     7,
			SweepIntervalMS:   300000,
			MaxPanesPerGroup:  4,
			PauseHighBytes:    64 << 10,
			ResumeLowBytes:    16 << 10,
			TerminalCacheSize: 50,
		},
	}
}

// Diff compares two configs and returns human-readable descriptions of what
// changed, for the SIGHUP hot-reload log line. It compares the privacy,
// monitor, sound, tuning and pattern sections; the server section is not
// compared. A reported change is not necessarily applied to the running
// process: the SIGHUP handler in cmd/server re-applies only the privacy
// filter and the pattern version, and everything else takes effect at the
// next start.
func Diff(old, new *Config) []string {
	var changes []string

	// Privacy
	if old.Privacy.MaskWorkingDirs != new.Privacy.MaskWorkingDirs {
		changes = append(changes, fmt.Sprintf("privacy.mask_working_dirs: %v → %v", old.Privacy.MaskWorkingDirs, new.Privacy.MaskWorkingDirs))
	}
	if old.Privacy.MaskSessionIDs != new.Privacy.MaskSessionIDs {
		changes = append(changes, fmt.Sprintf("privacy.mask_session_ids: %v → %v", old.Privacy.MaskSessionIDs, new.Privacy.MaskSessionIDs))
	}
	if old.Privacy.MaskPIDs != new.Privacy.MaskPIDs {
		changes = append(changes, fmt.Sprintf("privacy.mask_pids: %v → %v", old.Privacy.MaskPIDs, new.Privacy.MaskPIDs))
	}
	if old.Privacy.MaskTmuxTargets != new.Privacy.MaskTmuxTargets {
		changes = append(changes, fmt.Sprintf("privacy.mask_tmux_targets: %v → %v", old.Privacy.MaskTmuxTargets, new.Privacy.MaskTmuxTargets))
	}
	if !slices.Equal(old.Privacy.AllowedPaths, new.Privacy.AllowedPaths) {
		changes = append(changes, fmt.Sprintf("privacy.allowed_paths: %v → %v", old.Privacy.AllowedPaths, new.Privacy.AllowedPaths))
	}
	if !slices.Equal(old.Privacy.BlockedPaths, new.Privacy.BlockedPaths) {
		changes = append(changes, fmt.Sprintf("privacy.blocked_paths: %v → %v", old.Privacy.BlockedPaths, new.Privacy.BlockedPaths))
	}

	// Monitor
	if old.Monitor.HealthWarningThreshold != new.Monitor.HealthWarningThreshold {
		changes = append(changes, fmt.Sprintf("monitor.health_warning_threshold: %d → %d", old.Monitor.HealthWarningThreshold, new.Monitor.HealthWarningThreshold))
	}

	// Tuning
	if old.Tuning != new.Tuning {
		changes = append(changes, "tuning: configuration changed")
	}

	// Pattern
	if old.Pattern.Version != new.Pattern.Version {
		changes = append(changes, fmt.Sprintf("pattern.version: %q → %q", old.Pattern.Version, new.Pattern.Version))
	}

	// Sound
	if old.Sound != new.Sound {
		changes = append(changes, "sound: configuration changed")
	}

	return changes
}

func defaultConfigDir() string {
	if value := os.Getenv("XDG_CONFIG_HOME"); value != "" {
		return value
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config")
}

// DefaultConfigPath returns the default XDG-compliant config file path
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "agent-racer", "config.yaml")
}
