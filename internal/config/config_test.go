package config

import "testing"

func TestDefaultConfigTuning(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Tuning.PollInterval() <= 0 {
		t.Error("expected a positive default poll interval")
	}
	if cfg.Tuning.Retention() <= 0 {
		t.Error("expected a positive default retention window")
	}
	if cfg.Monitor.HealthWarningThreshold != 3 {
		t.Errorf("HealthWarningThreshold = %d, want 3", cfg.Monitor.HealthWarningThreshold)
	}
}

func TestDiffNoChanges(t *testing.T) {
	cfg := defaultConfig()
	if changes := Diff(cfg, cfg); len(changes) != 0 {
		t.Errorf("Diff(cfg, cfg) = %v, want no changes", changes)
	}
}

func TestDiffPrivacyChange(t *testing.T) {
	old := defaultConfig()
	updated := defaultConfig()
	updated.Privacy.MaskWorkingDirs = true
	updated.Privacy.AllowedPaths = []string{"/home/*"}

	changes := Diff(old, updated)
	if len(changes) != 2 {
		t.Fatalf("Diff() = %v, want 2 changes", changes)
	}
}

func TestDiffTuningChange(t *testing.T) {
	old := defaultConfig()
	updated := defaultConfig()
	updated.Tuning.PollIntervalMS = 2000

	changes := Diff(old, updated)
	if len(changes) != 1 || changes[0] != "tuning: configuration changed" {
		t.Errorf("Diff() = %v, want a single tuning change", changes)
	}
}

func TestDiffPatternVersionChange(t *testing.T) {
	old := defaultConfig()
	updated := defaultConfig()
	updated.Pattern.Version = "v2"

	changes := Diff(old, updated)
	if len(changes) != 1 {
		t.Fatalf("Diff() = %v, want 1 change", changes)
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", cfg.Server.Port)
	}
}
