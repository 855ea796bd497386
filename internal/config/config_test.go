package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mend.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	if cfg.Scheduler.BaseInterval != 15*time.Second {
		t.Errorf("base interval = %s, want 15s default", cfg.Scheduler.BaseInterval)
	}
	if cfg.Scheduler.EmergencyThreshold != 10 || cfg.Scheduler.RapidThreshold != 5 {
		t.Errorf("thresholds = %d/%d, want 10/5", cfg.Scheduler.EmergencyThreshold, cfg.Scheduler.RapidThreshold)
	}
	if cfg.Validation.AcceptThreshold != 85 {
		t.Errorf("accept threshold = %.0f, want 85", cfg.Validation.AcceptThreshold)
	}
	if !cfg.Rollback.Enabled || cfg.Rollback.Retention != 7*24*time.Hour {
		t.Errorf("rollback defaults = %+v", cfg.Rollback)
	}
	if cfg.Incidents.RecurrenceThreshold != 3 || cfg.Incidents.SignatureOverlap != 0.7 {
		t.Errorf("incident defaults = %+v", cfg.Incidents)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "scheduler:\n  baseIntervalSeconds: 15\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("misspelled option must fail at load time")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []string{
		"scheduler:\n  baseInterval: -5s\n",
		"scheduler:\n  emergencyThreshold: 2\n  rapidThreshold: 5\n",
		"validation:\n  acceptThreshold: 150\n",
		"incidents:\n  signatureOverlap: 1.4\n",
		"counters:\n  enabled: true\n",
	}
	for _, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("config %q accepted, want validation error", content)
		}
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("explicitly named missing file must fail")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MEND_BASE_INTERVAL", "45s")
	t.Setenv("MEND_LOG_LEVEL", "warn")
	t.Setenv("MEND_ROLLBACK_ENABLED", "false")

	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scheduler.BaseInterval != 45*time.Second {
		t.Errorf("base interval = %s, want env override 45s", cfg.Scheduler.BaseInterval)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q, want warn", cfg.Logging.Level)
	}
	if cfg.Rollback.Enabled {
		t.Errorf("rollback still enabled despite env override")
	}
}
