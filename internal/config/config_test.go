package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "orcaforge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
workspace:
  root: /tmp/ws
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8787 {
		t.Errorf("expected default server address, got %+v", cfg.Server)
	}
	if cfg.Agents.DefaultAgentID != "a" {
		t.Errorf("expected default agent id a, got %q", cfg.Agents.DefaultAgentID)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default logging level info, got %q", cfg.Logging.Level)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeTempConfig(t, `
server:
  hostname: unknown-field
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestLoadRejectsInvalidLoggingLevel(t *testing.T) {
	path := writeTempConfig(t, `
logging:
  level: verbose
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an invalid logging level")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("ORCAFORGE_TEST_HOST", "10.0.0.5")
	path := writeTempConfig(t, `
server:
  host: ${ORCAFORGE_TEST_HOST}
  port: 9999
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "10.0.0.5" {
		t.Errorf("expected expanded host, got %q", cfg.Server.Host)
	}
}

func TestObserverConfigDefaultsFillZeroFields(t *testing.T) {
	var partial ObserverConfig
	partial.ActiveMode = true
	partial.StallSeconds = 45

	resolved := partial.ToObserverConfig()
	if resolved.StallSeconds != 45 {
		t.Errorf("expected overridden stall seconds, got %d", resolved.StallSeconds)
	}
	if !resolved.ActiveMode {
		t.Error("expected active mode to carry through")
	}
	if resolved.ErrorCountThreshold == 0 {
		t.Error("expected a non-zero default error count threshold")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
