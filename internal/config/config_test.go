package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
persistence:
  backend: memory
  extra: true
llm:
  default_provider: anthropic
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesPersistenceBackend(t *testing.T) {
	path := writeConfig(t, `
persistence:
  backend: nope
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "persistence.backend") {
		t.Fatalf("expected persistence.backend error, got %v", err)
	}
}

func TestLoadValidatesPostgresRequiresDSN(t *testing.T) {
	path := writeConfig(t, `
persistence:
  backend: postgres
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "persistence.dsn") {
		t.Fatalf("expected persistence.dsn error, got %v", err)
	}
}

func TestLoadValidatesCompactionThreshold(t *testing.T) {
	path := writeConfig(t, `
session:
  compaction:
    threshold_percent: 150
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "threshold_percent") {
		t.Fatalf("expected threshold_percent error, got %v", err)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
persistence:
  backend: journal
  journal_dir: /tmp/nexus-sessions
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
session:
  default_agent_id: main
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Persistence.Backend != "journal" {
		t.Fatalf("expected journal backend, got %q", cfg.Persistence.Backend)
	}
	if cfg.Session.MaxMessagesPerSession != 1000 {
		t.Fatalf("expected default max messages per session, got %d", cfg.Session.MaxMessagesPerSession)
	}
	if cfg.Session.Compaction.ThresholdPercent != 80 {
		t.Fatalf("expected default compaction threshold, got %v", cfg.Session.Compaction.ThresholdPercent)
	}
}

func TestLoadFromEnvAppliesDSN(t *testing.T) {
	t.Setenv("NEXUS_DSN", "postgres://override@localhost:26257/nexus?sslmode=disable")

	cfg := LoadFromEnv()
	if cfg.Persistence.Backend != "postgres" {
		t.Fatalf("expected postgres backend from env, got %q", cfg.Persistence.Backend)
	}
	if cfg.Persistence.DSN == "" {
		t.Fatalf("expected dsn to be set from env")
	}
}

func TestLoadValidatesToolApprovalMode(t *testing.T) {
	path := writeConfig(t, `
tools:
  execution:
    approval:
      allow: ["Read", "Glob(*)"]
      deny: ["Bash(rm -rf *)"]
`)

	if _, err := Load(path); err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nexus.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
