package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
workspace: /srv/projects
assistant:
  command: myclaude
injector:
  max_attempts: 12
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workspace != "/srv/projects" {
		t.Errorf("workspace = %q", cfg.Workspace)
	}
	if cfg.Assistant.Command != "myclaude" {
		t.Errorf("command = %q", cfg.Assistant.Command)
	}
	if cfg.Injector.MaxAttempts != 12 {
		t.Errorf("max_attempts = %d", cfg.Injector.MaxAttempts)
	}
	// Untouched sections keep their defaults.
	if cfg.Injector.SettleMs != 3000 {
		t.Errorf("settle_ms = %d, want default 3000", cfg.Injector.SettleMs)
	}
	if cfg.Sessions.TTLHours != 24 {
		t.Errorf("ttl_hours = %d, want default 24", cfg.Sessions.TTLHours)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TC_TEST_TOKEN", "tok123")

	tests := []struct {
		in   string
		want string
	}{
		{"auth_token: ${TC_TEST_TOKEN}", "auth_token: tok123"},
		{"auth_token: $TC_TEST_TOKEN", "auth_token: tok123"},
		{"address: ${TC_TEST_UNSET:-127.0.0.1:9999}", "address: 127.0.0.1:9999"},
		{"auth_token: ${TC_TEST_UNSET}", "auth_token: ${TC_TEST_UNSET}"},
	}
	for _, tt := range tests {
		got, err := expandEnvVars(tt.in)
		if err != nil {
			t.Fatalf("expandEnvVars(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExpandEnvVarsRequiredMissing(t *testing.T) {
	_, err := expandEnvVars("auth_token: ${TC_TEST_UNSET:?gateway token is required}")
	if err == nil || !strings.Contains(err.Error(), "gateway token is required") {
		t.Errorf("err = %v, want the configured message", err)
	}
}

func TestLoadFromFileResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
sessions:
  path: state/sessions.json
bridge:
  dir: state/prompts
audit:
  path: state/audit.db
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sessions.Path != filepath.Join(dir, "state", "sessions.json") {
		t.Errorf("sessions path = %q", cfg.Sessions.Path)
	}
	if cfg.Bridge.Dir != filepath.Join(dir, "state", "prompts") {
		t.Errorf("bridge dir = %q", cfg.Bridge.Dir)
	}
	if cfg.Audit.Path != filepath.Join(dir, "state", "audit.db") {
		t.Errorf("audit path = %q", cfg.Audit.Path)
	}
}

func TestSaveRoundTripAndBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Workspace = "/srv/projects"
	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Workspace != "/srv/projects" {
		t.Errorf("workspace = %q", loaded.Workspace)
	}

	// Second save backs up the first file.
	cfg.Workspace = "/srv/other"
	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Errorf("backup missing: %v", err)
	}
}

func TestSaveReplacesTokenWithEnvReference(t *testing.T) {
	t.Setenv("TERMCLAW_GATEWAY_TOKEN", "sekret")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Gateway.AuthToken = "sekret"
	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sekret") {
		t.Error("plaintext token written to config file")
	}
	if !strings.Contains(string(data), "${TERMCLAW_GATEWAY_TOKEN}") {
		t.Error("env reference missing from config file")
	}
}
