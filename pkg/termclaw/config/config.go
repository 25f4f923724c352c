// Package config defines termclaw's YAML configuration: where the session
// map and prompt records live, how the assistant is launched, and how the
// injector and janitor are tuned.
package config

import (
	"os"
	"path/filepath"
)

// Config is the root configuration.
type Config struct {
	Workspace string          `yaml:"workspace"`
	Assistant AssistantConfig `yaml:"assistant"`
	Terminal  TerminalConfig  `yaml:"terminal"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Injector  InjectorConfig  `yaml:"injector"`
	Audit     AuditConfig     `yaml:"audit"`
	Janitor   JanitorConfig   `yaml:"janitor"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AssistantConfig describes how the hosted coding assistant is launched.
type AssistantConfig struct {
	// Command is the primary launch command.
	Command string `yaml:"command"`

	// FallbackCommand is tried when the primary launch dies: an explicit
	// binary path plus the unattended-confirmation flag.
	FallbackCommand string `yaml:"fallback_command"`

	// ResumeFlag reattaches a previous conversation, given its id.
	ResumeFlag string `yaml:"resume_flag"`
}

// TerminalConfig tunes the multiplexer backend.
type TerminalConfig struct {
	// Socket isolates termclaw's tmux server from the user's own.
	// Empty uses the default server.
	Socket string `yaml:"socket"`

	// SessionPrefix namespaces the session names termclaw owns.
	SessionPrefix string `yaml:"session_prefix"`
}

// SessionsConfig locates the persisted token→session map.
type SessionsConfig struct {
	Path     string `yaml:"path"`
	TTLHours int    `yaml:"ttl_hours"`
}

// BridgeConfig locates the pending/response record directory and tunes the
// hook's wait.
type BridgeConfig struct {
	Dir             string `yaml:"dir"`
	PollIntervalMs  int    `yaml:"poll_interval_ms"`
	TimeoutMs       int    `yaml:"timeout_ms"`
	SweepAfterHours int    `yaml:"sweep_after_hours"`
}

// InjectorConfig tunes injection and the confirmation autopilot.
type InjectorConfig struct {
	MaxAttempts    int `yaml:"max_attempts"`
	PollIntervalMs int `yaml:"poll_interval_ms"`
	SettleMs       int `yaml:"settle_ms"`
	StepDelayMs    int `yaml:"step_delay_ms"`
}

// AuditConfig locates the injection audit database.
type AuditConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// JanitorConfig schedules periodic cleanup.
type JanitorConfig struct {
	// Schedule is a standard cron expression.
	Schedule string `yaml:"schedule"`
}

// GatewayConfig tunes the HTTP intake.
type GatewayConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	AuthToken string `yaml:"auth_token"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// DefaultConfig returns a Config with sensible defaults. Paths land under
// ~/.termclaw; the workspace under ~/termclaw.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	stateDir := filepath.Join(home, ".termclaw")
	return &Config{
		Workspace: filepath.Join(home, "termclaw"),
		Assistant: AssistantConfig{
			Command:         "claude",
			FallbackCommand: filepath.Join(home, ".claude", "local", "claude") + " --dangerously-skip-permissions",
			ResumeFlag:      "--resume",
		},
		Terminal: TerminalConfig{
			SessionPrefix: "termclaw-",
		},
		Sessions: SessionsConfig{
			Path:     filepath.Join(stateDir, "sessions.json"),
			TTLHours: 24,
		},
		Bridge: BridgeConfig{
			Dir:             filepath.Join(stateDir, "prompts"),
			PollIntervalMs:  500,
			TimeoutMs:       300_000,
			SweepAfterHours: 6,
		},
		Injector: InjectorConfig{
			MaxAttempts:    8,
			PollIntervalMs: 2000,
			SettleMs:       3000,
			StepDelayMs:    200,
		},
		Audit: AuditConfig{
			Path:          filepath.Join(stateDir, "audit.db"),
			RetentionDays: 30,
		},
		Janitor: JanitorConfig{
			Schedule: "*/30 * * * *",
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Address: "127.0.0.1:8791",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
