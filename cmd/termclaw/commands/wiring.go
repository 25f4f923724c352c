package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/termclaw/pkg/termclaw/audit"
	"github.com/jholhewres/termclaw/pkg/termclaw/bridge"
	"github.com/jholhewres/termclaw/pkg/termclaw/channels"
	"github.com/jholhewres/termclaw/pkg/termclaw/config"
	"github.com/jholhewres/termclaw/pkg/termclaw/injector"
	"github.com/jholhewres/termclaw/pkg/termclaw/relay"
	"github.com/jholhewres/termclaw/pkg/termclaw/sessions"
	"github.com/jholhewres/termclaw/pkg/termclaw/tmux"
)

// app holds the wired components shared by serve, console and sessions.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *sessions.Store
	bridge   *bridge.Bridge
	backend  *tmux.Client
	auditLog *audit.Log
	injector *injector.Injector
	relay    *relay.Relay
	notifier channels.Notifier
}

// buildApp wires the stores, the tmux backend, the injector and the relay
// from config. notifier may be nil.
func buildApp(cfg *config.Config, notifier channels.Notifier, logger *slog.Logger) (*app, error) {
	if notifier == nil {
		notifier = channels.NopNotifier{}
	}
	store := sessions.New(cfg.Sessions.Path, logger)

	br, err := bridge.New(cfg.Bridge.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing prompt bridge: %w", err)
	}

	backend, err := tmux.NewClient(cfg.Terminal.Socket, logger)
	if err != nil {
		return nil, err
	}

	auditLog, err := audit.Open(cfg.Audit.Path, logger)
	if err != nil {
		// Injection works without the audit log; it is evidence, not a gate.
		logger.Warn("audit log unavailable, injections will not be recorded", "error", err)
		auditLog = nil
	}

	opts := injector.DefaultOptions()
	opts.LaunchCommand = cfg.Assistant.Command
	opts.FallbackCommand = cfg.Assistant.FallbackCommand
	if cfg.Injector.MaxAttempts > 0 {
		opts.MaxAttempts = cfg.Injector.MaxAttempts
	}
	if cfg.Injector.PollIntervalMs > 0 {
		opts.PollInterval = time.Duration(cfg.Injector.PollIntervalMs) * time.Millisecond
	}
	if cfg.Injector.SettleMs > 0 {
		opts.SettleDelay = time.Duration(cfg.Injector.SettleMs) * time.Millisecond
	}
	if cfg.Injector.StepDelayMs > 0 {
		opts.StepDelay = time.Duration(cfg.Injector.StepDelayMs) * time.Millisecond
	}
	inj := injector.New(backend, auditLog, opts, logger)

	relayCfg := relay.Config{
		Workspace:     cfg.Workspace,
		SessionPrefix: cfg.Terminal.SessionPrefix,
		SessionTTL:    time.Duration(cfg.Sessions.TTLHours) * time.Hour,
		LaunchCommand: cfg.Assistant.Command,
		ResumeFlag:    cfg.Assistant.ResumeFlag,
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		bridge:   br,
		backend:  backend,
		auditLog: auditLog,
		injector: inj,
		relay:    relay.New(store, br, inj, notifier, relayCfg, logger),
		notifier: notifier,
	}, nil
}

func (a *app) Close() {
	if a.auditLog != nil {
		if err := a.auditLog.Close(); err != nil {
			a.logger.Warn("closing audit log", "error", err)
		}
	}
}
