package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/termclaw/pkg/termclaw/config"
	"github.com/jholhewres/termclaw/pkg/termclaw/gateway"
	"github.com/jholhewres/termclaw/pkg/termclaw/relay"
)

// newServeCmd creates the `termclaw serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon with the HTTP gateway and janitor",
		Long: `Start termclaw as a daemon: the HTTP gateway accepts commands and
callbacks, the janitor prunes expired sessions and stale prompt records.

Examples:
  termclaw serve
  termclaw serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := buildLogger(cmd, cfg)
	if configPath != "" {
		logger.Info("config loaded", "path", configPath)
	} else {
		logger.Info("no config file found, using defaults", "hint", "run `termclaw setup`")
	}

	config.ResolveGatewayToken(cfg, logger)

	a, err := buildApp(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	janitor, err := relay.NewJanitor(
		a.store, a.bridge, a.auditLog,
		cfg.Janitor.Schedule,
		time.Duration(cfg.Bridge.SweepAfterHours)*time.Hour,
		time.Duration(cfg.Audit.RetentionDays)*24*time.Hour,
		logger,
	)
	if err != nil {
		return err
	}
	janitor.Start()

	// Hooks publish prompts out of process; the watcher is how they reach
	// the remote user.
	watcher := relay.NewWatcher(
		a.bridge, a.notifier,
		time.Duration(cfg.Bridge.PollIntervalMs)*time.Millisecond,
		logger,
	)
	watcher.Start(ctx)

	var gw *gateway.Gateway
	if cfg.Gateway.Enabled {
		gw = gateway.New(a.relay, gateway.Config{
			Address:   cfg.Gateway.Address,
			AuthToken: cfg.Gateway.AuthToken,
		}, logger)
		if err := gw.Start(ctx); err != nil {
			logger.Error("failed to start gateway", "error", err)
		}
	}

	logger.Info("termclaw running. Press Ctrl+C to stop.",
		"workspace", cfg.Workspace,
		"sessions", cfg.Sessions.Path,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		watcher.Stop()
		janitor.Stop()
		if gw != nil {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			_ = gw.Stop(shutdownCtx)
			cancelShutdown()
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}
