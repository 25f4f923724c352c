package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jholhewres/termclaw/pkg/termclaw/audit"
	"github.com/jholhewres/termclaw/pkg/termclaw/injector"
	"github.com/jholhewres/termclaw/pkg/termclaw/sessions"
)

// newSessionsCmd creates the `termclaw sessions` command group.
func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage tracked terminal sessions",
	}
	cmd.AddCommand(
		newSessionsListCmd(),
		newSessionsNewCmd(),
		newSessionsKillCmd(),
		newSessionsPruneCmd(),
		newSessionsAuditCmd(),
	)
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked sessions with their live status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := buildLogger(cmd, cfg)
			a, err := buildApp(cfg, nil, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.store.All()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no tracked sessions")
				return nil
			}

			ctx := context.Background()
			now := time.Now()
			fmt.Printf("%-10s %-24s %-12s %-20s %s\n", "TOKEN", "SESSION", "STATUS", "EXPIRES", "WORKSPACE")
			for _, e := range entries {
				status := liveStatus(ctx, a, e, now)
				expires := time.Unix(e.ExpiresAt, 0).Format("2006-01-02 15:04")
				fmt.Printf("%-10s %-24s %-12s %-20s %s\n",
					e.Token, e.TerminalSessionName, status, expires, e.WorkingDirectory)
			}
			return nil
		},
	}
}

// liveStatus combines entry expiry with what the session's screen shows.
func liveStatus(ctx context.Context, a *app, e sessions.Entry, now time.Time) string {
	if e.Expired(now) {
		return "expired"
	}
	state, err := a.injector.SessionState(ctx, e.TerminalSessionName)
	if err != nil {
		return string(injector.StateUnknown)
	}
	return string(state)
}

func newSessionsNewCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "new <dir>",
		Short: "Register and start a session in the given directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := buildLogger(cmd, cfg)
			a, err := buildApp(cfg, nil, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if description == "" {
				description = filepath.Base(dir)
			}

			token := uuid.NewString()[:8]
			name := cfg.Terminal.SessionPrefix + token
			now := time.Now()
			err = a.store.Put(token, sessions.Entry{
				Type:                "project",
				SessionType:         sessions.SessionTypeMultiplexer,
				CreatedAt:           now.Unix(),
				ExpiresAt:           now.Add(time.Duration(cfg.Sessions.TTLHours) * time.Hour).Unix(),
				WorkingDirectory:    dir,
				TerminalSessionName: name,
				Description:         description,
			})
			if err != nil {
				return err
			}

			if err := a.injector.EnsureSession(context.Background(), name, dir); err != nil {
				return fmt.Errorf("session registered as %s but failed to start: %w", token, err)
			}
			fmt.Printf("session %s started, token %s\n", name, token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "description shown in listings")
	return cmd
}

func newSessionsKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <token>",
		Short: "Kill a session's terminal and remove its entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := buildLogger(cmd, cfg)
			a, err := buildApp(cfg, nil, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.store.Resolve(args[0])
			if err != nil {
				return err
			}
			switch res.Kind {
			case sessions.MatchNone:
				return fmt.Errorf("no session matches token %q", args[0])
			case sessions.MatchAmbiguous:
				for _, m := range res.Candidates {
					fmt.Printf("  %s  %s\n", m.Token, m.Workspace)
				}
				return fmt.Errorf("token %q is ambiguous", args[0])
			}

			e := res.Match.Entry
			if err := a.backend.KillSession(context.Background(), e.TerminalSessionName); err != nil {
				logger.Warn("terminal session not killed (may already be gone)",
					"session", e.TerminalSessionName, "error", err)
			}
			if err := a.store.Remove(res.Match.Token); err != nil {
				return err
			}
			fmt.Printf("session %s removed\n", res.Match.Token)
			return nil
		},
	}
}

func newSessionsAuditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the most recently injected commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := buildLogger(cmd, cfg)

			log, err := audit.Open(cfg.Audit.Path, logger)
			if err != nil {
				return fmt.Errorf("opening audit log: %w", err)
			}
			defer log.Close()

			entries, err := log.Recent(limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no recorded injections")
				return nil
			}
			fmt.Printf("%-20s %-24s %-7s %s\n", "TIME", "SESSION", "PID", "COMMAND")
			for _, e := range entries {
				fmt.Printf("%-20s %-24s %-7d %s\n",
					e.Timestamp.Local().Format("2006-01-02 15:04:05"),
					e.Session, e.PID, e.Command)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}

func newSessionsPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete expired session entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := buildLogger(cmd, cfg)
			store := sessions.New(cfg.Sessions.Path, logger)

			n, err := store.PruneExpired()
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d expired session(s)\n", n)
			return nil
		},
	}
}
