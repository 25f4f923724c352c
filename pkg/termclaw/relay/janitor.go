package relay

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/termclaw/pkg/termclaw/audit"
	"github.com/jholhewres/termclaw/pkg/termclaw/bridge"
	"github.com/jholhewres/termclaw/pkg/termclaw/sessions"
)

// Janitor periodically prunes expired session entries, sweeps stale bridge
// records (including orphaned responses that arrived after a timeout), and
// trims old audit rows. One failed task never stops the others.
type Janitor struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewJanitor schedules the cleanup run. schedule is a standard cron
// expression; auditLog may be nil.
func NewJanitor(store *sessions.Store, br *bridge.Bridge, auditLog *audit.Log,
	schedule string, sweepAge, auditAge time.Duration, logger *slog.Logger) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "janitor")

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if n, err := store.PruneExpired(); err != nil {
			log.Warn("pruning expired sessions failed", "error", err)
		} else if n > 0 {
			log.Info("pruned expired sessions", "count", n)
		}

		if n, err := br.SweepOlderThan(sweepAge); err != nil {
			log.Warn("sweeping bridge records failed", "error", err)
		} else if n > 0 {
			log.Info("swept stale bridge records", "count", n)
		}

		if auditLog != nil {
			if n, err := auditLog.PruneOlderThan(auditAge); err != nil {
				log.Warn("pruning audit entries failed", "error", err)
			} else if n > 0 {
				log.Info("pruned audit entries", "count", n)
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling janitor: %w", err)
	}
	return &Janitor{cron: c, logger: log}, nil
}

// Start begins the schedule in its own goroutine.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("janitor started")
}

// Stop halts the schedule and waits for a running cleanup to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info("janitor stopped")
}
