package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/jholhewres/termclaw/pkg/termclaw/bridge"
	"github.com/jholhewres/termclaw/pkg/termclaw/channels"
)

// Watcher announces newly published prompts to the notifier. The hook
// process that publishes a prompt only knows the bridge directory, so
// without the watcher the remote user would never learn the prompt id a
// perm/opt/qperm callback must carry.
type Watcher struct {
	bridge   *bridge.Bridge
	notifier channels.Notifier
	logger   *slog.Logger
	interval time.Duration

	// announced tracks which prompt ids were already pushed. Only touched by
	// the run goroutine.
	announced map[string]bool

	stop chan struct{}
	done chan struct{}
}

// NewWatcher creates a Watcher polling br every interval.
func NewWatcher(br *bridge.Bridge, notifier channels.Notifier, interval time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = channels.NopNotifier{}
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Watcher{
		bridge:    br,
		notifier:  notifier,
		logger:    logger.With("component", "prompt-watcher"),
		interval:  interval,
		announced: map[string]bool{},
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins polling in its own goroutine.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
	w.logger.Info("prompt watcher started", "interval", w.interval)
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
		}
	}
}

// sweep pushes every not-yet-announced pending prompt through the notifier
// and forgets ids whose record was consumed, so a reused id namespace gets
// announced again.
func (w *Watcher) sweep(ctx context.Context) {
	pending, err := w.bridge.ListPending()
	if err != nil {
		w.logger.Warn("listing pending prompts failed", "error", err)
		return
	}

	for id := range w.announced {
		if _, ok := pending[id]; !ok {
			delete(w.announced, id)
		}
	}

	for id, p := range pending {
		if w.announced[id] {
			continue
		}
		if err := w.notifier.NotifyPrompt(ctx, id, p); err != nil {
			// Retried on the next sweep.
			w.logger.Warn("prompt notification failed", "id", id, "error", err)
			continue
		}
		w.announced[id] = true
		w.logger.Info("prompt announced", "id", id, "kind", p.Kind)
	}
}

// Stop halts polling and waits for the goroutine to exit.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
	w.logger.Info("prompt watcher stopped")
}
