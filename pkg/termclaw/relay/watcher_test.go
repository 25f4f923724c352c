package relay

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/jholhewres/termclaw/pkg/termclaw/bridge"
)

func newTestWatcher(t *testing.T) (*Watcher, *bridge.Bridge, *recordingNotifier) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	br, err := bridge.New(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	notifier := &recordingNotifier{}
	return NewWatcher(br, notifier, 0, logger), br, notifier
}

func TestWatcherAnnouncesEachPromptOnce(t *testing.T) {
	w, br, notifier := newTestWatcher(t)
	ctx := context.Background()

	if err := br.Publish("p1", bridge.PendingPrompt{Kind: bridge.PromptPermission}); err != nil {
		t.Fatal(err)
	}

	w.sweep(ctx)
	w.sweep(ctx)
	if len(notifier.prompts) != 1 || notifier.prompts[0] != "p1" {
		t.Fatalf("announced = %v, want [p1]", notifier.prompts)
	}

	// A second prompt appearing later is picked up without re-announcing
	// the first.
	if err := br.Publish("p2", bridge.PendingPrompt{Kind: bridge.PromptQuestion}); err != nil {
		t.Fatal(err)
	}
	w.sweep(ctx)
	if len(notifier.prompts) != 2 || notifier.prompts[1] != "p2" {
		t.Errorf("announced = %v, want [p1 p2]", notifier.prompts)
	}
}

func TestWatcherForgetsConsumedPrompts(t *testing.T) {
	w, br, notifier := newTestWatcher(t)
	ctx := context.Background()

	if err := br.Publish("p1", bridge.PendingPrompt{Kind: bridge.PromptPermission}); err != nil {
		t.Fatal(err)
	}
	w.sweep(ctx)

	if err := br.DeletePending("p1"); err != nil {
		t.Fatal(err)
	}
	w.sweep(ctx)

	// The id namespace may be reused after the record is gone; the reused
	// prompt must be announced as a fresh one.
	if err := br.Publish("p1", bridge.PendingPrompt{Kind: bridge.PromptPermission}); err != nil {
		t.Fatal(err)
	}
	w.sweep(ctx)
	if len(notifier.prompts) != 2 {
		t.Errorf("announced = %v, want p1 twice", notifier.prompts)
	}
}

func TestWatcherRetriesFailedAnnouncements(t *testing.T) {
	w, br, notifier := newTestWatcher(t)
	ctx := context.Background()

	if err := br.Publish("p1", bridge.PendingPrompt{Kind: bridge.PromptPermission}); err != nil {
		t.Fatal(err)
	}

	notifier.promptErr = errors.New("transport down")
	w.sweep(ctx)
	if len(notifier.prompts) != 0 {
		t.Fatalf("announced = %v, want none while failing", notifier.prompts)
	}

	notifier.promptErr = nil
	w.sweep(ctx)
	if len(notifier.prompts) != 1 || notifier.prompts[0] != "p1" {
		t.Errorf("announced = %v, want [p1] after recovery", notifier.prompts)
	}
}

func TestPendingPromptsListsBridgeRecords(t *testing.T) {
	f := newFixture(t, "> ")

	id := bridge.NewPromptID()
	if err := f.bridge.Publish(id, bridge.PendingPrompt{
		Kind:      bridge.PromptPermission,
		Workspace: "/work/app",
	}); err != nil {
		t.Fatal(err)
	}

	prompts, err := f.relay.PendingPrompts()
	if err != nil {
		t.Fatal(err)
	}
	p, ok := prompts[id]
	if !ok {
		t.Fatalf("prompts = %v, want %s", prompts, id)
	}
	if p.Workspace != "/work/app" {
		t.Errorf("workspace = %q", p.Workspace)
	}
}
