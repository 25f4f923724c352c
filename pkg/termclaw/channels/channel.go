// Package channels defines the seam between the relay and whatever carries
// messages to the remote user. The relay never talks to a transport
// directly; it hands text and prompts to a Notifier and receives raw
// command/callback strings through its own entrypoints.
package channels

import (
	"context"

	"github.com/jholhewres/termclaw/pkg/termclaw/bridge"
)

// Notifier is implemented by a message transport. Implementations render
// prompts however their medium allows (buttons, numbered replies) and feed
// the user's choice back as a callback string.
type Notifier interface {
	// Notify delivers plain text to the remote user.
	Notify(ctx context.Context, text string) error

	// NotifyPrompt presents a pending prompt identified by id. The
	// transport is expected to answer with callback strings carrying the
	// same id (perm:<id>:..., opt:<id>:..., qperm:<id>:...).
	NotifyPrompt(ctx context.Context, id string, p bridge.PendingPrompt) error
}

// NopNotifier drops everything. Used when no transport is attached, for
// example when commands arrive only through the gateway or the console.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string) error { return nil }

func (NopNotifier) NotifyPrompt(context.Context, string, bridge.PendingPrompt) error { return nil }
