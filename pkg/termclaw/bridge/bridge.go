// Package bridge is the file-based rendezvous between the assistant's
// permission hook and the remote client. The hook process publishes a
// pending prompt and polls for an answer; the relay writes the answer when
// the remote user decides. Records live under one directory as
// `pending-<id>` / `response-<id>`, which is the external contract consumed
// by out-of-process hooks: the file names and JSON bodies must not change.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prompt kinds raised by the assistant.
const (
	PromptPermission       = "permission"
	PromptPlan             = "plan"
	PromptQuestion         = "question"
	PromptQuestionFreetext = "question-freetext"
)

// Response kinds supplied by the remote client.
const (
	ResponsePermission      = "permission-response"
	ResponseQuickPermission = "quick-permission-response"
)

// Permission actions.
const (
	ActionAllow  = "allow"
	ActionDeny   = "deny"
	ActionAlways = "always"
)

// PendingPrompt is one outstanding permission/plan/question awaiting a
// remote decision. Timestamps are unix milliseconds.
type PendingPrompt struct {
	Kind                string  `json:"type"`
	Workspace           string  `json:"workspace"`
	TerminalSessionName *string `json:"terminalSessionName"`
	CreatedAt           int64   `json:"createdAt"` // unix ms

	// Question-only fields.
	OptionTexts []string `json:"optionTexts,omitempty"`
	MultiSelect bool     `json:"multiSelect,omitempty"`
	Selected    []bool   `json:"selected,omitempty"`
	IsLast      bool     `json:"isLast,omitempty"`
}

// PromptResponse is the remote user's decision. Timestamps are unix
// milliseconds.
type PromptResponse struct {
	Kind           string `json:"type"`
	Action         string `json:"action"`
	SelectedOption int    `json:"selectedOption,omitempty"`
	RespondedAt    int64  `json:"respondedAt"` // unix ms
}

// Outcome is the result of awaiting a response. When TimedOut is set, no
// response appeared within the budget and the pending record was left in
// place for the caller to delete (a late answer must not be silently
// accepted by a future prompt reusing the id).
type Outcome struct {
	Response PromptResponse
	// Pending is the final state of the pending record at consumption time,
	// so option selections toggled by the remote side are visible to the
	// publisher. Nil if the record had already vanished.
	Pending  *PendingPrompt
	TimedOut bool
}

// Bridge reads and writes prompt records under a single directory.
// Id uniqueness is the caller's job; use NewPromptID.
type Bridge struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Bridge over dir, creating it if needed.
func New(dir string, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating bridge directory: %w", err)
	}
	return &Bridge{
		dir:    dir,
		logger: logger.With("component", "bridge"),
		now:    time.Now,
	}, nil
}

// NewPromptID returns a non-predictable prompt id. Ids must be unique per
// outstanding prompt; the bridge performs no uniqueness enforcement itself.
func NewPromptID() string {
	return uuid.NewString()
}

// Publish writes the pending record for id.
func (b *Bridge) Publish(id string, p PendingPrompt) error {
	if p.CreatedAt == 0 {
		p.CreatedAt = b.now().UnixMilli()
	}
	return b.writeRecord(b.pendingPath(id), p)
}

// SupplyResponse writes the response record for id. Writing a response for
// an id with no matching pending record is not an error: the publisher
// simply never observes it and the janitor garbage-collects it later.
func (b *Bridge) SupplyResponse(id string, r PromptResponse) error {
	if r.RespondedAt == 0 {
		r.RespondedAt = b.now().UnixMilli()
	}
	return b.writeRecord(b.responsePath(id), r)
}

// AwaitResponse polls for the response record every poll interval. On first
// appearance it consumes the exchange (reads the response, snapshots the
// pending record, deletes both) and returns it. At-most-once: a second
// await on the same id times out. If timeout elapses first, Outcome.TimedOut
// is set and the pending record is left for the caller.
func (b *Bridge) AwaitResponse(ctx context.Context, id string, poll, timeout time.Duration) (Outcome, error) {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	deadline := b.now().Add(timeout)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if out, ok, err := b.tryConsume(id); err != nil {
			return Outcome{}, err
		} else if ok {
			return out, nil
		}

		if !b.now().Before(deadline) {
			return Outcome{TimedOut: true}, nil
		}

		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// tryConsume checks for a response record once and consumes it if present.
func (b *Bridge) tryConsume(id string) (Outcome, bool, error) {
	data, err := os.ReadFile(b.responsePath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Outcome{}, false, nil
		}
		return Outcome{}, false, fmt.Errorf("reading response record: %w", err)
	}

	var resp PromptResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Outcome{}, false, fmt.Errorf("decoding response record: %w", err)
	}

	var pending *PendingPrompt
	if p, err := b.ReadPending(id); err == nil {
		pending = p
	}

	if err := os.Remove(b.responsePath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		b.logger.Warn("failed to delete response record", "id", id, "error", err)
	}
	if err := b.DeletePending(id); err != nil {
		b.logger.Warn("failed to delete pending record", "id", id, "error", err)
	}

	return Outcome{Response: resp, Pending: pending}, true, nil
}

// ReadPending returns the pending record for id, or an error if absent or
// unreadable.
func (b *Bridge) ReadPending(id string) (*PendingPrompt, error) {
	data, err := os.ReadFile(b.pendingPath(id))
	if err != nil {
		return nil, fmt.Errorf("reading pending record: %w", err)
	}
	var p PendingPrompt
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding pending record: %w", err)
	}
	return &p, nil
}

// UpdatePending rewrites the pending record for id through fn. Used to
// toggle option selections on question prompts before submission.
func (b *Bridge) UpdatePending(id string, fn func(*PendingPrompt)) error {
	p, err := b.ReadPending(id)
	if err != nil {
		return err
	}
	fn(p)
	return b.writeRecord(b.pendingPath(id), p)
}

// DeletePending removes the pending record for id. Absent records are fine.
func (b *Bridge) DeletePending(id string) error {
	err := os.Remove(b.pendingPath(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting pending record: %w", err)
	}
	return nil
}

// ListPending returns all pending prompts keyed by id. Records that vanish
// or fail to decode mid-scan are skipped; the remote side only ever needs a
// point-in-time view.
func (b *Bridge) ListPending() (map[string]PendingPrompt, error) {
	names, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("listing bridge directory: %w", err)
	}
	out := make(map[string]PendingPrompt)
	for _, de := range names {
		id, ok := strings.CutPrefix(de.Name(), "pending-")
		if !ok || id == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.dir, de.Name()))
		if err != nil {
			continue
		}
		var p PendingPrompt
		if err := json.Unmarshal(data, &p); err != nil {
			b.logger.Warn("skipping undecodable pending record", "id", id, "error", err)
			continue
		}
		out[id] = p
	}
	return out, nil
}

// SweepOlderThan deletes pending and response records older than age,
// returning how many files were removed. Orphaned responses (answers that
// arrived after a timeout deleted their pending record) are collected here.
func (b *Bridge) SweepOlderThan(age time.Duration) (int, error) {
	names, err := os.ReadDir(b.dir)
	if err != nil {
		return 0, fmt.Errorf("listing bridge directory: %w", err)
	}
	cutoff := b.now().Add(-age)
	removed := 0
	for _, de := range names {
		name := de.Name()
		if !strings.HasPrefix(name, "pending-") && !strings.HasPrefix(name, "response-") {
			continue
		}
		info, err := de.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(b.dir, name)); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (b *Bridge) pendingPath(id string) string {
	return filepath.Join(b.dir, "pending-"+id)
}

func (b *Bridge) responsePath(id string) string {
	return filepath.Join(b.dir, "response-"+id)
}

func (b *Bridge) writeRecord(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}
