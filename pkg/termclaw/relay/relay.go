// Package relay is the orchestrator between remote input and the terminal.
// It resolves session tokens, serializes injections per session, answers
// prompt callbacks through the bridge, and manages project session
// lifecycle (create, resume). Transports and the gateway feed it raw
// token+command text and callback strings; it replies with user-facing text
// and mirrors that text to the attached Notifier.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/termclaw/pkg/termclaw/bridge"
	"github.com/jholhewres/termclaw/pkg/termclaw/callback"
	"github.com/jholhewres/termclaw/pkg/termclaw/channels"
	"github.com/jholhewres/termclaw/pkg/termclaw/injector"
	"github.com/jholhewres/termclaw/pkg/termclaw/sessions"
)

// Config tunes the relay's session lifecycle behavior.
type Config struct {
	// Workspace is the root directory new project directories are created in.
	Workspace string

	// SessionPrefix namespaces the terminal session names the relay owns.
	SessionPrefix string

	// SessionTTL is how long a newly created session entry stays resolvable.
	SessionTTL time.Duration

	// LaunchCommand is the assistant base command, used to compose resume
	// launches together with ResumeFlag.
	LaunchCommand string

	// ResumeFlag is the assistant flag that reattaches a previous
	// conversation, taking the assistant session id as its argument.
	ResumeFlag string
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		SessionPrefix: "termclaw-",
		SessionTTL:    24 * time.Hour,
		LaunchCommand: "claude",
		ResumeFlag:    "--resume",
	}
}

// Relay wires the stores and the injector together behind two entrypoints:
// HandleCommand for raw token+command text and HandleCallback for UI action
// strings. Both return the user-facing reply and mirror it to the Notifier.
type Relay struct {
	store    *sessions.Store
	bridge   *bridge.Bridge
	inj      *injector.Injector
	notifier channels.Notifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time

	// locks serializes injection pipelines per terminal session name.
	// Distinct sessions run fully concurrently.
	locks sync.Map // string -> *sync.Mutex
}

// New creates a Relay. notifier may be nil, in which case replies are only
// returned to the caller.
func New(store *sessions.Store, br *bridge.Bridge, inj *injector.Injector, notifier channels.Notifier, cfg Config, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = channels.NopNotifier{}
	}
	if cfg.SessionPrefix == "" {
		cfg.SessionPrefix = DefaultConfig().SessionPrefix
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultConfig().SessionTTL
	}
	return &Relay{
		store:    store,
		bridge:   br,
		inj:      inj,
		notifier: notifier,
		logger:   logger.With("component", "relay"),
		cfg:      cfg,
		now:      time.Now,
	}
}

func (r *Relay) sessionLock(name string) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(name, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// reply mirrors text to the notifier and hands it back to the caller.
func (r *Relay) reply(ctx context.Context, text string) string {
	if err := r.notifier.Notify(ctx, text); err != nil {
		r.logger.Warn("notify failed", "error", err)
	}
	return text
}

// PendingPrompts lists the prompts currently awaiting a remote answer,
// keyed by the id a perm/opt/qperm callback must carry.
func (r *Relay) PendingPrompts() (map[string]bridge.PendingPrompt, error) {
	return r.bridge.ListPending()
}

// HandleCommand resolves token and injects command into the matched session.
// Resolution misses and ambiguity are user errors reported in the reply, not
// Go errors; only infrastructure failures return a non-nil error.
func (r *Relay) HandleCommand(ctx context.Context, token, command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return r.reply(ctx, "empty command, nothing to send"), nil
	}

	res, err := r.store.Resolve(token)
	if err != nil {
		return "", fmt.Errorf("resolving token: %w", err)
	}

	switch res.Kind {
	case sessions.MatchNone:
		return r.reply(ctx, fmt.Sprintf("no session matches token %q", token)), nil
	case sessions.MatchAmbiguous:
		var b strings.Builder
		fmt.Fprintf(&b, "token %q is ambiguous, matching sessions:\n", token)
		for _, m := range res.Candidates {
			fmt.Fprintf(&b, "  %s  %s  %s\n", m.Token, m.Workspace, m.Entry.Description)
		}
		b.WriteString("resend with a longer token")
		return r.reply(ctx, b.String()), nil
	}

	entry := res.Match.Entry
	name := entry.TerminalSessionName

	mu := r.sessionLock(name)
	mu.Lock()
	defer mu.Unlock()

	if err := r.inj.EnsureSession(ctx, name, entry.WorkingDirectory); err != nil {
		r.logger.Error("session unavailable", "session", name, "error", err)
		return r.reply(ctx, fmt.Sprintf("session %s could not be started: %v", name, err)), nil
	}

	r.logger.Info("injecting command", "session", name, "token", res.Match.Token)
	result, err := r.inj.Inject(ctx, name, command)
	if err != nil {
		return "", fmt.Errorf("injecting into %s: %w", name, err)
	}
	return r.reply(ctx, describeResult(name, result)), nil
}

// describeResult renders the post-injection state for the remote user.
func describeResult(name string, res injector.Result) string {
	tail := strings.TrimSpace(strings.Join(lastLines(res.Screen, 8), "\n"))
	switch res.State {
	case injector.StateIdle:
		if tail == "" {
			return fmt.Sprintf("%s: done", name)
		}
		return fmt.Sprintf("%s: done\n%s", name, tail)
	case injector.StateFailed:
		return fmt.Sprintf("%s: the session reported an error\n%s", name, tail)
	default:
		if tail == "" {
			return fmt.Sprintf("%s: command sent, still running", name)
		}
		return fmt.Sprintf("%s: command sent, still running\n%s", name, tail)
	}
}

func lastLines(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// HandleCallback routes one UI action string. Malformed callbacks are
// silently dropped per the wire contract: stale or truncated button presses
// must not produce errors.
func (r *Relay) HandleCallback(ctx context.Context, data string) (string, error) {
	cb, ok := callback.Parse(data)
	if !ok {
		r.logger.Debug("dropping malformed callback", "data", data)
		return "", nil
	}

	switch cb.Kind {
	case callback.KindPermission:
		return r.handlePermission(ctx, cb)
	case callback.KindQuickPermission:
		return r.handleQuickPermission(ctx, cb)
	case callback.KindOption:
		return r.handleOptionToggle(ctx, cb)
	case callback.KindOptionSubmit:
		return r.handleOptionSubmit(ctx, cb)
	case callback.KindNewProject:
		return r.handleNewProject(ctx, cb)
	case callback.KindResumeProject:
		return r.handleResumeProject(ctx, cb)
	case callback.KindResumeSession:
		return r.handleResumeSession(ctx, cb)
	case callback.KindResumeConfirm:
		return r.handleResumeConfirm(ctx, cb)
	}
	return "", nil
}

func (r *Relay) handlePermission(ctx context.Context, cb callback.Callback) (string, error) {
	err := r.bridge.SupplyResponse(cb.PromptID, bridge.PromptResponse{
		Kind:   bridge.ResponsePermission,
		Action: cb.Action,
	})
	if err != nil {
		return "", fmt.Errorf("supplying permission response: %w", err)
	}
	return r.reply(ctx, fmt.Sprintf("permission answer recorded: %s", cb.Action)), nil
}

func (r *Relay) handleQuickPermission(ctx context.Context, cb callback.Callback) (string, error) {
	err := r.bridge.SupplyResponse(cb.PromptID, bridge.PromptResponse{
		Kind:           bridge.ResponseQuickPermission,
		Action:         bridge.ActionAllow,
		SelectedOption: cb.Option,
	})
	if err != nil {
		return "", fmt.Errorf("supplying quick permission response: %w", err)
	}
	return r.reply(ctx, fmt.Sprintf("option %d selected", cb.Option)), nil
}

// handleOptionToggle flips one option on a question prompt. The final
// selection vector travels with the pending record and is observed by the
// publisher when the prompt is submitted.
func (r *Relay) handleOptionToggle(ctx context.Context, cb callback.Callback) (string, error) {
	var state string
	err := r.bridge.UpdatePending(cb.PromptID, func(p *bridge.PendingPrompt) {
		if cb.Option < 0 || cb.Option >= len(p.OptionTexts) {
			return
		}
		if len(p.Selected) != len(p.OptionTexts) {
			p.Selected = make([]bool, len(p.OptionTexts))
		}
		if p.MultiSelect {
			p.Selected[cb.Option] = !p.Selected[cb.Option]
		} else {
			for i := range p.Selected {
				p.Selected[i] = i == cb.Option
			}
		}
		state = p.OptionTexts[cb.Option]
	})
	if err != nil {
		// The prompt is gone (answered or expired); an old button press.
		r.logger.Debug("option toggle for absent prompt", "id", cb.PromptID, "error", err)
		return r.reply(ctx, "that prompt is no longer active"), nil
	}
	if state == "" {
		return r.reply(ctx, "that option does not exist"), nil
	}
	return r.reply(ctx, fmt.Sprintf("toggled: %s", state)), nil
}

func (r *Relay) handleOptionSubmit(ctx context.Context, cb callback.Callback) (string, error) {
	err := r.bridge.SupplyResponse(cb.PromptID, bridge.PromptResponse{
		Kind:   bridge.ResponsePermission,
		Action: bridge.ActionAllow,
	})
	if err != nil {
		return "", fmt.Errorf("submitting options: %w", err)
	}
	return r.reply(ctx, "selection submitted"), nil
}

// handleNewProject creates a project directory, registers a session entry
// under a fresh token, and starts the terminal session.
func (r *Relay) handleNewProject(ctx context.Context, cb callback.Callback) (string, error) {
	dir := filepath.Join(r.cfg.Workspace, sanitizeName(cb.ProjectName))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating project directory: %w", err)
	}

	token := newToken()
	name := r.cfg.SessionPrefix + token
	now := r.now()
	entry := sessions.Entry{
		Token:               token,
		Type:                "project",
		SessionType:         sessions.SessionTypeMultiplexer,
		CreatedAt:           now.Unix(),
		ExpiresAt:           now.Add(r.cfg.SessionTTL).Unix(),
		WorkingDirectory:    dir,
		TerminalSessionName: name,
		Description:         cb.ProjectName,
	}
	if err := r.store.Put(token, entry); err != nil {
		return "", fmt.Errorf("registering session: %w", err)
	}

	if err := r.inj.EnsureSession(ctx, name, dir); err != nil {
		return r.reply(ctx, fmt.Sprintf("project %s registered as %s, but the session failed to start: %v",
			cb.ProjectName, token, err)), nil
	}
	return r.reply(ctx, fmt.Sprintf("project %s ready, token %s", cb.ProjectName, token)), nil
}

// handleResumeProject lists the project's recorded sessions so the user can
// pick one to resume via an rs callback.
func (r *Relay) handleResumeProject(ctx context.Context, cb callback.Callback) (string, error) {
	entries, err := r.projectEntries(cb.ProjectName)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return r.reply(ctx, fmt.Sprintf("no recorded sessions for project %s", cb.ProjectName)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "sessions for %s:\n", cb.ProjectName)
	for i, e := range entries {
		resumable := "not resumable"
		if e.AssistantSessionID != nil {
			resumable = "resumable"
		}
		fmt.Fprintf(&b, "  %d. %s (%s, %s)\n", i, e.Token,
			time.Unix(e.CreatedAt, 0).Format("2006-01-02 15:04"), resumable)
	}
	fmt.Fprintf(&b, "pick one with %s", callback.Callback{
		Kind: callback.KindResumeSession, ProjectName: cb.ProjectName, SessionIdx: 0,
	}.Encode())
	return r.reply(ctx, b.String()), nil
}

// handleResumeSession asks for confirmation before resuming; the confirming
// rc callback carries the same project and index.
func (r *Relay) handleResumeSession(ctx context.Context, cb callback.Callback) (string, error) {
	entries, err := r.projectEntries(cb.ProjectName)
	if err != nil {
		return "", err
	}
	if cb.SessionIdx < 0 || cb.SessionIdx >= len(entries) {
		return r.reply(ctx, fmt.Sprintf("project %s has no session %d", cb.ProjectName, cb.SessionIdx)), nil
	}
	confirm := callback.Callback{
		Kind: callback.KindResumeConfirm, ProjectName: cb.ProjectName, SessionIdx: cb.SessionIdx,
	}.Encode()
	return r.reply(ctx, fmt.Sprintf("resume session %d of %s? confirm with %s",
		cb.SessionIdx, cb.ProjectName, confirm)), nil
}

// handleResumeConfirm relaunches the assistant with its resume flag pointing
// at the recorded assistant session, under a fresh token.
func (r *Relay) handleResumeConfirm(ctx context.Context, cb callback.Callback) (string, error) {
	entries, err := r.projectEntries(cb.ProjectName)
	if err != nil {
		return "", err
	}
	if cb.SessionIdx < 0 || cb.SessionIdx >= len(entries) {
		return r.reply(ctx, fmt.Sprintf("project %s has no session %d", cb.ProjectName, cb.SessionIdx)), nil
	}
	prev := entries[cb.SessionIdx]
	if prev.AssistantSessionID == nil {
		return r.reply(ctx, "that session has no recorded assistant conversation to resume"), nil
	}

	token := newToken()
	name := r.cfg.SessionPrefix + token
	now := r.now()
	entry := sessions.Entry{
		Token:               token,
		Type:                prev.Type,
		SessionType:         sessions.SessionTypeMultiplexer,
		CreatedAt:           now.Unix(),
		ExpiresAt:           now.Add(r.cfg.SessionTTL).Unix(),
		WorkingDirectory:    prev.WorkingDirectory,
		AssistantSessionID:  prev.AssistantSessionID,
		TerminalSessionName: name,
		Description:         prev.Description,
	}
	if err := r.store.Put(token, entry); err != nil {
		return "", fmt.Errorf("registering resumed session: %w", err)
	}

	launch := injector.LaunchWithArgs(r.cfg.LaunchCommand, r.cfg.ResumeFlag, *prev.AssistantSessionID)
	if err := r.inj.EnsureSessionWith(ctx, name, prev.WorkingDirectory, launch); err != nil {
		return r.reply(ctx, fmt.Sprintf("resume registered as %s, but the session failed to start: %v",
			token, err)), nil
	}
	return r.reply(ctx, fmt.Sprintf("resumed %s session %d, new token %s",
		cb.ProjectName, cb.SessionIdx, token)), nil
}

// projectEntries returns the non-expired entries recorded for a project
// name, oldest first, so listing indices are stable across rp/rs/rc.
func (r *Relay) projectEntries(project string) ([]sessions.Entry, error) {
	all, err := r.store.All()
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	now := r.now()
	var out []sessions.Entry
	for _, e := range all {
		if e.Description == project && !e.Expired(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].Token < out[j].Token
	})
	return out, nil
}

func newToken() string {
	return uuid.NewString()[:8]
}

// sanitizeName makes a project name safe as a single path element. Colons
// are legal in names but not wanted in directories.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, ":", "-")
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "project"
	}
	return name
}
