// Package injector delivers commands into a terminal-hosted coding
// assistant and babysits the confirmation prompts it raises afterwards.
//
// Injection is a strictly ordered pipeline per session: clear the input box,
// type the command, press the execute key, then run the confirmation
// autopilot against captured screen output until the session looks idle,
// errors, or the attempt budget runs out. The inter-step delays are part of
// the contract: sending everything at once makes the hosted program drop or
// reorder keystrokes while it redraws.
package injector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"

	"github.com/jholhewres/termclaw/pkg/termclaw/audit"
	"github.com/jholhewres/termclaw/pkg/termclaw/tmux"
)

// State describes what the session looked like last time we checked.
type State string

const (
	StateUnknown              State = "unknown"
	StateMissing              State = "missing"
	StateReady                State = "ready"
	StateExecuting            State = "executing"
	StateAwaitingConfirmation State = "awaiting-confirmation"
	StateIdle                 State = "idle"
	StateFailed               State = "failed"
)

// ErrSessionCreationFailed means both the primary and the fallback launch
// attempts failed. Terminal: the caller should not retry automatically.
var ErrSessionCreationFailed = errors.New("both launch attempts failed")

// Step identifies which of the three send operations failed.
type Step string

const (
	StepClear   Step = "clear"
	StepType    Step = "type"
	StepExecute Step = "execute"
)

// StepError reports a failed injection step. The whole injection aborts on
// the first failed step.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("injection step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Options tunes the injector. The defaults mirror how long the hosted
// assistant actually takes to start up and redraw.
type Options struct {
	// LaunchCommand starts the assistant for new sessions.
	LaunchCommand string

	// FallbackCommand is tried when the primary launch dies: an explicit
	// binary path plus the flag that forces unattended confirmations.
	FallbackCommand string

	// SettleDelay is how long a freshly launched session gets to finish its
	// own startup before it is considered ready for input.
	SettleDelay time.Duration

	// StepDelay separates the clear/type/execute keystroke operations.
	StepDelay time.Duration

	// PollInterval is the autopilot's wait before each screen capture.
	PollInterval time.Duration

	// ExtendedPollInterval replaces PollInterval for the next capture when
	// no cue was recognized on the screen.
	ExtendedPollInterval time.Duration

	// MaxAttempts bounds the autopilot's capture loop.
	MaxAttempts int
}

// DefaultOptions returns the tuning used in production.
func DefaultOptions() Options {
	home, _ := os.UserHomeDir()
	return Options{
		LaunchCommand:        "claude",
		FallbackCommand:      home + "/.claude/local/claude --dangerously-skip-permissions",
		SettleDelay:          3 * time.Second,
		StepDelay:            200 * time.Millisecond,
		PollInterval:         2 * time.Second,
		ExtendedPollInterval: 3 * time.Second,
		MaxAttempts:          8,
	}
}

// Result is what the autopilot saw last. Exhausting the attempt budget is
// not a failure by itself: State is simply whatever the final capture looked
// like and the caller decides whether that means "still running" or "stuck".
type Result struct {
	State    State
	Screen   string
	Attempts int
}

// Injector drives a Backend. One Injector serves many sessions; callers
// must not run two injections against the same session concurrently (the
// relay enforces per-session single-flight).
type Injector struct {
	backend tmux.Backend
	audit   *audit.Log
	logger  *slog.Logger
	opts    Options

	// sleep is injectable so tests don't wait out real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Injector. auditLog may be nil to disable audit recording.
func New(backend tmux.Backend, auditLog *audit.Log, opts Options, logger *slog.Logger) *Injector {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	return &Injector{
		backend: backend,
		audit:   auditLog,
		logger:  logger.With("component", "injector"),
		opts:    opts,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// EnsureSession makes sure a session with the given name exists and hosts a
// running assistant. Launch order: primary command, then the fallback; a
// launched session gets SettleDelay to finish starting up and must still be
// alive afterwards. Both attempts failing is ErrSessionCreationFailed.
func (in *Injector) EnsureSession(ctx context.Context, name, dir string) error {
	return in.EnsureSessionWith(ctx, name, dir, in.opts.LaunchCommand)
}

// EnsureSessionWith is EnsureSession with an explicit primary launch command,
// used for resume launches that carry extra flags. The fallback command is
// unchanged.
func (in *Injector) EnsureSessionWith(ctx context.Context, name, dir, command string) error {
	exists, err := in.backend.HasSession(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	in.logger.Info("creating session", "name", name, "dir", dir)
	primaryErr := in.launch(ctx, name, dir, command)
	if primaryErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	in.logger.Warn("primary launch failed, trying fallback", "name", name, "error", primaryErr)

	// A half-created session from the first attempt would make new-session
	// refuse the name.
	_ = in.backend.KillSession(ctx, name)

	if fallbackErr := in.launch(ctx, name, dir, in.opts.FallbackCommand); fallbackErr != nil {
		return fmt.Errorf("%w: primary: %v, fallback: %v", ErrSessionCreationFailed, primaryErr, fallbackErr)
	}
	return nil
}

func (in *Injector) launch(ctx context.Context, name, dir, command string) error {
	if command == "" {
		return errors.New("no launch command configured")
	}
	if err := in.backend.NewSession(ctx, name, dir, command); err != nil {
		return err
	}
	// The assistant needs time to finish its own startup before it accepts
	// input; a session whose command died exits immediately.
	if err := in.sleep(ctx, in.opts.SettleDelay); err != nil {
		return err
	}
	alive, err := in.backend.HasSession(ctx, name)
	if err != nil {
		return err
	}
	if !alive {
		return errors.New("session exited during startup")
	}
	return nil
}

// SessionState inspects a session outside an injection: missing, launched
// with nothing rendered yet (Ready), or classified from what its screen
// shows.
func (in *Injector) SessionState(ctx context.Context, name string) (State, error) {
	exists, err := in.backend.HasSession(ctx, name)
	if err != nil {
		return StateUnknown, err
	}
	if !exists {
		return StateMissing, nil
	}
	screen, err := in.backend.Capture(ctx, name)
	if err != nil {
		return StateUnknown, err
	}
	if strings.TrimSpace(screen) == "" {
		return StateReady, nil
	}
	return ClassifyScreen(screen), nil
}

// RestartSession kills the session and recreates it. A recovery action for
// callers; the autopilot never invokes it on its own.
func (in *Injector) RestartSession(ctx context.Context, name, dir string) error {
	if exists, err := in.backend.HasSession(ctx, name); err == nil && exists {
		if err := in.backend.KillSession(ctx, name); err != nil {
			return fmt.Errorf("killing session %q: %w", name, err)
		}
	}
	return in.EnsureSession(ctx, name, dir)
}

// Inject delivers command to the session and runs the confirmation
// autopilot. The three keystroke operations are independently fallible; the
// first failure aborts with a StepError naming the step.
func (in *Injector) Inject(ctx context.Context, name, command string) (Result, error) {
	steps := []struct {
		step    Step
		keys    string
		literal bool
	}{
		{StepClear, "C-u", false},
		{StepType, sanitizeCommand(command), true},
		{StepExecute, "Enter", false},
	}

	for i, s := range steps {
		if i > 0 {
			if err := in.sleep(ctx, in.opts.StepDelay); err != nil {
				return Result{State: StateUnknown}, err
			}
		}
		if err := in.backend.SendKeys(ctx, name, s.keys, s.literal); err != nil {
			return Result{State: StateUnknown}, &StepError{Step: s.step, Err: err}
		}
	}

	in.recordInjection(name, command)

	return in.runAutopilot(ctx, name)
}

// recordInjection appends the audit entry. Log-write failure is non-fatal.
func (in *Injector) recordInjection(name, command string) {
	if in.audit == nil {
		return
	}
	err := in.audit.RecordInjection(audit.Entry{
		Session: name,
		Command: command,
		PID:     os.Getpid(),
	})
	if err != nil {
		in.logger.Warn("failed to record injection", "session", name, "error", err)
	}
}

// sanitizeCommand flattens the command text for literal keystroke delivery.
// Raw newlines would submit the input box early, so they become spaces;
// other control characters are dropped.
func sanitizeCommand(command string) string {
	command = strings.ReplaceAll(command, "\r\n", "\n")
	command = strings.ReplaceAll(command, "\n", " ")
	var b strings.Builder
	b.Grow(len(command))
	for _, r := range command {
		if r < 0x20 && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LaunchWithArgs appends shell-quoted arguments to a launch command line.
// The line is handed to the multiplexer, which runs it through a shell, so
// user-controlled values (resume ids, paths) must be quoted.
func LaunchWithArgs(command string, args ...string) string {
	parts := []string{command}
	for _, a := range args {
		parts = append(parts, shellescape.Quote(a))
	}
	return strings.Join(parts, " ")
}
