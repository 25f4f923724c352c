package injector

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

// fakeBackend scripts a session: screens are returned in order by Capture
// (the last one repeats), and every SendKeys call is recorded.
type fakeBackend struct {
	sessions map[string]bool
	screens  []string
	captures int

	sent []string // "literal:<keys>" or "key:<keys>"

	newSessionErr error
	sendErr       map[string]error // keyed by keys value
	captureErr    error

	// dieAfterCreate makes the session vanish right after NewSession,
	// simulating a launch command that exits immediately.
	dieAfterCreate bool
}

func newFakeBackend(screens ...string) *fakeBackend {
	return &fakeBackend{
		sessions: map[string]bool{},
		screens:  screens,
	}
}

func (f *fakeBackend) HasSession(_ context.Context, name string) (bool, error) {
	return f.sessions[name], nil
}

func (f *fakeBackend) NewSession(_ context.Context, name, _, _ string) error {
	if f.newSessionErr != nil {
		return f.newSessionErr
	}
	f.sessions[name] = !f.dieAfterCreate
	return nil
}

func (f *fakeBackend) SendKeys(_ context.Context, _, keys string, literal bool) error {
	if err, ok := f.sendErr[keys]; ok {
		return err
	}
	if literal {
		f.sent = append(f.sent, "literal:"+keys)
	} else {
		f.sent = append(f.sent, "key:"+keys)
	}
	return nil
}

func (f *fakeBackend) Capture(_ context.Context, _ string) (string, error) {
	if f.captureErr != nil {
		return "", f.captureErr
	}
	if len(f.screens) == 0 {
		return "", nil
	}
	i := f.captures
	if i >= len(f.screens) {
		i = len(f.screens) - 1
	}
	f.captures++
	return f.screens[i], nil
}

func (f *fakeBackend) KillSession(_ context.Context, name string) error {
	if !f.sessions[name] {
		return errors.New("no such session")
	}
	delete(f.sessions, name)
	return nil
}

func (f *fakeBackend) ListSessions(_ context.Context) ([]string, error) {
	var names []string
	for name, alive := range f.sessions {
		if alive {
			names = append(names, name)
		}
	}
	return names, nil
}

func newTestInjector(b *fakeBackend, opts Options) *Injector {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	in := New(b, nil, opts, logger)
	in.sleep = func(context.Context, time.Duration) error { return nil }
	return in
}

func fastOptions() Options {
	o := DefaultOptions()
	o.PollInterval = 0
	o.ExtendedPollInterval = 0
	o.SettleDelay = 0
	o.StepDelay = 0
	return o
}

func TestInjectConfirmsAndStopsAtIdle(t *testing.T) {
	b := newFakeBackend(
		"Working…",
		"Do you want to proceed?\n  1. Yes\n  2. Yes, and don't ask again\n  3. No",
		"│ >                │\n  ? for shortcuts",
	)
	in := newTestInjector(b, fastOptions())
	b.sessions["s1"] = true

	res, err := in.Inject(context.Background(), "s1", "run the tests")
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateIdle {
		t.Errorf("state = %q, want %q", res.State, StateIdle)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}

	want := []string{
		"key:C-u",
		"literal:run the tests",
		"key:Enter",
		// busy screen: no keys
		"literal:2", // sticky confirmation option
		"key:Enter",
	}
	if strings.Join(b.sent, ",") != strings.Join(want, ",") {
		t.Errorf("sent = %v, want %v", b.sent, want)
	}
}

func TestInjectSingleOptionAndYesNo(t *testing.T) {
	tests := []struct {
		name   string
		screen string
		want   string
	}{
		{"numbered yes", "Would you like to proceed?\n  1. Yes\n  2. No", "literal:1"},
		{"binary", "Overwrite existing file? (y/n)", "literal:y"},
		{"press enter", "Update available. Press Enter to continue", "key:Enter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend(tt.screen, "> ")
			in := newTestInjector(b, fastOptions())

			if _, err := in.Inject(context.Background(), "s1", "x"); err != nil {
				t.Fatal(err)
			}
			found := false
			for _, s := range b.sent[3:] { // skip the three injection steps
				if s == tt.want {
					found = true
				}
			}
			if !found {
				t.Errorf("sent = %v, want it to contain %q", b.sent, tt.want)
			}
		})
	}
}

func TestInjectBudgetExhaustionReturnsLastState(t *testing.T) {
	opts := fastOptions()
	opts.MaxAttempts = 4
	b := newFakeBackend("✻ Thinking… (esc to interrupt)")
	in := newTestInjector(b, opts)

	res, err := in.Inject(context.Background(), "s1", "long task")
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempts != 4 {
		t.Errorf("attempts = %d, want 4", res.Attempts)
	}
	if res.State != StateExecuting {
		t.Errorf("state = %q, want %q", res.State, StateExecuting)
	}
}

func TestInjectErrorCueStops(t *testing.T) {
	b := newFakeBackend("bash: clade: command not found")
	in := newTestInjector(b, fastOptions())

	res, err := in.Inject(context.Background(), "s1", "x")
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateFailed {
		t.Errorf("state = %q, want %q", res.State, StateFailed)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", res.Attempts)
	}
}

func TestInjectErrorEchoAboveLivePromptIsIdle(t *testing.T) {
	// A failed shell line can linger in the capture tail after the assistant
	// returns to its input box. The live prompt wins over the stale error.
	b := newFakeBackend("bash: foo: command not found\n│ > │\n  ? for shortcuts")
	in := newTestInjector(b, fastOptions())

	res, err := in.Inject(context.Background(), "s1", "x")
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateIdle {
		t.Errorf("state = %q, want %q", res.State, StateIdle)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", res.Attempts)
	}
}

func TestInjectStepFailureNamesTheStep(t *testing.T) {
	b := newFakeBackend()
	b.sendErr = map[string]error{"C-u": errors.New("send failed")}
	in := newTestInjector(b, fastOptions())

	_, err := in.Inject(context.Background(), "s1", "x")
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("err = %v, want StepError", err)
	}
	if stepErr.Step != StepClear {
		t.Errorf("step = %q, want %q", stepErr.Step, StepClear)
	}
}

func TestInjectCaptureFailureIsNonFatal(t *testing.T) {
	b := newFakeBackend()
	b.captureErr = errors.New("pane gone")
	in := newTestInjector(b, fastOptions())

	res, err := in.Inject(context.Background(), "s1", "x")
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if res.State != StateExecuting {
		t.Errorf("state = %q", res.State)
	}
}

func TestEnsureSessionFallsBack(t *testing.T) {
	b := newFakeBackend("> ")
	b.dieAfterCreate = true
	in := newTestInjector(b, fastOptions())

	// Both attempts die during settle.
	err := in.EnsureSession(context.Background(), "s1", "/work")
	if !errors.Is(err, ErrSessionCreationFailed) {
		t.Fatalf("err = %v, want ErrSessionCreationFailed", err)
	}
}

func TestEnsureSessionExistingIsNoop(t *testing.T) {
	b := newFakeBackend()
	b.sessions["s1"] = true
	b.newSessionErr = errors.New("must not be called")
	in := newTestInjector(b, fastOptions())

	if err := in.EnsureSession(context.Background(), "s1", "/work"); err != nil {
		t.Fatal(err)
	}
}

func TestRestartSessionKillsThenRecreates(t *testing.T) {
	b := newFakeBackend()
	b.sessions["s1"] = true
	in := newTestInjector(b, fastOptions())

	if err := in.RestartSession(context.Background(), "s1", "/work"); err != nil {
		t.Fatal(err)
	}
	if !b.sessions["s1"] {
		t.Error("session not recreated")
	}
}

func TestSessionState(t *testing.T) {
	b := newFakeBackend("   \n\n  ")
	in := newTestInjector(b, fastOptions())
	ctx := context.Background()

	state, err := in.SessionState(ctx, "s1")
	if err != nil || state != StateMissing {
		t.Errorf("absent session: state = %q, err = %v, want %q", state, err, StateMissing)
	}

	b.sessions["s1"] = true
	state, err = in.SessionState(ctx, "s1")
	if err != nil || state != StateReady {
		t.Errorf("blank screen: state = %q, err = %v, want %q", state, err, StateReady)
	}

	b.screens = []string{"✻ Thinking… (esc to interrupt)"}
	state, err = in.SessionState(ctx, "s1")
	if err != nil || state != StateExecuting {
		t.Errorf("busy screen: state = %q, err = %v, want %q", state, err, StateExecuting)
	}

	b.captureErr = errors.New("pane gone")
	state, err = in.SessionState(ctx, "s1")
	if err == nil || state != StateUnknown {
		t.Errorf("capture failure: state = %q, err = %v, want %q with error", state, err, StateUnknown)
	}
}

func TestSanitizeCommand(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"two\nlines", "two lines"},
		{"crlf\r\nline", "crlf line"},
		{"tab\tkept", "tab\tkept"},
		{"bell\x07gone", "bellgone"},
	}
	for _, tt := range tests {
		if got := sanitizeCommand(tt.in); got != tt.want {
			t.Errorf("sanitizeCommand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLaunchWithArgs(t *testing.T) {
	got := LaunchWithArgs("claude", "--resume", "id with spaces")
	if got != "claude --resume 'id with spaces'" {
		t.Errorf("LaunchWithArgs = %q", got)
	}
}
