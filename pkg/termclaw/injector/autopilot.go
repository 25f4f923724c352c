package injector

import (
	"context"
	"strings"
)

// cueAction is what the autopilot does when a rule matches.
type cueAction int

const (
	actKeys       cueAction = iota // send keystrokes, keep looping
	actWait                        // normal poll interval, keep looping
	actWaitLonger                  // extended poll interval, keep looping
	actIdle                        // session is done, stop
	actFail                        // session is broken, stop
)

// keypress is one autopilot keystroke.
type keypress struct {
	keys    string
	literal bool
}

// cueRule matches one recognizable screen shape. Rules are evaluated in
// order and the first match wins, so the specific confirmations come before
// the generic busy and idle shapes.
type cueRule struct {
	name  string
	match func(screen, lower string) bool
	keys  func(screen, lower string) []keypress
	act   cueAction
	state State
}

func enterKey() []keypress { return []keypress{{keys: "Enter"}} }

func digitThenEnter(d string) []keypress {
	return []keypress{{keys: d, literal: true}, {keys: "Enter"}}
}

// cueRules is the ordered confirmation table. Selections are made by typing
// the option number and pressing Enter rather than arrow keys: the dialog
// may redraw between capture and keystroke, and a number lands on the same
// option regardless of cursor position.
var cueRules = []cueRule{
	{
		// "2. Yes, and don't ask again" style dialogs: pick the sticky
		// option so the same confirmation never comes back this session.
		name: "proceed-dont-ask",
		match: func(_, lower string) bool {
			return containsAny(lower, "do you want", "would you like") &&
				containsAny(lower, "don't ask again", "don’t ask again", "don't ask me again")
		},
		keys: func(_, lower string) []keypress {
			return digitThenEnter(dontAskOption(lower))
		},
		act:   actKeys,
		state: StateAwaitingConfirmation,
	},
	{
		name: "proceed-single-option",
		match: func(_, lower string) bool {
			return containsAny(lower, "do you want", "would you like") &&
				strings.Contains(lower, "1. yes")
		},
		keys:  func(_, _ string) []keypress { return digitThenEnter("1") },
		act:   actKeys,
		state: StateAwaitingConfirmation,
	},
	{
		name: "binary-yes-no",
		match: func(_, lower string) bool {
			return strings.Contains(lower, "(y/n)")
		},
		keys:  func(_, _ string) []keypress { return digitThenEnter("y") },
		act:   actKeys,
		state: StateAwaitingConfirmation,
	},
	{
		name: "press-enter",
		match: func(_, lower string) bool {
			return strings.Contains(lower, "press enter to continue")
		},
		keys:  func(_, _ string) []keypress { return enterKey() },
		act:   actKeys,
		state: StateAwaitingConfirmation,
	},
	{
		name: "busy",
		match: func(screen, lower string) bool {
			return busyCue(screen, lower)
		},
		act:   actWait,
		state: StateExecuting,
	},
	{
		// Before the error rule: a live input box means the command finished
		// even when a failed shell line is still visible in the capture tail.
		name: "idle-prompt",
		match: func(screen, lower string) bool {
			return idleCue(screen, lower)
		},
		act:   actIdle,
		state: StateIdle,
	},
	{
		name: "error",
		match: func(screen, _ string) bool {
			return errorCue(screen)
		},
		act:   actFail,
		state: StateFailed,
	},
	{
		name:  "unrecognized",
		match: func(_, _ string) bool { return true },
		act:   actWaitLonger,
		state: StateExecuting,
	},
}

// dontAskOption finds the number of the "don't ask again" choice. The
// dialogs number it 2 in practice; scan anyway in case a dialog adds
// options.
func dontAskOption(lower string) string {
	for _, d := range []string{"2", "3", "4"} {
		idx := strings.Index(lower, d+". ")
		if idx < 0 {
			continue
		}
		line := lower[idx:]
		if end := strings.IndexByte(line, '\n'); end >= 0 {
			line = line[:end]
		}
		if strings.Contains(line, "don't ask") || strings.Contains(line, "don’t ask") {
			return d
		}
	}
	return "2"
}

// spinnerRunes are the braille animation frames the assistant renders while
// it works. Any one of them on screen means busy.
const spinnerRunes = "⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏"

func busyCue(screen, lower string) bool {
	if containsAny(lower, "esc to interrupt", "ctrl+c to interrupt", "ctrl-c to interrupt") {
		return true
	}
	if strings.ContainsAny(screen, spinnerRunes) {
		return true
	}
	// Progress words with the trailing ellipsis the status line renders.
	for _, w := range []string{"thinking", "working", "running", "building", "searching", "connecting"} {
		if strings.Contains(lower, w+"…") || strings.Contains(lower, w+"...") {
			return true
		}
	}
	return false
}

// idleCue looks at the tail of the screen for the assistant's empty input
// prompt.
func idleCue(screen, lower string) bool {
	if strings.Contains(lower, "? for shortcuts") {
		return true
	}
	for _, line := range tailLines(screen, 5) {
		trimmed := strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "│"))
		if trimmed == ">" || strings.HasPrefix(trimmed, "> ") {
			return true
		}
	}
	return false
}

// errorCue scans the recent lines for fatal startup or shell failures.
// Matching the tail only keeps old errors in scrollback from tripping it.
func errorCue(screen string) bool {
	tail := strings.ToLower(strings.Join(tailLines(screen, 10), "\n"))
	return containsAny(tail,
		"command not found",
		"no such file or directory",
		"failed to start",
		"connection refused",
		"is not recognized as",
		"panic:",
	)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// tailLines returns the last n non-empty lines of screen.
func tailLines(screen string, n int) []string {
	lines := strings.Split(screen, "\n")
	var out []string
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		out = append([]string{lines[i]}, out...)
	}
	return out
}

// ClassifyScreen reports what state a captured screen indicates. Shared
// with session listings, which show a live status per session.
func ClassifyScreen(screen string) State {
	lower := strings.ToLower(screen)
	for _, r := range cueRules {
		if r.match(screen, lower) {
			return r.state
		}
	}
	return StateUnknown
}

// runAutopilot polls the session screen and answers confirmations until the
// session is idle, broken, or the attempt budget is spent. Budget exhaustion
// returns the last observed state with a nil error; there is no separate
// "gave up" condition.
func (in *Injector) runAutopilot(ctx context.Context, name string) (Result, error) {
	res := Result{State: StateExecuting}
	interval := in.opts.PollInterval

	for attempt := 1; attempt <= in.opts.MaxAttempts; attempt++ {
		if err := in.sleep(ctx, interval); err != nil {
			return res, err
		}
		interval = in.opts.PollInterval

		screen, err := in.backend.Capture(ctx, name)
		if err != nil {
			// Screen inspection is best-effort: the command was already
			// delivered, so report what we know instead of failing.
			in.logger.Warn("screen capture failed, stopping autopilot",
				"session", name, "attempt", attempt, "error", err)
			res.Attempts = attempt
			return res, nil
		}
		res.Screen = screen
		res.Attempts = attempt

		lower := strings.ToLower(screen)
		for _, r := range cueRules {
			if !r.match(screen, lower) {
				continue
			}
			res.State = r.state
			in.logger.Debug("autopilot cue", "session", name, "rule", r.name, "attempt", attempt)

			switch r.act {
			case actKeys:
				if err := in.sendPresses(ctx, name, r.keys(screen, lower)); err != nil {
					in.logger.Warn("autopilot keystroke failed, stopping",
						"session", name, "rule", r.name, "error", err)
					return res, nil
				}
			case actWaitLonger:
				interval = in.opts.ExtendedPollInterval
			case actIdle, actFail:
				return res, nil
			}
			break
		}
	}
	return res, nil
}

func (in *Injector) sendPresses(ctx context.Context, name string, presses []keypress) error {
	for i, p := range presses {
		if i > 0 {
			if err := in.sleep(ctx, in.opts.StepDelay); err != nil {
				return err
			}
		}
		if err := in.backend.SendKeys(ctx, name, p.keys, p.literal); err != nil {
			return err
		}
	}
	return nil
}
