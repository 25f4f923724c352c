// Package tmux wraps the terminal multiplexer behind a capability interface
// so the injector and its confirmation autopilot can be driven against a
// scripted fake in tests instead of a real terminal.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// ErrToolUnavailable means the multiplexer binary could not be found. Fatal
// to injection: surfaced immediately, never retried.
var ErrToolUnavailable = errors.New("tmux binary not found in PATH")

// Backend is the capability the injector needs from a terminal multiplexer.
type Backend interface {
	// HasSession reports whether a session with the given name exists.
	HasSession(ctx context.Context, name string) (bool, error)

	// NewSession creates a detached session running command in dir.
	NewSession(ctx context.Context, name, dir, command string) error

	// SendKeys delivers keystrokes. With literal set, keys is typed as-is;
	// otherwise it is interpreted as a key name (Enter, C-u, Escape, ...).
	SendKeys(ctx context.Context, name, keys string, literal bool) error

	// Capture returns the session's visible screen text.
	Capture(ctx context.Context, name string) (string, error)

	// KillSession terminates the session. Killing an absent session errors.
	KillSession(ctx context.Context, name string) error

	// ListSessions returns the names of all live sessions.
	ListSessions(ctx context.Context) ([]string, error)
}

// Client is the tmux CLI implementation of Backend.
type Client struct {
	bin    string
	socket string
	logger *slog.Logger

	// captureLines is how much scrollback Capture requests. The autopilot
	// only needs the visible tail.
	captureLines int
}

// NewClient resolves the tmux binary and returns a Client. An optional
// socket path isolates termclaw's sessions from the user's own server.
func NewClient(socket string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bin, err := exec.LookPath("tmux")
	if err != nil {
		return nil, ErrToolUnavailable
	}
	return &Client{
		bin:          bin,
		socket:       socket,
		logger:       logger.With("component", "tmux"),
		captureLines: 50,
	}, nil
}

// args prepends the socket flag when configured.
func (c *Client) args(rest ...string) []string {
	if c.socket == "" {
		return rest
	}
	return append([]string{"-S", c.socket}, rest...)
}

func (c *Client) run(ctx context.Context, rest ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.bin, c.args(rest...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("tmux %s: %w: %s", rest[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (c *Client) HasSession(ctx context.Context, name string) (bool, error) {
	cmd := exec.CommandContext(ctx, c.bin, c.args("has-session", "-t", name)...)
	if err := cmd.Run(); err != nil {
		// has-session exits 1 both for "no such session" and "no server";
		// either way the session is not there.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, fmt.Errorf("tmux has-session: %w", err)
	}
	return true, nil
}

func (c *Client) NewSession(ctx context.Context, name, dir, command string) error {
	args := []string{"new-session", "-d", "-s", name}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	if command != "" {
		args = append(args, command)
	}
	if _, err := c.run(ctx, args...); err != nil {
		return err
	}
	c.logger.Debug("created session", "name", name, "dir", dir)
	return nil
}

func (c *Client) SendKeys(ctx context.Context, name, keys string, literal bool) error {
	args := []string{"send-keys", "-t", name}
	if literal {
		// -l sends the text verbatim; "--" stops flag parsing so text
		// beginning with a dash is not eaten by tmux.
		args = append(args, "-l", "--")
	}
	args = append(args, keys)
	_, err := c.run(ctx, args...)
	return err
}

func (c *Client) Capture(ctx context.Context, name string) (string, error) {
	out, err := c.run(ctx, "capture-pane", "-t", name, "-p", "-S", fmt.Sprintf("-%d", c.captureLines))
	if err != nil {
		return "", err
	}
	return out, nil
}

func (c *Client) KillSession(ctx context.Context, name string) error {
	_, err := c.run(ctx, "kill-session", "-t", name)
	return err
}

func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, c.bin, c.args("list-sessions", "-F", "#{session_name}")...)
	out, err := cmd.Output()
	if err != nil {
		// No server running means no sessions, not a failure.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-sessions: %w", err)
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}
