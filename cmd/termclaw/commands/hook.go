package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/termclaw/pkg/termclaw/bridge"
)

// newHookCmd creates the `termclaw hook` command group. Hooks are invoked by
// the assistant process itself, out of process from the daemon; the prompt
// record directory is the only shared state between them.
func newHookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "hook",
		Short:  "Assistant-side hook entrypoints",
		Hidden: true,
	}
	cmd.AddCommand(newPermissionRequestCmd())
	return cmd
}

// permissionEvent is the JSON the assistant writes on the hook's stdin.
type permissionEvent struct {
	Workspace           string  `json:"workspace"`
	Cwd                 string  `json:"cwd"`
	TerminalSessionName *string `json:"terminalSessionName"`
	ToolName            string  `json:"tool_name"`
}

func newPermissionRequestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "permission-request",
		Short: "Publish a permission prompt and block for the remote decision",
		Long: `Reads the permission event JSON on stdin, publishes a pending prompt,
waits for the remote answer, and emits the hook decision JSON on stdout.
A timeout denies and removes the pending record so a late answer cannot be
consumed by a future prompt.`,
		RunE: runPermissionRequest,
	}
}

func runPermissionRequest(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := buildLogger(cmd, cfg)

	var event permissionEvent
	if err := json.NewDecoder(os.Stdin).Decode(&event); err != nil {
		return fmt.Errorf("decoding hook event: %w", err)
	}
	workspace := event.Workspace
	if workspace == "" {
		workspace = event.Cwd
	}

	br, err := bridge.New(cfg.Bridge.Dir, logger)
	if err != nil {
		return err
	}

	id := bridge.NewPromptID()
	if err := br.Publish(id, bridge.PendingPrompt{
		Kind:                bridge.PromptPermission,
		Workspace:           workspace,
		TerminalSessionName: event.TerminalSessionName,
	}); err != nil {
		return err
	}
	logger.Info("permission prompt published", "id", id, "tool", event.ToolName)

	poll := time.Duration(cfg.Bridge.PollIntervalMs) * time.Millisecond
	timeout := time.Duration(cfg.Bridge.TimeoutMs) * time.Millisecond

	out, err := br.AwaitResponse(context.Background(), id, poll, timeout)
	if err != nil {
		// Make sure the record does not outlive a crashed wait.
		_ = br.DeletePending(id)
		return err
	}

	if out.TimedOut {
		// Delete the pending record so a late answer is not consumed by a
		// future prompt reusing the id namespace.
		if err := br.DeletePending(id); err != nil {
			logger.Warn("failed to delete pending record after timeout", "id", id, "error", err)
		}
		logger.Warn("permission prompt timed out, denying", "id", id)
		return bridge.WriteHookOutput(os.Stdout,
			bridge.PermissionHookOutput(bridge.ActionDeny, "no remote answer within the timeout"))
	}

	logger.Info("permission prompt answered", "id", id, "action", out.Response.Action)
	return bridge.WriteHookOutput(os.Stdout,
		bridge.PermissionHookOutput(out.Response.Action, ""))
}
