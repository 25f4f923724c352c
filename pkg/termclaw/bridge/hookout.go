package bridge

import (
	"encoding/json"
	"fmt"
	"io"
)

// HookDecision is the allow/deny verdict inside the hook output.
type HookDecision struct {
	Behavior string `json:"behavior"` // "allow" | "deny"
}

// HookSpecificOutput is the event-scoped section of the hook output.
type HookSpecificOutput struct {
	HookEventName string       `json:"hookEventName"`
	Decision      HookDecision `json:"decision"`
}

// HookOutput is the JSON object the permission hook must emit on stdout.
// This is the contract the assistant process reads; field names are fixed.
type HookOutput struct {
	HookSpecificOutput HookSpecificOutput `json:"hookSpecificOutput"`
	SystemMessage      string             `json:"systemMessage,omitempty"`
}

// PermissionHookOutput builds the hook output for a permission decision.
// "allow" and "always" both permit; anything else denies.
func PermissionHookOutput(action, systemMessage string) HookOutput {
	behavior := "deny"
	if action == ActionAllow || action == ActionAlways {
		behavior = "allow"
	}
	return HookOutput{
		HookSpecificOutput: HookSpecificOutput{
			HookEventName: "PermissionRequest",
			Decision:      HookDecision{Behavior: behavior},
		},
		SystemMessage: systemMessage,
	}
}

// WriteHookOutput emits the hook output JSON on w.
func WriteHookOutput(w io.Writer, out HookOutput) error {
	if err := json.NewEncoder(w).Encode(out); err != nil {
		return fmt.Errorf("writing hook output: %w", err)
	}
	return nil
}
