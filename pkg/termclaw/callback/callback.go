// Package callback parses the colon-delimited wire strings carried inside
// remote-client UI actions (inline-button callback data) into typed
// callbacks. Malformed input never errors: the router returns no result and
// the caller drops the callback silently, so a stale or truncated button
// press can't crash the relay.
package callback

import (
	"strconv"
	"strings"
)

// Kind discriminates the callback variants. The values are the literal wire
// tags (first colon-delimited field).
type Kind string

const (
	KindPermission      Kind = "perm"       // perm:<id>:<action>
	KindOption          Kind = "opt"        // opt:<id>:<n>
	KindOptionSubmit    Kind = "opt-submit" // opt-submit:<id>
	KindQuickPermission Kind = "qperm"      // qperm:<id>:<n>
	KindNewProject      Kind = "new"        // new:<name...>
	KindResumeProject   Kind = "rp"         // rp:<name...>
	KindResumeSession   Kind = "rs"         // rs:<name...>:<idx>
	KindResumeConfirm   Kind = "rc"         // rc:<name...>:<idx>
)

// Callback is a parsed UI action. Only the fields relevant to Kind are set.
// It is ephemeral: it exists for the duration of handling one inbound string.
type Callback struct {
	Kind Kind

	// PromptID identifies the pending prompt (perm, opt, opt-submit, qperm).
	PromptID string

	// Action is the raw permission action (perm). Passed through unchecked;
	// the bridge consumer interprets it.
	Action string

	// Option is the zero-based option index (opt, qperm).
	Option int

	// ProjectName is the project name (new, rp, rs, rc). Project names may
	// themselves contain colons, so the name is the rejoined middle fields.
	ProjectName string

	// SessionIdx selects an assistant session within a project (rs, rc).
	SessionIdx int
}

// Parse decodes a callback wire string. The second return is false for any
// malformed input: wrong field count, non-numeric index, empty required
// field, unrecognized tag, or empty input.
func Parse(data string) (Callback, bool) {
	if data == "" {
		return Callback{}, false
	}
	parts := strings.Split(data, ":")
	tag := Kind(parts[0])

	switch tag {
	case KindPermission:
		if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
			return Callback{}, false
		}
		return Callback{Kind: tag, PromptID: parts[1], Action: parts[2]}, true

	case KindOption, KindQuickPermission:
		if len(parts) != 3 || parts[1] == "" {
			return Callback{}, false
		}
		n, err := strconv.Atoi(parts[2])
		if err != nil {
			return Callback{}, false
		}
		return Callback{Kind: tag, PromptID: parts[1], Option: n}, true

	case KindOptionSubmit:
		if len(parts) != 2 || parts[1] == "" {
			return Callback{}, false
		}
		return Callback{Kind: tag, PromptID: parts[1]}, true

	case KindNewProject, KindResumeProject:
		// Everything after the tag is the name, colons included.
		if len(parts) < 2 {
			return Callback{}, false
		}
		name := strings.Join(parts[1:], ":")
		if name == "" {
			return Callback{}, false
		}
		return Callback{Kind: tag, ProjectName: name}, true

	case KindResumeSession, KindResumeConfirm:
		// The index is always the final field; the name is whatever sits
		// between the tag and the index, colons included.
		if len(parts) < 3 {
			return Callback{}, false
		}
		idx, err := strconv.Atoi(parts[len(parts)-1])
		if err != nil {
			return Callback{}, false
		}
		name := strings.Join(parts[1:len(parts)-1], ":")
		if name == "" {
			return Callback{}, false
		}
		return Callback{Kind: tag, ProjectName: name, SessionIdx: idx}, true
	}

	return Callback{}, false
}

// Encode renders the callback back to its wire form. Parse(c.Encode())
// yields c for every well-formed callback.
func (c Callback) Encode() string {
	switch c.Kind {
	case KindPermission:
		return string(c.Kind) + ":" + c.PromptID + ":" + c.Action
	case KindOption, KindQuickPermission:
		return string(c.Kind) + ":" + c.PromptID + ":" + strconv.Itoa(c.Option)
	case KindOptionSubmit:
		return string(c.Kind) + ":" + c.PromptID
	case KindNewProject, KindResumeProject:
		return string(c.Kind) + ":" + c.ProjectName
	case KindResumeSession, KindResumeConfirm:
		return string(c.Kind) + ":" + c.ProjectName + ":" + strconv.Itoa(c.SessionIdx)
	}
	return ""
}
