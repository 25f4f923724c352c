package callback

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Callback
		ok    bool
	}{
		{
			name:  "permission allow",
			input: "perm:abc123:allow",
			want:  Callback{Kind: KindPermission, PromptID: "abc123", Action: "allow"},
			ok:    true,
		},
		{
			name:  "permission action passed through unchecked",
			input: "perm:abc123:whatever",
			want:  Callback{Kind: KindPermission, PromptID: "abc123", Action: "whatever"},
			ok:    true,
		},
		{
			name:  "option toggle",
			input: "opt:p1:2",
			want:  Callback{Kind: KindOption, PromptID: "p1", Option: 2},
			ok:    true,
		},
		{
			name:  "option non-numeric index rejected",
			input: "opt:p1:two",
			ok:    false,
		},
		{
			name:  "option submit",
			input: "opt-submit:p1",
			want:  Callback{Kind: KindOptionSubmit, PromptID: "p1"},
			ok:    true,
		},
		{
			name:  "option submit empty id rejected",
			input: "opt-submit:",
			ok:    false,
		},
		{
			name:  "quick permission",
			input: "qperm:p9:0",
			want:  Callback{Kind: KindQuickPermission, PromptID: "p9", Option: 0},
			ok:    true,
		},
		{
			name:  "new project with colons in name",
			input: "new:my:project:name",
			want:  Callback{Kind: KindNewProject, ProjectName: "my:project:name"},
			ok:    true,
		},
		{
			name:  "resume project",
			input: "rp:backend",
			want:  Callback{Kind: KindResumeProject, ProjectName: "backend"},
			ok:    true,
		},
		{
			name:  "resume session",
			input: "rs:my-project:4",
			want:  Callback{Kind: KindResumeSession, ProjectName: "my-project", SessionIdx: 4},
			ok:    true,
		},
		{
			name:  "resume session name keeps inner colons",
			input: "rs:ns:app:7",
			want:  Callback{Kind: KindResumeSession, ProjectName: "ns:app", SessionIdx: 7},
			ok:    true,
		},
		{
			name:  "resume session non-numeric index rejected",
			input: "rs:assistant:notanumber",
			ok:    false,
		},
		{
			name:  "resume confirm",
			input: "rc:my-project:0",
			want:  Callback{Kind: KindResumeConfirm, ProjectName: "my-project", SessionIdx: 0},
			ok:    true,
		},
		{name: "empty input", input: "", ok: false},
		{name: "unknown tag", input: "nope:abc", ok: false},
		{name: "perm too few fields", input: "perm:abc", ok: false},
		{name: "perm too many fields", input: "perm:a:b:c", ok: false},
		{name: "perm empty action", input: "perm:abc:", ok: false},
		{name: "new without name", input: "new:", ok: false},
		{name: "rs missing index", input: "rs:name", ok: false},
		{name: "rc empty name", input: "rc::3", ok: false},
		{name: "bare tag", input: "opt", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			if ok != tt.ok {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	callbacks := []Callback{
		{Kind: KindPermission, PromptID: "id1", Action: "deny"},
		{Kind: KindPermission, PromptID: "id1", Action: "always"},
		{Kind: KindOption, PromptID: "id2", Option: 3},
		{Kind: KindOptionSubmit, PromptID: "id3"},
		{Kind: KindQuickPermission, PromptID: "id4", Option: 1},
		{Kind: KindNewProject, ProjectName: "my:project:name"},
		{Kind: KindResumeProject, ProjectName: "plain"},
		{Kind: KindResumeSession, ProjectName: "my-project", SessionIdx: 4},
		{Kind: KindResumeConfirm, ProjectName: "a:b", SessionIdx: 12},
	}

	for _, c := range callbacks {
		wire := c.Encode()
		got, ok := Parse(wire)
		if !ok {
			t.Errorf("Parse(Encode(%+v)) = no result, wire %q", c, wire)
			continue
		}
		if got != c {
			t.Errorf("round trip %+v -> %q -> %+v", c, wire, got)
		}
	}
}
