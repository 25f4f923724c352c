package sessions

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	s := New(filepath.Join(t.TempDir(), "sessions.json"), logger)
	return s
}

func entryExpiring(expiresAt time.Time) Entry {
	return Entry{
		Type:                "coding",
		CreatedAt:           expiresAt.Add(-time.Hour).Unix(),
		ExpiresAt:           expiresAt.Unix(),
		WorkingDirectory:    "/work/proj",
		TerminalSessionName: "termclaw-proj",
	}
}

func TestResolveExactBeatsPrefix(t *testing.T) {
	s := newTestStore(t)
	future := time.Now().Add(time.Hour)

	if err := s.Put("abc123", entryExpiring(future)); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("abc1", entryExpiring(future)); err != nil {
		t.Fatal(err)
	}

	// "abc1" is an exact key even though it also prefixes "abc123".
	res, err := s.Resolve("abc1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != MatchExact {
		t.Fatalf("Resolve(abc1) kind = %v, want exact", res.Kind)
	}
	if res.Match.Token != "abc1" {
		t.Errorf("Resolve(abc1) token = %q, want abc1", res.Match.Token)
	}

	res, err = s.Resolve("abc")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != MatchAmbiguous {
		t.Fatalf("Resolve(abc) kind = %v, want ambiguous", res.Kind)
	}
	if len(res.Candidates) != 2 {
		t.Errorf("Resolve(abc) candidates = %d, want 2", len(res.Candidates))
	}

	res, err = s.Resolve("xyz")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != MatchNone {
		t.Errorf("Resolve(xyz) kind = %v, want none", res.Kind)
	}
}

func TestResolveSinglePrefix(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("deadbeef", entryExpiring(time.Now().Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	res, err := s.Resolve("dead")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != MatchPrefix {
		t.Fatalf("kind = %v, want prefix", res.Kind)
	}
	if res.Match.Token != "deadbeef" {
		t.Errorf("token = %q, want deadbeef", res.Match.Token)
	}
	if res.Match.Workspace != "/work/proj" {
		t.Errorf("workspace = %q, want /work/proj", res.Match.Workspace)
	}
}

func TestResolveExpiredExcludedFromPrefix(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("tok1", entryExpiring(time.Now().Add(-10*time.Second))); err != nil {
		t.Fatal(err)
	}

	// Prefix matching never surfaces expired entries.
	res, err := s.Resolve("tok")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != MatchNone {
		t.Errorf("Resolve(tok) kind = %v, want none", res.Kind)
	}

	// Exact matching ignores expiry.
	res, err = s.Resolve("tok1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != MatchExact {
		t.Errorf("Resolve(tok1) kind = %v, want exact", res.Kind)
	}
}

func TestExpiredShadowing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("aaa111", entryExpiring(time.Now().Add(-time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("aaa222", entryExpiring(time.Now().Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	// The expired sibling doesn't force ambiguity.
	res, err := s.Resolve("aaa")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != MatchPrefix {
		t.Fatalf("kind = %v, want prefix", res.Kind)
	}
	if res.Match.Token != "aaa222" {
		t.Errorf("token = %q, want aaa222", res.Match.Token)
	}
}

func TestPruneExpired(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("old", entryExpiring(time.Now().Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("live", entryExpiring(time.Now().Add(time.Minute))); err != nil {
		t.Fatal(err)
	}

	n, err := s.PruneExpired()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}

	all, err := s.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Token != "live" {
		t.Errorf("remaining = %+v, want only live", all)
	}
}

func TestSessionTypeDefaultsToMultiplexer(t *testing.T) {
	s := newTestStore(t)

	// Write a document without sessionType, the way older tooling does.
	doc := `{"t1": {"token": "t1", "type": "coding", "createdAt": 1, "expiresAt": 99999999999, "workingDirectory": "/w", "assistantSessionId": null, "terminalSessionName": "n", "description": ""}}`
	if err := os.WriteFile(s.path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	e, ok, err := s.Get("t1")
	if err != nil || !ok {
		t.Fatalf("Get(t1) = %v, %v, %v", e, ok, err)
	}
	if e.SessionType != SessionTypeMultiplexer {
		t.Errorf("sessionType = %q, want multiplexer", e.SessionType)
	}
	if e.AssistantSessionID != nil {
		t.Errorf("assistantSessionId = %v, want nil", e.AssistantSessionID)
	}
}

func TestCorruptDocumentBackedUpAndReset(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	all, err := s.All()
	if err != nil {
		t.Fatalf("All() on corrupt document: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("entries = %d, want 0 after reset", len(all))
	}

	backups, _ := filepath.Glob(s.path + ".corrupt-*")
	if len(backups) != 1 {
		t.Errorf("backups = %v, want exactly one", backups)
	}

	// Store is usable again after the reset.
	if err := s.Put("fresh", entryExpiring(time.Now().Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
}

func TestRemoveAbsentTokenIsNoop(t *testing.T) {
	s := newTestStore(t)
	if err := s.Remove("ghost"); err != nil {
		t.Fatalf("Remove(ghost) = %v, want nil", err)
	}
}
