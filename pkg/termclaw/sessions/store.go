// Package sessions owns the persisted token→session map and resolves
// user-typed tokens (possibly abbreviated) to live terminal sessions.
//
// The map is one JSON document on disk, object keyed by token. The document
// format is shared with out-of-process tooling, so field names and the
// second-granularity createdAt/expiresAt timestamps are preserved exactly
// even though everything else in the system uses milliseconds.
package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Session types. Multiplexer sessions live in tmux; pty sessions are owned
// directly by the host process.
const (
	SessionTypeMultiplexer = "multiplexer"
	SessionTypePTY         = "pty"
)

// Entry is one tracked terminal session. JSON field names are the external
// document format; do not rename.
type Entry struct {
	Token               string  `json:"token"`
	Type                string  `json:"type"`
	SessionType         string  `json:"sessionType,omitempty"`
	CreatedAt           int64   `json:"createdAt"` // unix seconds
	ExpiresAt           int64   `json:"expiresAt"` // unix seconds
	WorkingDirectory    string  `json:"workingDirectory"`
	AssistantSessionID  *string `json:"assistantSessionId"`
	TerminalSessionName string  `json:"terminalSessionName"`
	Description         string  `json:"description"`
}

// Expired reports whether the entry has passed its expiry at the given time.
// Expiry does not imply deletion: expired entries stay in the document until
// pruned and are only excluded from prefix matching.
func (e Entry) Expired(now time.Time) bool {
	return now.Unix() >= e.ExpiresAt
}

// MatchKind tags the outcome of a token resolution.
type MatchKind int

const (
	// MatchNone means no key matched.
	MatchNone MatchKind = iota
	// MatchExact means the token equals a map key exactly (expired or not).
	MatchExact
	// MatchPrefix means exactly one non-expired key starts with the token.
	MatchPrefix
	// MatchAmbiguous means two or more non-expired keys share the prefix.
	MatchAmbiguous
)

// Match pairs a resolved entry with the data a caller needs to present it.
type Match struct {
	Token     string
	Entry     Entry
	Workspace string
}

// ResolveResult is the tagged outcome of Store.Resolve. Match is set for
// exact/prefix; Candidates is set (sorted by token) for ambiguous.
type ResolveResult struct {
	Kind       MatchKind
	Match      *Match
	Candidates []Match
}

// Store persists the session map as a single JSON document with
// whole-document read-modify-write. The in-process mutex serializes access;
// concurrent writers in other processes are last-write-wins, which is an
// accepted limitation of the format, not a guarantee.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// New creates a Store over the JSON document at path. The file is created
// lazily on first write.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger.With("component", "sessions"),
		now:    time.Now,
	}
}

// Resolve maps a token (possibly a prefix) to a session.
//
// Exact lookup runs against the full map, expired entries included, and
// always wins over prefix matching. Prefix matching only considers
// non-expired entries so stale sessions cannot shadow new ones.
func (s *Store) Resolve(token string) (ResolveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return ResolveResult{}, err
	}

	if e, ok := entries[token]; ok {
		m := toMatch(token, e)
		return ResolveResult{Kind: MatchExact, Match: &m}, nil
	}

	now := s.now()
	var candidates []Match
	for key, e := range entries {
		if e.Expired(now) {
			continue
		}
		if strings.HasPrefix(key, token) {
			candidates = append(candidates, toMatch(key, e))
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Token < candidates[j].Token })

	switch len(candidates) {
	case 0:
		return ResolveResult{Kind: MatchNone}, nil
	case 1:
		m := candidates[0]
		return ResolveResult{Kind: MatchPrefix, Match: &m}, nil
	default:
		return ResolveResult{Kind: MatchAmbiguous, Candidates: candidates}, nil
	}
}

// Put inserts or replaces the entry for token.
func (s *Store) Put(token string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	e.Token = token
	entries[token] = e
	return s.save(entries)
}

// Remove deletes the entry for token. Removing an absent token is a no-op.
func (s *Store) Remove(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := entries[token]; !ok {
		return nil
	}
	delete(entries, token)
	return s.save(entries)
}

// Get returns the entry for an exact token.
func (s *Store) Get(token string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := entries[token]
	return e, ok, nil
}

// All returns every entry, sorted by token.
func (s *Store) All() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

// PruneExpired deletes every expired entry and returns how many were removed.
func (s *Store) PruneExpired() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return 0, err
	}
	now := s.now()
	removed := 0
	for key, e := range entries {
		if e.Expired(now) {
			delete(entries, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save(entries)
}

// load reads the whole document. A missing file is an empty map. A corrupt
// document is backed up next to the original and replaced with an empty map
// rather than halting the system.
func (s *Store) load() (map[string]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]Entry{}, nil
		}
		return nil, fmt.Errorf("reading session map: %w", err)
	}
	if len(data) == 0 {
		return map[string]Entry{}, nil
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		backup := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
		if werr := os.WriteFile(backup, data, 0o600); werr != nil {
			s.logger.Warn("failed to back up corrupt session map", "path", s.path, "error", werr)
		} else {
			s.logger.Warn("session map is corrupt, resetting to empty",
				"path", s.path, "backup", backup, "error", err)
		}
		return map[string]Entry{}, nil
	}

	for key, e := range entries {
		if e.SessionType == "" {
			e.SessionType = SessionTypeMultiplexer
		}
		if e.Token == "" {
			e.Token = key
		}
		entries[key] = e
	}
	return entries, nil
}

func (s *Store) save(entries map[string]Entry) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating session map directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session map: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing session map: %w", err)
	}
	return nil
}

func toMatch(token string, e Entry) Match {
	return Match{Token: token, Entry: e, Workspace: e.WorkingDirectory}
}
