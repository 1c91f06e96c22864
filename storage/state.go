// Package storage persists the agent's durable state. The primary artifact is
// a single JSON document on disk holding the position, snapshot history,
// decision log, and announcement log; writes go through an atomic temp-file
// rename so a crash mid-write never truncates the previous state. An optional
// sqlite mirror and an export writer live alongside for operator tooling.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"treasuryd/faults"
	"treasuryd/state"
)

// History caps. The JSON file is rewritten on every append, so the histories
// are bounded to keep the document at a size that stays cheap to marshal.
// Tests lower these to exercise the trim without thousands of writes.
var (
	maxSnapshots = 5000
	maxDecisions = 2000
	maxTweets    = 2000
)

// Store is the file-backed state document. All access is serialised through
// one mutex; every mutation persists before returning so the file on disk is
// never behind the in-memory copy.
type Store struct {
	path string
	log  *slog.Logger

	mu  sync.Mutex
	doc *state.Document
}

// Open loads the state document at path, creating an empty one when the file
// does not exist yet. A file that exists but cannot be parsed is a
// configuration fault: the operator must move it aside rather than have the
// agent silently start from scratch and forget a live position.
func Open(path string, logger *slog.Logger) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, faults.New(faults.CodeConfig, "state file path required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, faults.Wrap(faults.CodeConfig, err, "create state directory %s", dir)
		}
	}
	s := &Store{path: trimmed, log: logger.With("component", "storage")}

	data, err := os.ReadFile(trimmed)
	if errors.Is(err, os.ErrNotExist) {
		s.doc = state.NewDocument()
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		s.log.Info("initialised empty state file", "path", trimmed)
		return s, nil
	}
	if err != nil {
		return nil, faults.Wrap(faults.CodeConfig, err, "read state file %s", trimmed)
	}

	doc := state.NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, faults.Wrap(faults.CodeConfig, err, "state file %s is corrupt", trimmed)
	}
	// A hand-edited file may carry null lists; normalise so the API always
	// serves arrays.
	if doc.Snapshots == nil {
		doc.Snapshots = []state.PoolSnapshot{}
	}
	if doc.Decisions == nil {
		doc.Decisions = []state.Decision{}
	}
	if doc.Tweets == nil {
		doc.Tweets = []state.TweetRecord{}
	}
	s.doc = doc
	s.log.Info("loaded state file",
		"path", trimmed,
		"snapshots", len(doc.Snapshots),
		"decisions", len(doc.Decisions),
		"tweets", len(doc.Tweets))
	return s, nil
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Document returns a copy of the full state document. The slices are copied
// so later appends never alias into a served response.
func (s *Store) Document() state.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := state.Document{Position: s.doc.Position}
	out.Snapshots = append([]state.PoolSnapshot{}, s.doc.Snapshots...)
	out.Decisions = append([]state.Decision{}, s.doc.Decisions...)
	out.Tweets = append([]state.TweetRecord{}, s.doc.Tweets...)
	return out
}

// Position returns the current treasury position.
func (s *Store) Position() state.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Position
}

// Decisions returns a copy of the decision history, oldest first.
func (s *Store) Decisions() []state.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]state.Decision{}, s.doc.Decisions...)
}

// AppendSnapshots records one tick's pool observations.
func (s *Store) AppendSnapshots(snaps []state.PoolSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Snapshots = state.TrimTail(append(s.doc.Snapshots, snaps...), maxSnapshots)
	return s.persistLocked()
}

// AppendDecision records one engine verdict.
func (s *Store) AppendDecision(dec state.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Decisions = state.TrimTail(append(s.doc.Decisions, dec), maxDecisions)
	return s.persistLocked()
}

// AppendTweet records one announcement.
func (s *Store) AppendTweet(rec state.TweetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Tweets = state.TrimTail(append(s.doc.Tweets, rec), maxTweets)
	return s.persistLocked()
}

// SetPosition replaces the treasury position.
func (s *Store) SetPosition(pos state.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Position = pos
	return s.persistLocked()
}

// persistLocked writes the document atomically: marshal, write to a temp file
// in the same directory, fsync-free chmod+close, then rename over the live
// path. Callers must hold s.mu.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	cleanup := func() {
		_ = os.Remove(tmp.Name())
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		tmp.Close()
		return fmt.Errorf("chmod state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
