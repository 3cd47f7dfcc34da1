// Package tasks provides a JSON-backed store for per-user to-do lists.
// The entire mapping (user id → ordered task list) lives in a single
// durable document, so every read-modify-write cycle is serialized by
// a store-wide mutex and persisted with an atomic temp-file rename. A
// crash mid-write never corrupts existing data, and a document that
// fails to parse is treated as empty rather than fatal.
package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ErrEmptyText is returned by Add when the task text is empty after
// trimming. It is user input error, not a storage failure.
var ErrEmptyText = errors.New("task text must not be empty")

// Task is a single to-do entry. IDs are unique and strictly increasing
// within a user, start at 1, and are never reused. Tasks are immutable
// once created.
type Task struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// Store persists per-user task lists in one JSON document.
// All methods are safe for concurrent use.
type Store struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex // serializes load-mutate-save cycles
}

// NewStore creates a task store backed by the given file path. The
// parent directory is created if missing; the file itself is created
// lazily on first write.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create task store directory: %w", err)
		}
	}
	return &Store{path: path, logger: logger}, nil
}

// List returns the user's tasks in insertion order. Unknown users get
// an empty slice; List never fails on the caller-facing path.
func (s *Store) List(userID int64) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.loadAll()
	return append([]Task(nil), data[userKey(userID)]...)
}

// Add appends a task with the next id for the user and persists the
// document before returning. Returns ErrEmptyText for blank text.
func (s *Store) Add(userID int64, text string) (Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Task{}, ErrEmptyText
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.loadAll()
	key := userKey(userID)

	next := 0
	for _, t := range data[key] {
		if t.ID > next {
			next = t.ID
		}
	}

	task := Task{ID: next + 1, Text: text}
	data[key] = append(data[key], task)

	if err := s.saveAll(data); err != nil {
		return Task{}, err
	}
	return task, nil
}

// Remove deletes the task with the given id. Returns whether a task
// was actually removed; a miss leaves the list untouched.
func (s *Store) Remove(userID int64, taskID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.loadAll()
	key := userKey(userID)
	list := data[key]

	kept := list[:0:0]
	for _, t := range list {
		if t.ID != taskID {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(list) {
		return false, nil
	}

	data[key] = kept
	if err := s.saveAll(data); err != nil {
		return false, err
	}
	return true, nil
}

// Clear removes all tasks for the user. Clearing an already-empty
// list is a no-op.
func (s *Store) Clear(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.loadAll()
	key := userKey(userID)
	if _, ok := data[key]; !ok {
		return nil
	}

	delete(data, key)
	return s.saveAll(data)
}

// loadAll reads the full document. A missing file is an empty mapping;
// a file that fails structural parsing is logged once and reset to
// empty rather than surfaced. Callers must hold s.mu.
func (s *Store) loadAll() map[string][]Task {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("task file unreadable, treating as empty",
				"path", s.path,
				"error", err,
			)
		}
		return make(map[string][]Task)
	}

	var data map[string][]Task
	if err := json.Unmarshal(raw, &data); err != nil {
		s.logger.Warn("task file corrupted, treating as empty",
			"path", s.path,
			"error", err,
		)
		return make(map[string][]Task)
	}
	if data == nil {
		data = make(map[string][]Task)
	}
	return data
}

// saveAll writes the full document to a temp file and atomically
// replaces the durable file. Callers must hold s.mu.
func (s *Store) saveAll(data map[string][]Task) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write tasks: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace tasks file: %w", err)
	}
	return nil
}

func userKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
