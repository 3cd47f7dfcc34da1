package session

import (
	"log/slog"
	"sync"
)

// Store is a keyed container of per-user conversation state. Telegram
// long polling can deliver messages from one user on overlapping
// handler goroutines, so all access goes through a store-level mutex
// and History is copied on read.
type Store struct {
	logger *slog.Logger

	mu     sync.Mutex
	states map[int64]*State
}

// NewStore creates an empty session store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger: logger,
		states: make(map[int64]*State),
	}
}

// Get returns a copy of the user's state, creating a default idle
// session on first access.
func (s *Store) Get(userID int64) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(userID)
	out := *st
	out.History = append([]Turn(nil), st.History...)
	return out
}

// Mode returns the user's current mode without copying history.
func (s *Store) Mode(userID int64) Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(userID).Mode
}

// SetMode sets the user's interaction mode.
func (s *Store) SetMode(userID int64, mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(userID).Mode = mode
}

// SetModel records the user's selected model. Unknown names are passed
// through untouched; the AI collaborator rejects what it cannot serve.
func (s *Store) SetModel(userID int64, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(userID).Model = model
}

// Model returns the user's selected model, or fallback when none is set.
func (s *Store) Model(userID int64, fallback string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.state(userID).Model; m != "" {
		return m
	}
	return fallback
}

// AppendHistory appends turns to the user's conversation history in
// arrival order. No cap is imposed here.
func (s *Store) AppendHistory(userID int64, turns ...Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(userID)
	st.History = append(st.History, turns...)
}

// SetHistory replaces the user's conversation history wholesale, used
// when the AI collaborator returns an updated transcript.
func (s *Store) SetHistory(userID int64, history []Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(userID).History = append([]Turn(nil), history...)
}

// Clear resets the user's session: idle mode, empty history, default
// model, and any pending mode borrow dropped.
func (s *Store) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, userID)
}

// state returns the live record for a user, creating it if needed.
// Callers must hold s.mu.
func (s *Store) state(userID int64) *State {
	st, ok := s.states[userID]
	if !ok {
		st = &State{}
		s.states[userID] = st
	}
	return st
}

// BeginBorrow snapshots the user's current mode so a transient flow
// can temporarily own it. When the current mode is idle, an explicit
// none-sentinel is stored instead, so that "was idle" and "no snapshot
// taken" both round-trip correctly. If a borrow is already active the
// call is a no-op: nested borrow attempts must never clobber the
// original snapshot. The caller sets the transient mode separately.
func (s *Store) BeginBorrow(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(userID)
	if st.borrowed {
		s.logger.Debug("mode borrow already active",
			"user_id", userID,
			"snapshot", st.snapshot,
		)
		return
	}

	st.borrowed = true
	if st.Mode == ModeIdle {
		st.snapshotNone = true
		st.snapshot = ModeIdle
	} else {
		st.snapshotNone = false
		st.snapshot = st.Mode
	}
}

// EndBorrow restores the mode captured by BeginBorrow and clears the
// snapshot. With no borrow active it normally does nothing, except
// when the current mode equals transient — then it falls back to idle
// so a stray transient mode cannot outlive its flow.
func (s *Store) EndBorrow(userID int64, transient Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(userID)
	if !st.borrowed {
		if st.Mode == transient {
			st.Mode = ModeIdle
		}
		return
	}

	if st.snapshotNone {
		st.Mode = ModeIdle
	} else {
		st.Mode = st.snapshot
	}
	st.borrowed = false
	st.snapshotNone = false
	st.snapshot = ModeIdle
}
