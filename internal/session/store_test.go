package session

import (
	"log/slog"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(slog.New(slog.DiscardHandler))
}

func TestGetCreatesDefault(t *testing.T) {
	s := testStore(t)

	st := s.Get(1)
	if st.Mode != ModeIdle {
		t.Errorf("Mode = %v, want idle", st.Mode)
	}
	if len(st.History) != 0 {
		t.Errorf("History = %v, want empty", st.History)
	}
	if st.Model != "" {
		t.Errorf("Model = %q, want empty (default)", st.Model)
	}
}

func TestSetModeAndModel(t *testing.T) {
	s := testStore(t)

	s.SetMode(1, ModeChatting)
	s.SetModel(1, "gemini-2.5-pro")

	if got := s.Mode(1); got != ModeChatting {
		t.Errorf("Mode(1) = %v, want chatting", got)
	}
	if got := s.Model(1, "fallback"); got != "gemini-2.5-pro" {
		t.Errorf("Model(1) = %q", got)
	}
	if got := s.Model(2, "fallback"); got != "fallback" {
		t.Errorf("Model(2) = %q, want fallback", got)
	}
}

func TestHistoryOrderAndIsolation(t *testing.T) {
	s := testStore(t)

	s.AppendHistory(1, Turn{Role: RoleUser, Text: "hi"})
	s.AppendHistory(1, Turn{Role: RoleModel, Text: "hello"})
	s.AppendHistory(2, Turn{Role: RoleUser, Text: "other user"})

	st := s.Get(1)
	if len(st.History) != 2 || st.History[0].Text != "hi" || st.History[1].Text != "hello" {
		t.Errorf("History = %v, want two turns in order", st.History)
	}

	// Mutating the returned copy must not touch the stored state.
	st.History[0].Text = "mutated"
	if got := s.Get(1); got.History[0].Text != "hi" {
		t.Error("Get() returned a live reference to stored history")
	}
}

func TestSetHistoryReplaces(t *testing.T) {
	s := testStore(t)

	s.AppendHistory(1, Turn{Role: RoleUser, Text: "old"})
	s.SetHistory(1, []Turn{
		{Role: RoleUser, Text: "q"},
		{Role: RoleModel, Text: "a"},
	})

	st := s.Get(1)
	if len(st.History) != 2 || st.History[0].Text != "q" {
		t.Errorf("History = %v, want replacement transcript", st.History)
	}
}

func TestClearResetsEverything(t *testing.T) {
	s := testStore(t)

	s.SetMode(1, ModeChatting)
	s.SetModel(1, "gemini-2.5-pro")
	s.AppendHistory(1, Turn{Role: RoleUser, Text: "hi"})

	s.Clear(1)

	st := s.Get(1)
	if st.Mode != ModeIdle || st.Model != "" || len(st.History) != 0 {
		t.Errorf("state after Clear = %+v, want pristine", st)
	}
}

func TestBorrowRestoresIdle(t *testing.T) {
	s := testStore(t)

	s.BeginBorrow(1)
	s.SetMode(1, ModeAwaitingTaskText)
	s.EndBorrow(1, ModeAwaitingTaskText)

	if got := s.Mode(1); got != ModeIdle {
		t.Errorf("Mode = %v after borrow round-trip, want idle", got)
	}
}

func TestBorrowRestoresChatting(t *testing.T) {
	s := testStore(t)

	s.SetMode(1, ModeChatting)
	s.BeginBorrow(1)
	s.SetMode(1, ModeAwaitingTaskText)
	s.EndBorrow(1, ModeAwaitingTaskText)

	if got := s.Mode(1); got != ModeChatting {
		t.Errorf("Mode = %v, want chatting restored", got)
	}
}

func TestNestedBorrowKeepsOriginalSnapshot(t *testing.T) {
	s := testStore(t)

	s.SetMode(1, ModeChatting)
	s.BeginBorrow(1)
	s.SetMode(1, ModeAwaitingTaskText)

	// A second borrow while one is active must not overwrite the
	// snapshot with the transient mode.
	s.BeginBorrow(1)
	s.EndBorrow(1, ModeAwaitingTaskText)

	if got := s.Mode(1); got != ModeChatting {
		t.Errorf("Mode = %v after nested borrow, want chatting", got)
	}
}

func TestEndBorrowWithoutBeginFallsBackToIdle(t *testing.T) {
	s := testStore(t)

	// No borrow active, but the user is stuck in the transient mode:
	// the defensive fallback resets to idle.
	s.SetMode(1, ModeAwaitingTaskText)
	s.EndBorrow(1, ModeAwaitingTaskText)
	if got := s.Mode(1); got != ModeIdle {
		t.Errorf("Mode = %v, want idle fallback", got)
	}

	// No borrow active and a different mode: nothing happens.
	s.SetMode(1, ModeChatting)
	s.EndBorrow(1, ModeAwaitingTaskText)
	if got := s.Mode(1); got != ModeChatting {
		t.Errorf("Mode = %v, want untouched chatting", got)
	}
}

func TestEndBorrowIsSingleShot(t *testing.T) {
	s := testStore(t)

	s.SetMode(1, ModeChatting)
	s.BeginBorrow(1)
	s.SetMode(1, ModeAwaitingTaskText)
	s.EndBorrow(1, ModeAwaitingTaskText)

	// The second end sees no active borrow and a non-transient mode,
	// so the restored mode survives.
	s.EndBorrow(1, ModeAwaitingTaskText)
	if got := s.Mode(1); got != ModeChatting {
		t.Errorf("Mode = %v after double end, want chatting", got)
	}
}

func TestBorrowAfterRestoreCapturesNewMode(t *testing.T) {
	s := testStore(t)

	s.BeginBorrow(1)
	s.SetMode(1, ModeAwaitingTaskText)
	s.EndBorrow(1, ModeAwaitingTaskText)

	// A fresh borrow after the previous one ended works normally.
	s.SetMode(1, ModeChatting)
	s.BeginBorrow(1)
	s.SetMode(1, ModeAwaitingTaskText)
	s.EndBorrow(1, ModeAwaitingTaskText)

	if got := s.Mode(1); got != ModeChatting {
		t.Errorf("Mode = %v, want chatting from second borrow", got)
	}
}

func TestModeString(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{ModeIdle, "idle"},
		{ModeAwaitingTaskText, "awaiting_task_text"},
		{ModeChatting, "chatting"},
		{Mode(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.mode, got, tt.want)
		}
	}
}
