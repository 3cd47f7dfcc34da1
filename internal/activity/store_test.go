package activity

import (
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "activity.db"))
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := testStore(t)

	for _, cmd := range []string{"/start", "/weather", "/tasks"} {
		if err := s.Record(7, cmd); err != nil {
			t.Fatalf("Record(%s) error: %v", cmd, err)
		}
	}

	entries, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Recent() returned %d entries, want 3", len(entries))
	}

	// Newest first.
	if entries[0].Command != "/tasks" {
		t.Errorf("entries[0].Command = %q, want /tasks", entries[0].Command)
	}
	if entries[2].Command != "/start" {
		t.Errorf("entries[2].Command = %q, want /start", entries[2].Command)
	}
	if entries[0].UserID != 7 {
		t.Errorf("entries[0].UserID = %d, want 7", entries[0].UserID)
	}
	if entries[0].At.IsZero() {
		t.Error("entries[0].At is zero")
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	s := testStore(t)

	for i := 0; i < 5; i++ {
		if err := s.Record(1, "/help"); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Recent(2) returned %d entries", len(entries))
	}
}

func TestForUserFiltersOthers(t *testing.T) {
	s := testStore(t)

	if err := s.Record(1, "/weather"); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(2, "/song"); err != nil {
		t.Fatal(err)
	}

	entries, err := s.ForUser(2, 10)
	if err != nil {
		t.Fatalf("ForUser() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ForUser(2) returned %d entries, want 1", len(entries))
	}
	if entries[0].Command != "/song" {
		t.Errorf("entries[0].Command = %q", entries[0].Command)
	}
}

func TestCountByCommand(t *testing.T) {
	s := testStore(t)

	for _, cmd := range []string{"/weather", "/weather", "/tasks"} {
		if err := s.Record(1, cmd); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := s.CountByCommand()
	if err != nil {
		t.Fatalf("CountByCommand() error: %v", err)
	}
	if counts["/weather"] != 2 {
		t.Errorf("counts[/weather] = %d, want 2", counts["/weather"])
	}
	if counts["/tasks"] != 1 {
		t.Errorf("counts[/tasks] = %d, want 1", counts["/tasks"])
	}
}

func TestRecentEmptyStore(t *testing.T) {
	s := testStore(t)

	entries, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Recent() on empty store returned %d entries", len(entries))
	}
}
