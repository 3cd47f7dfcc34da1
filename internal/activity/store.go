// Package activity records command usage so operators can see who uses
// the bot and how. It is an append-only audit trail, not domain state:
// nothing in the bot's behavior reads it back.
package activity

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one recorded command invocation.
type Entry struct {
	UserID  int64
	Command string
	At      time.Time
}

// Store is an append-only activity log backed by SQLite. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore creates an activity store at the given database path. The
// schema is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS command_activity (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id     INTEGER NOT NULL,
		command     TEXT NOT NULL,
		recorded_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activity_user ON command_activity (user_id, recorded_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends one command invocation for a user.
func (s *Store) Record(userID int64, command string) error {
	_, err := s.db.Exec(
		`INSERT INTO command_activity (user_id, command, recorded_at) VALUES (?, ?, ?)`,
		userID, command, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record %s for %d: %w", command, userID, err)
	}
	return nil
}

// Recent returns the newest entries across all users, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT user_id, command, recorded_at FROM command_activity
		 ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ForUser returns the newest entries for one user, newest first.
func (s *Store) ForUser(userID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT user_id, command, recorded_at FROM command_activity
		 WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("for user %d: %w", userID, err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// CountByCommand returns how many times each command was invoked.
func (s *Store) CountByCommand() (map[string]int, error) {
	rows, err := s.db.Query(
		`SELECT command, COUNT(*) FROM command_activity GROUP BY command`,
	)
	if err != nil {
		return nil, fmt.Errorf("count by command: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var cmd string
		var n int
		if err := rows.Scan(&cmd, &n); err != nil {
			return nil, fmt.Errorf("scan counts: %w", err)
		}
		result[cmd] = n
	}
	return result, rows.Err()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&e.UserID, &e.Command, &at); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, at); err == nil {
			e.At = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
