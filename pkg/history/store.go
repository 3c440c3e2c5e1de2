// Package history persists conversation transcripts to SQLite. The store
// is append-only from the recorder's point of view; the dashboard reads it
// for per-session message logs.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	session_key TEXT NOT NULL,
	direction  TEXT NOT NULL,
	platform   TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_key, created_at);
`

// Direction of a transcript entry relative to the assistant.
const (
	DirectionIn  = "in"  // user -> assistant
	DirectionOut = "out" // assistant -> user
)

// Entry is one transcript line.
type Entry struct {
	ID         string    `json:"id"`
	SessionKey string    `json:"session_key"`
	Direction  string    `json:"direction"`
	Platform   string    `json:"platform,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// SessionSummary aggregates a session's transcript.
type SessionSummary struct {
	SessionKey string    `json:"session_key"`
	Messages   int       `json:"messages"`
	LastAt     time.Time `json:"last_at"`
}

// Store is the SQLite-backed transcript store.
type Store struct {
	db *sql.DB
}

// Open creates or opens the transcript database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append writes one transcript entry. A missing ID or timestamp is filled
// in.
func (s *Store) Append(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (id, session_key, direction, platform, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionKey, e.Direction, e.Platform, e.Content, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// Session returns up to limit entries for one session key, oldest first.
func (s *Store) Session(key string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(
		`SELECT id, session_key, direction, platform, content, created_at
		 FROM messages WHERE session_key = ?
		 ORDER BY created_at ASC LIMIT ?`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SessionKey, &e.Direction, &e.Platform, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Sessions lists every session key with counts, most recent first.
func (s *Store) Sessions() ([]SessionSummary, error) {
	rows, err := s.db.Query(
		`SELECT session_key, COUNT(*), MAX(created_at)
		 FROM messages GROUP BY session_key
		 ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.SessionKey, &sum.Messages, &sum.LastAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Purge drops all entries for a session key.
func (s *Store) Purge(key string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE session_key = ?`, key)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
