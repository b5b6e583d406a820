// Package store provides a SQLite-backed persistence layer for chat sessions.
// Each session has its own conversation thread and list of attached PDFs, so
// a restarted server can pick up where it left off.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser is a message sent by the human.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the LLM.
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role      Role
	Content   string
	CreatedAt time.Time
}

// ConversationStore persists sessions, their messages and their attached
// PDFs. Implementations must be safe for concurrent use.
type ConversationStore interface {
	// CreateSession records id. Creating an existing session is a no-op.
	CreateSession(ctx context.Context, id string) error
	// SessionExists reports whether id was ever created.
	SessionExists(ctx context.Context, id string) (bool, error)
	// Append persists a single message for the session.
	Append(ctx context.Context, sessionID string, role Role, content string) error
	// Recent returns the most recent n messages oldest-first. n <= 0 returns all.
	Recent(ctx context.Context, sessionID string, n int) ([]Message, error)
	// AttachPDF records a stored PDF path for the session. Duplicates are ignored.
	AttachPDF(ctx context.Context, sessionID, path string) error
	// Attachments lists attached PDF paths in attach order.
	Attachments(ctx context.Context, sessionID string) ([]string, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a ConversationStore backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// DefaultDBPath returns ~/.graphchat/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".graphchat")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection avoids SQLITE_BUSY and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT    PRIMARY KEY,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS conversations (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT    NOT NULL,
    role       TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content    TEXT    NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_session_created
    ON conversations (session_id, created_at);
CREATE TABLE IF NOT EXISTS attachments (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT    NOT NULL,
    path       TEXT    NOT NULL,
    created_at INTEGER NOT NULL,
    UNIQUE (session_id, path)
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// CreateSession records id if it is new.
func (s *SQLiteStore) CreateSession(ctx context.Context, id string) error {
	const q = `INSERT OR IGNORE INTO sessions (id, created_at) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, q, id, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: create session: %w", err)
	}
	return nil
}

// SessionExists reports whether id has a sessions row.
func (s *SQLiteStore) SessionExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("store: session exists: %w", err)
	}
	return n > 0, nil
}

// Append persists a single message for the session.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, role Role, content string) error {
	const q = `INSERT INTO conversations (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, sessionID, string(role), content, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n messages for the session, oldest-first.
// A subquery selects the tail, then the outer query restores chronological order.
func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, n int) ([]Message, error) {
	if n <= 0 {
		n = -1 // SQLite: negative LIMIT means no limit
	}
	const q = `
SELECT role, content, created_at FROM (
    SELECT id, role, content, created_at
    FROM   conversations
    WHERE  session_id = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var ts int64
		var role string
		if err := rows.Scan(&role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(ts, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return msgs, nil
}

// AttachPDF records path for the session.
func (s *SQLiteStore) AttachPDF(ctx context.Context, sessionID, path string) error {
	const q = `INSERT OR IGNORE INTO attachments (session_id, path, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, sessionID, path, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: attach pdf: %w", err)
	}
	return nil
}

// Attachments lists attached paths in insertion order.
func (s *SQLiteStore) Attachments(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM attachments WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: attachments: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("store: attachments scan: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: attachments rows: %w", err)
	}
	return paths, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
