// Package sqlite persists conversation history with the pure-Go SQLite
// driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"streamloop/pkg/memory"
	"streamloop/pkg/types"
)

const driverName = "sqlite"

// Config contains configuration for the SQLite store.
type Config struct {
	Path string // Path to SQLite database file; ":memory:" when empty
}

// Store implements memory.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database and its schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database, and SQLite
	// serialises writers anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			thread_id  TEXT NOT NULL,
			id         TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			role       TEXT NOT NULL,
			body       TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (thread_id, id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_messages_thread_seq ON messages(thread_id, seq)"); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// Save upserts d. A new id is appended to the thread; a known id keeps its
// position and takes the new body.
func (s *Store) Save(ctx context.Context, threadID string, d types.MessageDecision) error {
	if err := d.Validate(); err != nil {
		return errors.Join(memory.ErrInvalidDecision, err)
	}
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (thread_id, id, seq, role, body)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE thread_id = ?), ?, ?)
		ON CONFLICT (thread_id, id) DO UPDATE SET
			role = excluded.role,
			body = excluded.body,
			updated_at = CURRENT_TIMESTAMP
	`, threadID, d.ID, threadID, string(d.Role), string(body))
	if err != nil {
		return fmt.Errorf("failed to save message %s: %w", d.ID, err)
	}
	return nil
}

// History returns the thread in insertion order.
func (s *Store) History(ctx context.Context, threadID string) ([]types.MessageDecision, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT body FROM messages WHERE thread_id = ? ORDER BY seq", threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []types.MessageDecision
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		var d types.MessageDecision
		if err := json.Unmarshal([]byte(body), &d); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Threads lists thread ids with stored messages.
func (s *Store) Threads(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT thread_id FROM messages ORDER BY thread_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ memory.Store = (*Store)(nil)
