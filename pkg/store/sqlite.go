package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/tobiasgrim/supportflow/pkg/conversation"
)

// SQLiteStore persists conversations to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store.
// The path should be a file path (e.g., "./conversations.db") or
// ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Writes are serialized by the store lock anyway, and a single
	// connection keeps ":memory:" databases stable across calls.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			conversation_id TEXT PRIMARY KEY,
			state BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshots table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS threads (
			conversation_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			current_workflow TEXT NOT NULL DEFAULT '',
			workflow_step TEXT NOT NULL DEFAULT '',
			is_escalated INTEGER NOT NULL DEFAULT 0,
			escalated_at TEXT,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create threads table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			direction TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_id, id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create message index: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// SaveMessage implements Store.
func (s *SQLiteStore) SaveMessage(ctx context.Context, conversationID string, role conversation.Role, direction conversation.Direction, content string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	var last string
	err := s.db.QueryRowContext(ctx, `
		SELECT content FROM messages
		WHERE conversation_id = ? AND role = ? AND direction = ?
		ORDER BY id DESC LIMIT 1
	`, conversationID, string(role), string(direction)).Scan(&last)

	switch {
	case err == sql.ErrNoRows:
		// First message of this role+direction
	case err != nil:
		return false, fmt.Errorf("lookup last message: %w", err)
	case last == content:
		return false, nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, role, direction, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, conversationID, string(role), string(direction), content, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return true, nil
}

// SaveState implements Store.
func (s *SQLiteStore) SaveState(ctx context.Context, state conversation.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	now := s.now().UTC()
	thread := state.Thread(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ts := now.Format(time.RFC3339Nano)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (conversation_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`, state.ConversationID, data, ts); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	var escalatedAt any
	if thread.EscalatedAt != nil {
		escalatedAt = thread.EscalatedAt.UTC().Format(time.RFC3339Nano)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO threads (conversation_id, status, current_workflow, workflow_step, is_escalated, escalated_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			status = excluded.status,
			current_workflow = excluded.current_workflow,
			workflow_step = excluded.workflow_step,
			is_escalated = excluded.is_escalated,
			escalated_at = excluded.escalated_at,
			updated_at = excluded.updated_at
	`, thread.ID, string(thread.Status), thread.CurrentWorkflow, thread.WorkflowStep,
		boolToInt(thread.IsEscalated), escalatedAt, ts); err != nil {
		return fmt.Errorf("save thread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadState implements Store.
func (s *SQLiteStore) LoadState(ctx context.Context, conversationID string) (conversation.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var zero conversation.State
	if s.closed {
		return zero, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM snapshots WHERE conversation_id = ?
	`, conversationID).Scan(&data)

	if err == sql.ErrNoRows {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("load snapshot: %w", err)
	}

	var state conversation.State
	if err := json.Unmarshal(data, &state); err != nil {
		return zero, fmt.Errorf("unmarshal state: %w", err)
	}
	return state, nil
}

// ListThreads implements Store.
func (s *SQLiteStore) ListThreads(ctx context.Context) ([]conversation.ThreadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, status, current_workflow, workflow_step, is_escalated, escalated_at, updated_at
		FROM threads
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []conversation.ThreadRecord
	for rows.Next() {
		rec, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return threads, nil
}

// GetThread implements Store.
func (s *SQLiteStore) GetThread(ctx context.Context, conversationID string) (conversation.ThreadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var zero conversation.ThreadRecord
	if s.closed {
		return zero, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, status, current_workflow, workflow_step, is_escalated, escalated_at, updated_at
		FROM threads WHERE conversation_id = ?
	`, conversationID)

	rec, err := scanThread(row)
	if err == sql.ErrNoRows {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, err
	}
	return rec, nil
}

// GetMessages implements Store.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string) ([]StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, direction, content, created_at FROM messages
		WHERE conversation_id = ?
		ORDER BY id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs := []StoredMessage{}
	for rows.Next() {
		var m StoredMessage
		var role, direction, createdAt string
		if err := rows.Scan(&role, &direction, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = conversation.Role(role)
		m.Direction = conversation.Direction(direction)
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// scanner accepts both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanThread(row scanner) (conversation.ThreadRecord, error) {
	var rec conversation.ThreadRecord
	var status string
	var isEscalated int
	var escalatedAt sql.NullString
	var updatedAt string

	if err := row.Scan(&rec.ID, &status, &rec.CurrentWorkflow, &rec.WorkflowStep, &isEscalated, &escalatedAt, &updatedAt); err != nil {
		return rec, err
	}

	rec.Status = conversation.ThreadStatus(status)
	rec.IsEscalated = isEscalated != 0
	if escalatedAt.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, escalatedAt.String); err == nil {
			rec.EscalatedAt = &ts
		}
	}
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
