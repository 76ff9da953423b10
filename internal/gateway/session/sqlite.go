package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore persists sessions in the gateway database so show-more and
// replay survive a restart. Each session is one row holding a JSON blob;
// the schema never needs to query inside the state.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-opened gateway database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Get(ctx context.Context, conversationID string) (Session, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		"SELECT state FROM sessions WHERE conversation_id = ?", conversationID,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("session: load %s: %w", conversationID, err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(state), &sess); err != nil {
		return Session{}, fmt.Errorf("session: decode %s: %w", conversationID, err)
	}
	return sess, nil
}

func (s *SQLiteStore) Put(ctx context.Context, conversationID string, sess Session) error {
	state, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", conversationID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (conversation_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`, conversationID, string(state), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("session: save %s: %w", conversationID, err)
	}
	return nil
}

func (s *SQLiteStore) SessionCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&n); err != nil {
		return 0, fmt.Errorf("session: count: %w", err)
	}
	return n, nil
}
