package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"
)

// Client state keys.
const (
	KeyLastConversation = "last_conversation_id"
)

// GetState returns the value stored under key, or "" if unset.
func (db *DB) GetState(ctx context.Context, key string) (string, error) {
	var v string
	err := db.QueryRowContext(ctx, `SELECT value FROM client_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// SetState stores value under key.
func (db *DB) SetState(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// LastConversation returns the conversation selected when the client last
// ran, or 0.
func (db *DB) LastConversation(ctx context.Context) (int64, error) {
	v, err := db.GetState(ctx, KeyLastConversation)
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// SetLastConversation remembers the selected conversation.
func (db *DB) SetLastConversation(ctx context.Context, id int64) error {
	return db.SetState(ctx, KeyLastConversation, strconv.FormatInt(id, 10))
}
