package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lobbybee/frontdesk/internal/notify"
)

// SaveNotification inserts or updates a notification.
func (db *DB) SaveNotification(ctx context.Context, n notify.Notification) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO notifications (id, category, title, message, read, conversation_id, guest_name, room_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			message = excluded.message,
			read = excluded.read`,
		n.ID, string(n.Category), n.Title, n.Message, n.Read,
		n.ConversationID, n.GuestName, n.RoomNumber, n.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("save notification %s: %w", n.ID, err)
	}
	return nil
}

// DeleteNotifications removes the given notifications. Unknown ids are
// ignored.
func (db *DB) DeleteNotifications(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	_, err := db.ExecContext(ctx, `DELETE FROM notifications WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete notifications: %w", err)
	}
	return nil
}

// LoadNotifications returns every stored notification, newest first.
func (db *DB) LoadNotifications(ctx context.Context) ([]notify.Notification, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, category, title, message, read, conversation_id, guest_name, room_number, created_at
		FROM notifications
		ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("load notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []notify.Notification
	for rows.Next() {
		var (
			n        notify.Notification
			category string
			created  int64
		)
		if err := rows.Scan(&n.ID, &category, &n.Title, &n.Message, &n.Read,
			&n.ConversationID, &n.GuestName, &n.RoomNumber, &created); err != nil {
			return nil, err
		}
		n.Category = notify.Category(category)
		n.Timestamp = time.UnixMilli(created)
		out = append(out, n)
	}
	return out, rows.Err()
}
