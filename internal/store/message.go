package store

import (
	"context"
	"fmt"
	"slices"
	"time"
)

const defaultMessageLimit = 50

// UpsertMessage inserts m unless a message with the same ID already exists,
// in which case the stored row is left untouched. created reports whether a
// new row was written.
func (db *DB) UpsertMessage(ctx context.Context, m *Message) (created bool, err error) {
	res, err := db.ExecContext(ctx, db.Rebind(`
		INSERT INTO messages (msg_id, conversation_id, contact_name, contact_number, body, content_kind, direction, timestamp, media_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (msg_id) DO NOTHING`),
		m.ID, m.ConversationID, m.ContactName, m.ContactNumber, m.Body, m.ContentKind, string(m.Direction), m.Timestamp, m.MediaURL, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("upsert message %q: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert message %q: %w", m.ID, err)
	}
	return n > 0, nil
}

// ListMessages returns the newest limit messages of a conversation, ordered
// oldest first. Messages sharing a timestamp keep their insertion order.
func (db *DB) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	msgs := []Message{}
	err := db.SelectContext(ctx, &msgs, db.Rebind(`
		SELECT msg_id, conversation_id, contact_name, contact_number, body, content_kind, direction, timestamp, media_url
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`), conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// MessageCount returns the total number of stored messages.
func (db *DB) MessageCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages`)
	return count, err
}
