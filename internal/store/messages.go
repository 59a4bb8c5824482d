package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MessageRepo provides access to the messages table.
type MessageRepo struct {
	db *sql.DB
}

// NewMessageRepo creates a repository over db.
func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create inserts a message. Fails if the external id already exists; use
// UpsertByExternalID for turn persistence.
func (r *MessageRepo) Create(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (external_id, conversation_id, role, parts, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ExternalID, msg.ConversationID, msg.Role, string(msg.Parts), nullable(msg.Metadata), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ExternalID, err)
	}
	msg.ID, _ = res.LastInsertId()
	return nil
}

// UpsertByExternalID inserts the message, or overwrites role/parts/metadata
// on the existing row with the same external id. A row is never duplicated
// for the same external id, so replaying a turn is idempotent.
func (r *MessageRepo) UpsertByExternalID(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (external_id, conversation_id, role, parts, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO UPDATE SET
			role = excluded.role,
			parts = excluded.parts,
			metadata = excluded.metadata`,
		msg.ExternalID, msg.ConversationID, msg.Role, string(msg.Parts), nullable(msg.Metadata), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert message %s: %w", msg.ExternalID, err)
	}
	return nil
}

// ListByConversationID returns a conversation's messages in insertion order.
func (r *MessageRepo) ListByConversationID(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, external_id, conversation_id, role, parts, metadata, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		var parts string
		var metadata sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ExternalID, &msg.ConversationID, &msg.Role,
			&parts, &metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Parts = []byte(parts)
		if metadata.Valid {
			msg.Metadata = []byte(metadata.String)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func nullable(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
