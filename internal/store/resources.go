package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ResourceRepo provides access to the resources table.
type ResourceRepo struct {
	db *sql.DB
}

// NewResourceRepo creates a repository over db.
func NewResourceRepo(db *sql.DB) *ResourceRepo {
	return &ResourceRepo{db: db}
}

// Create records a provisioned resource for a conversation.
func (r *ResourceRepo) Create(ctx context.Context, res *Resource) error {
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO resources (conversation_id, kind, data, created_at) VALUES (?, ?, ?, ?)`,
		res.ConversationID, res.Kind, string(res.Data), res.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert %s resource: %w", res.Kind, err)
	}
	res.ID, _ = result.LastInsertId()
	return nil
}

// ListByConversationID returns a conversation's resources oldest first.
func (r *ResourceRepo) ListByConversationID(ctx context.Context, conversationID string) ([]Resource, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, conversation_id, kind, data, created_at
		 FROM resources WHERE conversation_id = ? ORDER BY id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list resources for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []Resource
	for rows.Next() {
		var res Resource
		var data string
		if err := rows.Scan(&res.ID, &res.ConversationID, &res.Kind, &data, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		res.Data = []byte(data)
		out = append(out, res)
	}
	return out, rows.Err()
}

// LatestByKind returns the most recently created resource of the given kind
// for a conversation, or ErrNotFound.
func (r *ResourceRepo) LatestByKind(ctx context.Context, conversationID, kind string) (*Resource, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, kind, data, created_at
		 FROM resources WHERE conversation_id = ? AND kind = ?
		 ORDER BY id DESC LIMIT 1`, conversationID, kind)
	var res Resource
	var data string
	if err := row.Scan(&res.ID, &res.ConversationID, &res.Kind, &data, &res.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("latest %s resource for %s: %w", kind, conversationID, err)
	}
	res.Data = []byte(data)
	return &res, nil
}
