package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConnectionRepo provides access to the connections table.
type ConnectionRepo struct {
	db *sql.DB
}

// NewConnectionRepo creates a repository over db.
func NewConnectionRepo(db *sql.DB) *ConnectionRepo {
	return &ConnectionRepo{db: db}
}

// Create inserts a connection. A missing id is generated.
func (r *ConnectionRepo) Create(ctx context.Context, conn *Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO connections (id, name, url, enabled, auth, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.Name, conn.URL, conn.Enabled, nullable(conn.Auth), conn.CreatedAt, conn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert connection %s: %w", conn.Name, err)
	}
	return nil
}

// Get returns the connection with the given id.
func (r *ConnectionRepo) Get(ctx context.Context, id string) (*Connection, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, url, enabled, auth, created_at, updated_at
		 FROM connections WHERE id = ?`, id)
	return scanConnection(row)
}

// List returns all connections ordered by recency.
func (r *ConnectionRepo) List(ctx context.Context) ([]Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, url, enabled, auth, created_at, updated_at
		 FROM connections ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *conn)
	}
	return out, rows.Err()
}

// ListEnabled returns only the connections that should be dialed at turn
// start.
func (r *ConnectionRepo) ListEnabled(ctx context.Context) ([]Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, url, enabled, auth, created_at, updated_at
		 FROM connections WHERE enabled = 1 ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list enabled connections: %w", err)
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *conn)
	}
	return out, rows.Err()
}

// Update overwrites url/enabled/auth for an existing connection.
func (r *ConnectionRepo) Update(ctx context.Context, conn *Connection) error {
	conn.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE connections SET name = ?, url = ?, enabled = ?, auth = ?, updated_at = ?
		 WHERE id = ?`,
		conn.Name, conn.URL, conn.Enabled, nullable(conn.Auth), conn.UpdatedAt, conn.ID)
	if err != nil {
		return fmt.Errorf("update connection %s: %w", conn.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a connection.
func (r *ConnectionRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete connection %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*Connection, error) {
	var conn Connection
	var auth sql.NullString
	if err := row.Scan(&conn.ID, &conn.Name, &conn.URL, &conn.Enabled, &auth,
		&conn.CreatedAt, &conn.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan connection: %w", err)
	}
	if auth.Valid {
		conn.Auth = []byte(auth.String)
	}
	return &conn, nil
}
