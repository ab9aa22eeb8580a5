package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/n3tuk/document-node-lock/internal/database"
	"github.com/n3tuk/document-node-lock/internal/model"
)

// Directory looks up user records.
type Directory interface {
	// GetUser returns the user or ErrUserNotFound.
	GetUser(ctx context.Context, userID string) (*model.User, error)
}

// MemoryDirectory is an in-process user directory.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]model.User
}

// NewMemoryDirectory creates a directory holding users.
func NewMemoryDirectory(users ...model.User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]model.User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put adds or replaces a user.
func (d *MemoryDirectory) Put(u model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// GetUser implements Directory.
func (d *MemoryDirectory) GetUser(_ context.Context, userID string) (*model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

// SQLDirectory reads users from the users table.
type SQLDirectory struct {
	db *database.DB
}

// NewSQLDirectory creates a SQL-backed directory.
func NewSQLDirectory(db *database.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

// Put upserts a user.
func (d *SQLDirectory) Put(ctx context.Context, u model.User) error {
	_, err := d.db.ExecContext(ctx, d.db.Rebind(`
INSERT INTO users (id, display_name) VALUES (?, ?)
ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name`),
		u.ID, u.DisplayName)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser implements Directory.
func (d *SQLDirectory) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	err := d.db.QueryRowContext(ctx,
		d.db.Rebind(`SELECT id, display_name FROM users WHERE id = ?`), userID,
	).Scan(&u.ID, &u.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
