// Package lockstore persists lock rows and serializes mutations per scope.
package lockstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/n3tuk/document-node-lock/internal/model"
)

// Backend names accepted by configuration.
const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
	BackendOlric  = "olric"
	BackendRedis  = "redis"
)

var (
	// ErrDuplicate is returned by Tx.Insert when a row with the same resource
	// key or lock id already exists.
	ErrDuplicate = errors.New("lock row already exists")

	// ErrNotFound is returned when a lock row does not exist.
	ErrNotFound = errors.New("lock row not found")

	// ErrConflict is returned by Update when a backend with optimistic
	// concurrency gave up retrying.
	ErrConflict = errors.New("concurrent update of lock scope")
)

// Tx is the view of one scope inside Update. All rows it returns belong to
// the scope it was opened for.
type Tx interface {
	// List returns every row of the scope, expired or not.
	List(ctx context.Context) ([]*model.Lock, error)

	// Insert adds a row. The row's scope must be the scope of the Tx.
	Insert(ctx context.Context, l *model.Lock) error

	// Touch sets locked_at of row id. It returns ErrNotFound when the row is
	// not in the scope.
	Touch(ctx context.Context, id string, lockedAt int64) error

	// Delete removes row id. Deleting a missing row is not an error.
	Delete(ctx context.Context, id string) error
}

// Store persists lock rows.
type Store interface {
	// Update runs fn with exclusive write access to scope. Writes made
	// through the Tx are applied only if fn returns nil. Backends with
	// optimistic concurrency may run fn more than once.
	Update(ctx context.Context, scope string, fn func(tx Tx) error) error

	// List returns every row of scope.
	List(ctx context.Context, scope string) ([]*model.Lock, error)

	// FindByKey returns the row for a resource key or ErrNotFound.
	FindByKey(ctx context.Context, key string) (*model.Lock, error)

	// FindByID returns the row with id or ErrNotFound.
	FindByID(ctx context.Context, id string) (*model.Lock, error)

	// DeleteExpired removes rows of class locked strictly before the epoch
	// millisecond before and returns how many were removed.
	DeleteExpired(ctx context.Context, class model.ResourceClass, before int64) (int, error)

	// Count returns the number of stored rows.
	Count(ctx context.Context) (int, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources owned by the store.
	Close(ctx context.Context) error
}

// Retention is how long a backend with native expiry keeps a scope after
// its last write, per resource class.
type Retention map[model.ResourceClass]time.Duration

// NewRetention returns a Retention of window plus grace for every class.
func NewRetention(windows map[model.ResourceClass]time.Duration, grace time.Duration) Retention {
	r := make(Retention, len(windows))
	for class, w := range windows {
		r[class] = w + grace
	}
	return r
}

// TTL returns the retention for scope, or 0 for no expiry.
func (r Retention) TTL(scope string) time.Duration {
	return r[model.ScopeClass(scope)]
}

// sortLocks orders rows by lock time, then id.
func sortLocks(locks []*model.Lock) {
	sort.Slice(locks, func(i, j int) bool {
		if locks[i].LockedAt != locks[j].LockedAt {
			return locks[i].LockedAt < locks[j].LockedAt
		}
		return locks[i].ID < locks[j].ID
	})
}

func validateInsert(scope string, l *model.Lock) error {
	if l == nil || l.ID == "" {
		return errors.New("lock id is required")
	}
	if l.Scope() != scope {
		return fmt.Errorf("lock %s does not belong to scope %s", l.ID, scope)
	}
	return nil
}
