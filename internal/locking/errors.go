package locking

import (
	"errors"
	"fmt"

	"github.com/n3tuk/document-node-lock/internal/identity"
	"github.com/n3tuk/document-node-lock/internal/model"
	"github.com/n3tuk/document-node-lock/internal/tree"
)

// Errors returned by the lock manager.
var (
	// ErrUnauthenticated is returned when no caller identity was supplied.
	ErrUnauthenticated = identity.ErrUnauthenticated

	// ErrUserNotFound is returned when the caller has no user record.
	ErrUserNotFound = identity.ErrUserNotFound

	// ErrResourceLocked matches every *LockedError.
	ErrResourceLocked = errors.New("resource locked")

	// ErrHierarchyConflict matches a *LockedError whose blocker is an
	// ancestor or descendant of the requested resource.
	ErrHierarchyConflict = errors.New("hierarchy conflict")

	// ErrNotOwner is returned when the caller does not hold the lock.
	ErrNotOwner = errors.New("caller does not own the lock")

	// ErrLockNotFound is returned when refreshing a lock that does not
	// exist or has expired.
	ErrLockNotFound = errors.New("lock not found")

	// ErrInvalidResource is returned for an unknown resource type or a
	// malformed resource id.
	ErrInvalidResource = errors.New("invalid resource")

	// ErrNodeNotFound is returned when a node resource does not resolve in
	// the node tree.
	ErrNodeNotFound = tree.ErrNodeNotFound
)

// LockedError reports the lock that blocked an acquire.
type LockedError struct {
	Conflict *model.Conflict
}

func (e *LockedError) Error() string {
	owner := e.Conflict.OwnerName
	if owner == "" {
		owner = e.Conflict.OwnerID
	}
	switch e.Conflict.Relation {
	case model.RelationAncestor:
		return fmt.Sprintf("resource locked by %s through an ancestor lock", owner)
	case model.RelationDescendant:
		return fmt.Sprintf("resource locked by %s through a descendant lock", owner)
	default:
		return fmt.Sprintf("resource locked by %s", owner)
	}
}

// Is matches ErrResourceLocked, and ErrHierarchyConflict for non-self
// relations.
func (e *LockedError) Is(target error) bool {
	switch target {
	case ErrResourceLocked:
		return true
	case ErrHierarchyConflict:
		return e.Conflict.Relation != model.RelationSelf
	}
	return false
}

// statusOf maps an operation error to a metrics status label.
func statusOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrResourceLocked):
		return "conflict"
	case errors.Is(err, ErrNotOwner):
		return "forbidden"
	case errors.Is(err, ErrLockNotFound), errors.Is(err, ErrNodeNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrUserNotFound):
		return "unauthenticated"
	case errors.Is(err, ErrInvalidResource):
		return "invalid"
	default:
		return "error"
	}
}
