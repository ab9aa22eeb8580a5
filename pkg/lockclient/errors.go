package lockclient

import (
	"errors"
	"fmt"

	"github.com/n3tuk/document-node-lock/internal/model"
)

// Errors returned by Client methods, matched with errors.Is.
var (
	// ErrUnauthenticated is returned when the request carried no identity.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrUserNotFound is returned when the caller is not a known user.
	ErrUserNotFound = errors.New("user not found")
	// ErrResourceLocked matches every rejected acquire.
	ErrResourceLocked = errors.New("resource is locked")
	// ErrHierarchyConflict matches an acquire rejected by a lock on an
	// ancestor or descendant.
	ErrHierarchyConflict = errors.New("ancestor or descendant is locked")
	// ErrNotOwner is returned when releasing or refreshing someone else's lock.
	ErrNotOwner = errors.New("lock is held by another user")
	// ErrLockNotFound is returned when refreshing a lock that is gone or expired.
	ErrLockNotFound = errors.New("lock not found")
	// ErrNotFound is returned when a node does not exist in its document.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidRequest is returned for malformed ids or resource types.
	ErrInvalidRequest = errors.New("invalid request")
)

// codeErrors maps response codes to sentinel errors.
var codeErrors = map[string]error{
	model.CodeUnauthenticated: ErrUnauthenticated,
	model.CodeUserNotFound:    ErrUserNotFound,
	model.CodeNotOwner:        ErrNotOwner,
	model.CodeLockNotFound:    ErrLockNotFound,
	model.CodeNotFound:        ErrNotFound,
	model.CodeInvalidRequest:  ErrInvalidRequest,
}

// LockedError is returned when an acquire is rejected. It matches
// ErrResourceLocked, and ErrHierarchyConflict when the blocker is an
// ancestor or descendant.
type LockedError struct {
	Conflict *Conflict
	Message  string
}

func (e *LockedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrResourceLocked.Error()
}

func (e *LockedError) Is(target error) bool {
	switch target {
	case ErrResourceLocked:
		return true
	case ErrHierarchyConflict:
		return e.Conflict != nil && e.Conflict.Relation != model.RelationSelf
	}
	return false
}

// APIError is a failed request with a known response code.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d %s)", e.Message, e.StatusCode, e.Code)
}

func (e *APIError) Unwrap() error {
	return e.err
}

// UnexpectedStatusError is a response the client could not interpret.
type UnexpectedStatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s %s -> %d body=%q", e.Method, e.Path, e.Code, e.Body)
}
