package identity

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnauthenticated is returned when no caller identity is attached.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUserNotFound is returned when an identity has no user record.
	ErrUserNotFound = errors.New("user not found")
)

type contextKey struct{}

// WithUserID attaches the resolved caller id to ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserID returns the caller id stored in ctx, if any.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	if !ok || strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

// CurrentUser resolves the caller id from ctx or fails with
// ErrUnauthenticated.
func CurrentUser(ctx context.Context) (string, error) {
	id, ok := UserID(ctx)
	if !ok {
		return "", ErrUnauthenticated
	}
	return id, nil
}
