package identity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/n3tuk/document-node-lock/internal/database"
	"github.com/n3tuk/document-node-lock/internal/model"
)

func TestCurrentUser(t *testing.T) {
	ctx := context.Background()

	if _, err := CurrentUser(ctx); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("CurrentUser() error = %v, want ErrUnauthenticated", err)
	}

	if _, err := CurrentUser(WithUserID(ctx, "  ")); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("CurrentUser(blank) error = %v, want ErrUnauthenticated", err)
	}

	id, err := CurrentUser(WithUserID(ctx, "alice"))
	if err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if id != "alice" {
		t.Errorf("CurrentUser() = %s, want alice", id)
	}
}

func TestDirectories(t *testing.T) {
	db, err := database.Open(context.Background(), database.Config{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "users.db"),
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close()

	sqlDir := NewSQLDirectory(db)
	if err := sqlDir.Put(context.Background(), model.User{ID: "u1", DisplayName: "Ada"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := sqlDir.Put(context.Background(), model.User{ID: "u1", DisplayName: "Ada L."}); err != nil {
		t.Fatalf("Put() upsert error = %v", err)
	}

	dirs := map[string]Directory{
		"memory": NewMemoryDirectory(model.User{ID: "u1", DisplayName: "Ada L."}),
		"sql":    sqlDir,
	}

	for name, dir := range dirs {
		t.Run(name, func(t *testing.T) {
			u, err := dir.GetUser(context.Background(), "u1")
			if err != nil {
				t.Fatalf("GetUser() error = %v", err)
			}
			if u.DisplayName != "Ada L." {
				t.Errorf("DisplayName = %s, want Ada L.", u.DisplayName)
			}

			if _, err := dir.GetUser(context.Background(), "nobody"); !errors.Is(err, ErrUserNotFound) {
				t.Errorf("GetUser(nobody) error = %v, want ErrUserNotFound", err)
			}
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()

	raw, err := IssueToken(secret, "u1", time.Hour, now)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	sub, err := ParseToken(secret, raw)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if sub != "u1" {
		t.Errorf("subject = %s, want u1", sub)
	}
}

func TestParseTokenRejects(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()

	expired, err := IssueToken(secret, "u1", time.Minute, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	otherKey, err := IssueToken([]byte("other"), "u1", time.Hour, now)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	tests := []struct {
		name string
		raw  string
	}{
		{"garbage", "not-a-token"},
		{"expired", expired},
		{"wrong key", otherKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(secret, tt.raw); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("ParseToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestIssueTokenValidation(t *testing.T) {
	if _, err := IssueToken(nil, "u1", time.Hour, time.Now()); err == nil {
		t.Error("IssueToken() with empty secret should fail")
	}
	if _, err := IssueToken([]byte("s"), "", time.Hour, time.Now()); err == nil {
		t.Error("IssueToken() with empty user should fail")
	}
}
