package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/n3tuk/document-node-lock/internal/identity"
)

func TestBearerAuth(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()

	valid, err := identity.IssueToken(secret, "alice", time.Hour, now)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	expired, err := identity.IssueToken(secret, "alice", time.Minute, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	foreign, err := identity.IssueToken([]byte("other-secret"), "alice", time.Hour, now)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{"no header", "", http.StatusOK, ""},
		{"valid token", "Bearer " + valid, http.StatusOK, "alice"},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, "alice"},
		{"expired token", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized, ""},
		{"basic scheme", "Basic YWxpY2U6cHc=", http.StatusUnauthorized, ""},
		{"empty token", "Bearer ", http.StatusUnauthorized, ""},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			called := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				gotUser, _ = identity.UserID(r.Context())
			})

			req := httptest.NewRequest(http.MethodPost, "/locks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			BearerAuth(secret, zap.NewNop())(handler).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("Status code = %d, want %d", rr.Code, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler called = %v", called)
			}
			if gotUser != tt.wantUser {
				t.Errorf("user = %q, want %q", gotUser, tt.wantUser)
			}
			if tt.wantStatus == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestTrustedUserHeader(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		wantUser string
		wantOK   bool
	}{
		{"absent", "", "", false},
		{"present", "bob", "bob", true},
		{"padded", "  carol ", "carol", true},
		{"blank", "   ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			var gotOK bool
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser, gotOK = identity.UserID(r.Context())
			})

			req := httptest.NewRequest(http.MethodPost, "/locks", nil)
			if tt.value != "" {
				req.Header.Set("X-User-ID", tt.value)
			}
			rr := httptest.NewRecorder()
			TrustedUserHeader("X-User-ID")(handler).ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Errorf("Status code = %d, want %d", rr.Code, http.StatusOK)
			}
			if gotUser != tt.wantUser || gotOK != tt.wantOK {
				t.Errorf("UserID() = %q, %v, want %q, %v", gotUser, gotOK, tt.wantUser, tt.wantOK)
			}
		})
	}
}
