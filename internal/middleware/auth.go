package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/n3tuk/document-node-lock/internal/identity"
	"github.com/n3tuk/document-node-lock/internal/model"
)

// BearerAuth resolves the caller from an HS256 bearer token and stores the
// user id in the request context. Requests without an Authorization header
// pass through anonymous, and the lock manager rejects them where an
// identity is required. A malformed or invalid token is a 401.
func BearerAuth(secret []byte, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			scheme, raw, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
				unauthorized(w, "Malformed authorization header")
				return
			}

			userID, err := identity.ParseToken(secret, strings.TrimSpace(raw))
			if err != nil {
				logger.Debug("Rejected bearer token",
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				unauthorized(w, "Invalid bearer token")
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.WithUserID(r.Context(), userID)))
		})
	}
}

// TrustedUserHeader takes the caller's user id from header, which an
// authenticating proxy in front of the service is expected to set. The value
// is trimmed. An empty header leaves the request anonymous.
func TrustedUserHeader(header string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(header))
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithUserID(r.Context(), userID)))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="document-node-lock"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(model.LockResponse{
		Status:  "error",
		Code:    model.CodeUnauthenticated,
		Message: message,
	})
}
