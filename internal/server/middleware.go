package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"codeloom/internal/auth"
)

type ctxKey string

const sessionContextKey ctxKey = "session"

// requireAuth validates the bearer access token and then confirms the session
// it references still exists, so revoked sessions are rejected even while the
// JWT itself is unexpired.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		claims, err := s.Tokens.ParseAccess(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		sess, err := s.Sessions.Get(r.Context(), claims.SessionID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to read session")
			return
		}
		if sess == nil || sess.UserID != claims.Subject || sess.ExpiresAt.Before(time.Now()) {
			writeError(w, http.StatusUnauthorized, "Session expired")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func sessionFromContext(ctx context.Context) *auth.Session {
	if val, ok := ctx.Value(sessionContextKey).(*auth.Session); ok {
		return val
	}
	return nil
}
