package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jshsakura/oc-terminal-list/internal/auth"
)

type contextKey string

const userContextKey contextKey = "user"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequireAuth resolves the bearer token of every request to a username and
// stores it in the request context. With disabled set every request runs as
// anonymous.
func RequireAuth(resolver auth.Resolver, disabled bool, anonymous string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if disabled {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, anonymous)))
				return
			}

			token := BearerToken(r)
			if token == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required", "code": "unauthorized"})
				return
			}
			user, err := resolver.Resolve(token)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid or expired token", "code": "unauthorized"})
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// GetUser returns the username stored by RequireAuth, or "".
func GetUser(r *http.Request) string {
	user, _ := r.Context().Value(userContextKey).(string)
	return user
}
