package middleware

import (
	"context"
	"net/http"
)

// WithUserForTest attaches a username to the request context for testing.
func WithUserForTest(r *http.Request, user string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userContextKey, user))
}
