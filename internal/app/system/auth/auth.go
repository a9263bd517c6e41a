// internal/app/system/auth/auth.go
//
// Package auth guards the machine-facing routes with static bearer tokens.
// Each protected surface (commerce hooks, admin API) has its own token and a
// caller name that is recorded in the audit trail.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Caller identifies who made an authenticated request.
type Caller struct {
	Name string // "commerce", "admin"
}

type ctxKey string

const callerKey ctxKey = "caller"

// CurrentCaller returns the caller set by RequireToken.
func CurrentCaller(r *http.Request) (Caller, bool) {
	c, ok := r.Context().Value(callerKey).(Caller)
	return c, ok
}

// CallerName returns the caller name or "anonymous".
func CallerName(r *http.Request) string {
	if c, ok := CurrentCaller(r); ok {
		return c.Name
	}
	return "anonymous"
}

// WithCaller returns a copy of r carrying c.
func WithCaller(r *http.Request, c Caller) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), callerKey, c))
}

// RequireToken rejects requests whose Authorization header is not
// "Bearer <token>". An empty configured token rejects everything.
func RequireToken(name, token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearer(r)
			if !ok || len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="cohortsync"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, WithCaller(r, Caller{Name: name}))
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[7:])
	return tok, tok != ""
}
