package middleware

import (
	"context"
	"net/http"
)

// Authenticator reports whether a Gmail account is signed in
type Authenticator interface {
	Authenticated(ctx context.Context) bool
}

// RequireAccount rejects requests until a Gmail account is signed in
func (m *Middleware) RequireAccount(account Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !account.Authenticated(r.Context()) {
				writeJSONError(w, http.StatusUnauthorized, "not_authenticated", "Sign in with Google first")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
