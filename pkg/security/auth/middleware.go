package auth

import (
	"log/slog"
	"net/http"
)

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware is HTTP middleware that requires an authenticated identity.
type Middleware struct {
	authn   Authenticator
	onError ErrorWriter
}

// NewMiddleware creates the authentication middleware. A nil onError writes
// a plain 401.
func NewMiddleware(authn Authenticator, onError ErrorWriter) *Middleware {
	if onError == nil {
		onError = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		}
	}
	return &Middleware{authn: authn, onError: onError}
}

// Handle wraps next with authentication.
func (m *Middleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.authn.Authenticate(r)
		if err != nil {
			slog.Warn("authentication failed",
				"error", err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			m.onError(w, r, err)
			return
		}

		slog.Debug("request authenticated",
			"user_id", id.UserID,
			"method", id.Method,
			"path", r.URL.Path,
		)
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}
