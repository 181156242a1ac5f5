package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"mercator-hq/conclave/pkg/proxy"
)

// RecoveryMiddleware recovers from panics in HTTP handlers and returns a 500
// INTERNAL_ERROR envelope. The panic is logged with its stack; nothing
// internal reaches the client.
//
// Example usage:
//
//	handler = RecoveryMiddleware(handler)
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.ErrorContext(r.Context(), "panic in handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)

				proxy.WriteError(w, errors.New("handler panic"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
