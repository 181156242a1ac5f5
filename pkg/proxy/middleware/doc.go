// Package middleware provides the HTTP middleware of the generation
// endpoints.
//
// # Middleware Chain
//
// The server composes the chain outermost first:
//
//	Recovery -> RequestID -> ClientIP -> Logging -> BurstGuard -> Auth -> Metrics -> handler
//
// Each piece has one job:
//   - RecoveryMiddleware turns a handler panic into a 500 INTERNAL_ERROR envelope
//   - RequestIDMiddleware assigns X-Request-ID and stores it for logs and usage events
//   - ClientIPMiddleware resolves the caller IP, honoring forwarding headers
//     only behind a trusted proxy
//   - LoggingMiddleware writes one structured access record per request
//   - BurstGuard is a per-IP token bucket (golang.org/x/time/rate) that sheds
//     floods before authentication and store work
//   - MetricsMiddleware records request count and duration per endpoint
//
// Authentication lives in pkg/security/auth and is wired by the server.
//
// # Logging
//
// LoggingMiddleware records:
//
//	{
//	  "level": "INFO",
//	  "msg": "request completed",
//	  "method": "POST",
//	  "path": "/generate",
//	  "status": 200,
//	  "latency_ms": 1250,
//	  "request_id": "550e8400-e29b-41d4-a716-446655440000",
//	  "client_ip": "203.0.113.7"
//	}
//
// request_id is added by the logging handler from the context.
package middleware
