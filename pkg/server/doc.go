// Package server provides the HTTP server of the Conclave generation
// gateway.
//
// It ties the handlers and middleware together and manages the listener
// lifecycle.
//
// # Basic Usage
//
//	srv, err := server.NewServer(cfg, server.Deps{
//	    Pipeline:      orch,
//	    Authenticator: auth.Chain{jwtAuth, apiKeys},
//	    Health:        checker,
//	    Metrics:       collector,
//	})
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx)
//
// Start blocks until ctx is canceled, SIGINT or SIGTERM arrives, or Stop is
// called, then shuts down gracefully. Shutdown waits for in-flight requests
// and open streams up to server.shutdown_timeout.
//
// # Routes
//
//   - POST /generate: blocking generation, one JSON response
//   - POST /generate-stream: Server-Sent Events
//   - GET /health: liveness
//   - GET /ready: readiness (limits store, provider circuit, usage store)
//   - GET /version: build information
//   - GET /metrics: Prometheus scrape endpoint when metrics are enabled
//
// # Middleware Chain
//
// Every request passes, outermost first, through recovery, trace context
// extraction, request ID, client IP resolution and access logging. The
// generation routes add the per-IP burst guard, authentication and request
// metrics in that order.
package server
