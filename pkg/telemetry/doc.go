// Package telemetry groups the gateway's observability packages:
//
//   - logging: slog setup with context fields and credential redaction
//   - metrics: Prometheus collector on a private registry
//   - tracing: OpenTelemetry provider and span attribute helpers
//   - health: liveness and readiness probes
package telemetry
