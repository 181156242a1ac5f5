// Package tracing installs the OpenTelemetry tracer provider.
//
// Spans are exported over OTLP/gRPC with a parent-based sampler. When
// tracing is disabled a noop provider is installed instead. Gateway
// packages obtain tracers with otel.Tracer and use the attribute helpers
// here for consistent conclave.* keys.
package tracing
