// Package logging configures log/slog for the gateway.
//
// New returns a *slog.Logger whose handler copies request_id, user_id and
// model from the context, plus trace_id and span_id when an OpenTelemetry
// span is active. Install also makes it the process default so packages
// that call slog.Default().With("component", ...) share it.
//
//	logger, err := logging.Install(logging.FromConfig(cfg.Telemetry.Logging))
//	ctx = logging.WithRequestID(ctx, id)
//	logger.InfoContext(ctx, "request admitted", "api_key", key) // api_key is masked
//
// # Redaction
//
// With Redact set, provider keys (sk-...), bearer tokens, JWTs and
// password assignments are masked in string and error attributes, and
// attributes named like secret, token, password or api_key are masked
// whatever their content. Message content is never logged.
package logging
