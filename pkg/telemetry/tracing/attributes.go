package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys in the conclave.* namespace.
const (
	AttrRequestID      = "conclave.request_id"
	AttrUser           = "conclave.user"
	AttrStream         = "conclave.stream"
	AttrModelRequested = "conclave.model.requested"
	AttrModelUsed      = "conclave.model.used"
	AttrFallbackFrom   = "conclave.model.fallback_from"
	AttrCandidates     = "conclave.model.candidates"
	AttrState          = "conclave.state"
	AttrErrorCode      = "conclave.error.code"
	AttrStatusCode     = "conclave.status_code"

	AttrTokensPrompt     = "conclave.tokens.prompt"
	AttrTokensCompletion = "conclave.tokens.completion"
)

// SetRequestAttributes tags a span with the request identity.
func SetRequestAttributes(span trace.Span, requestID, userID string, stream bool) {
	span.SetAttributes(
		attribute.String(AttrRequestID, requestID),
		attribute.String(AttrUser, userID),
		attribute.Bool(AttrStream, stream),
	)
}

// SetModelAttributes records which model served the request.
func SetModelAttributes(span trace.Span, requested, used, fallbackFrom string) {
	attrs := []attribute.KeyValue{attribute.String(AttrModelRequested, requested)}
	if used != "" {
		attrs = append(attrs, attribute.String(AttrModelUsed, used))
	}
	if fallbackFrom != "" {
		attrs = append(attrs, attribute.String(AttrFallbackFrom, fallbackFrom))
	}
	span.SetAttributes(attrs...)
}

// SetTokenAttributes records token counts.
func SetTokenAttributes(span trace.Span, promptTokens, completionTokens int) {
	span.SetAttributes(
		attribute.Int(AttrTokensPrompt, promptTokens),
		attribute.Int(AttrTokensCompletion, completionTokens),
	)
}

// SetOutcome records the final HTTP status and state machine state.
func SetOutcome(span trace.Span, state string, status int) {
	span.SetAttributes(
		attribute.String(AttrState, state),
		attribute.Int(AttrStatusCode, status),
	)
}
