// Package proxy holds the wire layer of the generation endpoints: request
// parsing and validation, JSON responses, the error envelope and the SSE
// event writer.
//
// Handlers live in the handlers subpackage and middleware in middleware;
// both build on the types here.
//
// # Request
//
//	POST /generate
//	POST /generate-stream
//	X-Idempotency-Key: <optional, overrides idempotencyKey>
//
//	{
//	  "conversationId": "c1",
//	  "roundId": "r1",
//	  "selectedAvatar": "a1",
//	  "modelId": "openai/gpt-4o-mini",
//	  "messages": [{"role": "user", "content": "Hello"}],
//	  "idempotencyKey": "k1"
//	}
//
// # Errors
//
// Every failure is rendered as
//
//	{"error": "...", "code": "RATE_LIMITED", "retryAfterSec": 12}
//
// with a Retry-After header whenever retryAfterSec is present.
//
// # Streaming
//
// A stream is a sequence of SSE events: zero or more "delta" events with
// {"chunk"}, then exactly one "done" ({"content", "usage", "latencyMs"}) or
// "error" ({"error", "code"}).
package proxy
