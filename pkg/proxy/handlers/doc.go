// Package handlers provides the HTTP handlers of the generation endpoints.
//
//   - GenerateHandler serves POST /generate and answers with one JSON body
//   - StreamHandler serves POST /generate-stream as Server-Sent Events
//   - RegisterChecks adds the pipeline's readiness checks to a health.Checker
//
// Both generation handlers expect an authenticated identity in the request
// context (see pkg/security/auth) and hand the parsed request to the
// orchestrator. Errors are written with proxy.WriteError:
//
//	{
//	  "error": "rate limit exceeded",
//	  "code": "RATE_LIMITED",
//	  "retryAfterSec": 12
//	}
//
// A stream that fails before its first token is answered with the same JSON
// envelope. Once events have started, failures arrive as an "error" event.
package handlers
