package proxy

import (
	"net/http"
	"strconv"

	"mercator-hq/conclave/pkg/orchestrator"
	"mercator-hq/conclave/pkg/telemetry/logging"
)

// internalMessage replaces the message of every 500.
const internalMessage = "An internal error occurred. Please try again later."

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	Error             string `json:"error"`
	Code              string `json:"code"`
	RetryAfterSec     int    `json:"retryAfterSec,omitempty"`
	ModelIDUsed       string `json:"modelIdUsed,omitempty"`
	FallbackFromModel string `json:"fallbackFromModel,omitempty"`
}

var redactor, _ = logging.NewRedactor(nil)

// NewErrorResponse renders err. Unknown errors become INTERNAL_ERROR and
// internal details never reach the client.
func NewErrorResponse(err error) (int, *ErrorResponse) {
	e := orchestrator.AsError(err)
	msg := e.Message
	if e.Status >= http.StatusInternalServerError && e.Code == orchestrator.CodeInternal {
		msg = internalMessage
	} else if redactor != nil {
		msg = redactor.RedactString(msg)
	}
	return e.Status, &ErrorResponse{
		Error:             msg,
		Code:              e.Code,
		RetryAfterSec:     e.RetryAfterSec,
		ModelIDUsed:       e.ModelIDUsed,
		FallbackFromModel: e.FallbackFromModel,
	}
}

// WriteError writes err as a JSON error response, with Retry-After when the
// error carries a retry hint.
func WriteError(w http.ResponseWriter, err error) {
	status, body := NewErrorResponse(err)
	if body.RetryAfterSec > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfterSec))
	}
	_ = WriteJSONResponse(w, status, body)
}
