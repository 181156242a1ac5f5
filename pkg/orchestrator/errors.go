package orchestrator

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"mercator-hq/conclave/pkg/limits/ratelimit"
	"mercator-hq/conclave/pkg/providers"
	"mercator-hq/conclave/pkg/routing"
)

// Error codes returned to clients.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "GENERATION_FORBIDDEN"
	CodeAPIKeyRequired   = "API_KEY_REQUIRED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeDuplicate        = "DUPLICATE_REQUEST"
	CodeConcurrencyLimit = "CONCURRENCY_LIMIT"
	CodeCooldown         = "UPSTREAM_COOLDOWN"
	CodeUnavailable      = "UPSTREAM_UNAVAILABLE"
	CodeTimeout          = "TIMEOUT"
	CodeInvalidResponse  = "INVALID_RESPONSE"
	CodeUpstreamError    = "UPSTREAM_ERROR"
	CodeCanceled         = "CANCELED"
	CodeInternal         = "INTERNAL_ERROR"
)

// Error is a request failure with its HTTP mapping.
type Error struct {
	Status  int
	Code    string
	Message string

	// RetryAfterSec is set on retryable rejections.
	RetryAfterSec int

	// ModelIDUsed and FallbackFromModel annotate provider failures.
	ModelIDUsed       string
	FallbackFromModel string

	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Code, e.Status, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// AsError converts any error to an *Error, mapping unknown errors to 500.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return internalError(err)
}

// NewValidationError is a 400 for a malformed request.
func NewValidationError(msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: CodeValidation, Message: msg}
}

// NewUnauthorizedError is a 401 for a missing or invalid identity.
func NewUnauthorizedError(cause error) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: "authentication required", Cause: cause}
}

// NewRateLimitedError is a 429 with a retry hint.
func NewRateLimitedError(msg string, retryAfterSec int) *Error {
	return &Error{Status: http.StatusTooManyRequests, Code: CodeRateLimited, Message: msg, RetryAfterSec: retryAfterSec}
}

func internalError(cause error) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "internal error", Cause: cause}
}

func canceledError(cause error) *Error {
	return &Error{Status: providers.StatusClientClosedRequest, Code: CodeCanceled, Message: "client closed request", Cause: cause}
}

// fromFailure maps a provider failure to the client-facing error.
func fromFailure(f *providers.Failure) *Error {
	e := &Error{Message: f.Message, Cause: f}
	switch f.Code {
	case providers.CodeRateLimited:
		e.Status, e.Code = http.StatusTooManyRequests, CodeRateLimited
		e.RetryAfterSec = f.RetryAfterSec
	case providers.CodeUnavailable:
		e.Status, e.Code = http.StatusServiceUnavailable, CodeUnavailable
	case providers.CodeTimeout:
		e.Status, e.Code = http.StatusGatewayTimeout, CodeTimeout
	case providers.CodeInvalidResponse:
		e.Status, e.Code = http.StatusBadGateway, CodeInvalidResponse
	case providers.CodeCanceled:
		e.Status, e.Code = providers.StatusClientClosedRequest, CodeCanceled
	default:
		e.Code = CodeUpstreamError
		e.Status = http.StatusBadGateway
		if f.StatusCode >= 400 && f.StatusCode < 500 {
			e.Status = f.StatusCode
		}
	}
	if e.Message == "" {
		e.Message = "upstream request failed"
	}
	return e
}

// setRetryHint fills RetryAfterSec on retryable upstream rejections. An
// opened circuit's cooldown wins over the provider's hint; the floor is 1s.
func (e *Error) setRetryHint(cooldown time.Duration) {
	switch e.Code {
	case CodeRateLimited, CodeUnavailable, CodeTimeout:
	default:
		return
	}
	if cooldown > 0 {
		e.RetryAfterSec = ratelimit.RetryAfterSeconds(cooldown)
	}
	if e.RetryAfterSec < 1 {
		e.RetryAfterSec = 1
	}
}

// fromOutcome maps a failed fallback walk, annotated with the models tried.
func fromOutcome(out routing.Outcome) *Error {
	var e *Error
	if f, ok := providers.AsFailure(out.Err); ok {
		e = fromFailure(f)
	} else if errors.Is(out.Err, routing.ErrNoCandidates) {
		e = &Error{Status: http.StatusServiceUnavailable, Code: CodeUnavailable, Message: "no usable model", Cause: out.Err}
	} else {
		e = AsError(out.Err)
	}
	e.ModelIDUsed = out.ModelUsed
	e.FallbackFromModel = out.FallbackFrom
	return e
}
