package providers

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code classifies an upstream failure.
type Code string

const (
	// CodeRateLimited is a 429 from the provider.
	CodeRateLimited Code = "RATE_LIMITED"

	// CodeUnavailable is a connection failure or a 502/503 from the provider.
	CodeUnavailable Code = "UPSTREAM_UNAVAILABLE"

	// CodeTimeout is an attempt or stream deadline, or a 504 from the provider.
	CodeTimeout Code = "TIMEOUT"

	// CodeInvalidResponse is a response that parsed but had no usable content,
	// or did not parse at all.
	CodeInvalidResponse Code = "INVALID_RESPONSE"

	// CodeUpstreamError is any other provider error.
	CodeUpstreamError Code = "UPSTREAM_ERROR"

	// CodeCanceled means the caller's context ended the call. It is never
	// produced by the provider itself.
	CodeCanceled Code = "CANCELED"
)

// StatusClientClosedRequest is recorded when the caller went away.
const StatusClientClosedRequest = 499

// Failure is the structured error returned by every client call.
type Failure struct {
	// Provider is the configured provider name.
	Provider string

	// Model is the model the failing attempt targeted.
	Model string

	Code Code

	// StatusCode is the HTTP status from the provider, or the status the
	// failure maps to when there was no response (0 for network errors).
	StatusCode int

	Message string

	// RetryAfterSec is the provider's Retry-After hint, 0 when absent.
	RetryAfterSec int

	Latency time.Duration

	// Attempts is the number of HTTP attempts made, including retries.
	Attempts int

	// ModelUnavailable is set by the classifier when a 400/404/422 message
	// says the requested model cannot serve this request (unknown model, no
	// endpoint matching the data policy) rather than that the request is bad.
	ModelUnavailable bool

	Cause error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.StatusCode > 0 {
		return fmt.Sprintf("provider %q %s (status %d): %s", f.Provider, f.Code, f.StatusCode, f.Message)
	}
	return fmt.Sprintf("provider %q %s: %s", f.Provider, f.Code, f.Message)
}

// Unwrap returns the underlying error for error chain support.
func (f *Failure) Unwrap() error {
	return f.Cause
}

// ProviderCaused reports whether the failure is plausibly the provider's
// fault rather than the request's. This is the one classification that
// decides whether the circuit opens, for blocking and streaming calls alike.
//
// Timeouts and unavailability (network errors, 502, 503, 504) qualify.
// 429, 500 and every 4xx do not.
func (f *Failure) ProviderCaused() bool {
	if f == nil {
		return false
	}
	return f.Code == CodeTimeout || f.Code == CodeUnavailable
}

// Retryable reports whether the same model may be retried: the transient
// statuses 429, 502, 503, 504 and timeouts.
func (f *Failure) Retryable() bool {
	if f == nil {
		return false
	}
	switch f.Code {
	case CodeTimeout, CodeUnavailable, CodeRateLimited:
		return true
	}
	return false
}

// AuthRejected reports a 401 or 403 from the provider.
func (f *Failure) AuthRejected() bool {
	return f != nil && (f.StatusCode == http.StatusUnauthorized || f.StatusCode == http.StatusForbidden)
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
