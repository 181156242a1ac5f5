package providers

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// modelUnavailablePhrases are provider messages that mean the requested
// model cannot serve this request, so another model might. Matching is
// case-insensitive and only applied to 400, 404 and 422 responses.
var modelUnavailablePhrases = []string{
	"no endpoints found",
	"data policy",
	"not a valid model",
	"model not found",
	"model_not_found",
	"unknown model",
	"model does not exist",
	"is not available for this model",
	"no allowed providers are available",
}

// codeForStatus maps a provider HTTP status to a failure code.
func codeForStatus(status int) Code {
	switch status {
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return CodeUnavailable
	case http.StatusGatewayTimeout:
		return CodeTimeout
	}
	return CodeUpstreamError
}

// matchesModelUnavailable reports whether msg says the model is unusable.
func matchesModelUnavailable(status int, msg string) bool {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
	default:
		return false
	}
	lower := strings.ToLower(msg)
	for _, phrase := range modelUnavailablePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// statusFailure builds the failure for a non-2xx provider response.
func (c *Client) statusFailure(model string, status int, header http.Header, body []byte) *Failure {
	msg := errorMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}

	f := &Failure{
		Provider:         c.cfg.Name,
		Model:            model,
		Code:             codeForStatus(status),
		StatusCode:       status,
		Message:          msg,
		ModelUnavailable: matchesModelUnavailable(status, msg),
	}
	if status == http.StatusTooManyRequests {
		f.RetryAfterSec = parseRetryAfter(header.Get("Retry-After"))
	}
	return f
}

// envelopeFailure builds the failure for an error envelope that arrived in
// a 200 body or in the middle of a stream. The envelope code is used as the
// status when it is numeric.
func (c *Client) envelopeFailure(model string, detail *errorDetail) *Failure {
	status := envelopeStatus(detail.Code)
	msg := detail.Message
	if msg == "" {
		msg = "provider returned an error"
	}

	f := &Failure{
		Provider:   c.cfg.Name,
		Model:      model,
		Code:       CodeUpstreamError,
		StatusCode: http.StatusBadGateway,
		Message:    msg,
	}
	if status >= 400 {
		f.Code = codeForStatus(status)
		f.StatusCode = status
		f.ModelUnavailable = matchesModelUnavailable(status, msg)
	}
	return f
}

func envelopeStatus(code interface{}) int {
	switch v := code.(type) {
	case float64:
		return int(v)
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// errorMessage extracts error.message from a provider error body, falling
// back to a trimmed prefix of the raw body.
func errorMessage(body []byte) string {
	var env errorEnvelope
	if err := sonic.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	raw := strings.TrimSpace(string(body))
	if len(raw) > 512 {
		raw = raw[:512]
	}
	return raw
}

// parseRetryAfter parses the Retry-After header value in whole seconds.
// It supports both delay-seconds and HTTP-date formats.
func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}

	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err == nil && seconds > 0 {
		return seconds
	}

	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return int(math.Ceil(d.Seconds()))
		}
	}
	return 0
}
