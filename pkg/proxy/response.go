package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"mercator-hq/conclave/pkg/orchestrator"
	"mercator-hq/conclave/pkg/providers"
)

// Usage is the token accounting of a response.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

func usageFrom(u providers.TokenUsage) Usage {
	return Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}

// GenerateResponse is the body of a successful /generate.
type GenerateResponse struct {
	RequestID         string `json:"requestId,omitempty"`
	Response          string `json:"response"`
	ModelIDUsed       string `json:"modelIdUsed"`
	FallbackFromModel string `json:"fallbackFromModel,omitempty"`
	Usage             Usage  `json:"usage"`
	LatencyMs         int64  `json:"latencyMs"`
}

// NewGenerateResponse converts a pipeline result.
func NewGenerateResponse(res *orchestrator.Result) *GenerateResponse {
	return &GenerateResponse{
		RequestID:         res.RequestID,
		Response:          res.Content,
		ModelIDUsed:       res.ModelIDUsed,
		FallbackFromModel: res.FallbackFromModel,
		Usage:             usageFrom(res.Usage),
		LatencyMs:         res.Latency.Milliseconds(),
	}
}

// WriteJSONResponse writes data as JSON with statusCode.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) error {
	body, err := sonic.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode JSON response: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(append(body, '\n')); err != nil {
		return fmt.Errorf("failed to write JSON response: %w", err)
	}
	return nil
}

type deltaPayload struct {
	Chunk string `json:"chunk"`
}

type donePayload struct {
	Content           string `json:"content"`
	Usage             Usage  `json:"usage"`
	LatencyMs         int64  `json:"latencyMs"`
	ModelIDUsed       string `json:"modelIdUsed,omitempty"`
	FallbackFromModel string `json:"fallbackFromModel,omitempty"`
}

// SSEWriter writes named server-sent events and flushes after each one.
type SSEWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewSSEWriter sets the event-stream headers, lifts the server write
// deadline for this response and commits the 200 status.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout; the upstream stream
	// timeout bounds them instead.
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("response does not support streaming: %w", err)
	}
	return &SSEWriter{w: w, rc: rc}, nil
}

// WriteEvent writes one event with a JSON data line.
func (s *SSEWriter) WriteEvent(event string, data interface{}) error {
	payload, err := sonic.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("failed to write %s event: %w", event, err)
	}
	return s.rc.Flush()
}

// Emit writes a relayed pipeline event. It has the signature Session.Relay
// expects.
func (s *SSEWriter) Emit(ev orchestrator.StreamEvent) error {
	switch ev.Type {
	case orchestrator.EventDelta:
		return s.WriteEvent(string(ev.Type), deltaPayload{Chunk: ev.Chunk})
	case orchestrator.EventDone:
		return s.WriteEvent(string(ev.Type), donePayload{
			Content:           ev.Content,
			Usage:             usageFrom(ev.Usage),
			LatencyMs:         ev.Latency.Milliseconds(),
			ModelIDUsed:       ev.ModelIDUsed,
			FallbackFromModel: ev.FallbackFromModel,
		})
	default:
		var err error = ev.Err
		if ev.Err == nil {
			err = errors.New("stream failed")
		}
		_, body := NewErrorResponse(err)
		return s.WriteEvent(string(orchestrator.EventError), body)
	}
}
