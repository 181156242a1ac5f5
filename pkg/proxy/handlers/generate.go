package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"mercator-hq/conclave/pkg/orchestrator"
	"mercator-hq/conclave/pkg/proxy"
	"mercator-hq/conclave/pkg/proxy/middleware"
	"mercator-hq/conclave/pkg/security/auth"
)

// Pipeline is the part of the orchestrator the handlers drive.
type Pipeline interface {
	Generate(ctx context.Context, req *orchestrator.Request) (*orchestrator.Result, error)
	OpenStream(ctx context.Context, req *orchestrator.Request) (*orchestrator.Session, error)
}

// Options tunes request parsing.
type Options struct {
	// MaxBodyBytes caps the request body. Zero means proxy.DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

func (o Options) maxBody() int64 {
	if o.MaxBodyBytes <= 0 {
		return proxy.DefaultMaxBodyBytes
	}
	return o.MaxBodyBytes
}

// decode turns an authenticated HTTP request into a pipeline request. On
// failure the error response has already been written.
func decode(w http.ResponseWriter, r *http.Request, opts Options) (*orchestrator.Request, bool) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok || id.UserID == "" {
		proxy.WriteError(w, orchestrator.NewUnauthorizedError(auth.ErrUnauthenticated))
		return nil, false
	}

	body, err := proxy.ParseGenerateRequest(r, opts.maxBody())
	if err != nil {
		slog.DebugContext(r.Context(), "rejected generate request", "error", err)
		proxy.WriteError(w, err)
		return nil, false
	}

	return body.ToOrchestrator(proxy.Caller{
		RequestID:         middleware.GetRequestID(r.Context()),
		UserID:            id.UserID,
		Tier:              id.Tier,
		ClientIP:          middleware.GetClientIP(r.Context()),
		IdempotencyHeader: proxy.IdempotencyKeyFrom(r),
	}), true
}

// GenerateHandler serves POST /generate.
type GenerateHandler struct {
	Pipeline Pipeline
	Options  Options
}

// NewGenerateHandler creates the blocking generation handler.
func NewGenerateHandler(p Pipeline, opts Options) *GenerateHandler {
	return &GenerateHandler{Pipeline: p, Options: opts}
}

// ServeHTTP implements http.Handler.
func (h *GenerateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		proxy.WriteError(w, &orchestrator.Error{
			Status:  http.StatusMethodNotAllowed,
			Code:    orchestrator.CodeValidation,
			Message: "method not allowed",
		})
		return
	}

	req, ok := decode(w, r, h.Options)
	if !ok {
		return
	}

	res, err := h.Pipeline.Generate(r.Context(), req)
	if err != nil {
		proxy.WriteError(w, err)
		return
	}

	if err := proxy.WriteJSONResponse(w, http.StatusOK, proxy.NewGenerateResponse(res)); err != nil {
		slog.ErrorContext(r.Context(), "failed to write response", "error", err)
	}
}

// StreamHandler serves POST /generate-stream as Server-Sent Events.
//
// Everything that fails before the first token is answered as a plain JSON
// error so clients can tell admission failures from stream failures.
type StreamHandler struct {
	Pipeline Pipeline
	Options  Options
}

// NewStreamHandler creates the streaming generation handler.
func NewStreamHandler(p Pipeline, opts Options) *StreamHandler {
	return &StreamHandler{Pipeline: p, Options: opts}
}

// ServeHTTP implements http.Handler.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		proxy.WriteError(w, &orchestrator.Error{
			Status:  http.StatusMethodNotAllowed,
			Code:    orchestrator.CodeValidation,
			Message: "method not allowed",
		})
		return
	}

	req, ok := decode(w, r, h.Options)
	if !ok {
		return
	}

	ctx := r.Context()
	sess, err := h.Pipeline.OpenStream(ctx, req)
	if err != nil {
		proxy.WriteError(w, err)
		return
	}
	defer sess.Close()

	sse, err := proxy.NewSSEWriter(w)
	if err != nil {
		slog.ErrorContext(ctx, "failed to start event stream", "error", err)
		return
	}

	if err := sess.Relay(ctx, sse.Emit); err != nil {
		slog.DebugContext(ctx, "stream ended early",
			"model", sess.ModelIDUsed(),
			"state", sess.State().String(),
			"error", err,
		)
	}
}
