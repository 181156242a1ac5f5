package providers

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EventKind discriminates stream events.
type EventKind int

const (
	// EventDelta carries one piece of generated text.
	EventDelta EventKind = iota

	// EventDone is the successful terminal event.
	EventDone

	// EventError is the failed terminal event.
	EventError
)

// String returns the SSE event name for the kind.
func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one normalized stream event.
type Event struct {
	Kind EventKind

	// Text is the delta text (EventDelta).
	Text string

	// Content, Usage and Latency describe the finished stream (EventDone).
	Content string
	Usage   TokenUsage
	Latency time.Duration

	// Failure describes the error (EventError).
	Failure *Failure
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind != EventDelta
}

// Stream reads an upstream SSE response as normalized events.
// A Stream is owned by one goroutine; only Close may be called concurrently.
type Stream struct {
	client *Client
	model  string
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	lines  *bufio.Scanner
	span   trace.Span
	start  time.Time

	content  strings.Builder
	usage    TokenUsage
	deltas   int
	terminal *Event

	closeOnce sync.Once
}

// OpenStream starts a streaming completion. Connection failures and non-2xx
// responses are retried like blocking calls and returned as a *Failure; once
// a Stream is returned, every later failure arrives as an EventError.
func (c *Client) OpenStream(ctx context.Context, req *Request) (*Stream, error) {
	start := time.Now()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.StreamTimeout
	}

	parent := ctx
	sctx, cancel := context.WithTimeout(ctx, timeout)
	sctx, span := c.tracer.Start(sctx, "upstream.stream", trace.WithAttributes(
		attribute.String("llm.provider", c.cfg.Name),
		attribute.String("llm.model", req.Model),
	))

	body, err := sonic.Marshal(chatRequest{
		Model:         req.Model,
		Messages:      req.Messages,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		span.End()
		cancel()
		return nil, &Failure{Provider: c.cfg.Name, Model: req.Model, Code: CodeUpstreamError,
			Message: "failed to encode request", Cause: err}
	}

	resp, _, f := retry(sctx, c, req, func() (*http.Response, *Failure) {
		return c.send(parent, sctx, req.Model, req.APIKey, body, true)
	})
	if f != nil {
		f.Latency = time.Since(start)
		span.RecordError(f)
		span.SetStatus(otelcodes.Error, string(f.Code))
		span.End()
		cancel()
		return nil, f
	}

	lines := bufio.NewScanner(resp.Body)
	lines.Buffer(make([]byte, 0, 64<<10), 1<<20)

	return &Stream{
		client: c,
		model:  req.Model,
		parent: parent,
		ctx:    sctx,
		cancel: cancel,
		body:   resp.Body,
		lines:  lines,
		span:   span,
		start:  start,
	}, nil
}

// Model returns the model this stream was opened for.
func (s *Stream) Model() string {
	return s.model
}

// Deltas returns how many delta events have been produced.
func (s *Stream) Deltas() int {
	return s.deltas
}

// Next blocks until the next event. After a terminal event every further
// call returns that same event.
func (s *Stream) Next() Event {
	if s.terminal != nil {
		return *s.terminal
	}

	for s.lines.Scan() {
		line := strings.TrimRight(s.lines.Text(), "\r")

		// Blank separators, ": keep-alive" comments and event:/id: fields
		// carry nothing we relay.
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return s.finish()
		}

		var chunk chatResponse
		if err := sonic.UnmarshalString(data, &chunk); err != nil {
			s.client.logger.DebugContext(s.parent, "skipping malformed stream chunk",
				"model", s.model,
				"error", err,
			)
			continue
		}

		if chunk.Error != nil {
			return s.fail(s.client.envelopeFailure(s.model, chunk.Error))
		}
		if chunk.Usage != nil {
			s.usage = chunk.Usage.normalize()
		}

		text := ""
		if len(chunk.Choices) > 0 {
			text = choiceText(chunk.Choices[0])
		}
		if text == "" {
			continue
		}

		s.content.WriteString(text)
		s.deltas++
		return Event{Kind: EventDelta, Text: text}
	}

	if err := s.lines.Err(); err != nil {
		return s.fail(s.client.transportFailure(s.parent, s.ctx, s.model, err))
	}
	if cerr := s.ctx.Err(); cerr != nil {
		return s.fail(s.client.transportFailure(s.parent, s.ctx, s.model, cerr))
	}

	// The body ended without [DONE]; whatever arrived is the answer.
	return s.finish()
}

// finish ends the stream successfully, unless nothing was produced.
func (s *Stream) finish() Event {
	if strings.TrimSpace(s.content.String()) == "" {
		return s.fail(&Failure{
			Provider:   s.client.cfg.Name,
			Model:      s.model,
			Code:       CodeInvalidResponse,
			StatusCode: http.StatusBadGateway,
			Message:    "empty streamed response",
		})
	}

	ev := Event{
		Kind:    EventDone,
		Content: s.content.String(),
		Usage:   s.usage,
		Latency: time.Since(s.start),
	}
	s.terminal = &ev
	s.span.SetAttributes(
		attribute.Int("llm.stream.deltas", s.deltas),
		attribute.Int("llm.tokens.total", s.usage.TotalTokens),
	)
	s.Close()
	return ev
}

func (s *Stream) fail(f *Failure) Event {
	f.Latency = time.Since(s.start)
	ev := Event{Kind: EventError, Failure: f, Latency: f.Latency}
	s.terminal = &ev
	s.span.RecordError(f)
	s.span.SetStatus(otelcodes.Error, string(f.Code))
	s.Close()
	return ev
}

// Close aborts the upstream response. It is safe to call more than once
// and from another goroutine, which unblocks a pending Next.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.body.Close()
		s.span.End()
	})
	return err
}
