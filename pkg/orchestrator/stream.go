package orchestrator

import (
	"context"
	"time"

	"mercator-hq/conclave/pkg/providers"
	"mercator-hq/conclave/pkg/routing"
	"mercator-hq/conclave/pkg/telemetry/tracing"
)

// EventType is the kind of a relayed stream event. The values double as SSE
// event names.
type EventType string

const (
	EventDelta EventType = "delta"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// StreamEvent is one event handed to the client writer.
type StreamEvent struct {
	Type EventType

	// Chunk is the delta text.
	Chunk string

	// Content, Usage, Latency and the model fields describe a done event.
	Content           string
	Usage             providers.TokenUsage
	Latency           time.Duration
	ModelIDUsed       string
	FallbackFromModel string

	// Err is set on error events.
	Err *Error
}

// OpenStream admits a streaming request and opens the provider stream.
// Fallback is only possible until the first delta: candidates are tried in
// order until one produces it. Errors returned here happen before anything
// was sent to the client.
//
// The caller must call Session.Close once done with the session.
func (o *Orchestrator) OpenStream(ctx context.Context, req *Request) (sess *Session, err error) {
	r := o.newRun(req, true)
	ctx, r.span = o.tracer.Start(ctx, "orchestrator.stream")
	tracing.SetRequestAttributes(r.span, r.req.RequestID, r.req.UserID, true)

	var stream *providers.Stream
	defer func() {
		if p := recover(); p != nil {
			if stream != nil {
				_ = stream.Close()
			}
			sess, err = nil, r.recoverPanic(ctx, p)
		}
	}()

	if e := r.admit(ctx); e != nil {
		return nil, e
	}
	plan, e := r.plan(ctx)
	if e != nil {
		return nil, e
	}

	r.setState(StateCallingUpstream)
	var first providers.Event
	out := routing.Walk(ctx, plan, func(ctx context.Context, model string) error {
		started := time.Now()
		st, err := o.upstream.OpenStream(ctx, r.upstreamRequest(model, o.cfg.StreamTimeout))
		if err != nil {
			r.recordAttempt(model, err, time.Since(started))
			return err
		}

		ev := st.Next()
		if ev.Kind == providers.EventError {
			_ = st.Close()
			r.recordAttempt(model, ev.Failure, time.Since(started))
			return ev.Failure
		}
		r.recordAttempt(model, nil, time.Since(started))
		stream, first = st, ev
		return nil
	})
	if !out.Succeeded() {
		return nil, r.upstreamFailed(ctx, out)
	}

	return &Session{
		run:          r,
		ctx:          ctx,
		stream:       stream,
		pending:      &first,
		modelUsed:    out.ModelUsed,
		fallbackFrom: out.FallbackFrom,
	}, nil
}

// Session is an open, admitted stream holding a concurrency slot.
type Session struct {
	run          *run
	ctx          context.Context
	stream       *providers.Stream
	pending      *providers.Event
	modelUsed    string
	fallbackFrom string
}

// RequestID returns the server-side ID the usage event is keyed by.
func (s *Session) RequestID() string { return s.run.id }

// ModelIDUsed returns the model serving the stream.
func (s *Session) ModelIDUsed() string { return s.modelUsed }

// FallbackFromModel returns the requested model when a fallback serves the
// stream, else "".
func (s *Session) FallbackFromModel() string { return s.fallbackFrom }

// State returns the request's current state.
func (s *Session) State() State { return s.run.State() }

func (s *Session) next() providers.Event {
	if s.pending != nil {
		ev := *s.pending
		s.pending = nil
		return ev
	}
	return s.stream.Next()
}

// Relay forwards events to emit until the stream ends. The run is finished
// before the terminal event is emitted, so the slot is already free when
// the client sees it.
//
// Relay returns nil once a terminal event was handed to emit. A failing
// emit or a cancelled ctx finishes the request as CANCELED and is returned.
func (s *Session) Relay(ctx context.Context, emit func(StreamEvent) error) (err error) {
	r := s.run
	defer func() {
		if p := recover(); p != nil {
			_ = s.stream.Close()
			err = r.recoverPanic(s.ctx, p)
		}
	}()

	stop := context.AfterFunc(ctx, func() { _ = s.stream.Close() })
	defer stop()

	for {
		ev := s.next()
		switch ev.Kind {
		case providers.EventDelta:
			if err := emit(StreamEvent{Type: EventDelta, Chunk: ev.Text}); err != nil {
				_ = s.stream.Close()
				s.cancel(err)
				return err
			}

		case providers.EventDone:
			r.finish(s.ctx, outcome{usage: ev.Usage, modelUsed: s.modelUsed, fallbackFrom: s.fallbackFrom})
			return emit(StreamEvent{
				Type:              EventDone,
				Content:           ev.Content,
				Usage:             ev.Usage,
				Latency:           time.Since(r.start),
				ModelIDUsed:       s.modelUsed,
				FallbackFromModel: s.fallbackFrom,
			})

		default:
			if ctx.Err() != nil || ev.Failure.Code == providers.CodeCanceled {
				cause := ctx.Err()
				if cause == nil {
					cause = ev.Failure
				}
				return s.cancel(cause)
			}

			cooldown := r.tripCircuit(s.ctx, ev.Failure)
			e := fromFailure(ev.Failure)
			e.setRetryHint(cooldown)
			e.ModelIDUsed, e.FallbackFromModel = s.modelUsed, s.fallbackFrom
			r.finish(s.ctx, outcome{err: e, modelUsed: s.modelUsed, fallbackFrom: s.fallbackFrom})
			return emit(StreamEvent{Type: EventError, Err: e, ModelIDUsed: s.modelUsed, FallbackFromModel: s.fallbackFrom})
		}
	}
}

// Close closes the provider stream. A session that never reached a
// terminal event is finished as CANCELED.
func (s *Session) Close() {
	_ = s.stream.Close()
	if !s.run.State().Terminal() {
		s.cancel(nil)
	}
}

func (s *Session) cancel(cause error) *Error {
	e := canceledError(cause)
	e.ModelIDUsed, e.FallbackFromModel = s.modelUsed, s.fallbackFrom
	s.run.finish(s.ctx, outcome{err: e, modelUsed: s.modelUsed, fallbackFrom: s.fallbackFrom})
	return e
}
