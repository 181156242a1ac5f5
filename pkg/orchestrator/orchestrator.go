package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/conclave/pkg/entitlement"
	"mercator-hq/conclave/pkg/limits"
	"mercator-hq/conclave/pkg/limits/concurrency"
	"mercator-hq/conclave/pkg/limits/idempotency"
	"mercator-hq/conclave/pkg/limits/ratelimit"
	"mercator-hq/conclave/pkg/policy"
	"mercator-hq/conclave/pkg/providers"
	"mercator-hq/conclave/pkg/routing"
	"mercator-hq/conclave/pkg/security/secrets"
	"mercator-hq/conclave/pkg/telemetry/metrics"
	"mercator-hq/conclave/pkg/telemetry/tracing"
	"mercator-hq/conclave/pkg/usage"
)

// Upstream is the provider client the orchestrator calls.
type Upstream interface {
	Name() string
	Call(ctx context.Context, req *providers.Request) (*providers.Completion, error)
	OpenStream(ctx context.Context, req *providers.Request) (*providers.Stream, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Limits       *limits.Manager
	Upstream     Upstream
	Resolver     *routing.Resolver
	Entitlements entitlement.Checker
	Keys         secrets.KeyProvider
	Usage        usage.Store

	// Policy restricts candidate models per API key. Optional.
	Policy policy.Provider

	// Metrics is optional; a nil collector records nothing.
	Metrics *metrics.Collector

	Logger *slog.Logger
}

// Config tunes the pipeline.
type Config struct {
	// FallbackMaxAttempts caps how many candidate models one request tries.
	// Default: 3
	FallbackMaxAttempts int

	// UpstreamTimeout and StreamTimeout are passed to the provider client.
	// Zero uses the client defaults.
	UpstreamTimeout time.Duration
	StreamTimeout   time.Duration

	// UpstreamMaxRetries is passed to the provider client. Zero uses the
	// client default.
	UpstreamMaxRetries int

	// UsageWriteTimeout bounds the usage write during finalization.
	// Default: 5s
	UsageWriteTimeout time.Duration
}

// Request is one generation request after authentication.
type Request struct {
	// RequestID correlates logs with the caller. It is not trusted as a
	// usage key; every run gets its own server-side ID.
	RequestID string
	UserID    string
	Tier      string
	ClientIP  string

	ConversationID string
	RoundID        string
	SelectedAvatar string
	ModelID        string
	Messages       []providers.Message

	// IdempotencyKey comes from the body, IdempotencyHeader from the
	// X-Idempotency-Key header. The header wins.
	IdempotencyKey    string
	IdempotencyHeader string
}

// Validate checks the fields every request needs.
func (r *Request) Validate() *Error {
	if strings.TrimSpace(r.UserID) == "" {
		return NewUnauthorizedError(nil)
	}
	if strings.TrimSpace(r.ConversationID) == "" {
		return NewValidationError("conversationId is required")
	}
	if strings.TrimSpace(r.ModelID) == "" {
		return NewValidationError("modelId is required")
	}
	if len(r.Messages) == 0 {
		return NewValidationError("messages must not be empty")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			return NewValidationError(fmt.Sprintf("messages[%d].role must be system, user or assistant", i))
		}
	}
	return nil
}

func (r *Request) fingerprint() idempotency.Fingerprint {
	msgs := make([]idempotency.Message, len(r.Messages))
	for i, m := range r.Messages {
		msgs[i] = idempotency.Message{Role: m.Role, Content: m.Content}
	}
	return idempotency.Fingerprint{
		UserID:         r.UserID,
		ConversationID: r.ConversationID,
		RoundID:        r.RoundID,
		SelectedAvatar: r.SelectedAvatar,
		ModelID:        r.ModelID,
		Messages:       msgs,
	}
}

// Result is a successful blocking generation.
type Result struct {
	RequestID         string
	Content           string
	ModelIDUsed       string
	FallbackFromModel string
	Usage             providers.TokenUsage
	Latency           time.Duration
}

// Orchestrator runs requests through the admission pipeline.
type Orchestrator struct {
	limits       *limits.Manager
	upstream     Upstream
	resolver     *routing.Resolver
	entitlements entitlement.Checker
	keys         secrets.KeyProvider
	usage        usage.Store
	policy       policy.Provider
	metrics      *metrics.Collector
	logger       *slog.Logger
	tracer       trace.Tracer
	cfg          Config
}

// New validates deps and builds an Orchestrator.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Limits == nil:
		return nil, errors.New("orchestrator: limits manager is required")
	case deps.Upstream == nil:
		return nil, errors.New("orchestrator: upstream client is required")
	case deps.Resolver == nil:
		return nil, errors.New("orchestrator: model resolver is required")
	case deps.Entitlements == nil:
		return nil, errors.New("orchestrator: entitlement checker is required")
	case deps.Keys == nil:
		return nil, errors.New("orchestrator: key provider is required")
	case deps.Usage == nil:
		return nil, errors.New("orchestrator: usage store is required")
	}

	if cfg.FallbackMaxAttempts <= 0 {
		cfg.FallbackMaxAttempts = 3
	}
	if cfg.UsageWriteTimeout <= 0 {
		cfg.UsageWriteTimeout = 5 * time.Second
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		limits:       deps.Limits,
		upstream:     deps.Upstream,
		resolver:     deps.Resolver,
		entitlements: deps.Entitlements,
		keys:         deps.Keys,
		usage:        deps.Usage,
		policy:       deps.Policy,
		metrics:      deps.Metrics,
		logger:       logger.With("component", "orchestrator"),
		tracer:       otel.Tracer("mercator-hq/conclave/orchestrator"),
		cfg:          cfg,
	}, nil
}

// Generate runs a blocking generation.
func (o *Orchestrator) Generate(ctx context.Context, req *Request) (res *Result, err error) {
	r := o.newRun(req, false)
	ctx, r.span = o.tracer.Start(ctx, "orchestrator.generate")
	tracing.SetRequestAttributes(r.span, r.req.RequestID, r.req.UserID, false)

	defer func() {
		if p := recover(); p != nil {
			res, err = nil, r.recoverPanic(ctx, p)
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
	var completion *providers.Completion
	out := routing.Walk(ctx, plan, func(ctx context.Context, model string) error {
		started := time.Now()
		c, err := o.upstream.Call(ctx, r.upstreamRequest(model, o.cfg.UpstreamTimeout))
		r.recordAttempt(model, err, time.Since(started))
		if err != nil {
			return err
		}
		completion = c
		return nil
	})
	if !out.Succeeded() {
		return nil, r.upstreamFailed(ctx, out)
	}

	res = &Result{
		RequestID:         r.id,
		Content:           completion.Content,
		ModelIDUsed:       out.ModelUsed,
		FallbackFromModel: out.FallbackFrom,
		Usage:             completion.Usage,
		Latency:           time.Since(r.start),
	}
	r.finish(ctx, outcome{
		usage:        completion.Usage,
		modelUsed:    out.ModelUsed,
		fallbackFrom: out.FallbackFrom,
	})
	return res, nil
}

// outcome is what finish records.
type outcome struct {
	err          *Error
	usage        providers.TokenUsage
	modelUsed    string
	fallbackFrom string
}

// run is the per-request state of one pass through the pipeline.
type run struct {
	id     string
	o      *Orchestrator
	req    *Request
	stream bool
	start  time.Time
	logger *slog.Logger
	span   trace.Span

	state  atomic.Int32
	apiKey string
	slot   *concurrency.Slot

	finished sync.Once
}

func (o *Orchestrator) newRun(req *Request, stream bool) *run {
	id := uuid.NewString()
	if req.RequestID == "" {
		req.RequestID = id
	}
	return &run{
		id:     id,
		o:      o,
		req:    req,
		stream: stream,
		start:  time.Now(),
		logger: o.logger.With("request_id", req.RequestID, "generation_id", id, "user_id", req.UserID, "stream", stream),
	}
}

func (r *run) setState(s State) {
	r.state.Store(int32(s))
}

func (r *run) State() State {
	return State(r.state.Load())
}

// admit runs the gates up to SLOTTED. A rejection finishes the run.
func (r *run) admit(ctx context.Context) *Error {
	o := r.o
	req := r.req
	if e := req.Validate(); e != nil {
		return r.reject(ctx, e)
	}

	ok, err := o.entitlements.CanGenerate(ctx, req.UserID, req.Tier)
	if err != nil {
		return r.reject(ctx, internalError(fmt.Errorf("entitlement check: %w", err)))
	}
	if !ok {
		return r.reject(ctx, &Error{Status: http.StatusForbidden, Code: CodeForbidden, Message: "generation is not enabled for this account"})
	}

	key, err := o.keys.APIKey(ctx, req.UserID)
	if errors.Is(err, secrets.ErrNoKey) || (err == nil && key == "") {
		return r.reject(ctx, &Error{Status: http.StatusBadRequest, Code: CodeAPIKeyRequired, Message: "a provider API key is required"})
	}
	if err != nil {
		return r.reject(ctx, internalError(fmt.Errorf("api key lookup: %w", err)))
	}
	r.apiKey = key

	cfg := o.limits.Config()
	d, err := o.limits.RateLimiter.Check(ctx, ratelimit.ScopeUser, req.UserID, cfg.UserRequests, cfg.UserWindow)
	if err != nil {
		return r.reject(ctx, internalError(fmt.Errorf("user rate limit: %w", err)))
	}
	if !d.Allowed {
		return r.reject(ctx, NewRateLimitedError("too many requests", d.RetryAfterSec))
	}
	if req.ClientIP != "" {
		d, err = o.limits.RateLimiter.Check(ctx, ratelimit.ScopeIP, req.ClientIP, cfg.IPRequests, cfg.IPWindow)
		if err != nil {
			return r.reject(ctx, internalError(fmt.Errorf("ip rate limit: %w", err)))
		}
		if !d.Allowed {
			return r.reject(ctx, NewRateLimitedError("too many requests from this address", d.RetryAfterSec))
		}
	}
	r.setState(StateRateChecked)

	claimKey := idempotency.DeriveKey(req.fingerprint(), req.IdempotencyHeader, req.IdempotencyKey)
	claimed, err := o.limits.Claims.Claim(ctx, req.UserID, claimKey, cfg.IdempotencyTTL)
	if err != nil {
		return r.reject(ctx, internalError(fmt.Errorf("idempotency claim: %w", err)))
	}
	if !claimed {
		return r.reject(ctx, &Error{Status: http.StatusConflict, Code: CodeDuplicate, Message: "an identical request is already in progress"})
	}
	r.setState(StateClaimed)

	slot, acquired, err := o.limits.Slots.Acquire(ctx, req.UserID, cfg.MaxConcurrent, cfg.SlotTTL)
	if err != nil {
		return r.reject(ctx, internalError(fmt.Errorf("concurrency slot: %w", err)))
	}
	if !acquired {
		return r.reject(ctx, &Error{Status: http.StatusTooManyRequests, Code: CodeConcurrencyLimit, Message: "too many requests in progress", RetryAfterSec: 1})
	}
	r.slot = slot
	r.setState(StateSlotted)
	o.metrics.InFlightInc()
	return nil
}

// plan runs the circuit gate and resolves the candidate models.
func (r *run) plan(ctx context.Context) (routing.Plan, *Error) {
	o := r.o
	provider := o.upstream.Name()

	secs, err := o.limits.Circuit.CooldownSeconds(ctx, provider)
	if err != nil {
		return routing.Plan{}, r.reject(ctx, internalError(fmt.Errorf("circuit check: %w", err)))
	}
	if secs > 0 {
		return routing.Plan{}, r.reject(ctx, &Error{
			Status:        http.StatusServiceUnavailable,
			Code:          CodeCooldown,
			Message:       "upstream provider is cooling down",
			RetryAfterSec: secs,
		})
	}

	r.setState(StateResolvingModel)
	var allowlist []string
	if o.policy != nil {
		allowlist, err = o.policy.Allowlist(ctx, r.apiKey)
		if err != nil {
			r.logger.Warn("model allowlist unavailable, using unfiltered candidates", "error", err)
			allowlist = nil
		}
	}

	candidates := o.resolver.Resolve(r.req.ModelID, allowlist)
	r.span.SetAttributes(attribute.StringSlice(tracing.AttrCandidates, candidates))
	r.logger.Debug("resolved model candidates", "requested", r.req.ModelID, "candidates", candidates)

	return routing.Plan{
		Requested:   r.req.ModelID,
		Candidates:  candidates,
		MaxAttempts: o.cfg.FallbackMaxAttempts,
	}, nil
}

func (r *run) upstreamRequest(model string, timeout time.Duration) *providers.Request {
	return &providers.Request{
		APIKey:     r.apiKey,
		Model:      model,
		Messages:   r.req.Messages,
		Timeout:    timeout,
		MaxRetries: r.o.cfg.UpstreamMaxRetries,
	}
}

func (r *run) recordAttempt(model string, err error, latency time.Duration) {
	if err == nil {
		r.o.metrics.RecordUpstreamAttempt(model, "success", latency)
		return
	}
	label := "error"
	if f, ok := providers.AsFailure(err); ok {
		label = strings.ToLower(string(f.Code))
	}
	r.o.metrics.RecordUpstreamAttempt(model, label, latency)
	r.logger.Info("upstream attempt failed",
		"model", model,
		"error", err,
		"advance", routing.ShouldAdvance(err),
	)
}

// upstreamFailed handles a walk that ended without a usable model.
func (r *run) upstreamFailed(ctx context.Context, out routing.Outcome) *Error {
	cooldown := r.tripCircuit(ctx, out.Err)
	e := fromOutcome(out)
	e.setRetryHint(cooldown)
	r.finish(ctx, outcome{err: e, modelUsed: out.ModelUsed, fallbackFrom: out.FallbackFrom})
	return e
}

// tripCircuit opens the provider circuit for provider-caused failures and
// returns the cooldown it set, or zero when the circuit stayed closed.
func (r *run) tripCircuit(ctx context.Context, err error) time.Duration {
	f, ok := providers.AsFailure(err)
	if !ok || !f.ProviderCaused() {
		return 0
	}
	o := r.o
	provider := o.upstream.Name()
	cooldown := o.limits.Config().CircuitCooldown
	if cooldown <= 0 {
		return 0
	}
	if err := o.limits.Circuit.Open(context.WithoutCancel(ctx), provider, cooldown); err != nil {
		r.logger.Error("failed to open circuit", "provider", provider, "error", err)
		return 0
	}
	o.metrics.RecordCircuitOpen(provider)
	r.logger.Warn("circuit opened", "provider", provider, "code", f.Code, "cooldown", cooldown)
	return cooldown
}

// reject finishes the run with e and returns it.
func (r *run) reject(ctx context.Context, e *Error) *Error {
	r.o.metrics.RecordRejection(e.Code)
	r.finish(ctx, outcome{err: e, modelUsed: r.req.ModelID})
	return e
}

// recoverPanic turns a panic into INTERNAL_ERROR and finishes the run.
func (r *run) recoverPanic(ctx context.Context, p interface{}) *Error {
	r.logger.Error("panic during generation", "panic", p, "stack", string(debug.Stack()))
	e := internalError(fmt.Errorf("panic: %v", p))
	r.finish(ctx, outcome{err: e, modelUsed: r.req.ModelID})
	return e
}

// finish is the single exit of a run. When a slot is held it records one
// usage event and then releases the slot.
func (r *run) finish(ctx context.Context, out outcome) {
	r.finished.Do(func() {
		if r.slot != nil {
			r.setState(StateFinalizing)
			r.recordUsage(ctx, out)
			r.slot.Release()
			r.o.metrics.InFlightDec()
			if r.stream {
				r.o.metrics.RecordStreamOutcome(streamOutcome(out.err))
			}
		}

		status := http.StatusOK
		final := StateDone
		if out.err != nil {
			status = out.err.Status
			final = StateFailed
			tracing.SetError(r.span, out.err.Code, out.err)
		} else if out.fallbackFrom != "" {
			r.o.metrics.RecordFallback()
		}
		r.setState(final)

		tracing.SetModelAttributes(r.span, r.req.ModelID, out.modelUsed, out.fallbackFrom)
		tracing.SetTokenAttributes(r.span, out.usage.PromptTokens, out.usage.CompletionTokens)
		tracing.SetOutcome(r.span, final.String(), status)
		r.span.End()

		attrs := []interface{}{
			"status", status,
			"model", out.modelUsed,
			"latency_ms", time.Since(r.start).Milliseconds(),
		}
		if out.fallbackFrom != "" {
			attrs = append(attrs, "fallback_from", out.fallbackFrom)
		}
		if out.err != nil {
			attrs = append(attrs, "code", out.err.Code)
			r.logger.Info("generation failed", attrs...)
			return
		}
		r.logger.Info("generation completed", attrs...)
	})
}

func (r *run) recordUsage(ctx context.Context, out outcome) {
	defer func() {
		if p := recover(); p != nil {
			r.o.metrics.RecordUsageFailure()
			r.logger.Error("panic recording usage", "panic", p)
		}
	}()

	ev := &usage.Event{
		ID:               uuid.NewString(),
		RequestID:        r.id,
		CorrelationID:    r.req.RequestID,
		UserID:           r.req.UserID,
		ConversationID:   r.req.ConversationID,
		ModelID:          out.modelUsed,
		FallbackFrom:     out.fallbackFrom,
		Stream:           r.stream,
		Status:           usage.StatusSuccess,
		StatusCode:       http.StatusOK,
		Latency:          time.Since(r.start),
		RecordedAt:       time.Now().UTC(),
		PromptTokens:     out.usage.PromptTokens,
		CompletionTokens: out.usage.CompletionTokens,
		TotalTokens:      out.usage.TotalTokens,
	}
	if ev.ModelID == "" {
		ev.ModelID = r.req.ModelID
	}
	if out.err != nil {
		ev.Status = usage.StatusError
		ev.StatusCode = out.err.Status
		ev.Code = out.err.Code
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.cfg.UsageWriteTimeout)
	defer cancel()
	if err := r.o.usage.Record(wctx, ev); err != nil {
		r.o.metrics.RecordUsageFailure()
		r.logger.Error("failed to record usage event", "error", err)
	}
}

func streamOutcome(e *Error) string {
	switch {
	case e == nil:
		return "done"
	case e.Code == CodeCanceled:
		return "canceled"
	}
	return "error"
}
