package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxResponseBytes bounds how much of a blocking response is read.
const maxResponseBytes = 8 << 20

// Config configures the upstream client.
type Config struct {
	// Name identifies the provider in errors, logs and circuit keys.
	// Default: "openrouter"
	Name string

	// BaseURL is the OpenAI-compatible API root; requests go to
	// BaseURL + "/chat/completions".
	BaseURL string

	// Timeout is the hard deadline of one blocking attempt.
	// Default: 30s
	Timeout time.Duration

	// StreamTimeout is the deadline of a whole streaming response.
	// Default: 120s
	StreamTimeout time.Duration

	// CallTimeout is the hard deadline of a whole blocking call, retries
	// and backoff included. Never shorter than one attempt's timeout.
	// Default: 2 * Timeout
	CallTimeout time.Duration

	// MaxRetries is the default number of retries for transient failures.
	// Default: 2
	MaxRetries int

	// InitialBackoff and MaxBackoff bound the jittered exponential backoff.
	// Default: 250ms and 4s
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Referer and Title are sent as HTTP-Referer and X-Title for provider
	// attribution when set.
	Referer string
	Title   string

	// MaxIdleConnsPerHost sizes the connection pool.
	// Default: 32
	MaxIdleConnsPerHost int

	// HTTPClient overrides the pooled client. Intended for tests.
	HTTPClient *http.Client
}

// Client calls the upstream chat-completions API.
type Client struct {
	cfg    Config
	http   *http.Client
	tracer trace.Tracer
	logger *slog.Logger
}

// NewClient creates a client with a pooled HTTP transport.
func NewClient(cfg Config) *Client {
	if cfg.Name == "" {
		cfg.Name = "openrouter"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 120 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * cfg.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 250 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 4 * time.Second
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 32
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			// Deadlines come from the request context so streams are not
			// cut off by a client-wide timeout.
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        cfg.MaxIdleConnsPerHost * 2,
				MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}
	}

	return &Client{
		cfg:    cfg,
		http:   client,
		tracer: otel.Tracer("mercator-hq/conclave/providers"),
		logger: slog.Default().With("component", "upstream", "provider", cfg.Name),
	}
}

// Name returns the configured provider name.
func (c *Client) Name() string {
	return c.cfg.Name
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) maxRetries(req *Request) int {
	switch {
	case req.MaxRetries < 0:
		return 0
	case req.MaxRetries == 0:
		return c.cfg.MaxRetries
	}
	return req.MaxRetries
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	return b
}

// retry runs op until it succeeds, fails permanently, exhausts the retry
// budget or ctx ends. It returns the last failure seen, which survives
// cancellation of ctx.
func retry[T any](ctx context.Context, c *Client, req *Request, op func() (T, *Failure)) (T, int, *Failure) {
	var (
		last     *Failure
		attempts int
	)

	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, f := op()
		if f == nil {
			return v, nil
		}
		last = f
		if !f.Retryable() {
			return v, backoff.Permanent(f)
		}
		return v, f
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.maxRetries(req)+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.WarnContext(ctx, "upstream attempt failed, will retry",
				"model", req.Model,
				"attempt", attempts,
				"backoff", next,
				"error", err,
			)
		}),
	)
	if err == nil {
		return res, attempts, nil
	}

	if cerr := ctx.Err(); cerr != nil && (last == nil || last.Code != CodeCanceled) {
		// The caller gave up while we were waiting to retry.
		last = c.contextFailure(ctx, req.Model, cerr)
	}
	if last == nil {
		last = &Failure{Provider: c.cfg.Name, Model: req.Model, Code: CodeUpstreamError, Message: err.Error(), Cause: err}
	}
	last.Attempts = attempts
	return res, attempts, last
}

// Call performs one blocking completion, retrying transient failures.
// The returned error is always a *Failure.
func (c *Client) Call(ctx context.Context, req *Request) (*Completion, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "upstream.call", trace.WithAttributes(
		attribute.String("llm.provider", c.cfg.Name),
		attribute.String("llm.model", req.Model),
	))
	defer span.End()

	body, err := sonic.Marshal(chatRequest{Model: req.Model, Messages: req.Messages})
	if err != nil {
		return nil, &Failure{Provider: c.cfg.Name, Model: req.Model, Code: CodeUpstreamError,
			Message: "failed to encode request", Cause: err}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, max(c.cfg.CallTimeout, timeout))
	defer cancel()

	res, attempts, f := retry(ctx, c, req, func() (*Completion, *Failure) {
		return c.attempt(ctx, req.Model, req.APIKey, body, timeout)
	})

	latency := time.Since(start)
	span.SetAttributes(attribute.Int("llm.attempts", attempts))
	if f != nil {
		f.Latency = latency
		span.RecordError(f)
		span.SetStatus(otelcodes.Error, string(f.Code))
		return nil, f
	}

	res.Latency = latency
	res.Attempts = attempts
	span.SetAttributes(attribute.Int("llm.tokens.total", res.Usage.TotalTokens))
	return res, nil
}

// attempt makes a single blocking HTTP call with its own deadline.
func (c *Client) attempt(ctx context.Context, model, apiKey string, body []byte, timeout time.Duration) (*Completion, *Failure) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, f := c.send(ctx, actx, model, apiKey, body, false)
	if f != nil {
		return nil, f
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.transportFailure(ctx, actx, model, err)
	}

	var parsed chatResponse
	if err := sonic.Unmarshal(data, &parsed); err != nil {
		return nil, &Failure{Provider: c.cfg.Name, Model: model, Code: CodeInvalidResponse,
			StatusCode: http.StatusBadGateway, Message: "failed to parse provider response", Cause: err}
	}
	if parsed.Error != nil {
		return nil, c.envelopeFailure(model, parsed.Error)
	}

	content := ""
	if len(parsed.Choices) > 0 {
		content = choiceText(parsed.Choices[0])
	}
	if strings.TrimSpace(content) == "" {
		return nil, &Failure{Provider: c.cfg.Name, Model: model, Code: CodeInvalidResponse,
			StatusCode: http.StatusBadGateway, Message: "provider returned an empty response"}
	}

	var usage TokenUsage
	if parsed.Usage != nil {
		usage = parsed.Usage.normalize()
	}

	return &Completion{Content: content, Usage: usage, StatusCode: resp.StatusCode}, nil
}

// send issues the HTTP request on reqCtx. A 2xx response is returned with
// its body open; anything else is read, closed and turned into a Failure.
// parent is the caller's context, used to tell cancellation from timeouts.
func (c *Client) send(parent, reqCtx context.Context, model, apiKey string, body []byte, stream bool) (*http.Response, *Failure) {
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &Failure{Provider: c.cfg.Name, Model: model, Code: CodeUpstreamError,
			Message: "failed to create request", Cause: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if c.cfg.Referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		httpReq.Header.Set("X-Title", c.cfg.Title)
	}

	c.logger.DebugContext(parent, "sending request to provider", "model", model, "stream", stream)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.transportFailure(parent, reqCtx, model, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	return nil, c.statusFailure(model, resp.StatusCode, resp.Header, errorBody)
}

// transportFailure classifies an error raised while talking to the provider.
func (c *Client) transportFailure(parent, reqCtx context.Context, model string, err error) *Failure {
	if cerr := parent.Err(); cerr != nil {
		f := c.contextFailure(parent, model, cerr)
		f.Cause = err
		return f
	}

	f := &Failure{Provider: c.cfg.Name, Model: model, Cause: err}

	var netErr net.Error
	switch {
	case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
		f.Code = CodeTimeout
		f.StatusCode = http.StatusGatewayTimeout
		f.Message = "provider did not respond before the deadline"
	case errors.As(err, &netErr) && netErr.Timeout():
		f.Code = CodeTimeout
		f.StatusCode = http.StatusGatewayTimeout
		f.Message = "provider connection timed out"
	default:
		f.Code = CodeUnavailable
		f.Message = fmt.Sprintf("provider unreachable: %v", err)
	}
	return f
}

// contextFailure describes a call ended by the caller's own context.
func (c *Client) contextFailure(ctx context.Context, model string, cerr error) *Failure {
	if errors.Is(cerr, context.DeadlineExceeded) {
		return &Failure{Provider: c.cfg.Name, Model: model, Code: CodeTimeout,
			StatusCode: http.StatusGatewayTimeout, Message: "request deadline exceeded", Cause: cerr}
	}
	return &Failure{Provider: c.cfg.Name, Model: model, Code: CodeCanceled,
		StatusCode: StatusClientClosedRequest, Message: "request canceled", Cause: cerr}
}

// choiceText extracts the best-effort text of a choice from the shapes
// providers use: chat message, stream delta, or legacy text completion.
func choiceText(ch chatChoice) string {
	switch {
	case ch.Message != nil && ch.Message.Content != "":
		return ch.Message.Content
	case ch.Delta != nil && ch.Delta.Content != "":
		return ch.Delta.Content
	}
	return ch.Text
}
