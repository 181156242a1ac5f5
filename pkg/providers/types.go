package providers

import "time"

// Message is one chat message sent to the provider.
type Message struct {
	// Role identifies the message sender (system, user, assistant)
	Role string `json:"role"`

	// Content is the message text content
	Content string `json:"content"`
}

// TokenUsage tracks token consumption for a request.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// normalize fills TotalTokens when the provider left it out.
func (u TokenUsage) normalize() TokenUsage {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

// Request is one generation call against a single model.
type Request struct {
	// APIKey is the caller's provider credential (BYOK).
	APIKey string

	// Model is the provider model identifier, e.g. "openai/gpt-4o-mini".
	Model string

	Messages []Message

	// Timeout is the hard deadline for each attempt of a blocking call, or
	// for the whole stream. Zero uses the client default.
	Timeout time.Duration

	// MaxRetries is how many times a transient failure is retried.
	// Zero uses the client default; negative disables retries.
	MaxRetries int
}

// Completion is a successful blocking call.
type Completion struct {
	Content    string
	Usage      TokenUsage
	StatusCode int
	Latency    time.Duration

	// Attempts is the number of HTTP attempts made, including retries.
	Attempts int
}

// chatRequest is the wire body sent to the provider.
type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// chatResponse is the subset of a completion or stream chunk we read.
type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   *TokenUsage  `json:"usage,omitempty"`
	Error   *errorDetail `json:"error,omitempty"`
}

type chatChoice struct {
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
	Text         string       `json:"text,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

type chatMessage struct {
	Content string `json:"content"`
}

// errorDetail is the provider error envelope. Code is a number for most
// providers and a string for some, so it is decoded loosely.
type errorDetail struct {
	Message string      `json:"message"`
	Code    interface{} `json:"code,omitempty"`
	Type    string      `json:"type,omitempty"`
}

type errorEnvelope struct {
	Error *errorDetail `json:"error"`
}
