package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"mercator-hq/conclave/pkg/limits/idempotency"
	"mercator-hq/conclave/pkg/orchestrator"
	"mercator-hq/conclave/pkg/providers"
)

const (
	// DefaultMaxBodyBytes caps a request body when no limit is configured.
	DefaultMaxBodyBytes = 1 << 20

	// MaxMessages caps the number of messages in one request.
	MaxMessages = 256

	// IdempotencyHeader overrides the body's idempotencyKey.
	IdempotencyHeader = idempotency.HeaderName

	// AltIdempotencyHeader is the IETF draft spelling, read only when
	// IdempotencyHeader is absent.
	AltIdempotencyHeader = "Idempotency-Key"
)

// Message is one chat message in a generation request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is the body of /generate and /generate-stream.
type GenerateRequest struct {
	ConversationID string    `json:"conversationId"`
	RoundID        string    `json:"roundId,omitempty"`
	SelectedAvatar string    `json:"selectedAvatar,omitempty"`
	ModelID        string    `json:"modelId"`
	Messages       []Message `json:"messages"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
}

// ParseGenerateRequest reads and validates the request body. maxBytes <= 0
// uses DefaultMaxBodyBytes. Every error is an *orchestrator.Error with code
// VALIDATION_ERROR.
func ParseGenerateRequest(r *http.Request, maxBytes int64) (*GenerateRequest, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return nil, orchestrator.NewValidationError("content type must be application/json")
	}

	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, orchestrator.NewValidationError(fmt.Sprintf("request body exceeds %d bytes", maxBytes))
		}
		return nil, orchestrator.NewValidationError("failed to read request body")
	}
	if len(body) == 0 {
		return nil, orchestrator.NewValidationError("request body is empty")
	}

	var req GenerateRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		return nil, orchestrator.NewValidationError("request body is not valid JSON")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate checks required fields and limits.
func (g *GenerateRequest) Validate() error {
	g.ConversationID = strings.TrimSpace(g.ConversationID)
	g.ModelID = strings.TrimSpace(g.ModelID)

	switch {
	case g.ConversationID == "":
		return orchestrator.NewValidationError("conversationId is required")
	case g.ModelID == "":
		return orchestrator.NewValidationError("modelId is required")
	case len(g.Messages) == 0:
		return orchestrator.NewValidationError("messages must not be empty")
	case len(g.Messages) > MaxMessages:
		return orchestrator.NewValidationError(fmt.Sprintf("at most %d messages are allowed", MaxMessages))
	}

	hasContent := false
	for i, m := range g.Messages {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			return orchestrator.NewValidationError(fmt.Sprintf("messages[%d].role must be system, user or assistant", i))
		}
		if strings.TrimSpace(m.Content) != "" {
			hasContent = true
		}
	}
	if !hasContent {
		return orchestrator.NewValidationError("messages must contain some content")
	}
	return nil
}

// IdempotencyKeyFrom returns the idempotency header of r, if any.
// X-Idempotency-Key wins over Idempotency-Key when both are sent.
func IdempotencyKeyFrom(r *http.Request) string {
	if k := r.Header.Get(IdempotencyHeader); k != "" {
		return k
	}
	return r.Header.Get(AltIdempotencyHeader)
}

// Caller is what the HTTP layer knows about the request outside its body.
type Caller struct {
	RequestID         string
	UserID            string
	Tier              string
	ClientIP          string
	IdempotencyHeader string
}

// ToOrchestrator builds the pipeline request.
func (g *GenerateRequest) ToOrchestrator(c Caller) *orchestrator.Request {
	msgs := make([]providers.Message, len(g.Messages))
	for i, m := range g.Messages {
		msgs[i] = providers.Message{Role: m.Role, Content: m.Content}
	}
	return &orchestrator.Request{
		RequestID:         c.RequestID,
		UserID:            c.UserID,
		Tier:              c.Tier,
		ClientIP:          c.ClientIP,
		ConversationID:    g.ConversationID,
		RoundID:           g.RoundID,
		SelectedAvatar:    g.SelectedAvatar,
		ModelID:           g.ModelID,
		Messages:          msgs,
		IdempotencyKey:    g.IdempotencyKey,
		IdempotencyHeader: c.IdempotencyHeader,
	}
}
