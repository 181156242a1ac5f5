package usage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the terminal outcome of a request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ErrNotFound is returned by Get when no event exists for a request ID.
var ErrNotFound = errors.New("usage event not found")

// Event is one finalized generation request. RequestID is assigned by the
// server for each admitted request; CorrelationID is the caller's
// X-Request-ID and may repeat.
type Event struct {
	ID             string        `json:"id"`
	RequestID      string        `json:"requestId"`
	CorrelationID  string        `json:"correlationId,omitempty"`
	UserID         string        `json:"userId"`
	ConversationID string        `json:"conversationId"`
	ModelID        string        `json:"modelId"`
	FallbackFrom   string        `json:"fallbackFromModel,omitempty"`
	Stream         bool          `json:"stream"`
	Status         Status        `json:"status"`
	StatusCode     int           `json:"statusCode"`
	Code           string        `json:"code,omitempty"`
	Latency        time.Duration `json:"latencyMs"`
	RecordedAt     time.Time     `json:"recordedAt"`

	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Store persists usage events.
type Store interface {
	// Record stores ev. A second event for the same RequestID is ignored.
	Record(ctx context.Context, ev *Event) error

	// Get returns the event for requestID or ErrNotFound.
	Get(ctx context.Context, requestID string) (*Event, error)

	// Count returns the number of stored events.
	Count(ctx context.Context) (int64, error)

	// DeleteBefore removes events recorded before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// TrimTo removes the oldest events until at most keep remain.
	TrimTo(ctx context.Context, keep int64) (int64, error)

	// Close releases the backend.
	Close() error
}

// StorageError wraps a backend failure.
type StorageError struct {
	Backend   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("usage storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

func newStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Cause: cause}
}
