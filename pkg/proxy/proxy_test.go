package proxy

import (
	"bufio"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/conclave/pkg/orchestrator"
	"mercator-hq/conclave/pkg/providers"
)

func TestParseGenerateRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		ctype   string
		maxBody int64
		wantErr string
	}{
		{
			name: "valid",
			body: `{"conversationId":"c1","modelId":"openai/gpt-4o-mini","messages":[{"role":"user","content":"hi"}]}`,
		},
		{
			name:    "empty body",
			body:    "",
			wantErr: "request body is empty",
		},
		{
			name:    "malformed json",
			body:    `{"conversationId":`,
			wantErr: "not valid JSON",
		},
		{
			name:    "missing model",
			body:    `{"conversationId":"c1","messages":[{"role":"user","content":"hi"}]}`,
			wantErr: "modelId is required",
		},
		{
			name:    "missing conversation",
			body:    `{"modelId":"m","messages":[{"role":"user","content":"hi"}]}`,
			wantErr: "conversationId is required",
		},
		{
			name:    "no messages",
			body:    `{"conversationId":"c1","modelId":"m","messages":[]}`,
			wantErr: "messages must not be empty",
		},
		{
			name:    "bad role",
			body:    `{"conversationId":"c1","modelId":"m","messages":[{"role":"tool","content":"x"}]}`,
			wantErr: "messages[0].role",
		},
		{
			name:    "blank content",
			body:    `{"conversationId":"c1","modelId":"m","messages":[{"role":"user","content":"  "}]}`,
			wantErr: "must contain some content",
		},
		{
			name:    "wrong content type",
			body:    `{}`,
			ctype:   "text/plain",
			wantErr: "content type",
		},
		{
			name:    "too large",
			body:    `{"conversationId":"c1","modelId":"m","messages":[{"role":"user","content":"hello"}]}`,
			maxBody: 16,
			wantErr: "exceeds 16 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(tt.body))
			ctype := tt.ctype
			if ctype == "" {
				ctype = "application/json"
			}
			r.Header.Set("Content-Type", ctype)

			req, err := ParseGenerateRequest(r, tt.maxBody)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected no error, got %v", err)
				}
				if req.ModelID != "openai/gpt-4o-mini" {
					t.Errorf("Expected model openai/gpt-4o-mini, got %q", req.ModelID)
				}
				return
			}

			if err == nil {
				t.Fatalf("Expected error containing %q", tt.wantErr)
			}
			e := orchestrator.AsError(err)
			if e.Code != orchestrator.CodeValidation || e.Status != http.StatusBadRequest {
				t.Errorf("Expected VALIDATION_ERROR/400, got %s/%d", e.Code, e.Status)
			}
			if !strings.Contains(e.Message, tt.wantErr) {
				t.Errorf("Expected message containing %q, got %q", tt.wantErr, e.Message)
			}
		})
	}
}

func TestToOrchestrator(t *testing.T) {
	g := &GenerateRequest{
		ConversationID: "c1",
		RoundID:        "r1",
		ModelID:        "m",
		Messages:       []Message{{Role: "user", Content: "hi"}},
		IdempotencyKey: "body-key",
	}
	req := g.ToOrchestrator(Caller{RequestID: "req-1", UserID: "u1", Tier: "pro", ClientIP: "10.0.0.1", IdempotencyHeader: "hdr-key"})

	if req.UserID != "u1" || req.ClientIP != "10.0.0.1" || req.RequestID != "req-1" {
		t.Errorf("Expected caller fields to carry over, got %+v", req)
	}
	if req.IdempotencyHeader != "hdr-key" || req.IdempotencyKey != "body-key" {
		t.Errorf("Expected both idempotency sources, got header=%q body=%q", req.IdempotencyHeader, req.IdempotencyKey)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "hi" {
		t.Errorf("Expected messages to carry over, got %+v", req.Messages)
	}
}

func TestIdempotencyKeyFrom(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/generate", nil)
	r.Header.Set(AltIdempotencyHeader, "alt")
	if got := IdempotencyKeyFrom(r); got != "alt" {
		t.Errorf("Expected Idempotency-Key fallback, got %q", got)
	}
	r.Header.Set("X-Idempotency-Key", "primary")
	if got := IdempotencyKeyFrom(r); got != "primary" {
		t.Errorf("Expected X-Idempotency-Key to win, got %q", got)
	}
}

func TestWriteError(t *testing.T) {
	t.Run("retry hint sets header", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, orchestrator.NewRateLimitedError("slow down", 12))

		if w.Code != http.StatusTooManyRequests {
			t.Errorf("Expected 429, got %d", w.Code)
		}
		if got := w.Header().Get("Retry-After"); got != "12" {
			t.Errorf("Expected Retry-After 12, got %q", got)
		}

		var body ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("Failed to decode body: %v", err)
		}
		if body.Code != orchestrator.CodeRateLimited || body.RetryAfterSec != 12 {
			t.Errorf("Expected RATE_LIMITED with 12s, got %+v", body)
		}
	})

	t.Run("internal details are hidden", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errors.New("dial tcp 10.0.0.5:6379: connection refused"))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("Expected 500, got %d", w.Code)
		}
		if strings.Contains(w.Body.String(), "6379") {
			t.Errorf("Expected internal error text to be hidden, got %s", w.Body.String())
		}
		if w.Header().Get("Retry-After") != "" {
			t.Error("Expected no Retry-After on a 500")
		}
	})

	t.Run("fallback annotation", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, &orchestrator.Error{
			Status:            http.StatusServiceUnavailable,
			Code:              orchestrator.CodeUnavailable,
			Message:           "upstream down",
			ModelIDUsed:       "b",
			FallbackFromModel: "a",
		})

		var body ErrorResponse
		_ = json.Unmarshal(w.Body.Bytes(), &body)
		if body.ModelIDUsed != "b" || body.FallbackFromModel != "a" {
			t.Errorf("Expected annotation b from a, got %+v", body)
		}
	})

	t.Run("provider keys are redacted", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, &orchestrator.Error{
			Status:  http.StatusUnauthorized,
			Code:    orchestrator.CodeUpstreamError,
			Message: "invalid key sk-or-v1-abcdef123456",
		})
		if strings.Contains(w.Body.String(), "abcdef123456") {
			t.Errorf("Expected key to be redacted, got %s", w.Body.String())
		}
	})
}

func TestSSEWriter_Emit(t *testing.T) {
	w := httptest.NewRecorder()
	sse, err := NewSSEWriter(w)
	if err != nil {
		t.Fatalf("NewSSEWriter failed: %v", err)
	}

	events := []orchestrator.StreamEvent{
		{Type: orchestrator.EventDelta, Chunk: "Hel"},
		{Type: orchestrator.EventDelta, Chunk: "lo"},
		{
			Type:              orchestrator.EventDone,
			Content:           "Hello",
			Usage:             providers.TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
			Latency:           1500 * time.Millisecond,
			ModelIDUsed:       "b",
			FallbackFromModel: "a",
		},
	}
	for _, ev := range events {
		if err := sse.Emit(ev); err != nil {
			t.Fatalf("Emit failed: %v", err)
		}
	}

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}

	names, payloads := parseSSE(t, w.Body.String())
	if strings.Join(names, ",") != "delta,delta,done" {
		t.Fatalf("Expected delta,delta,done, got %v", names)
	}

	var done map[string]interface{}
	if err := json.Unmarshal([]byte(payloads[2]), &done); err != nil {
		t.Fatalf("Failed to decode done payload: %v", err)
	}
	if done["content"] != "Hello" || done["latencyMs"].(float64) != 1500 {
		t.Errorf("Unexpected done payload: %v", done)
	}
	if done["fallbackFromModel"] != "a" {
		t.Errorf("Expected fallback annotation, got %v", done)
	}
}

func TestSSEWriter_ErrorEvent(t *testing.T) {
	w := httptest.NewRecorder()
	sse, _ := NewSSEWriter(w)

	err := sse.Emit(orchestrator.StreamEvent{
		Type: orchestrator.EventError,
		Err:  &orchestrator.Error{Status: http.StatusGatewayTimeout, Code: orchestrator.CodeTimeout, Message: "upstream timed out"},
	})
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	names, payloads := parseSSE(t, w.Body.String())
	if len(names) != 1 || names[0] != "error" {
		t.Fatalf("Expected one error event, got %v", names)
	}
	var body ErrorResponse
	_ = json.Unmarshal([]byte(payloads[0]), &body)
	if body.Code != orchestrator.CodeTimeout || body.Error == "" {
		t.Errorf("Expected TIMEOUT with message, got %+v", body)
	}
}

func parseSSE(t *testing.T, raw string) (names, payloads []string) {
	t.Helper()
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			names = append(names, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			payloads = append(payloads, strings.TrimPrefix(line, "data: "))
		}
	}
	return names, payloads
}
