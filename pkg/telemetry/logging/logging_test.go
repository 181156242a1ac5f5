package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"mercator-hq/conclave/pkg/config"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("Failed to decode log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("Expected error for unknown level")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("Expected error for unknown format")
	}
	if _, err := New(Config{Redact: true, RedactPatterns: []config.RedactPattern{{Name: "bad", Pattern: "[unclosed"}}}); err == nil {
		t.Error("Expected error for invalid custom pattern")
	}
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected info to be filtered, got %q", buf.String())
	}
	logger.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("Expected warn output, got %q", buf.String())
	}
}

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = WithUser(ctx, "user-1")
	ctx = WithModel(ctx, "anthropic/claude-3.5-sonnet")
	logger.InfoContext(ctx, "admitted")

	entry := decodeLine(t, &buf)
	if entry["request_id"] != "req-123" {
		t.Errorf("Expected request_id req-123, got %v", entry["request_id"])
	}
	if entry["user_id"] != "user-1" {
		t.Errorf("Expected user_id user-1, got %v", entry["user_id"])
	}
	if entry["model"] != "anthropic/claude-3.5-sonnet" {
		t.Errorf("Expected model, got %v", entry["model"])
	}
}

func TestContextAccessors_Empty(t *testing.T) {
	ctx := context.Background()
	if RequestID(ctx) != "" || User(ctx) != "" || Model(ctx) != "" {
		t.Error("Expected empty values from bare context")
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Redact: true, Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("upstream call",
		"api_key", "sk-or-v1-abcdef0123456789",
		"detail", "sent Bearer abc.def-ghi to upstream",
		"error", errors.New("rejected key sk-ant-0123456789abcdef"),
		"prompt_tokens", 12,
	)

	out := buf.String()
	for _, leaked := range []string{"abcdef0123456789", "abc.def-ghi", "0123456789abcdef"} {
		if strings.Contains(out, leaked) {
			t.Errorf("Expected %q to be redacted, got %s", leaked, out)
		}
	}
	entry := decodeLine(t, &buf)
	if entry["prompt_tokens"] != float64(12) {
		t.Errorf("Expected prompt_tokens to survive, got %v", entry["prompt_tokens"])
	}
}

func TestRedaction_Disabled(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info("x", "detail", "sk-abcdefghijkl")
	if !strings.Contains(buf.String(), "sk-abcdefghijkl") {
		t.Error("Expected raw value when redaction is disabled")
	}
}

func TestRedactor_CustomPattern(t *testing.T) {
	r, err := NewRedactor([]config.RedactPattern{{Name: "ticket", Pattern: `TCK-\d+`}})
	if err != nil {
		t.Fatalf("NewRedactor failed: %v", err)
	}
	if got := r.RedactString("see TCK-1234"); got != "see ***" {
		t.Errorf("Expected custom replacement, got %q", got)
	}
}

func TestRedactAPIKey(t *testing.T) {
	tests := map[string]string{
		"":                 "***",
		"short":            "***",
		"sk-or-v1-abcdef0": "sk-o***",
	}
	for in, want := range tests {
		if got := RedactAPIKey(in); got != want {
			t.Errorf("RedactAPIKey(%q) = %q, want %q", in, got, want)
		}
	}
}
