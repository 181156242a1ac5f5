package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	userKey      contextKey = "user_id"
	modelKey     contextKey = "model"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithUser adds the authenticated user ID to the context.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// User retrieves the user ID from the context.
func User(ctx context.Context) string {
	v, _ := ctx.Value(userKey).(string)
	return v
}

// WithModel adds the requested model to the context.
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, modelKey, model)
}

// Model retrieves the requested model from the context.
func Model(ctx context.Context) string {
	v, _ := ctx.Value(modelKey).(string)
	return v
}

func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := RequestID(ctx); v != "" {
		attrs = append(attrs, slog.String("request_id", v))
	}
	if v := User(ctx); v != "" {
		attrs = append(attrs, slog.String("user_id", v))
	}
	if v := Model(ctx); v != "" {
		attrs = append(attrs, slog.String("model", v))
	}
	return attrs
}
