package secrets

import (
	"context"
	"errors"
)

// ErrNoKey means no provider holds a key for the user.
var ErrNoKey = errors.New("no provider API key for user")

// KeyProvider retrieves a user's upstream provider key.
type KeyProvider interface {
	// APIKey returns the key for userID, or ErrNoKey.
	APIKey(ctx context.Context, userID string) (string, error)

	// Provider returns the provider name (file, env).
	Provider() string
}

// RefreshableProvider can reload keys without restart.
type RefreshableProvider interface {
	KeyProvider

	// Refresh drops anything the provider has cached.
	Refresh(ctx context.Context) error
}

// Redact masks a key for logging, keeping a short prefix and suffix.
func Redact(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-2:]
}
