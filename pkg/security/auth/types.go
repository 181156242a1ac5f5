package auth

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrUnauthenticated is returned when a request carries no usable credential.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is an authenticated caller.
type Identity struct {
	UserID string
	Tier   string
	Method string // "jwt" or "api_key"
}

// APIKeyInfo represents an API key with metadata
type APIKeyInfo struct {
	Key       string
	UserID    string
	Tier      string
	Enabled   bool
	CreatedAt time.Time
}

// Authenticator resolves a request to an Identity.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, error)
}

// Chain tries each authenticator in order. The first success wins; when all
// fail the last error is returned.
type Chain []Authenticator

// Authenticate implements Authenticator.
func (c Chain) Authenticate(r *http.Request) (*Identity, error) {
	err := ErrUnauthenticated
	for _, a := range c {
		id, aerr := a.Authenticate(r)
		if aerr == nil {
			return id, nil
		}
		err = aerr
	}
	return nil, err
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity stored by the middleware.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}
