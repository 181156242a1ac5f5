package secrets

import (
	"context"
	"os"
)

// EnvProvider serves one shared key from an environment variable.
type EnvProvider struct {
	Var string
}

// NewEnvProvider creates a provider reading the variable name.
func NewEnvProvider(name string) *EnvProvider {
	return &EnvProvider{Var: name}
}

// APIKey returns the shared key for every user.
func (p *EnvProvider) APIKey(ctx context.Context, userID string) (string, error) {
	if p.Var == "" {
		return "", ErrNoKey
	}
	value := os.Getenv(p.Var)
	if value == "" {
		return "", ErrNoKey
	}
	return value, nil
}

// Provider returns the provider name.
func (p *EnvProvider) Provider() string {
	return "env"
}
