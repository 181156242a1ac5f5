package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// APIKeyValidator validates API keys against a configured set of keys
type APIKeyValidator struct {
	mu   sync.RWMutex
	keys map[string]*APIKeyInfo
}

// NewAPIKeyValidator creates a new API key validator with the given keys
func NewAPIKeyValidator(keys []*APIKeyInfo) *APIKeyValidator {
	keyMap := make(map[string]*APIKeyInfo)
	for _, key := range keys {
		keyMap[key.Key] = key
	}

	return &APIKeyValidator{
		keys: keyMap,
	}
}

// Validate checks if the given API key is valid and returns its info
func (v *APIKeyValidator) Validate(key string) (*APIKeyInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	info, ok := v.keys[key]
	if !ok || subtle.ConstantTimeCompare([]byte(info.Key), []byte(key)) != 1 {
		return nil, fmt.Errorf("%w: invalid API key", ErrUnauthenticated)
	}

	if !info.Enabled {
		return nil, fmt.Errorf("%w: API key disabled", ErrUnauthenticated)
	}

	return info, nil
}

// Authenticate reads the key from X-API-Key, or from an Authorization
// bearer value that is not a JWT.
func (v *APIKeyValidator) Authenticate(r *http.Request) (*Identity, error) {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		if token, ok := bearerToken(r); ok && strings.Count(token, ".") != 2 {
			key = token
		}
	}
	if key == "" {
		return nil, ErrUnauthenticated
	}

	info, err := v.Validate(key)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: info.UserID, Tier: info.Tier, Method: "api_key"}, nil
}

// Add adds a new API key to the validator
func (v *APIKeyValidator) Add(info *APIKeyInfo) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[info.Key] = info
}

// Remove removes an API key from the validator
func (v *APIKeyValidator) Remove(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.keys, key)
}

func bearerToken(r *http.Request) (string, bool) {
	value := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(value) <= len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(value[len(prefix):]), true
}
