// Package idempotency collapses retried generation requests into one claim.
//
// A claim is a set-if-absent record that lives for a fixed TTL whether the
// underlying request later succeeds or fails. Duplicate suppression is
// therefore bounded to that window, never permanent.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mercator-hq/conclave/pkg/limits/storage"
)

// HeaderName is the request header that overrides derived keys.
const HeaderName = "X-Idempotency-Key"

// maxOverrideLen bounds caller-supplied keys before they reach the store.
const maxOverrideLen = 256

// Store claims idempotency keys.
type Store struct {
	store storage.Store
}

// NewStore creates a claim registry backed by store.
func NewStore(store storage.Store) *Store {
	return &Store{store: store}
}

// Claim records key for userID. It returns true for the first claimant and
// false for any later claim while the record is live.
func (s *Store) Claim(ctx context.Context, userID, key string, ttl time.Duration) (bool, error) {
	ok, err := s.store.SetNX(ctx, fmt.Sprintf("idem:%s:%s", userID, key), "1", ttl)
	if err != nil {
		return false, fmt.Errorf("idempotency claim failed: %w", err)
	}
	return ok, nil
}

// Message is the subset of a chat message that identifies a request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Fingerprint is the request content a derived key is computed from.
type Fingerprint struct {
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	RoundID        string    `json:"roundId,omitempty"`
	SelectedAvatar string    `json:"selectedAvatar,omitempty"`
	ModelID        string    `json:"modelId"`
	Messages       []Message `json:"messages"`
}

// DeriveKey returns the idempotency key for a request. A non-empty override
// (header first, then body field) wins; otherwise the key is a SHA-256 of
// the canonical JSON encoding of fp, so identical payloads collapse.
func DeriveKey(fp Fingerprint, headerOverride, bodyOverride string) string {
	if k := normalizeOverride(headerOverride); k != "" {
		return k
	}
	if k := normalizeOverride(bodyOverride); k != "" {
		return k
	}

	// Field order in the struct fixes the encoding.
	data, _ := json.Marshal(fp)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func normalizeOverride(k string) string {
	k = strings.TrimSpace(k)
	if len(k) > maxOverrideLen {
		sum := sha256.Sum256([]byte(k))
		return hex.EncodeToString(sum[:])
	}
	return k
}
