package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeKey(t *testing.T, dir, user, key string, mode os.FileMode) {
	t.Helper()
	path := filepath.Join(dir, user)
	if err := os.WriteFile(path, []byte(key+"\n"), mode); err != nil {
		t.Fatalf("Failed to write key: %v", err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatalf("Failed to chmod key: %v", err)
	}
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	writeKey(t, dir, "user-1", "sk-or-user-1", 0600)
	writeKey(t, dir, "user-open", "sk-or-open", 0644)

	p, err := NewFileProvider(dir, false)
	if err != nil {
		t.Fatalf("NewFileProvider failed: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	key, err := p.APIKey(ctx, "user-1")
	if err != nil {
		t.Fatalf("APIKey failed: %v", err)
	}
	if key != "sk-or-user-1" {
		t.Errorf("Expected trimmed key, got %q", key)
	}

	if _, err := p.APIKey(ctx, "user-missing"); !errors.Is(err, ErrNoKey) {
		t.Errorf("Expected ErrNoKey for missing user, got %v", err)
	}
	if _, err := p.APIKey(ctx, "../etc/passwd"); !errors.Is(err, ErrNoKey) {
		t.Errorf("Expected ErrNoKey for traversal, got %v", err)
	}
	if _, err := p.APIKey(ctx, "user-open"); err == nil || errors.Is(err, ErrNoKey) {
		t.Errorf("Expected permission error, got %v", err)
	}
}

func TestFileProvider_RefreshPicksUpRotation(t *testing.T) {
	dir := t.TempDir()
	writeKey(t, dir, "user-1", "sk-old", 0600)

	p, err := NewFileProvider(dir, false)
	if err != nil {
		t.Fatalf("NewFileProvider failed: %v", err)
	}
	ctx := context.Background()
	p.APIKey(ctx, "user-1")

	writeKey(t, dir, "user-1", "sk-new", 0600)
	if key, _ := p.APIKey(ctx, "user-1"); key != "sk-old" {
		t.Errorf("Expected cached key before refresh, got %q", key)
	}

	p.Refresh(ctx)
	if key, _ := p.APIKey(ctx, "user-1"); key != "sk-new" {
		t.Errorf("Expected rotated key after refresh, got %q", key)
	}
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("CONCLAVE_TEST_SHARED_KEY", "sk-shared")

	key, err := NewEnvProvider("CONCLAVE_TEST_SHARED_KEY").APIKey(context.Background(), "anyone")
	if err != nil || key != "sk-shared" {
		t.Errorf("Expected shared key, got %q (%v)", key, err)
	}

	if _, err := NewEnvProvider("CONCLAVE_TEST_UNSET_KEY").APIKey(context.Background(), "anyone"); !errors.Is(err, ErrNoKey) {
		t.Errorf("Expected ErrNoKey, got %v", err)
	}
}

type stubProvider struct {
	keys  map[string]string
	err   error
	calls int
}

func (s *stubProvider) APIKey(ctx context.Context, userID string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if k, ok := s.keys[userID]; ok {
		return k, nil
	}
	return "", ErrNoKey
}

func (s *stubProvider) Provider() string { return "stub" }

func TestManager(t *testing.T) {
	first := &stubProvider{keys: map[string]string{"u1": "sk-u1"}}
	fallback := &stubProvider{keys: map[string]string{"u2": "sk-shared"}}
	m := NewManager([]KeyProvider{first, fallback}, CacheConfig{Enabled: true, TTL: time.Minute})

	ctx := context.Background()
	if key, _ := m.APIKey(ctx, "u1"); key != "sk-u1" {
		t.Errorf("Expected sk-u1, got %q", key)
	}
	if key, _ := m.APIKey(ctx, "u2"); key != "sk-shared" {
		t.Errorf("Expected fallback key, got %q", key)
	}
	if _, err := m.APIKey(ctx, "u3"); !errors.Is(err, ErrNoKey) {
		t.Errorf("Expected ErrNoKey, got %v", err)
	}

	calls := first.calls
	m.APIKey(ctx, "u1")
	if first.calls != calls {
		t.Error("Expected cached key to skip providers")
	}

	m.Refresh(ctx)
	m.APIKey(ctx, "u1")
	if first.calls != calls+1 {
		t.Error("Expected refresh to clear cache")
	}
}

func TestManager_ProviderError(t *testing.T) {
	broken := &stubProvider{err: errors.New("disk on fire")}
	m := NewManager([]KeyProvider{broken}, CacheConfig{})

	_, err := m.APIKey(context.Background(), "u1")
	if err == nil || errors.Is(err, ErrNoKey) {
		t.Errorf("Expected provider failure, got %v", err)
	}
}

func TestCache_Expiry(t *testing.T) {
	now := time.Now()
	c := NewCache(CacheConfig{Enabled: true, TTL: time.Second, MaxSize: 2})
	c.now = func() time.Time { return now }

	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3")
	if c.Size() != 2 {
		t.Errorf("Expected size 2 after eviction, got %d", c.Size())
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.Get("c"); ok {
		t.Error("Expected expired entry to miss")
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("sk-or-v1-abcdef123456"); got != "sk-o...56" {
		t.Errorf("Unexpected redaction %q", got)
	}
	if got := Redact("short"); got != "***" {
		t.Errorf("Expected *** for short key, got %q", got)
	}
}
