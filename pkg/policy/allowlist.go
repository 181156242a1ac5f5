package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Provider returns the model allowlist for a provider key. A nil list means
// no filtering.
type Provider interface {
	Allowlist(ctx context.Context, apiKey string) ([]string, error)
}

// Document is the parsed allowlist file.
type Document struct {
	Default []string   `yaml:"default"`
	Keys    []KeyEntry `yaml:"keys"`
}

// KeyEntry binds a key fingerprint to its models.
type KeyEntry struct {
	Fingerprint string   `yaml:"fingerprint"`
	Models      []string `yaml:"models"`
}

// Fingerprint returns the lowercase hex SHA-256 of apiKey.
func Fingerprint(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// Parse decodes and validates an allowlist document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse allowlist: %w", err)
	}

	seen := make(map[string]bool, len(doc.Keys))
	for i, entry := range doc.Keys {
		fp := strings.ToLower(strings.TrimSpace(entry.Fingerprint))
		if len(fp) != sha256.Size*2 {
			return nil, fmt.Errorf("keys[%d]: fingerprint must be %d hex characters", i, sha256.Size*2)
		}
		if _, err := hex.DecodeString(fp); err != nil {
			return nil, fmt.Errorf("keys[%d]: fingerprint is not hex: %w", i, err)
		}
		if seen[fp] {
			return nil, fmt.Errorf("keys[%d]: duplicate fingerprint", i)
		}
		seen[fp] = true
		doc.Keys[i].Fingerprint = fp
	}
	return &doc, nil
}

// snapshot is an immutable lookup table built from a Document.
type snapshot struct {
	byKey    map[string][]string
	fallback []string
}

func newSnapshot(doc *Document) *snapshot {
	s := &snapshot{byKey: make(map[string][]string, len(doc.Keys))}
	for _, entry := range doc.Keys {
		s.byKey[entry.Fingerprint] = cleanModels(entry.Models)
	}
	s.fallback = cleanModels(doc.Default)
	return s
}

func cleanModels(models []string) []string {
	out := make([]string, 0, len(models))
	for _, m := range models {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Static serves allowlists from an in-memory document.
type Static struct {
	current atomic.Pointer[snapshot]
}

// NewStatic creates a provider from doc. A nil doc filters nothing.
func NewStatic(doc *Document) *Static {
	s := &Static{}
	s.Update(doc)
	return s
}

// Update swaps in doc.
func (s *Static) Update(doc *Document) {
	if doc == nil {
		doc = &Document{}
	}
	s.current.Store(newSnapshot(doc))
}

// Allowlist implements Provider.
func (s *Static) Allowlist(ctx context.Context, apiKey string) ([]string, error) {
	snap := s.current.Load()
	if models, ok := snap.byKey[Fingerprint(apiKey)]; ok {
		return append([]string(nil), models...), nil
	}
	return append([]string(nil), snap.fallback...), nil
}

// FileSource is a Static provider loaded from a YAML file.
type FileSource struct {
	*Static
	path string
}

// NewFileSource loads path. A missing file is an error.
func NewFileSource(path string) (*FileSource, error) {
	src := &FileSource{Static: NewStatic(nil), path: path}
	if err := src.Reload(); err != nil {
		return nil, err
	}
	return src, nil
}

// Path returns the watched file path.
func (f *FileSource) Path() string {
	return f.path
}

// Reload re-reads the file. On error the previous allowlists stay active.
func (f *FileSource) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read allowlist %s: %w", f.path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", f.path, err)
	}
	f.Update(doc)
	return nil
}
