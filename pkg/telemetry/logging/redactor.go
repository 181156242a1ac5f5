package logging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"mercator-hq/conclave/pkg/config"
)

// Redactor masks credentials in log attributes.
type Redactor struct {
	patterns []*redactPattern
}

type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Built-in pattern names.
const (
	PatternProviderKey = "provider_key"
	PatternBearerToken = "bearer_token"
	PatternJWT         = "jwt"
	PatternPassword    = "password"
)

var defaultPatterns = []struct {
	name        string
	regex       string
	replacement string
}{
	// sk-..., sk-or-v1-..., sk-ant-...
	{PatternProviderKey, `sk-[A-Za-z0-9_-]{8,}`, "sk-***"},
	{PatternBearerToken, `Bearer\s+[A-Za-z0-9\-._~+/]+=*`, "Bearer ***"},
	{PatternJWT, `eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`, "***.jwt"},
	{PatternPassword, `(password|passwd|pwd)[:=]\s*[^\s]+`, "$1: ***"},
}

// sensitiveKeys are attribute names, or "_name" suffixes, whose values are
// masked outright. Suffix matching keeps prompt_tokens readable.
var sensitiveKeys = []string{
	"password", "passwd", "secret", "token",
	"api_key", "apikey", "authorization", "private_key",
}

// NewRedactor compiles the built-in patterns plus any custom ones.
func NewRedactor(custom []config.RedactPattern) (*Redactor, error) {
	r := &Redactor{}
	for _, p := range defaultPatterns {
		r.patterns = append(r.patterns, &redactPattern{
			name:        p.name,
			regex:       regexp.MustCompile(p.regex),
			replacement: p.replacement,
		})
	}
	for _, p := range custom {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redact pattern %q: %w", p.Name, err)
		}
		replacement := p.Replacement
		if replacement == "" {
			replacement = "***"
		}
		r.patterns = append(r.patterns, &redactPattern{name: p.Name, regex: regex, replacement: replacement})
	}
	return r, nil
}

// RedactString applies every pattern to value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, RedactAPIKey(a.Value.String()))
	}
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.RedactString(a.Value.String()))
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
	}
	return a
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if lower == s || strings.HasSuffix(lower, "_"+s) {
			return true
		}
	}
	return false
}

// RedactAPIKey keeps the first four characters of a credential.
func RedactAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:4] + "***"
}
