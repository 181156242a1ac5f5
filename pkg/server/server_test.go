package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/conclave/pkg/config"
	"mercator-hq/conclave/pkg/orchestrator"
	"mercator-hq/conclave/pkg/providers"
	"mercator-hq/conclave/pkg/proxy"
	"mercator-hq/conclave/pkg/security/auth"
	"mercator-hq/conclave/pkg/telemetry/metrics"
)

type fakePipeline struct {
	last *orchestrator.Request
}

func (p *fakePipeline) Generate(ctx context.Context, req *orchestrator.Request) (*orchestrator.Result, error) {
	p.last = req
	return &orchestrator.Result{
		RequestID:   req.RequestID,
		Content:     "ok",
		ModelIDUsed: req.ModelID,
		Usage:       providers.TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
	}, nil
}

func (p *fakePipeline) OpenStream(ctx context.Context, req *orchestrator.Request) (*orchestrator.Session, error) {
	return nil, &orchestrator.Error{Status: http.StatusServiceUnavailable, Code: orchestrator.CodeCooldown, Message: "cooling down", RetryAfterSec: 7}
}

const body = `{"conversationId":"conv-1","modelId":"acme/main","messages":[{"role":"user","content":"Hello"}]}`

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *fakePipeline) {
	t.Helper()

	cfg := config.NewDefault()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	if mutate != nil {
		mutate(cfg)
	}

	pipe := &fakePipeline{}
	collector := metrics.NewCollector(cfg.Telemetry.Metrics, prometheus.NewRegistry())
	srv, err := NewServer(cfg, Deps{
		Pipeline: pipe,
		Authenticator: auth.NewAPIKeyValidator([]*auth.APIKeyInfo{
			{Key: "ck-test", UserID: "user-1", Tier: "pro", Enabled: true},
		}),
		Metrics: collector,
		Version: VersionInfo{Version: "1.2.3"},
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	t.Cleanup(srv.stopBackground)
	return srv, pipe
}

func post(h http.Handler, path, key string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.RemoteAddr = "192.0.2.10:4000"
	if key != "" {
		r.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestNewServer_RequiresDeps(t *testing.T) {
	if _, err := NewServer(nil, Deps{}); err == nil {
		t.Error("Expected error for nil config")
	}
	if _, err := NewServer(config.NewDefault(), Deps{}); err == nil {
		t.Error("Expected error for missing pipeline")
	}
}

func TestServer_GenerateRoute(t *testing.T) {
	srv, pipe := newTestServer(t, nil)

	w := post(srv.Handler(), "/generate", "ck-test")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header")
	}

	if pipe.last == nil {
		t.Fatal("Expected the pipeline to be called")
	}
	if pipe.last.UserID != "user-1" || pipe.last.Tier != "pro" {
		t.Errorf("Expected identity user-1/pro, got %s/%s", pipe.last.UserID, pipe.last.Tier)
	}
	if pipe.last.ClientIP != "192.0.2.10" {
		t.Errorf("Expected client IP 192.0.2.10, got %q", pipe.last.ClientIP)
	}
	if pipe.last.RequestID != w.Header().Get("X-Request-ID") {
		t.Errorf("Expected request ID %q, got %q", w.Header().Get("X-Request-ID"), pipe.last.RequestID)
	}
}

func TestServer_Unauthenticated(t *testing.T) {
	srv, pipe := newTestServer(t, nil)

	for _, key := range []string{"", "ck-wrong"} {
		w := post(srv.Handler(), "/generate", key)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401 for key %q, got %d", key, w.Code)
		}
		var resp proxy.ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to decode body: %v", err)
		}
		if resp.Code != orchestrator.CodeUnauthorized {
			t.Errorf("Expected %s, got %s", orchestrator.CodeUnauthorized, resp.Code)
		}
	}
	if pipe.last != nil {
		t.Error("Expected the pipeline not to be called")
	}
}

func TestServer_StreamRejectionIsJSON(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := post(srv.Handler(), "/generate-stream", "ck-test")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "7" {
		t.Errorf("Expected Retry-After 7, got %q", w.Header().Get("Retry-After"))
	}
}

func TestServer_OperationalRoutes(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	// Produce one request series so the scrape has content.
	post(h, "/generate", "ck-test")

	tests := []struct {
		path     string
		contains string
	}{
		{"/health", `"status"`},
		{"/ready", `"ready"`},
		{"/version", `"1.2.3"`},
		{"/metrics", "conclave_requests_total"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d", w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.contains) {
				t.Errorf("Expected body to contain %q, got %s", tt.contains, w.Body.String())
			}
		})
	}
}

func TestServer_BurstGuard(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Admission.Burst.RatePerSecond = 0.001
		cfg.Admission.Burst.Burst = 1
	})
	h := srv.Handler()

	if w := post(h, "/generate", "ck-test"); w.Code != http.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", w.Code)
	}
	if w := post(h, "/generate", "ck-test"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}

	// Probes are not subject to the guard.
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.RemoteAddr = "192.0.2.10:4000"
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("Expected /health to pass the guard, got %d", w.Code)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !srv.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !srv.IsRunning() {
		t.Fatal("Expected server to be running")
	}

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	if err := srv.Start(ctx); err == nil {
		t.Error("Expected second Start to fail")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shut down")
	}
	if srv.IsRunning() {
		t.Error("Expected server to be stopped")
	}
}
