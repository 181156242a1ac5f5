package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"mercator-hq/conclave/pkg/config"
	"mercator-hq/conclave/pkg/orchestrator"
	"mercator-hq/conclave/pkg/proxy"
	"mercator-hq/conclave/pkg/proxy/handlers"
	"mercator-hq/conclave/pkg/proxy/middleware"
	"mercator-hq/conclave/pkg/security/auth"
	"mercator-hq/conclave/pkg/telemetry/health"
	"mercator-hq/conclave/pkg/telemetry/metrics"
	"mercator-hq/conclave/pkg/telemetry/tracing"
)

// VersionInfo is reported by /version.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Deps are the components the server routes to.
type Deps struct {
	// Pipeline serves the generation endpoints.
	Pipeline handlers.Pipeline

	// Authenticator resolves callers of the generation endpoints.
	Authenticator auth.Authenticator

	// Health backs /health and /ready. Nil serves a checker with no checks.
	Health *health.Checker

	// Metrics is optional; nil disables /metrics.
	Metrics *metrics.Collector

	Version VersionInfo
}

// Server is the HTTP front of the generation gateway.
type Server struct {
	config       *config.Config
	deps         Deps
	burst        *middleware.BurstGuard
	httpServer   *http.Server
	listener     net.Listener
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// NewServer creates a server. It does not listen until Start.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: config is required")
	}
	if deps.Pipeline == nil {
		return nil, errors.New("server: pipeline is required")
	}
	if deps.Authenticator == nil {
		return nil, errors.New("server: authenticator is required")
	}
	if deps.Health == nil {
		deps.Health = health.New(0)
	}

	s := &Server{
		config:       cfg,
		deps:         deps,
		shutdownChan: make(chan struct{}),
	}

	if b := cfg.Admission.Burst; b.Enabled {
		s.burst = middleware.NewBurstGuard(middleware.BurstConfig{
			RatePerSecond: b.RatePerSecond,
			Burst:         b.Burst,
			IdleTTL:       b.IdleTTL,
		}, deps.Metrics)
	}

	s.httpServer = &http.Server{
		Addr:           cfg.Server.ListenAddress,
		Handler:        s.setupRoutes(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	return s, nil
}

// Start listens and serves until ctx is canceled, a shutdown signal arrives
// or Stop is called. It then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		slog.Info("starting conclave server",
			"address", ln.Addr().String(),
			"burst_guard", s.burst != nil,
			"metrics", s.deps.Metrics != nil,
		)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.stopBackground()
		return err
	case <-s.shutdownChan:
		slog.Info("shutdown requested")
		return s.Shutdown(context.Background())
	}
}

// Stop asks a running Start to shut down.
func (s *Server) Stop() {
	select {
	case <-s.shutdownChan:
	default:
		close(s.shutdownChan)
	}
}

// Shutdown stops accepting connections and waits for in-flight requests,
// open streams included, up to the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		timeout := s.config.Server.ShutdownTimeout
		slog.Info("initiating graceful shutdown", "timeout", timeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}
		s.stopBackground()

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		slog.Info("conclave server stopped")
	})

	return shutdownErr
}

func (s *Server) stopBackground() {
	if s.burst != nil {
		s.burst.Stop()
	}
}

// setupRoutes builds the route table and middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	opts := handlers.Options{MaxBodyBytes: s.config.Server.MaxBodyBytes}
	authn := auth.NewMiddleware(s.deps.Authenticator, func(w http.ResponseWriter, r *http.Request, err error) {
		proxy.WriteError(w, orchestrator.NewUnauthorizedError(err))
	})

	// The burst guard sheds floods before any auth or store work. Probes
	// and scrapes bypass it.
	generate := func(endpoint string, h http.Handler) http.Handler {
		h = authn.Handle(middleware.MetricsMiddleware(s.deps.Metrics, endpoint)(h))
		if s.burst != nil {
			h = s.burst.Middleware(h)
		}
		return h
	}
	mux.Handle("/generate", generate("generate", handlers.NewGenerateHandler(s.deps.Pipeline, opts)))
	mux.Handle("/generate-stream", generate("generate_stream", handlers.NewStreamHandler(s.deps.Pipeline, opts)))

	mux.Handle("/health", s.deps.Health.LivenessHandler())
	mux.Handle("/ready", s.deps.Health.ReadinessHandler())
	mux.Handle("/version", health.VersionHandler(s.deps.Version.Version, s.deps.Version.Commit, s.deps.Version.BuildTime))
	if s.deps.Metrics != nil {
		path := s.config.Telemetry.Metrics.Path
		if path == "" {
			path = config.DefaultMetricsPath
		}
		mux.Handle(path, s.deps.Metrics.Handler())
	}

	var handler http.Handler = mux

	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ClientIPMiddleware(s.config.Server.TrustProxyHeaders)(handler)
	handler = middleware.RequestIDMiddleware(handler)
	handler = tracing.HTTPMiddleware(handler)

	// Recovery middleware (outermost)
	handler = middleware.RecoveryMiddleware(handler)

	return handler
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the bound listen address once Start has begun, otherwise
// the configured one.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
