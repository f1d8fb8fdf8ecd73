package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/giantswarm/mcp-dispatch/internal/server/middleware"
)

const (
	// DefaultReadHeaderTimeout is the default timeout for reading request headers
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultWriteTimeout is the default timeout for writing responses (long enough for fan-out dispatches)
	DefaultWriteTimeout = 120 * time.Second

	// DefaultIdleTimeout is the default idle timeout for keepalive connections
	DefaultIdleTimeout = 120 * time.Second

	// DefaultShutdownTimeout is the default timeout for graceful server shutdown
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultMCPEndpoint is where MCP is served over streamable HTTP.
	DefaultMCPEndpoint = "/mcp"
)

// HTTPConfig configures the listener that serves MCP, the JSON API and the
// health endpoints.
type HTTPConfig struct {
	Addr string

	// MCPEndpoint is the path of MCPHandler (default /mcp).
	MCPEndpoint string

	// MCPHandler serves MCP over streamable HTTP. Nil leaves the endpoint out.
	MCPHandler http.Handler

	// ServeMetrics mounts the Prometheus scrape endpoint on this listener
	// instead of a dedicated metrics server.
	ServeMetrics bool

	Security middleware.SecurityConfig
}

// HTTPServer serves the MCP endpoint, the /v1 API and health probes on one mux.
type HTTPServer struct {
	sc         *ServerContext
	health     *HealthChecker
	handler    http.Handler
	httpServer *http.Server
}

// NewHTTPServer builds the server for sc.
func NewHTTPServer(sc *ServerContext, cfg HTTPConfig) *HTTPServer {
	if cfg.MCPEndpoint == "" {
		cfg.MCPEndpoint = DefaultMCPEndpoint
	}

	s := &HTTPServer{
		sc:     sc,
		health: NewHealthChecker(sc),
	}

	mux := http.NewServeMux()
	if cfg.MCPHandler != nil {
		mux.Handle(cfg.MCPEndpoint, cfg.MCPHandler)
	}
	NewAPI(sc).Register(mux)
	s.health.RegisterHealthEndpoints(mux)

	provider := sc.InstrumentationProvider()
	if cfg.ServeMetrics && provider != nil {
		if h := provider.PrometheusHandler(); h != nil {
			mux.Handle("GET "+metricsEndpoint(provider), h)
		}
	}

	var recorder middleware.RequestRecorder
	if provider != nil && provider.Enabled() && provider.Metrics() != nil {
		recorder = provider.Metrics()
	}

	var handler http.Handler = mux
	handler = middleware.CORS(cfg.Security)(handler)
	handler = middleware.SecurityHeaders(cfg.Security)(handler)
	handler = middleware.HTTPMetrics(recorder)(handler)
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return sc.Context() },
	}
	return s
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Health returns the health checker behind /healthz and /readyz.
func (s *HTTPServer) Health() *HealthChecker {
	return s.health
}

// Serve listens until ctx is done, then marks the server not ready and shuts
// down gracefully within DefaultShutdownTimeout.
func (s *HTTPServer) Serve(ctx context.Context) error {
	logger := s.sc.Logger()

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	logger.Info("HTTP server starting",
		slog.String("addr", s.httpServer.Addr),
		slog.Any("health_endpoints", []string{"/healthz", "/readyz", "/healthz/detailed"}))

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping HTTP server")
		s.health.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	logger.Info("HTTP server gracefully stopped")
	return nil
}
