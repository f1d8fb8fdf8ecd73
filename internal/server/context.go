package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/giantswarm/mcp-dispatch/internal/instrumentation"
	"github.com/giantswarm/mcp-dispatch/internal/registry"
	"github.com/giantswarm/mcp-dispatch/internal/router"
	"github.com/giantswarm/mcp-dispatch/internal/session"
)

// ServerContext encapsulates all dependencies needed by the MCP server and
// the HTTP API, and owns their shutdown.
type ServerContext struct {
	// Core dependencies
	registry *registry.Registry
	sessions *session.Store
	router   *router.Router
	logger   *slog.Logger
	config   *Config

	// OpenTelemetry instrumentation
	instrumentationProvider *instrumentation.Provider

	// Context management
	ctx    context.Context
	cancel context.CancelFunc

	// Lifecycle management
	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a new ServerContext with default values.
// Use the provided functional options to customize the context.
func NewServerContext(ctx context.Context, opts ...Option) (*ServerContext, error) {
	serverCtx, cancel := context.WithCancel(ctx)

	sc := &ServerContext{
		ctx:    serverCtx,
		cancel: cancel,
		config: NewDefaultConfig(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(sc); err != nil {
			cancel()
			return nil, err
		}
	}

	if err := sc.validate(); err != nil {
		cancel()
		return nil, err
	}

	return sc, nil
}

// Context returns the server context for cancellation and deadlines.
func (sc *ServerContext) Context() context.Context {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.ctx
}

// Registry returns the capability registry.
func (sc *ServerContext) Registry() *registry.Registry {
	return sc.registry
}

// Sessions returns the session store.
func (sc *ServerContext) Sessions() *session.Store {
	return sc.sessions
}

// Router returns the dispatch router.
func (sc *ServerContext) Router() *router.Router {
	return sc.router
}

// Logger returns the logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// Config returns the server configuration.
func (sc *ServerContext) Config() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config
}

// InstrumentationProvider returns the OpenTelemetry provider, or nil.
func (sc *ServerContext) InstrumentationProvider() *instrumentation.Provider {
	return sc.instrumentationProvider
}

// Shutdown closes every adapter binding, waiting for in-flight calls up to
// the deadline of ctx, then stops the session store. It is safe to call more
// than once.
func (sc *ServerContext) Shutdown(ctx context.Context) error {
	sc.mu.Lock()
	if sc.shutdown {
		sc.mu.Unlock()
		return nil
	}
	sc.shutdown = true
	sc.mu.Unlock()

	sc.logger.Info("Shutting down server context")

	err := sc.registry.Close(ctx)
	sc.sessions.Stop()

	if sc.cancel != nil {
		sc.cancel()
	}

	sc.logger.Info("Server context shutdown complete")
	return err
}

// IsShutdown returns true if the server context has been shutdown.
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// validate ensures all required dependencies are set.
func (sc *ServerContext) validate() error {
	var errs []error
	if sc.registry == nil {
		errs = append(errs, ErrMissingRegistry)
	}
	if sc.sessions == nil {
		errs = append(errs, ErrMissingSessionStore)
	}
	if sc.router == nil {
		errs = append(errs, ErrMissingRouter)
	}
	if sc.config == nil {
		errs = append(errs, ErrMissingConfig)
	}
	return errors.Join(errs...)
}

// Config holds the server configuration.
type Config struct {
	// Server identity
	ServerName string `json:"serverName"`
	Version    string `json:"version"`

	// CapabilitiesFile is the YAML file the registry was loaded from.
	CapabilitiesFile string `json:"capabilitiesFile,omitempty"`

	// MaxRequestBytes bounds the body of POST /v1/dispatch.
	MaxRequestBytes int64 `json:"maxRequestBytes"`

	// MaxResponseBytes bounds the JSON text of an MCP tool result. Larger
	// payloads are replaced by a truncated preview.
	MaxResponseBytes int `json:"maxResponseBytes"`
}

// NewDefaultConfig creates a configuration with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		ServerName:       "mcp-dispatch",
		Version:          "0.1.0",
		MaxRequestBytes:  1 << 20,
		MaxResponseBytes: 512 * 1024,
	}
}

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
