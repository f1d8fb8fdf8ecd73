package server

import (
	"errors"
	"log/slog"

	"github.com/giantswarm/mcp-dispatch/internal/instrumentation"
	"github.com/giantswarm/mcp-dispatch/internal/registry"
	"github.com/giantswarm/mcp-dispatch/internal/router"
	"github.com/giantswarm/mcp-dispatch/internal/session"
)

// Option is a functional option for configuring ServerContext.
type Option func(*ServerContext) error

// WithRegistry sets the capability registry.
func WithRegistry(reg *registry.Registry) Option {
	return func(sc *ServerContext) error {
		if reg == nil {
			return ErrMissingRegistry
		}
		sc.registry = reg
		return nil
	}
}

// WithSessionStore sets the session store.
func WithSessionStore(store *session.Store) Option {
	return func(sc *ServerContext) error {
		if store == nil {
			return ErrMissingSessionStore
		}
		sc.sessions = store
		return nil
	}
}

// WithRouter sets the dispatch router.
func WithRouter(r *router.Router) Option {
	return func(sc *ServerContext) error {
		if r == nil {
			return ErrMissingRouter
		}
		sc.router = r
		return nil
	}
}

// WithLogger sets the logger for the ServerContext.
func WithLogger(logger *slog.Logger) Option {
	return func(sc *ServerContext) error {
		if logger == nil {
			return ErrMissingLogger
		}
		sc.logger = logger
		return nil
	}
}

// WithConfig sets the configuration for the ServerContext.
func WithConfig(config *Config) Option {
	return func(sc *ServerContext) error {
		if config == nil {
			return ErrMissingConfig
		}
		sc.config = config.Clone()
		return nil
	}
}

// WithServerName sets the server name in the configuration.
func WithServerName(name string) Option {
	return func(sc *ServerContext) error {
		if sc.config == nil {
			sc.config = NewDefaultConfig()
		}
		sc.config.ServerName = name
		return nil
	}
}

// WithVersion sets the version reported by health endpoints.
func WithVersion(version string) Option {
	return func(sc *ServerContext) error {
		if sc.config == nil {
			sc.config = NewDefaultConfig()
		}
		sc.config.Version = version
		return nil
	}
}

// WithInstrumentationProvider sets the OpenTelemetry instrumentation provider.
func WithInstrumentationProvider(provider *instrumentation.Provider) Option {
	return func(sc *ServerContext) error {
		sc.instrumentationProvider = provider
		return nil
	}
}

// Error definitions for ServerContext validation and operations.
var (
	ErrMissingRegistry     = errors.New("capability registry is required")
	ErrMissingSessionStore = errors.New("session store is required")
	ErrMissingRouter       = errors.New("dispatch router is required")
	ErrMissingLogger       = errors.New("logger is required")
	ErrMissingConfig       = errors.New("configuration is required")
	ErrServerShutdown      = errors.New("server context has been shutdown")
)
