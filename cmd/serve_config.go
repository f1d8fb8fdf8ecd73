package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-dispatch/internal/config"
	"github.com/giantswarm/mcp-dispatch/internal/router"
	"github.com/giantswarm/mcp-dispatch/internal/server"
	"github.com/giantswarm/mcp-dispatch/internal/server/middleware"
	"github.com/giantswarm/mcp-dispatch/internal/session"
)

// ServeConfig holds all configuration for the serve command.
type ServeConfig struct {
	// Transport settings
	Transport    string
	HTTPAddr     string
	HTTPEndpoint string

	// CapabilitiesFile is the YAML file declaring the capabilities.
	CapabilitiesFile string
	WatchConfig      bool
	DebugMode        bool

	// Session store overrides. Zero keeps the file or default value.
	SessionIdleTimeout  time.Duration
	SessionHistoryLimit int
	MaxSessions         int

	// MaxRetries overrides the retry budget when not negative.
	MaxRetries     int
	DefaultTimeout time.Duration

	MaxRequestBytes  int64
	MaxResponseBytes int

	Security middleware.SecurityConfig
	Metrics  MetricsServeConfig
}

// MetricsServeConfig configures the dedicated metrics server.
type MetricsServeConfig struct {
	Addr    string
	Enabled bool
}

// loadEnvIfEmpty loads an environment variable into a string pointer if it's empty.
func loadEnvIfEmpty(target *string, envKey string) {
	if *target == "" {
		*target = os.Getenv(envKey)
	}
}

// loadServeEnv fills every setting whose flag was not given on the command
// line from its environment variable.
func loadServeEnv(cmd *cobra.Command, cfg *ServeConfig) {
	unset := func(flag string) bool { return !cmd.Flags().Changed(flag) }

	loadEnvIfEmpty(&cfg.CapabilitiesFile, "DISPATCH_CONFIG")

	if v := os.Getenv("DISPATCH_TRANSPORT"); v != "" && unset("transport") {
		cfg.Transport = v
	}
	if v := os.Getenv("DISPATCH_HTTP_ADDR"); v != "" && unset("http-addr") {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("DISPATCH_WATCH_CONFIG"); v != "" && unset("watch-config") {
		cfg.WatchConfig = v == envValueTrue
	}
	if v := os.Getenv("DISPATCH_ALLOWED_ORIGINS"); v != "" && unset("allowed-origins") {
		cfg.Security.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("ENABLE_HSTS"); v != "" && unset("enable-hsts") {
		cfg.Security.EnableHSTS = v == envValueTrue
	}

	if unset("session-idle-timeout") {
		if d, ok := parseDurationEnv(os.Getenv("SESSION_IDLE_TIMEOUT"), "SESSION_IDLE_TIMEOUT"); ok {
			cfg.SessionIdleTimeout = d
		}
	}
	if unset("session-history-limit") {
		if n, ok := parseIntEnv(os.Getenv("SESSION_HISTORY_LIMIT"), "SESSION_HISTORY_LIMIT"); ok {
			cfg.SessionHistoryLimit = n
		}
	}
	if unset("max-sessions") {
		if n, ok := parseIntEnv(os.Getenv("MAX_SESSIONS"), "MAX_SESSIONS"); ok {
			cfg.MaxSessions = n
		}
	}
	if unset("max-retries") {
		if n, ok := parseIntEnv(os.Getenv("ROUTER_MAX_RETRIES"), "ROUTER_MAX_RETRIES"); ok {
			cfg.MaxRetries = n
		}
	}
	if unset("default-timeout") {
		if d, ok := parseDurationEnv(os.Getenv("ROUTER_DEFAULT_TIMEOUT"), "ROUTER_DEFAULT_TIMEOUT"); ok {
			cfg.DefaultTimeout = d
		}
	}
	if unset("max-response-bytes") {
		if n, ok := parseIntEnv(os.Getenv("MAX_RESPONSE_BYTES"), "MAX_RESPONSE_BYTES"); ok {
			cfg.MaxResponseBytes = n
		}
	}

	if v := os.Getenv("METRICS_SERVER_ENABLED"); v != "" && unset("metrics-server") {
		cfg.Metrics.Enabled = v == envValueTrue
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" && unset("metrics-addr") {
		cfg.Metrics.Addr = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration before any component is started.
func (c ServeConfig) Validate() error {
	var errs []error

	switch c.Transport {
	case transportStdio, transportStreamableHTTP:
	default:
		errs = append(errs, fmt.Errorf("unsupported transport type: %q (supported: stdio, streamable-http)", c.Transport))
	}
	if c.CapabilitiesFile == "" {
		errs = append(errs, errors.New("capabilities file is required (--config or DISPATCH_CONFIG)"))
	}
	if c.Transport == transportStreamableHTTP {
		if !strings.HasPrefix(c.HTTPEndpoint, "/") {
			errs = append(errs, fmt.Errorf("http endpoint must start with '/': %q", c.HTTPEndpoint))
		}
		if c.Metrics.Enabled && c.Metrics.Addr == c.HTTPAddr {
			errs = append(errs, fmt.Errorf("metrics address %s must differ from the HTTP address", c.Metrics.Addr))
		}
	}
	if c.SessionIdleTimeout < 0 || c.SessionHistoryLimit < 0 || c.MaxSessions < 0 {
		errs = append(errs, errors.New("session settings must not be negative"))
	}
	if c.MaxRetries < -1 {
		errs = append(errs, fmt.Errorf("max retries must be -1 or greater, got %d", c.MaxRetries))
	}
	if c.DefaultTimeout < 0 {
		errs = append(errs, errors.New("default timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// sessionConfig layers the file settings and then the command line over the
// store defaults.
func (c ServeConfig) sessionConfig(f *config.File) session.Config {
	out := f.Sessions.Store(session.DefaultConfig())
	if c.SessionIdleTimeout > 0 {
		out.IdleTimeout = c.SessionIdleTimeout
	}
	if c.SessionHistoryLimit > 0 {
		out.HistoryLimit = c.SessionHistoryLimit
	}
	if c.MaxSessions > 0 {
		out.MaxSessions = c.MaxSessions
	}
	return out
}

func (c ServeConfig) retryPolicy(f *config.File) router.RetryPolicy {
	out := f.Router.RetryPolicy(router.DefaultRetryPolicy())
	if c.MaxRetries >= 0 {
		out.MaxRetries = c.MaxRetries
	}
	return out
}

func (c ServeConfig) defaultTimeout(f *config.File) time.Duration {
	if c.DefaultTimeout > 0 {
		return c.DefaultTimeout
	}
	return f.Router.DefaultTimeout
}

func (c ServeConfig) serverConfig() *server.Config {
	out := server.NewDefaultConfig()
	out.Version = rootCmd.Version
	out.CapabilitiesFile = c.CapabilitiesFile
	if c.MaxRequestBytes > 0 {
		out.MaxRequestBytes = c.MaxRequestBytes
	}
	if c.MaxResponseBytes > 0 {
		out.MaxResponseBytes = c.MaxResponseBytes
	}
	return out
}
