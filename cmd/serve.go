package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-dispatch/internal/adapters/mcpremote"
	"github.com/giantswarm/mcp-dispatch/internal/config"
	"github.com/giantswarm/mcp-dispatch/internal/instrumentation"
	"github.com/giantswarm/mcp-dispatch/internal/logging"
	"github.com/giantswarm/mcp-dispatch/internal/registry"
	"github.com/giantswarm/mcp-dispatch/internal/router"
	"github.com/giantswarm/mcp-dispatch/internal/server"
	"github.com/giantswarm/mcp-dispatch/internal/session"
	dispatchtools "github.com/giantswarm/mcp-dispatch/internal/tools/dispatch"
)

// Transport type constants for the MCP server.
const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"
)

// envValueTrue is the string value used to enable boolean environment variables.
const envValueTrue = "true"

// parseDurationEnv parses a duration from an environment variable value.
// Returns the parsed duration and true if successful, or zero and false if parsing fails.
// Logs a warning if the value is present but invalid.
func parseDurationEnv(value, envName string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration in environment", slog.String("env", envName), slog.String("value", value), logging.Err(err))
		return 0, false
	}
	return d, true
}

// parseIntEnv parses an integer from an environment variable value.
// Returns the parsed int and true if successful, or zero and false if parsing fails.
// Logs a warning if the value is present but invalid.
func parseIntEnv(value, envName string) (int, bool) {
	if value == "" {
		return 0, false
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("Invalid integer in environment", slog.String("env", envName), slog.String("value", value), logging.Err(err))
		return 0, false
	}
	return n, true
}

// newServeCmd creates the Cobra command for starting the MCP server.
func newServeCmd() *cobra.Command {
	var cfg ServeConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP dispatch server",
		Long: `Start the MCP dispatch server. Capabilities are loaded from a YAML file
and exposed through the dispatch, list_capabilities, get_session and
close_session tools of the Model Context Protocol.

Supports multiple transport types:
  - stdio: Standard input/output (default)
  - streamable-http: Streamable HTTP transport, also serving the /v1 JSON API
    and the /healthz and /readyz probes

Every flag can also be set through the environment variable named in its
description. Flags given on the command line take precedence.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loadServeEnv(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.CapabilitiesFile, "config", "", "Capabilities YAML file (can also be set via DISPATCH_CONFIG env var)")
	cmd.Flags().BoolVar(&cfg.WatchConfig, "watch-config", true, "Reload the capabilities file when it changes (can also be set via DISPATCH_WATCH_CONFIG env var)")
	cmd.Flags().BoolVar(&cfg.DebugMode, "debug", false, "Enable debug logging (default: false)")

	// Transport flags
	cmd.Flags().StringVar(&cfg.Transport, "transport", transportStdio, "Transport type: stdio or streamable-http (can also be set via DISPATCH_TRANSPORT env var)")
	cmd.Flags().StringVar(&cfg.HTTPAddr, "http-addr", ":8080", "HTTP server address for streamable-http transport (can also be set via DISPATCH_HTTP_ADDR env var)")
	cmd.Flags().StringVar(&cfg.HTTPEndpoint, "http-endpoint", server.DefaultMCPEndpoint, "HTTP endpoint path (for streamable-http transport)")
	cmd.Flags().StringSliceVar(&cfg.Security.AllowedOrigins, "allowed-origins", nil, "Browser origins allowed to call the HTTP API (can also be set via DISPATCH_ALLOWED_ORIGINS env var)")
	cmd.Flags().BoolVar(&cfg.Security.EnableHSTS, "enable-hsts", false, "Send Strict-Transport-Security behind a TLS-terminating proxy (can also be set via ENABLE_HSTS env var)")
	cmd.Flags().Int64Var(&cfg.MaxRequestBytes, "max-request-bytes", 0, "Maximum body size of POST /v1/dispatch (0 uses the default of 1MB)")
	cmd.Flags().IntVar(&cfg.MaxResponseBytes, "max-response-bytes", 0, "Maximum size of an MCP tool result before truncation (0 uses the default of 512KB; can also be set via MAX_RESPONSE_BYTES env var)")

	// Session and router flags
	cmd.Flags().DurationVar(&cfg.SessionIdleTimeout, "session-idle-timeout", 0, "Idle time after which a session is dropped (can also be set via SESSION_IDLE_TIMEOUT env var)")
	cmd.Flags().IntVar(&cfg.SessionHistoryLimit, "session-history-limit", 0, "Exchanges kept per session (can also be set via SESSION_HISTORY_LIMIT env var)")
	cmd.Flags().IntVar(&cfg.MaxSessions, "max-sessions", 0, "Maximum number of live sessions (can also be set via MAX_SESSIONS env var)")
	cmd.Flags().IntVar(&cfg.MaxRetries, "max-retries", -1, "Retries of a transient adapter failure, -1 keeps the file or default value (can also be set via ROUTER_MAX_RETRIES env var)")
	cmd.Flags().DurationVar(&cfg.DefaultTimeout, "default-timeout", 0, "Time budget of a request that carries none (can also be set via ROUTER_DEFAULT_TIMEOUT env var)")

	// Metrics server flags
	cmd.Flags().BoolVar(&cfg.Metrics.Enabled, "metrics-server", true, "Serve Prometheus metrics on a dedicated listener when instrumentation is enabled (can also be set via METRICS_SERVER_ENABLED env var)")
	cmd.Flags().StringVar(&cfg.Metrics.Addr, "metrics-addr", server.DefaultMetricsAddr, "Dedicated metrics server address (can also be set via METRICS_ADDR env var)")

	return cmd
}

// newLogger returns the process logger. It always writes to stderr so that
// the stdio transport keeps stdout for MCP messages.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// runServe contains the main server logic with support for multiple transports
func runServe(cfg ServeConfig) error {
	logger := newLogger(cfg.DebugMode)
	slog.SetDefault(logger)

	// Setup graceful shutdown - listen for both SIGINT and SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	instrumentationConfig := instrumentation.DefaultConfig()
	instrumentationConfig.ServiceVersion = rootCmd.Version
	provider, err := instrumentation.NewProvider(ctx, instrumentationConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if shutdownErr := provider.Shutdown(context.Background()); shutdownErr != nil {
			logger.Error("Error during instrumentation shutdown", logging.Err(shutdownErr))
		}
	}()

	if provider.Enabled() {
		logger.Info("OpenTelemetry instrumentation enabled",
			slog.String("metrics", instrumentationConfig.MetricsExporter),
			slog.String("tracing", instrumentationConfig.TracingExporter))
	}
	metrics := provider.Metrics()

	mcpremote.SetClientVersion(rootCmd.Version)

	reg := registry.New(registry.WithLogger(logger), registry.WithMetrics(metrics))
	applier := config.NewApplier(reg, config.WithApplierLogger(logger))
	reloader := config.NewReloader(cfg.CapabilitiesFile, applier,
		config.WithLogger(logger),
		config.WithMetrics(metrics),
	)

	file, report, err := reloader.Reload(ctx)
	if err != nil {
		return fmt.Errorf("failed to load capabilities file: %w", err)
	}
	if reg.Len() == 0 {
		logger.Warn("No capability could be registered; every dispatch will fail until the file is fixed",
			slog.Int("failed", len(report.Failed)))
	}

	store := session.NewStore(
		session.WithConfig(cfg.sessionConfig(file)),
		session.WithLogger(logger),
		session.WithMetrics(metrics),
	)
	rtr := router.New(reg, store,
		router.WithLogger(logger),
		router.WithMetrics(metrics),
		router.WithRetryPolicy(cfg.retryPolicy(file)),
		router.WithDefaultTimeout(cfg.defaultTimeout(file)),
	)

	sc, err := server.NewServerContext(ctx,
		server.WithRegistry(reg),
		server.WithSessionStore(store),
		server.WithRouter(rtr),
		server.WithLogger(logger),
		server.WithConfig(cfg.serverConfig()),
		server.WithVersion(rootCmd.Version),
		server.WithInstrumentationProvider(provider),
	)
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := sc.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during server context shutdown", logging.Err(err))
		}
	}()

	if cfg.WatchConfig {
		go func() {
			if err := reloader.Watch(ctx); err != nil {
				logger.Error("Capabilities file watcher stopped", logging.Err(err))
			}
		}()
	}

	mcpSrv := mcpserver.NewMCPServer("mcp-dispatch", rootCmd.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	if err := dispatchtools.RegisterDispatchTools(mcpSrv, sc); err != nil {
		return fmt.Errorf("failed to register dispatch tools: %w", err)
	}

	switch cfg.Transport {
	case transportStdio:
		return runStdioServer(ctx, mcpSrv, logger)
	case transportStreamableHTTP:
		return runStreamableHTTPServer(ctx, mcpSrv, sc, cfg)
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, streamable-http)", cfg.Transport)
	}
}
