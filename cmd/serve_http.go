package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/mcp-dispatch/internal/instrumentation"
	"github.com/giantswarm/mcp-dispatch/internal/logging"
	"github.com/giantswarm/mcp-dispatch/internal/server"
)

// runStreamableHTTPServer serves MCP over streamable HTTP next to the /v1 API
// and the health probes until ctx is done.
func runStreamableHTTPServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, sc *server.ServerContext, cfg ServeConfig) error {
	logger := sc.Logger()
	provider := sc.InstrumentationProvider()

	// Start metrics server if enabled
	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled && provider != nil && provider.Enabled() && provider.PrometheusHandler() != nil {
		var err error
		metricsServer, err = startMetricsServer(cfg.Metrics, provider, logger)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	httpServer := server.NewHTTPServer(sc, server.HTTPConfig{
		Addr:        cfg.HTTPAddr,
		MCPEndpoint: cfg.HTTPEndpoint,
		MCPHandler: mcpserver.NewStreamableHTTPServer(mcpSrv,
			mcpserver.WithEndpointPath(cfg.HTTPEndpoint),
		),
		// Without a dedicated listener the scrape endpoint joins the main mux.
		ServeMetrics: metricsServer == nil,
		Security:     cfg.Security,
	})

	logger.Info("Streamable HTTP transport enabled",
		slog.String("addr", cfg.HTTPAddr),
		slog.String("mcp_endpoint", cfg.HTTPEndpoint),
		slog.Any("api_endpoints", []string{"/v1/dispatch", "/v1/capabilities", "/v1/sessions"}))

	err := httpServer.Serve(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("Error shutting down metrics server", logging.Err(shutdownErr))
		}
	}
	return err
}

// startMetricsServer starts the dedicated metrics server on a separate port.
// This isolates Prometheus metrics from the main application traffic.
func startMetricsServer(config MetricsServeConfig, provider *instrumentation.Provider, logger *slog.Logger) (*server.MetricsServer, error) {
	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    config.Addr,
		Enabled:                 config.Enabled,
		InstrumentationProvider: provider,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}

	go func() {
		if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", logging.Err(err))
		}
	}()

	logger.Info("Metrics server started",
		slog.String("addr", metricsServer.Addr()),
		slog.String("endpoint", provider.Config().PrometheusEndpoint))
	return metricsServer, nil
}
