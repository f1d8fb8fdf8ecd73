package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/giantswarm/mcp-dispatch/internal/instrumentation"
)

// DefaultMetricsAddr is the listen address of the dedicated metrics server.
const DefaultMetricsAddr = ":9090"

// MetricsServerConfig configures the dedicated metrics server.
type MetricsServerConfig struct {
	// Addr is the listen address (default :9090).
	Addr string

	// Enabled starts the server when true.
	Enabled bool

	InstrumentationProvider *instrumentation.Provider
}

// MetricsServer serves the Prometheus scrape endpoint on its own listener,
// away from API traffic.
type MetricsServer struct {
	httpServer *http.Server
}

// NewMetricsServer creates the metrics server.
func NewMetricsServer(config MetricsServerConfig) (*MetricsServer, error) {
	if config.InstrumentationProvider == nil {
		return nil, errors.New("instrumentation provider is required")
	}
	handler := config.InstrumentationProvider.PrometheusHandler()
	if handler == nil {
		return nil, errors.New("prometheus exporter is not enabled")
	}
	if config.Addr == "" {
		config.Addr = DefaultMetricsAddr
	}

	endpoint := metricsEndpoint(config.InstrumentationProvider)

	mux := http.NewServeMux()
	mux.Handle(endpoint, handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
	})

	return &MetricsServer{
		httpServer: &http.Server{
			Addr:              config.Addr,
			Handler:           mux,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}, nil
}

// Addr returns the listen address.
func (m *MetricsServer) Addr() string {
	return m.httpServer.Addr
}

// Handler returns the scrape mux.
func (m *MetricsServer) Handler() http.Handler {
	return m.httpServer.Handler
}

// Start blocks serving metrics until Shutdown.
func (m *MetricsServer) Start() error {
	return m.httpServer.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.httpServer.Shutdown(ctx)
}

func metricsEndpoint(provider *instrumentation.Provider) string {
	if ep := provider.Config().PrometheusEndpoint; ep != "" {
		return ep
	}
	return "/metrics"
}
