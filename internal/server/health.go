package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/giantswarm/mcp-dispatch/internal/registry"
)

// HealthChecker provides liveness and readiness endpoints.
type HealthChecker struct {
	// ready indicates whether the server is ready to receive traffic
	ready atomic.Bool
	// serverContext provides access to dependencies for health checks
	serverContext *ServerContext
	// startTime tracks when the server started
	startTime time.Time
}

// NewHealthChecker creates a new HealthChecker.
func NewHealthChecker(sc *ServerContext) *HealthChecker {
	h := &HealthChecker{
		serverContext: sc,
		startTime:     time.Now(),
	}
	// Server starts as ready by default
	h.ready.Store(true)
	return h
}

// SetReady sets the readiness state of the server.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the server is ready to receive traffic.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// HealthResponse represents the JSON response for health endpoints.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Version string            `json:"version,omitempty"`
}

// DetailedHealthResponse provides the state of every binding and the
// session store.
type DetailedHealthResponse struct {
	Status          string                      `json:"status"`
	Version         string                      `json:"version,omitempty"`
	Uptime          string                      `json:"uptime"`
	Bindings        []registry.Info             `json:"bindings"`
	Sessions        *SessionHealthStatus        `json:"sessions,omitempty"`
	Instrumentation *InstrumentationHealthCheck `json:"instrumentation,omitempty"`
}

// SessionHealthStatus provides health information about the session store.
type SessionHealthStatus struct {
	Active       int    `json:"active"`
	MaxSessions  int    `json:"max_sessions"`
	IdleTimeout  string `json:"idle_timeout"`
	HistoryLimit int    `json:"history_limit"`
}

// InstrumentationHealthCheck provides health information about instrumentation.
type InstrumentationHealthCheck struct {
	Enabled         bool   `json:"enabled"`
	MetricsExporter string `json:"metrics_exporter,omitempty"`
	TracingExporter string `json:"tracing_exporter,omitempty"`
}

// LivenessHandler returns an HTTP handler for the /healthz endpoint.
// Liveness probes indicate whether the process should be restarted.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := HealthResponse{
			Status: "ok",
		}
		if h.serverContext != nil && h.serverContext.Config() != nil {
			response.Version = h.serverContext.Config().Version
		}
		writeJSON(w, http.StatusOK, response)
	})
}

// ReadinessHandler returns an HTTP handler for the /readyz endpoint.
// The server is ready once at least one capability is bound and it is not
// shutting down.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string)
		allOk := true

		if !h.ready.Load() {
			checks["ready"] = "not ready"
			allOk = false
		} else {
			checks["ready"] = "ok"
		}

		if h.serverContext != nil && h.serverContext.IsShutdown() {
			checks["shutdown"] = "shutting down"
			allOk = false
		} else {
			checks["shutdown"] = "ok"
		}

		if h.serverContext != nil {
			if h.serverContext.Registry().Len() == 0 {
				checks["capabilities"] = "none registered"
				allOk = false
			} else {
				checks["capabilities"] = "ok"
			}

			if provider := h.serverContext.InstrumentationProvider(); provider != nil {
				if provider.Enabled() {
					checks["instrumentation"] = "ok"
				} else {
					checks["instrumentation"] = "disabled"
				}
			}
		}

		response := HealthResponse{
			Checks: checks,
		}
		status := http.StatusOK
		if allOk {
			response.Status = "ok"
		} else {
			response.Status = "not ready"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, response)
	})
}

// RegisterHealthEndpoints registers health check endpoints on the given mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
	mux.Handle("/healthz/detailed", h.DetailedHealthHandler())
}

// DetailedHealthHandler returns an HTTP handler for the /healthz/detailed endpoint.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := DetailedHealthResponse{
			Status:   "ok",
			Uptime:   time.Since(h.startTime).Truncate(time.Second).String(),
			Bindings: []registry.Info{},
		}

		if h.serverContext != nil {
			if cfg := h.serverContext.Config(); cfg != nil {
				response.Version = cfg.Version
			}
			response.Bindings = h.serverContext.Registry().Bindings()
			response.Sessions = h.getSessionStatus()
			response.Instrumentation = h.getInstrumentationStatus()
		}

		status := http.StatusOK
		switch {
		case !h.ready.Load():
			response.Status = "not ready"
			status = http.StatusServiceUnavailable
		case h.serverContext != nil && h.serverContext.IsShutdown():
			response.Status = "shutting down"
			status = http.StatusServiceUnavailable
		case len(response.Bindings) == 0:
			response.Status = "degraded"
		}
		writeJSON(w, status, response)
	})
}

func (h *HealthChecker) getSessionStatus() *SessionHealthStatus {
	store := h.serverContext.Sessions()
	cfg := store.Config()
	return &SessionHealthStatus{
		Active:       store.Len(),
		MaxSessions:  cfg.MaxSessions,
		IdleTimeout:  cfg.IdleTimeout.String(),
		HistoryLimit: cfg.HistoryLimit,
	}
}

// getInstrumentationStatus returns instrumentation health status.
func (h *HealthChecker) getInstrumentationStatus() *InstrumentationHealthCheck {
	provider := h.serverContext.InstrumentationProvider()
	if provider == nil {
		return &InstrumentationHealthCheck{
			Enabled: false,
		}
	}

	cfg := provider.Config()
	return &InstrumentationHealthCheck{
		Enabled:         provider.Enabled(),
		MetricsExporter: cfg.MetricsExporter,
		TracingExporter: cfg.TracingExporter,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
