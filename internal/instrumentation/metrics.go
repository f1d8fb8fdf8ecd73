package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys - using constants for consistency
const (
	attrMethod     = "method"
	attrPath       = "path"
	attrStatus     = "status"
	attrCapability = "capability"
	attrOperation  = "operation"
	attrKind       = "kind"
	attrClass      = "class"
	attrReason     = "reason"
	attrDrained    = "drained"
	attrResult     = "result"
)

var durationBuckets = []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0}

// Metrics provides methods for recording observability metrics.
//
// A nil *Metrics, or one whose instruments failed to initialize, records nothing.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Dispatch metrics
	dispatchTotal    metric.Int64Counter
	dispatchDuration metric.Float64Histogram
	dispatchRetries  metric.Int64Counter

	// Adapter metrics
	adapterCallsTotal   metric.Int64Counter
	adapterCallDuration metric.Float64Histogram

	// Registry metrics
	registryBindings  metric.Int64Gauge
	registryTeardowns metric.Int64Counter

	// Session metrics
	sessionsCreated metric.Int64Counter
	sessionsRemoved metric.Int64Counter
	sessionsActive  metric.Int64Gauge

	// Configuration metrics
	configReloads metric.Int64Counter

	// detailedLabels controls whether the operation label is recorded on
	// dispatch and adapter metrics
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{detailedLabels: detailedLabels}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.dispatchTotal, err = meter.Int64Counter(
		"dispatch_requests_total",
		metric.WithDescription("Total number of dispatched requests by capability and result kind"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch_requests_total counter: %w", err)
	}

	m.dispatchDuration, err = meter.Float64Histogram(
		"dispatch_duration_seconds",
		metric.WithDescription("End-to-end dispatch duration in seconds including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch_duration_seconds histogram: %w", err)
	}

	m.dispatchRetries, err = meter.Int64Counter(
		"dispatch_retries_total",
		metric.WithDescription("Total number of adapter retries after transient failures"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch_retries_total counter: %w", err)
	}

	m.adapterCallsTotal, err = meter.Int64Counter(
		"adapter_calls_total",
		metric.WithDescription("Total number of adapter invocations by capability and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create adapter_calls_total counter: %w", err)
	}

	m.adapterCallDuration, err = meter.Float64Histogram(
		"adapter_call_duration_seconds",
		metric.WithDescription("Duration of a single adapter invocation in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create adapter_call_duration_seconds histogram: %w", err)
	}

	m.registryBindings, err = meter.Int64Gauge(
		"registry_bindings",
		metric.WithDescription("Number of installed capability bindings"),
		metric.WithUnit("{binding}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry_bindings gauge: %w", err)
	}

	m.registryTeardowns, err = meter.Int64Counter(
		"registry_teardowns_total",
		metric.WithDescription("Total number of retired bindings torn down"),
		metric.WithUnit("{binding}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry_teardowns_total counter: %w", err)
	}

	m.sessionsCreated, err = meter.Int64Counter(
		"sessions_created_total",
		metric.WithDescription("Total number of sessions created"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions_created_total counter: %w", err)
	}

	m.sessionsRemoved, err = meter.Int64Counter(
		"sessions_removed_total",
		metric.WithDescription("Total number of sessions removed by reason"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions_removed_total counter: %w", err)
	}

	m.sessionsActive, err = meter.Int64Gauge(
		"sessions_active",
		metric.WithDescription("Number of live sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions_active gauge: %w", err)
	}

	m.configReloads, err = meter.Int64Counter(
		"config_reloads_total",
		metric.WithDescription("Total number of capability file reloads by result"),
		metric.WithUnit("{reload}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create config_reloads_total counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordDispatch records a completed dispatch.
//
// CARDINALITY NOTE: the operation label is only recorded when detailedLabels
// is enabled, and is replaced by "unresolved" when no capability was resolved
// since callers may send arbitrary operation names.
func (m *Metrics) RecordDispatch(ctx context.Context, capability, operation, kind string, duration time.Duration) {
	if m == nil || m.dispatchTotal == nil || m.dispatchDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrCapability, CapabilityLabel(capability)),
		attribute.String(attrKind, kind),
	}
	if m.detailedLabels {
		attrs = append(attrs, attribute.String(attrOperation, OperationLabel(capability, operation)))
	}

	m.dispatchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.dispatchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRetry records one retry of an adapter call.
func (m *Metrics) RecordRetry(ctx context.Context, capability string) {
	if m == nil || m.dispatchRetries == nil {
		return
	}
	m.dispatchRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrCapability, CapabilityLabel(capability)),
	))
}

// RecordAdapterCall records a single adapter invocation. class is empty on success.
func (m *Metrics) RecordAdapterCall(ctx context.Context, capability, operation, class string, duration time.Duration) {
	if m == nil || m.adapterCallsTotal == nil || m.adapterCallDuration == nil {
		return
	}

	status := StatusSuccess
	if class != "" {
		status = StatusError
	}
	attrs := []attribute.KeyValue{
		attribute.String(attrCapability, CapabilityLabel(capability)),
		attribute.String(attrStatus, status),
		attribute.String(attrClass, class),
	}
	if m.detailedLabels {
		attrs = append(attrs, attribute.String(attrOperation, OperationLabel(capability, operation)))
	}

	m.adapterCallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.adapterCallDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// SetBindings sets the number of installed bindings.
func (m *Metrics) SetBindings(ctx context.Context, count int) {
	if m == nil || m.registryBindings == nil {
		return
	}
	m.registryBindings.Record(ctx, int64(count))
}

// RecordTeardown records a binding teardown.
func (m *Metrics) RecordTeardown(ctx context.Context, capability, reason string, drained bool) {
	if m == nil || m.registryTeardowns == nil {
		return
	}
	m.registryTeardowns.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrCapability, CapabilityLabel(capability)),
		attribute.String(attrReason, reason),
		attribute.Bool(attrDrained, drained),
	))
}

// RecordSessionCreated records a new session.
func (m *Metrics) RecordSessionCreated(ctx context.Context) {
	if m == nil || m.sessionsCreated == nil {
		return
	}
	m.sessionsCreated.Add(ctx, 1)
}

// RecordSessionsRemoved records sessions leaving the store.
func (m *Metrics) RecordSessionsRemoved(ctx context.Context, reason string, count int) {
	if m == nil || m.sessionsRemoved == nil {
		return
	}
	m.sessionsRemoved.Add(ctx, int64(count), metric.WithAttributes(attribute.String(attrReason, reason)))
}

// SetActiveSessions sets the live session gauge.
func (m *Metrics) SetActiveSessions(ctx context.Context, count int) {
	if m == nil || m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Record(ctx, int64(count))
}

// RecordConfigReload records a capability file reload.
// Result should be one of: "success", "partial", "error"
func (m *Metrics) RecordConfigReload(ctx context.Context, result string) {
	if m == nil || m.configReloads == nil {
		return
	}
	m.configReloads.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}
