// Package instrumentation provides OpenTelemetry metrics and tracing for the
// mcp-dispatch server.
//
// Instrumentation is off by default. Set INSTRUMENTATION_ENABLED=true to
// create real meter and tracer providers; otherwise every recorder is backed
// by a no-op meter.
//
// # Metrics
//
// HTTP:
//   - http_requests_total: requests by method, path, and status
//   - http_request_duration_seconds: request latency
//
// Dispatch:
//   - dispatch_requests_total: completed dispatches by capability and result kind
//   - dispatch_duration_seconds: end-to-end latency including retries
//   - dispatch_retries_total: retries after transient adapter failures
//   - adapter_calls_total: adapter invocations by capability, status, and error class
//   - adapter_call_duration_seconds: latency of one adapter invocation
//
// Registry and sessions:
//   - registry_bindings: installed bindings
//   - registry_teardowns_total: retired bindings torn down, by reason and drain outcome
//   - sessions_created_total, sessions_removed_total, sessions_active
//   - config_reloads_total: capability file reloads by result
//
// # Cardinality
//
// Capability names come from the operator's capability file. The operation
// label is opt-in (METRICS_DETAILED_LABELS=true) and collapses to "unresolved"
// whenever no capability accepted the operation, so callers cannot mint
// series.
//
// # Tracing
//
// Each dispatch opens a "dispatch" span with one child span per adapter
// attempt ("adapter.<capability>"). Router state transitions are recorded as
// span events. Session identifiers are only ever attached in anonymized form.
//
// # Configuration
//
//	INSTRUMENTATION_ENABLED=true
//	METRICS_EXPORTER=prometheus|otlp|stdout|none
//	TRACING_EXPORTER=otlp|stdout|none
//	OTEL_EXPORTER_OTLP_ENDPOINT=http://collector:4318
//	OTEL_TRACES_SAMPLER_ARG=0.1
//
// # Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	metrics := provider.Metrics()
//	metrics.RecordDispatch(ctx, "metric-query", "instant", "DATA", elapsed)
package instrumentation
