package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the default tracer name for the mcp-dispatch package.
const TracerName = "github.com/giantswarm/mcp-dispatch"

// Span attribute keys.
const (
	// SpanAttrTool is the MCP tool name.
	SpanAttrTool = "mcp.tool"

	// SpanAttrCapability is the resolved capability name.
	SpanAttrCapability = "dispatch.capability"

	// SpanAttrOperation is the requested operation.
	SpanAttrOperation = "dispatch.operation"

	// SpanAttrSessionHash is the anonymized session identifier.
	SpanAttrSessionHash = "dispatch.session_hash"

	// SpanAttrSequence is the request sequence number.
	SpanAttrSequence = "dispatch.sequence"

	// SpanAttrAttempt is the 1-based adapter invocation attempt.
	SpanAttrAttempt = "dispatch.attempt"

	// SpanAttrKind is the result kind (DATA, ERROR, PARTIAL).
	SpanAttrKind = "dispatch.kind"

	// SpanAttrErrorClass is the taxonomy class of a failure.
	SpanAttrErrorClass = "dispatch.error_class"

	// SpanAttrFanOut is the number of capabilities in a fan-out.
	SpanAttrFanOut = "dispatch.fan_out"

	// SpanAttrReplayed indicates the result was served from session history.
	SpanAttrReplayed = "dispatch.replayed"
)

// Dispatch state names recorded as span events.
const (
	EventReceived  = "received"
	EventResolving = "resolving"
	EventInvoking  = "invoking"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// SpanAttributeBuilder helps construct OpenTelemetry span attributes
// with consistent naming.
type SpanAttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewSpanAttributeBuilder creates a new SpanAttributeBuilder.
func NewSpanAttributeBuilder() *SpanAttributeBuilder {
	return &SpanAttributeBuilder{
		attrs: make([]attribute.KeyValue, 0, 8),
	}
}

// WithTool adds the MCP tool name attribute.
func (b *SpanAttributeBuilder) WithTool(tool string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.String(SpanAttrTool, tool))
	return b
}

// WithCapability adds the capability attribute when set.
func (b *SpanAttributeBuilder) WithCapability(capability string) *SpanAttributeBuilder {
	if capability != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrCapability, capability))
	}
	return b
}

// WithOperation adds the operation attribute.
func (b *SpanAttributeBuilder) WithOperation(operation string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.String(SpanAttrOperation, operation))
	return b
}

// WithExchange adds the anonymized session and the sequence number.
func (b *SpanAttributeBuilder) WithExchange(sessionHash string, sequence int64) *SpanAttributeBuilder {
	b.attrs = append(b.attrs,
		attribute.String(SpanAttrSessionHash, sessionHash),
		attribute.Int64(SpanAttrSequence, sequence),
	)
	return b
}

// WithAttempt adds the attempt attribute.
func (b *SpanAttributeBuilder) WithAttempt(attempt int) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.Int(SpanAttrAttempt, attempt))
	return b
}

// WithFanOut adds the fan-out width attribute.
func (b *SpanAttributeBuilder) WithFanOut(width int) *SpanAttributeBuilder {
	if width > 1 {
		b.attrs = append(b.attrs, attribute.Int(SpanAttrFanOut, width))
	}
	return b
}

// Build returns the constructed attributes.
func (b *SpanAttributeBuilder) Build() []attribute.KeyValue {
	return b.attrs
}

// StartSpan starts a new span with the given name and attributes.
// The caller is responsible for ending the span with defer span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartToolSpan starts a span for an MCP tool invocation.
func StartToolSpan(ctx context.Context, toolName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	allAttrs = append(allAttrs, attribute.String(SpanAttrTool, toolName))
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "tool."+toolName,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartDispatchSpan starts the span covering one request through the router.
func StartDispatchSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	allAttrs = append(allAttrs, attribute.String(SpanAttrOperation, operation))
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "dispatch",
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartAdapterSpan starts a span for one adapter invocation attempt.
func StartAdapterSpan(ctx context.Context, capability, operation string, attempt int) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "adapter."+capability,
		trace.WithAttributes(
			attribute.String(SpanAttrCapability, capability),
			attribute.String(SpanAttrOperation, operation),
			attribute.Int(SpanAttrAttempt, attempt),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddSpanEvent adds an event to the span with optional attributes.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the current span in context.
// Returns empty string if no valid span is present.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
