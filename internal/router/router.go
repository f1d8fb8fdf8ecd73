package router

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
	"github.com/giantswarm/mcp-dispatch/internal/instrumentation"
	"github.com/giantswarm/mcp-dispatch/internal/logging"
	"github.com/giantswarm/mcp-dispatch/internal/registry"
	"github.com/giantswarm/mcp-dispatch/internal/session"
)

// Router resolves request envelopes to capabilities, invokes their adapters
// and records every exchange in the session store.
type Router struct {
	registry *registry.Registry
	sessions *session.Store

	classifier     Classifier
	policy         RetryPolicy
	defaultTimeout time.Duration

	logger  *slog.Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// New creates a Router over reg and sessions. The default classifier is
// LastCapabilityClassifier.
func New(reg *registry.Registry, sessions *session.Store, opts ...Option) *Router {
	r := &Router{
		registry:       reg,
		sessions:       sessions,
		classifier:     LastCapabilityClassifier{},
		policy:         DefaultRetryPolicy(),
		defaultTimeout: DefaultTimeout,
		logger:         slog.Default(),
		metrics:        noopMetricsRecorder{},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RetryPolicy returns the active retry policy.
func (r *Router) RetryPolicy() RetryPolicy {
	return r.policy
}

// Dispatch runs one request to completion. It never returns a Go error: every
// failure is reported as an ERROR result.
func (r *Router) Dispatch(ctx context.Context, req dispatch.Request) *dispatch.Result {
	start := r.now()
	logger := logging.WithExchange(logging.WithOperation(r.logger, req.Operation), req.SessionID, req.Sequence)

	ctx, span := instrumentation.StartDispatchSpan(ctx, req.Operation,
		instrumentation.NewSpanAttributeBuilder().
			WithExchange(logging.AnonymizeSession(req.SessionID), req.Sequence).
			WithFanOut(len(req.Capabilities)).
			Build()...)
	defer span.End()
	instrumentation.AddSpanEvent(span, instrumentation.EventReceived)

	if err := req.Validate(); err != nil {
		return r.finish(ctx, span, logger, req, failure(err, "", req.Operation), start)
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout(r.defaultTimeout))
	defer cancel()

	h, err := r.sessions.Acquire(ctx, req.SessionID)
	if err != nil {
		return r.finish(ctx, span, logger, req, failure(err, "", req.Operation), start)
	}
	defer h.Release()

	prev, ok, err := h.Replay(req)
	if err != nil {
		return r.finish(ctx, span, logger, req, failure(err, "", req.Operation), start)
	}
	if ok {
		span.SetAttributes(attribute.Bool(instrumentation.SpanAttrReplayed, true))
		logger.Debug("Replaying recorded result", logging.Kind(string(prev.Kind)))
		return prev
	}

	var res *dispatch.Result
	if req.IsFanOut() {
		res = r.fanOut(ctx, span, logger, req)
	} else {
		res = r.single(ctx, span, logger, req, h.Session())
	}

	h.Record(req, res)
	return r.finish(ctx, span, logger, req, res, start)
}

// single resolves and invokes a request bound to at most one capability.
func (r *Router) single(ctx context.Context, span trace.Span, logger *slog.Logger, req dispatch.Request, sess session.Snapshot) *dispatch.Result {
	instrumentation.AddSpanEvent(span, instrumentation.EventResolving)

	name, op, err := r.resolve(ctx, req, sess)
	if err != nil {
		return failure(err, "", req.Operation)
	}
	span.SetAttributes(attribute.String(instrumentation.SpanAttrCapability, name))

	return r.invoke(ctx, span, logging.WithCapability(logger, name), name, op, req.Params)
}

// resolve maps the request to a capability name and the bare operation.
func (r *Router) resolve(ctx context.Context, req dispatch.Request, sess session.Snapshot) (string, string, error) {
	op := req.Operation

	if target := req.Target(); target != "" {
		if prefix, bare, ok := dispatch.SplitPrefixedOperation(op); ok && prefix == target {
			op = bare
		}
		if _, err := r.registry.Resolve(target); err != nil {
			return "", "", err
		}
		return target, op, nil
	}

	prefix, bare, prefixed := dispatch.SplitPrefixedOperation(op)
	if prefixed {
		if _, err := r.registry.Resolve(prefix); err == nil {
			return prefix, bare, nil
		}
	}

	candidates := r.registry.OperationIndex(op)
	if len(candidates) == 1 {
		return candidates[0], op, nil
	}

	name := r.classify(ctx, req, sess, candidates)
	switch {
	case name != "" && (len(candidates) == 0 || slices.Contains(candidates, name)):
		return name, op, nil
	case len(candidates) > 1:
		return "", "", &dispatch.AmbiguousOperationError{Operation: op, Candidates: candidates}
	case prefixed:
		return "", "", &dispatch.UnknownCapabilityError{Name: prefix}
	default:
		return "", "", &dispatch.UnknownOperationError{Operation: op}
	}
}

func (r *Router) classify(ctx context.Context, req dispatch.Request, sess session.Snapshot, candidates []string) string {
	if r.classifier == nil {
		return ""
	}
	name, err := r.classifier.Classify(ctx, req, sess, candidates)
	if err != nil {
		r.logger.Warn("Classifier failed", logging.Operation(req.Operation), logging.Err(err))
		return ""
	}
	return name
}

// invoke runs op on the named capability with retries.
func (r *Router) invoke(ctx context.Context, span trace.Span, logger *slog.Logger, name, op string, params dispatch.Params) *dispatch.Result {
	b, err := r.registry.Acquire(name)
	if err != nil {
		return failure(err, name, op)
	}
	defer b.Release()

	spec, ok := b.Capability.Operation(op)
	if !ok {
		return failure(&dispatch.UnsupportedOperationError{Capability: name, Operation: op}, name, op)
	}
	if err := spec.ValidateParams(params); err != nil {
		return failure(err, name, op)
	}

	instrumentation.AddSpanEvent(span, instrumentation.EventInvoking,
		attribute.String(instrumentation.SpanAttrCapability, name))

	res, attempts, err := r.callWithRetry(ctx, logger, b, op, params)
	if err != nil {
		res = failure(err, name, op)
	} else {
		res = res.Clone()
	}
	res.Capability = name
	res.Attempts = attempts
	return res
}

// callWithRetry invokes the adapter until it succeeds, fails permanently,
// exhausts the retry policy or runs out of budget.
func (r *Router) callWithRetry(ctx context.Context, logger *slog.Logger, b *registry.Binding, op string, params dispatch.Params) (*dispatch.Result, int, error) {
	var (
		attempts int
		lastRes  *dispatch.Result
		lastErr  error
	)

	operation := func() (*dispatch.Result, error) {
		attempts++
		lastRes, lastErr = r.attempt(ctx, logger, b, op, params, attempts)
		if lastErr == nil {
			return lastRes, nil
		}
		if !dispatch.IsRetryable(lastErr) {
			return nil, backoff.Permanent(lastErr)
		}
		return nil, lastErr
	}

	_, _ = backoff.Retry(ctx, operation,
		backoff.WithBackOff(r.policy.backOff(ctx, r.now)),
		backoff.WithMaxTries(uint(r.policy.MaxAttempts())),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.metrics.RecordRetry(ctx, b.Name())
			logger.Debug("Retrying transient adapter failure",
				logging.Attempt(attempts),
				logging.Duration(wait),
				logging.SanitizedErr(err))
		}),
	)

	if attempts == 0 {
		return nil, 0, dispatch.NewTimeoutError(ctx.Err())
	}
	return lastRes, attempts, lastErr
}

// attempt performs one adapter invocation and classifies its outcome.
func (r *Router) attempt(ctx context.Context, logger *slog.Logger, b *registry.Binding, op string, params dispatch.Params, n int) (res *dispatch.Result, err error) {
	actx, span := instrumentation.StartAdapterSpan(ctx, b.Name(), op, n)
	defer span.End()

	start := r.now()
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, dispatch.NewPermanentError(fmt.Sprintf("adapter panic: %v", p))
		}

		class := dispatch.ClassOf(err)
		r.metrics.RecordAdapterCall(ctx, b.Name(), op, class, r.now().Sub(start))
		if err != nil {
			instrumentation.SetSpanError(span, err)
			span.SetAttributes(attribute.String(instrumentation.SpanAttrErrorClass, class))
			logger.Debug("Adapter call failed", logging.Attempt(n), logging.Class(class), logging.SanitizedErr(err))
			return
		}
		instrumentation.SetSpanSuccess(span)
	}()

	res, err = b.Adapter.Invoke(actx, op, params)
	switch {
	case err != nil:
		if ctx.Err() != nil && !dispatch.IsTimeout(err) {
			err = dispatch.NewTimeoutError(ctx.Err())
		}
		return nil, dispatch.Classify(err)
	case res == nil:
		return nil, dispatch.NewProtocolError("adapter returned no result", nil)
	}
	if verr := res.Validate(); verr != nil {
		return nil, dispatch.NewProtocolError("adapter returned a malformed result", verr)
	}
	return res, nil
}

// finish records metrics, span status and the completion log line.
func (r *Router) finish(ctx context.Context, span trace.Span, logger *slog.Logger, req dispatch.Request, res *dispatch.Result, start time.Time) *dispatch.Result {
	elapsed := r.now().Sub(start)

	capability := res.Capability
	if req.IsFanOut() {
		capability = instrumentation.LabelFanOut
	}
	r.metrics.RecordDispatch(ctx, capability, req.Operation, string(res.Kind), elapsed)

	span.SetAttributes(attribute.String(instrumentation.SpanAttrKind, string(res.Kind)))
	attrs := []any{logging.Kind(string(res.Kind)), logging.Duration(elapsed)}
	if res.Capability != "" {
		attrs = append(attrs, logging.Capability(res.Capability))
	}
	if res.Attempts > 0 {
		attrs = append(attrs, logging.Attempt(res.Attempts))
	}

	if res.Kind == dispatch.KindError {
		instrumentation.AddSpanEvent(span, instrumentation.EventFailed,
			attribute.String(instrumentation.SpanAttrErrorClass, res.Error.Class))
		span.SetStatus(codes.Error, res.Error.Message)
		attrs = append(attrs, logging.Class(res.Error.Class), logging.Status(logging.StatusError))
		logger.Info("Dispatch failed", attrs...)
		return res
	}

	instrumentation.AddSpanEvent(span, instrumentation.EventCompleted)
	instrumentation.SetSpanSuccess(span)
	status := logging.StatusSuccess
	if res.Kind == dispatch.KindPartial {
		status = logging.StatusPartial
	}
	attrs = append(attrs, logging.Status(status))
	logger.Info("Dispatch completed", attrs...)
	return res
}

// failure builds an ERROR result annotated with where the request failed.
func failure(err error, capability, op string) *dispatch.Result {
	res := dispatch.Failure(err)
	res.Error.Capability = capability
	res.Error.Operation = op
	res.Capability = capability
	return res
}
