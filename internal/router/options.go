package router

import (
	"context"
	"log/slog"
	"time"
)

// DefaultTimeout is the budget of a request that does not carry timeout_ms.
const DefaultTimeout = 30 * time.Second

// MetricsRecorder receives dispatch measurements. *instrumentation.Metrics
// satisfies it.
type MetricsRecorder interface {
	RecordDispatch(ctx context.Context, capability, operation, kind string, duration time.Duration)
	RecordRetry(ctx context.Context, capability string)
	RecordAdapterCall(ctx context.Context, capability, operation, class string, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) RecordDispatch(context.Context, string, string, string, time.Duration)    {}
func (noopMetricsRecorder) RecordRetry(context.Context, string)                                     {}
func (noopMetricsRecorder) RecordAdapterCall(context.Context, string, string, string, time.Duration) {}

// Option configures a Router.
type Option func(*Router)

// WithClassifier sets the disambiguation policy. A nil classifier makes every
// multi-candidate resolution fail as ambiguous.
func WithClassifier(c Classifier) Option {
	return func(r *Router) {
		r.classifier = c
	}
}

// WithRetryPolicy sets the retry policy for transient adapter failures.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *Router) {
		r.policy = p
	}
}

// WithDefaultTimeout sets the budget used when a request carries none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.defaultTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(r *Router) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// withClock overrides the time source, for tests.
func withClock(now func() time.Time) Option {
	return func(r *Router) {
		r.now = now
	}
}
