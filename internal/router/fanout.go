package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
	"github.com/giantswarm/mcp-dispatch/internal/logging"
)

// fanOut sends the operation to every named capability concurrently under
// the shared budget and aggregates the sub-results.
func (r *Router) fanOut(ctx context.Context, span trace.Span, logger *slog.Logger, req dispatch.Request) *dispatch.Result {
	if _, _, prefixed := dispatch.SplitPrefixedOperation(req.Operation); prefixed {
		return failure(&dispatch.ValidationError{
			Field:  "operation",
			Reason: "must not carry a capability prefix when fanning out",
		}, "", req.Operation)
	}

	results := make([]*dispatch.Result, len(req.Capabilities))

	var g errgroup.Group
	for i, name := range req.Capabilities {
		g.Go(func() error {
			results[i] = r.invoke(ctx, span, logging.WithCapability(logger, name), name, req.Operation, req.Params)
			return nil
		})
	}
	_ = g.Wait()

	return aggregate(req.Capabilities, results)
}

// aggregate merges sub-results into one envelope:
// DATA when every capability succeeded, ERROR when all failed, PARTIAL otherwise.
func aggregate(names []string, results []*dispatch.Result) *dispatch.Result {
	byName := make(map[string]any, len(names))
	var failed, incomplete []string
	attempts := 0

	for i, name := range names {
		res := results[i]
		byName[name] = res
		attempts += res.Attempts
		switch res.Kind {
		case dispatch.KindError:
			failed = append(failed, name)
		case dispatch.KindPartial:
			incomplete = append(incomplete, name)
		}
	}
	sort.Strings(failed)
	sort.Strings(incomplete)

	payload := map[string]any{"results": byName}
	var out *dispatch.Result

	switch {
	case len(failed) == len(names):
		class := aggregateClass(names, results, failed)
		detail := dispatch.ErrorDetail{
			Class:     class,
			Category:  dispatch.CategoryOf(class),
			Operation: results[indexOf(names, failed[0])].Error.Operation,
			Message:   fmt.Sprintf("all %d capabilities failed: %s", len(names), describeFailures(names, results, failed)),
			Retryable: class == dispatch.ClassTransientAdapter,
		}
		out = &dispatch.Result{
			Success: false,
			Kind:    dispatch.KindError,
			Error:   &detail,
			Summary: fmt.Sprintf("%s: %s", detail.Class, detail.Message),
		}
	case len(failed) > 0:
		out = dispatch.Partial(payload,
			"capabilities failed: "+describeFailures(names, results, failed),
			fmt.Sprintf("%d of %d capabilities succeeded", len(names)-len(failed), len(names)))
	case len(incomplete) > 0:
		out = dispatch.Partial(payload,
			"incomplete results from: "+strings.Join(incomplete, ", "),
			fmt.Sprintf("%d capabilities answered, %d incompletely", len(names), len(incomplete)))
	default:
		out = dispatch.Data(payload, fmt.Sprintf("%d capabilities answered", len(names)))
	}

	out.Attempts = attempts
	return out
}

// describeFailures lists each failed capability with its class and the
// backend's message.
func describeFailures(names []string, results []*dispatch.Result, failed []string) string {
	parts := make([]string, 0, len(failed))
	for _, name := range failed {
		e := results[indexOf(names, name)].Error
		parts = append(parts, fmt.Sprintf("%s (%s: %s)", name, e.Class, e.Message))
	}
	return strings.Join(parts, "; ")
}

// aggregateClass is the class shared by every failure, transient only when
// all failures are transient. Mixed failures report the first non-transient
// class.
func aggregateClass(names []string, results []*dispatch.Result, failed []string) string {
	for _, name := range failed {
		if class := results[indexOf(names, name)].Error.Class; class != dispatch.ClassTransientAdapter {
			return class
		}
	}
	return dispatch.ClassTransientAdapter
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
