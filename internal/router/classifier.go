package router

import (
	"context"
	"slices"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
	"github.com/giantswarm/mcp-dispatch/internal/session"
)

// Classifier picks a capability for an operation that did not resolve to
// exactly one candidate.
//
// candidates lists the capabilities declaring the operation and is empty when
// none does. Returning an empty name means no decision; the router then fails
// with AmbiguousOperationError or UnknownOperationError. A name outside a
// non-empty candidate list is treated as no decision.
type Classifier interface {
	Classify(ctx context.Context, req dispatch.Request, sess session.Snapshot, candidates []string) (string, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, req dispatch.Request, sess session.Snapshot, candidates []string) (string, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, req dispatch.Request, sess session.Snapshot, candidates []string) (string, error) {
	return f(ctx, req, sess, candidates)
}

// LastCapabilityClassifier prefers the capability the session last used
// successfully, when it is one of the candidates.
type LastCapabilityClassifier struct{}

// Classify implements Classifier.
func (LastCapabilityClassifier) Classify(_ context.Context, _ dispatch.Request, sess session.Snapshot, candidates []string) (string, error) {
	if sess.LastCapability != "" && slices.Contains(candidates, sess.LastCapability) {
		return sess.LastCapability, nil
	}
	return "", nil
}
