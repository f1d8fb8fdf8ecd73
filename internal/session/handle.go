package session

import (
	"sync"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
)

// Handle grants exclusive access to one session for the duration of an
// exchange. Handles are not safe for concurrent use.
type Handle struct {
	store *Store
	sess  *session
	once  sync.Once
}

// ID returns the session identifier.
func (h *Handle) ID() string {
	return h.sess.id
}

// Session returns a snapshot of the held session.
func (h *Handle) Session() Snapshot {
	return h.sess.snapshot()
}

// LastCapability returns the capability of the last successful exchange.
func (h *Handle) LastCapability() string {
	return h.sess.lastUsed()
}

// SetLastCapability overrides the session's last-used capability.
func (h *Handle) SetLastCapability(name string) {
	h.sess.setLastCapability(name)
}

// Replay returns the recorded result of an earlier exchange with the same
// sequence number. Sequence 0 is never replayed. Reusing a sequence for a
// different request is a ValidationError.
func (h *Handle) Replay(req dispatch.Request) (*dispatch.Result, bool, error) {
	return h.sess.replay(req)
}

// Record appends the exchange to the bounded history and refreshes the
// session's last activity.
func (h *Handle) Record(req dispatch.Request, res *dispatch.Result) {
	capability := ""
	if res != nil {
		capability = res.Capability
	}
	h.sess.record(Exchange{
		Request:    req,
		Result:     res.Clone(),
		Capability: capability,
		At:         h.store.now(),
	}, h.store.config.HistoryLimit)
}

// Release gives up the session. It is safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.sess.touch(h.store.now())

		h.store.mu.Lock()
		h.sess.waiters--
		h.store.mu.Unlock()

		<-h.sess.sem
	})
}
