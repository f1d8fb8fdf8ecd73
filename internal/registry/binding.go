package registry

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
)

// Binding pairs a registered capability with its live adapter instance.
//
// A binding is retired when it is replaced or deregistered. Retired bindings
// reject new acquisitions; their adapter is closed once every in-flight
// reference has been released or the grace period expires.
type Binding struct {
	ID         string
	Capability dispatch.Capability
	Adapter    dispatch.Adapter
	Config     dispatch.AdapterConfig
	CreatedAt  time.Time

	mu      sync.Mutex
	refs    int
	retired bool
	torn    bool
	drained chan struct{}
}

func newBinding(id string, capability dispatch.Capability, adapter dispatch.Adapter, cfg dispatch.AdapterConfig, now time.Time) *Binding {
	return &Binding{
		ID:         id,
		Capability: capability,
		Adapter:    adapter,
		Config:     cfg,
		CreatedAt:  now,
		drained:    make(chan struct{}),
	}
}

// Name returns the capability name of the binding.
func (b *Binding) Name() string {
	return b.Capability.Name
}

// InFlight returns the number of unreleased acquisitions.
func (b *Binding) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refs
}

// Release drops a reference taken by Registry.Acquire.
func (b *Binding) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs == 0 {
		return
	}
	b.refs--
	if b.retired && b.refs == 0 {
		close(b.drained)
	}
}

func (b *Binding) acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.retired {
		return false
	}
	b.refs++
	return true
}

// retire marks the binding as replaced. It is safe to call more than once.
func (b *Binding) retire() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.retired {
		return
	}
	b.retired = true
	if b.refs == 0 {
		close(b.drained)
	}
}

func (b *Binding) isTornDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.torn
}

// teardown waits for in-flight calls to drain, bounded by grace, then closes
// the adapter. It reports whether the drain completed before the deadline.
func (b *Binding) teardown(ctx context.Context, grace time.Duration) (drained bool, err error) {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-b.drained:
		drained = true
	case <-timer.C:
	case <-ctx.Done():
	}

	b.mu.Lock()
	b.torn = true
	b.mu.Unlock()

	if closer, ok := b.Adapter.(dispatch.Closer); ok {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
		defer cancel()
		err = closer.Close(closeCtx)
	}
	return drained, err
}

// Info is a read-only view of a binding used by listings and health output.
type Info struct {
	ID         string    `json:"id"`
	Capability string    `json:"capability"`
	Operations []string  `json:"operations"`
	Endpoint   string    `json:"endpoint,omitempty"`
	InFlight   int       `json:"in_flight"`
	CreatedAt  time.Time `json:"created_at"`
}

func (b *Binding) info() Info {
	return Info{
		ID:         b.ID,
		Capability: b.Capability.Name,
		Operations: b.Capability.OperationNames(),
		Endpoint:   b.Config.Endpoint(),
		InFlight:   b.InFlight(),
		CreatedAt:  b.CreatedAt,
	}
}
