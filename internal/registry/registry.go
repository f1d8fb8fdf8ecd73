package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
	"github.com/giantswarm/mcp-dispatch/internal/logging"
)

// DefaultGracePeriod bounds how long a retired adapter may keep serving
// in-flight calls before it is closed.
const DefaultGracePeriod = 10 * time.Second

// ErrClosed is returned by Register after Close.
var ErrClosed = errors.New("registry is closed")

// Teardown reasons reported to the metrics recorder.
const (
	ReasonReplaced     = "replaced"
	ReasonDeregistered = "deregistered"
	ReasonShutdown     = "shutdown"
)

// MetricsRecorder defines the interface for recording registry metrics.
type MetricsRecorder interface {
	// SetBindings sets the number of installed bindings.
	SetBindings(ctx context.Context, count int)

	// RecordTeardown records a completed binding teardown. drained is false
	// when the grace period expired with calls still in flight.
	RecordTeardown(ctx context.Context, capability, reason string, drained bool)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) SetBindings(context.Context, int)                     {}
func (noopMetricsRecorder) RecordTeardown(context.Context, string, string, bool) {}

// table is an immutable snapshot of the installed bindings.
type table struct {
	bindings map[string]*Binding
	ops      map[string][]string
}

func newTable(bindings map[string]*Binding) *table {
	ops := make(map[string][]string)
	for name, b := range bindings {
		for _, op := range b.Capability.Operations {
			ops[op.Name] = append(ops[op.Name], name)
		}
	}
	for op := range ops {
		sort.Strings(ops[op])
	}
	return &table{bindings: bindings, ops: ops}
}

// Registry maps capability names to adapter bindings.
//
// Readers load an immutable lookup table without locking. Writers build a new
// table and swap it in, so a concurrent reader sees either the old or the new
// table, never a mix.
type Registry struct {
	current atomic.Pointer[table]

	// writeMu serializes writers; readers never take it.
	writeMu sync.Mutex
	closed  bool

	grace   time.Duration
	logger  *slog.Logger
	metrics MetricsRecorder
	now     func() time.Time
	newID   func() string

	teardowns sync.WaitGroup
}

// Option is a functional option for configuring a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(r *Registry) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// WithGracePeriod sets how long retired adapters may drain.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.grace = d
		}
	}
}

// withClock sets the clock function for testing.
func withClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		grace:   DefaultGracePeriod,
		logger:  slog.Default(),
		metrics: noopMetricsRecorder{},
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(newTable(map[string]*Binding{}))
	return r
}

// Register validates cfg against the capability's schema, builds the adapter
// and installs the binding. Registering an existing name replaces its binding;
// the old adapter is torn down in the background.
func (r *Registry) Register(capability dispatch.Capability, factory dispatch.Factory, cfg dispatch.AdapterConfig) (string, error) {
	if err := capability.Validate(); err != nil {
		return "", &dispatch.ConfigurationError{Capability: capability.Name, Err: err}
	}
	if factory == nil {
		return "", &dispatch.ConfigurationError{Capability: capability.Name, Err: errors.New("no adapter factory")}
	}
	if err := capability.ValidateConfig(cfg); err != nil {
		return "", err
	}

	cfg = cfg.Clone()
	adapter, err := factory(cfg)
	if err != nil {
		var cerr *dispatch.ConfigurationError
		if errors.As(err, &cerr) {
			return "", err
		}
		return "", &dispatch.ConfigurationError{Capability: capability.Name, Err: err}
	}

	b := newBinding(r.newID(), capability.Clone(), adapter, cfg, r.now())

	r.writeMu.Lock()
	if r.closed {
		r.writeMu.Unlock()
		closeAdapter(adapter)
		return "", ErrClosed
	}
	old := r.swap(func(m map[string]*Binding) {
		m[capability.Name] = b
	})
	r.writeMu.Unlock()

	logger := logging.WithCapability(r.logger, capability.Name)
	if prev, ok := old[capability.Name]; ok {
		logger.Info("Capability binding replaced",
			logging.BindingID(b.ID),
			slog.String("previous_binding_id", prev.ID))
		r.retire(prev, ReasonReplaced)
	} else {
		logger.Info("Capability registered",
			logging.BindingID(b.ID),
			slog.Any("operations", capability.OperationNames()),
			logging.Host(cfg.Endpoint()))
	}
	return b.ID, nil
}

// Deregister removes the binding for name. New lookups fail immediately;
// in-flight calls on the old adapter complete within the grace period.
func (r *Registry) Deregister(name string) error {
	r.writeMu.Lock()
	prev, ok := r.current.Load().bindings[name]
	if !ok {
		r.writeMu.Unlock()
		return &dispatch.UnknownCapabilityError{Name: name}
	}
	r.swap(func(m map[string]*Binding) {
		delete(m, name)
	})
	r.writeMu.Unlock()

	r.logger.Info("Capability deregistered", logging.Capability(name), logging.BindingID(prev.ID))
	r.retire(prev, ReasonDeregistered)
	return nil
}

// swap copies the current table, applies mutate and installs the result.
// It returns the bindings of the replaced table. Callers hold writeMu.
func (r *Registry) swap(mutate func(map[string]*Binding)) map[string]*Binding {
	old := r.current.Load().bindings
	next := make(map[string]*Binding, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	mutate(next)
	r.current.Store(newTable(next))
	r.metrics.SetBindings(context.Background(), len(next))
	return old
}

// retire stops new acquisitions of b and tears it down in the background.
func (r *Registry) retire(b *Binding, reason string) {
	b.retire()
	r.teardowns.Add(1)
	go func() {
		defer r.teardowns.Done()
		r.teardownBinding(context.Background(), b, reason)
	}()
}

func (r *Registry) teardownBinding(ctx context.Context, b *Binding, reason string) {
	start := r.now()
	drained, err := b.teardown(ctx, r.grace)

	logger := logging.WithCapability(r.logger, b.Name())
	if !drained {
		logger.Warn("Grace period expired with calls in flight",
			logging.BindingID(b.ID),
			slog.Int("in_flight", b.InFlight()))
	}
	if err != nil {
		logger.Warn("Adapter close failed", logging.BindingID(b.ID), logging.SanitizedErr(err))
	}
	logger.Debug("Binding torn down",
		logging.BindingID(b.ID),
		slog.String("reason", reason),
		logging.Duration(r.now().Sub(start)))
	r.metrics.RecordTeardown(ctx, b.Name(), reason, drained)
}

// Resolve returns the current binding for name.
func (r *Registry) Resolve(name string) (*Binding, error) {
	b, ok := r.current.Load().bindings[name]
	if !ok || b.isTornDown() {
		return nil, &dispatch.UnknownCapabilityError{Name: name}
	}
	return b, nil
}

// Acquire resolves name and takes an in-flight reference on the binding.
// The caller must call Release on the returned binding when the call ends.
func (r *Registry) Acquire(name string) (*Binding, error) {
	for {
		t := r.current.Load()
		b, ok := t.bindings[name]
		if !ok {
			return nil, &dispatch.UnknownCapabilityError{Name: name}
		}
		if b.acquire() {
			return b, nil
		}
		// b was retired between the load and the acquire. Its replacement
		// is already installed, so reload.
		if r.current.Load() == t {
			return nil, &dispatch.UnknownCapabilityError{Name: name}
		}
	}
}

// Capabilities returns the registered capabilities sorted by name.
func (r *Registry) Capabilities() []dispatch.Capability {
	t := r.current.Load()
	out := make([]dispatch.Capability, 0, len(t.bindings))
	for _, b := range t.bindings {
		out = append(out, b.Capability.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered capability names in sorted order.
func (r *Registry) Names() []string {
	t := r.current.Load()
	out := make([]string, 0, len(t.bindings))
	for name := range t.bindings {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// OperationIndex returns the names of the capabilities declaring op, sorted.
func (r *Registry) OperationIndex(op string) []string {
	return append([]string(nil), r.current.Load().ops[op]...)
}

// Bindings returns a view of every installed binding sorted by capability.
func (r *Registry) Bindings() []Info {
	t := r.current.Load()
	out := make([]Info, 0, len(t.bindings))
	for _, b := range t.bindings {
		out = append(out, b.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Capability < out[j].Capability })
	return out
}

// Len returns the number of installed bindings.
func (r *Registry) Len() int {
	return len(r.current.Load().bindings)
}

// Ping checks reachability of the backend behind name. Adapters that do not
// implement dispatch.Pinger are assumed reachable.
func (r *Registry) Ping(ctx context.Context, name string) error {
	b, err := r.Acquire(name)
	if err != nil {
		return err
	}
	defer b.Release()

	if p, ok := b.Adapter.(dispatch.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close retires every binding and waits for teardowns to finish or ctx to end.
func (r *Registry) Close(ctx context.Context) error {
	r.writeMu.Lock()
	if r.closed {
		r.writeMu.Unlock()
		return nil
	}
	r.closed = true
	old := r.swap(func(m map[string]*Binding) {
		clear(m)
	})
	r.writeMu.Unlock()

	for _, b := range old {
		r.retire(b, ReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		r.teardowns.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Registry closed", slog.Int("bindings", len(old)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("registry close: %w", ctx.Err())
	}
}

func closeAdapter(adapter dispatch.Adapter) {
	if closer, ok := adapter.(dispatch.Closer); ok {
		_ = closer.Close(context.Background())
	}
}
