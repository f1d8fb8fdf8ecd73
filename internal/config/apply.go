package config

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/giantswarm/mcp-dispatch/internal/adapters"
	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
	"github.com/giantswarm/mcp-dispatch/internal/logging"
	"github.com/giantswarm/mcp-dispatch/internal/registry"
)

// Reload results reported to the metrics recorder.
const (
	ResultSuccess = "success"
	ResultPartial = "partial"
	ResultError   = "error"
)

// Report lists what one Apply changed.
type Report struct {
	Registered []string
	Replaced   []string
	Removed    []string
	Unchanged  []string

	// Failed holds the capabilities that could not be (re)registered. A
	// previously applied binding of the same name keeps serving.
	Failed map[string]error
}

// Result summarizes the report as success, partial or error.
func (r Report) Result() string {
	switch {
	case len(r.Failed) == 0:
		return ResultSuccess
	case len(r.Registered)+len(r.Replaced)+len(r.Unchanged) == 0:
		return ResultError
	}
	return ResultPartial
}

// Declarer resolves a kind to its capability declaration and factory.
type Declarer func(kind, name string, cfg dispatch.AdapterConfig) (dispatch.Capability, dispatch.Factory, error)

// Applier reconciles the registry with successive versions of the
// capabilities file. It only ever touches capabilities it registered itself.
type Applier struct {
	reg     *registry.Registry
	declare Declarer
	logger  *slog.Logger

	mu      sync.Mutex
	applied map[string]CapabilityConfig
}

// ApplierOption is a functional option for configuring an Applier.
type ApplierOption func(*Applier)

// WithApplierLogger sets the logger.
func WithApplierLogger(logger *slog.Logger) ApplierOption {
	return func(a *Applier) {
		a.logger = logger
	}
}

// WithDeclarer replaces the adapter catalog lookup.
func WithDeclarer(d Declarer) ApplierOption {
	return func(a *Applier) {
		if d != nil {
			a.declare = d
		}
	}
}

// NewApplier creates an Applier for reg.
func NewApplier(reg *registry.Registry, opts ...ApplierOption) *Applier {
	a := &Applier{
		reg:     reg,
		declare: adapters.Declare,
		logger:  slog.Default(),
		applied: map[string]CapabilityConfig{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply registers new and changed capabilities, hot-replacing existing
// bindings, and deregisters the ones no longer declared. Invalid entries are
// logged and skipped.
func (a *Applier) Apply(f *File) Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	report := Report{Failed: map[string]error{}}
	declared := make(map[string]struct{}, len(f.Capabilities))

	for _, c := range f.Capabilities {
		declared[c.Name] = struct{}{}
		logger := logging.WithCapability(a.logger, c.Name)

		prev, existed := a.applied[c.Name]
		if existed && prev.equal(c) {
			report.Unchanged = append(report.Unchanged, c.Name)
			continue
		}

		if err := a.register(c); err != nil {
			report.Failed[c.Name] = err
			if existed {
				logger.Warn("Capability change rejected, keeping previous binding",
					logging.Kind(c.Kind), logging.SanitizedErr(err))
			} else {
				logger.Warn("Skipping invalid capability", logging.Kind(c.Kind), logging.SanitizedErr(err))
			}
			continue
		}

		a.applied[c.Name] = c
		if existed {
			report.Replaced = append(report.Replaced, c.Name)
		} else {
			report.Registered = append(report.Registered, c.Name)
		}
	}

	for name := range a.applied {
		if _, ok := declared[name]; ok {
			continue
		}
		err := a.reg.Deregister(name)
		var unknown *dispatch.UnknownCapabilityError
		if err != nil && !errors.As(err, &unknown) {
			report.Failed[name] = err
			continue
		}
		delete(a.applied, name)
		report.Removed = append(report.Removed, name)
	}
	sort.Strings(report.Removed)

	a.logger.Info("Capabilities applied",
		slog.Int("registered", len(report.Registered)),
		slog.Int("replaced", len(report.Replaced)),
		slog.Int("removed", len(report.Removed)),
		slog.Int("unchanged", len(report.Unchanged)),
		slog.Int("failed", len(report.Failed)))
	return report
}

func (a *Applier) register(c CapabilityConfig) error {
	capability, factory, err := a.declare(c.Kind, c.Name, c.Config)
	if err != nil {
		return &dispatch.ConfigurationError{Capability: c.Name, Err: err}
	}
	_, err = a.reg.Register(capability, factory, c.Config)
	return err
}

// Applied returns the names of the capabilities currently owned by the
// applier, sorted.
func (a *Applier) Applied() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.applied))
	for name := range a.applied {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
