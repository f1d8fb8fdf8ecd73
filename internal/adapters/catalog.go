// Package adapters is the catalog of backend adapter kinds a capabilities
// file may reference.
package adapters

import (
	"fmt"
	"sort"

	"github.com/giantswarm/mcp-dispatch/internal/adapters/clusterexec"
	"github.com/giantswarm/mcp-dispatch/internal/adapters/logsearch"
	"github.com/giantswarm/mcp-dispatch/internal/adapters/mcpremote"
	"github.com/giantswarm/mcp-dispatch/internal/adapters/metrics"
	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
)

// Kind describes how to build one adapter kind.
type Kind struct {
	// Capability returns the capability declaration for a configuration.
	Capability func(cfg dispatch.AdapterConfig) dispatch.Capability

	Factory dispatch.Factory
}

func static(c func() dispatch.Capability) func(dispatch.AdapterConfig) dispatch.Capability {
	return func(dispatch.AdapterConfig) dispatch.Capability { return c() }
}

var kinds = map[string]Kind{
	metrics.Kind:     {Capability: static(metrics.Capability), Factory: metrics.Factory},
	logsearch.Kind:   {Capability: static(logsearch.Capability), Factory: logsearch.Factory},
	clusterexec.Kind: {Capability: static(clusterexec.Capability), Factory: clusterexec.Factory},
	mcpremote.Kind:   {Capability: mcpremote.Capability, Factory: mcpremote.Factory},
}

// Lookup returns the adapter kind registered under name.
func Lookup(name string) (Kind, error) {
	k, ok := kinds[name]
	if !ok {
		return Kind{}, fmt.Errorf("unknown adapter kind %q (known: %v)", name, Kinds())
	}
	return k, nil
}

// Kinds returns the known adapter kind names in sorted order.
func Kinds() []string {
	out := make([]string, 0, len(kinds))
	for name := range kinds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Declare builds the capability a configured instance registers as: the
// kind's declaration renamed to name.
func Declare(kind, name string, cfg dispatch.AdapterConfig) (dispatch.Capability, dispatch.Factory, error) {
	k, err := Lookup(kind)
	if err != nil {
		return dispatch.Capability{}, nil, err
	}
	c := k.Capability(cfg)
	if name != "" && name != c.Name {
		c = c.Named(name)
	}
	return c, k.Factory, nil
}
