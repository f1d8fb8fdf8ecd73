package dispatch

import "context"

// Adapter translates normalized requests into the native protocol of one
// external system. Adapters are stateless apart from pooled connections and
// never retry: they classify failures with the taxonomy and return them.
type Adapter interface {
	// Invoke performs op with params. The deadline of ctx bounds the external call.
	Invoke(ctx context.Context, op string, params Params) (*Result, error)
}

// Closer is implemented by adapters that hold connections to release on teardown.
type Closer interface {
	Close(ctx context.Context) error
}

// Pinger is implemented by adapters that can cheaply check backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Factory builds an adapter from validated configuration.
type Factory func(cfg AdapterConfig) (Adapter, error)

// AdapterFunc adapts a plain function to the Adapter interface.
type AdapterFunc func(ctx context.Context, op string, params Params) (*Result, error)

// Invoke calls f.
func (f AdapterFunc) Invoke(ctx context.Context, op string, params Params) (*Result, error) {
	return f(ctx, op, params)
}
