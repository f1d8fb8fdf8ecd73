// Package dispatch defines the types shared by the registry, the router, the
// session store and the backend adapters: capabilities, request and result
// envelopes, adapter configuration, and the error taxonomy.
//
// # Envelopes
//
// A Request names an operation, its parameters, the session it belongs to
// and a per-session sequence number. Every request produces exactly one
// Result of kind DATA, PARTIAL or ERROR:
//
//	res := dispatch.Data(map[string]any{"value": 42}, "1 sample")
//	res = dispatch.Failure(&dispatch.UnknownOperationError{Operation: "instant"})
//
// # Errors
//
// Errors are matched with errors.Is against the Err* sentinels, or mapped to
// the class string used in envelopes with ClassOf. Only ClassTransientAdapter
// errors are retryable.
package dispatch
