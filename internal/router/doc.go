// Package router implements the dispatch state machine.
//
// A request moves through Received, Resolving and Invoking before it ends
// Completed (DATA or PARTIAL) or Failed (ERROR). The router holds the
// session's exchange lock for the whole request, so requests of one session
// are handled strictly in order while different sessions proceed in parallel.
//
// Resolution tries, in order: an explicit capability, a "capability.operation"
// prefix, and the registry's operation index. When several capabilities
// declare the operation, the Classifier decides; without a decision the
// request fails as ambiguous.
//
// Transient adapter failures are retried with exponential backoff. The retry
// schedule never sleeps past the request's timeout budget.
package router
