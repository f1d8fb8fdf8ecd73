// Package session tracks per-conversation state across dispatches.
//
// A session holds the last capability that served it and a bounded history
// of exchanges. The router holds a session through a Handle for the whole of
// one exchange, which orders exchanges of the same session without a global
// lock. Idle sessions are expired by a background loop or by calling
// ExpireIdle directly.
package session
