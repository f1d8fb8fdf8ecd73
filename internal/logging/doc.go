// Package logging provides structured logging helpers for mcp-dispatch.
//
// All components log through log/slog. This package keeps attribute names
// consistent (capability, operation, session_hash, sequence, attempt, class)
// and sanitizes values that must not reach logs verbatim.
//
// # Usage Patterns
//
//	logger := logging.WithCapability(slog.Default(), "log-search")
//	logger.Info("dispatch completed",
//	    logging.Operation("search"),
//	    logging.SessionHash(req.SessionID),
//	    logging.Attempt(2))
//
// # Security Considerations
//
//   - Session identifiers are hashed so exchanges can be correlated without
//     exposing caller-chosen identifiers
//   - Backend endpoints have IP addresses redacted
//   - Credentials are never logged, only their length via SanitizeToken
package logging
