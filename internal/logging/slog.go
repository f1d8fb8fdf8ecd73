package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyCapability  = "capability"
	KeyOperation   = "operation"
	KeySessionHash = "session_hash"
	KeySequence    = "sequence"
	KeyAttempt     = "attempt"
	KeyClass       = "class"
	KeyKind        = "kind"
	KeyBindingID   = "binding_id"
	KeyDuration    = "duration"
	KeyStatus      = "status"
	KeyError       = "error"
	KeyHost        = "host"
	KeyTool        = "tool"
)

// Status values for consistent logging.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
)

// ipv4Regex matches IPv4 addresses for sanitization.
var ipv4Regex = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)

// ipv6Regex matches full, compressed and bracketed IPv6 addresses.
var ipv6Regex = regexp.MustCompile(`\[?([0-9a-fA-F]{0,4}:){2,7}[0-9a-fA-F]{0,4}\]?`)

// WithCapability returns a logger with the capability attribute set.
func WithCapability(logger *slog.Logger, capability string) *slog.Logger {
	return logger.With(slog.String(KeyCapability, capability))
}

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithTool returns a logger with the tool attribute set.
func WithTool(logger *slog.Logger, tool string) *slog.Logger {
	return logger.With(slog.String(KeyTool, tool))
}

// WithExchange returns a logger carrying the session hash and sequence of one
// request, so all lines of an exchange can be correlated.
func WithExchange(logger *slog.Logger, sessionID string, sequence int64) *slog.Logger {
	return logger.With(SessionHash(sessionID), Sequence(sequence))
}

// Capability returns a slog attribute for the capability name.
func Capability(name string) slog.Attr {
	return slog.String(KeyCapability, name)
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Sequence returns a slog attribute for the request sequence number.
func Sequence(seq int64) slog.Attr {
	return slog.Int64(KeySequence, seq)
}

// Attempt returns a slog attribute for the invocation attempt (1-based).
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Class returns a slog attribute for an error class.
func Class(class string) slog.Attr {
	return slog.String(KeyClass, class)
}

// Kind returns a slog attribute for a result kind.
func Kind(kind string) slog.Attr {
	return slog.String(KeyKind, kind)
}

// BindingID returns a slog attribute for an adapter binding identifier.
func BindingID(id string) slog.Attr {
	return slog.String(KeyBindingID, id)
}

// Duration returns a slog attribute for an elapsed time.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration(KeyDuration, d)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Err returns a slog attribute for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// SanitizedErr returns a slog attribute for an error with IP addresses redacted.
// Backend errors frequently embed the endpoint they failed to reach.
func SanitizedErr(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, SanitizeHost(err.Error()))
}

// Host returns a slog attribute for a host with IP addresses sanitized.
func Host(host string) slog.Attr {
	return slog.String(KeyHost, SanitizeHost(host))
}

// AnonymizeSession returns a hashed representation of a session identifier.
// Session IDs are chosen by callers and may embed user names.
func AnonymizeSession(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(sessionID))
	return "session:" + hex.EncodeToString(hash[:8])
}

// SessionHash returns a slog attribute with the anonymized session identifier.
//
// Usage:
//
//	logger.Info("session expired", logging.SessionHash(id))
func SessionHash(sessionID string) slog.Attr {
	return slog.String(KeySessionHash, AnonymizeSession(sessionID))
}

// SanitizeHost returns a sanitized version of the host for logging purposes.
// IPv4 and IPv6 addresses are redacted, hostnames and ports are kept.
//
// Examples:
//   - "https://192.168.1.100:9200" -> "https://<redacted-ip>:9200"
//   - "https://thanos.example.com:9090" -> "https://thanos.example.com:9090"
//   - "2001:db8::1" -> "<redacted-ip>"
//   - "" -> "<empty>"
func SanitizeHost(host string) string {
	if host == "" {
		return "<empty>"
	}

	redactIPs := func(s string) string {
		s = ipv4Regex.ReplaceAllString(s, "<redacted-ip>")
		return ipv6Regex.ReplaceAllString(s, "<redacted-ip>")
	}

	if !strings.Contains(host, "://") {
		return redactIPs(host)
	}

	parsed, err := url.Parse(host)
	if err != nil {
		return redactIPs(host)
	}
	if ipv4Regex.MatchString(parsed.Host) || ipv6Regex.MatchString(parsed.Host) {
		parsed.Host = redactIPs(parsed.Host)
		return parsed.String()
	}
	return host
}

// SanitizeToken returns a masked version of a token for logging.
// Only the length is reported.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}
