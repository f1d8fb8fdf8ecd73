package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// unmatchedRoute labels requests no route accepted, so that scanners probing
// random paths cannot grow the label set.
const unmatchedRoute = "unmatched"

// RequestRecorder records one served HTTP request.
type RequestRecorder interface {
	RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration)
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code before writing the header.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures that a response was written.
func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.written = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter to support http.Flusher etc.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Flush implements http.Flusher for streaming MCP responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// HTTPMetrics creates middleware that records the method, route, status and
// duration of every request.
//
// The route is the ServeMux pattern that served the request, such as
// /v1/sessions/{id}. Requests served outside a ServeMux fall back to a
// normalized path. A nil recorder turns the middleware into a pass-through.
func HTTPMetrics(recorder RequestRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if recorder == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			recorder.RecordHTTPRequest(r.Context(), r.Method, route(r, wrapped.statusCode), wrapped.statusCode, time.Since(start))
		})
	}
}

// route returns the metric label for a served request. ServeMux stores the
// matched pattern on the request it was given, which is r.
func route(r *http.Request, status int) string {
	if r.Pattern != "" {
		pattern := r.Pattern
		// Patterns may start with a method: "POST /v1/dispatch".
		if i := strings.IndexByte(pattern, ' '); i >= 0 {
			pattern = strings.TrimSpace(pattern[i+1:])
		}
		return pattern
	}
	if status == http.StatusNotFound || status == http.StatusMethodNotAllowed {
		return unmatchedRoute
	}
	return normalizePath(r.URL.Path)
}

// Regex patterns for path normalization to control metric cardinality
var (
	// UUID pattern (e.g., 550e8400-e29b-41d4-a716-446655440000)
	uuidPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

	// Session ID pattern for MCP streamable HTTP
	mcpSessionPattern = regexp.MustCompile(`^/mcp/[a-zA-Z0-9_-]{8,64}$`)

	// Dispatch API session paths carry caller chosen IDs
	apiSessionPattern = regexp.MustCompile(`^/v1/sessions/[^/]+$`)

	// Generic numeric ID pattern in paths
	numericIDPattern = regexp.MustCompile(`/\d+(/|$)`)
)

// normalizePath replaces dynamic path segments with placeholders.
func normalizePath(path string) string {
	switch {
	case mcpSessionPattern.MatchString(path):
		return "/mcp/:session"
	case apiSessionPattern.MatchString(path):
		return "/v1/sessions/:id"
	}

	path = uuidPattern.ReplaceAllString(path, ":uuid")
	return numericIDPattern.ReplaceAllString(path, "/:id$1")
}
