package middleware

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// SecurityConfig configures the SecurityHeaders and CORS middleware.
type SecurityConfig struct {
	// EnableHSTS sets Strict-Transport-Security on plain HTTP responses too,
	// for deployments behind a TLS-terminating proxy.
	EnableHSTS bool

	// AllowedOrigins lists the browser origins allowed to call the API.
	// Empty disables CORS.
	AllowedOrigins []string
}

// SecurityHeaders adds response headers suited to a JSON API.
func SecurityHeaders(config SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

			// Dispatch results must not be cached.
			h.Set("Cache-Control", "no-store")

			if r.TLS != nil || config.EnableHSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CORS answers preflight requests and echoes allowed origins. Requests from
// other origins pass through without CORS headers, so browsers block them.
func CORS(config SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(config.AllowedOrigins) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := origin != "" && slices.Contains(config.AllowedOrigins, origin)

			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Mcp-Session-Id")
				h.Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
				h.Set("Access-Control-Max-Age", "3600")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if allowed {
					w.WriteHeader(http.StatusNoContent)
				} else {
					w.WriteHeader(http.StatusForbidden)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ParseAllowedOrigins validates and normalizes a comma separated origin list.
func ParseAllowedOrigins(list string) ([]string, error) {
	if list == "" {
		return nil, nil
	}

	var validated []string
	for _, origin := range strings.Split(list, ",") {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}

		u, err := url.Parse(origin)
		if err != nil {
			return nil, fmt.Errorf("invalid origin URL %q: %w", origin, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("origin %q must use http or https scheme", origin)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("origin %q must include a host", origin)
		}
		if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
			return nil, fmt.Errorf("origin %q should not include path, query or fragment", origin)
		}

		normalized := u.Scheme + "://" + u.Host
		if !slices.Contains(validated, normalized) {
			validated = append(validated, normalized)
		}
	}
	return validated, nil
}
