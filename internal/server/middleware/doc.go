// Package middleware provides HTTP middleware for the mcp-dispatch server.
// These middleware functions handle security headers, CORS, and other cross-cutting concerns.
package middleware
