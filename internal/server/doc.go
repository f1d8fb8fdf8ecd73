// Package server provides the ServerContext and the HTTP surfaces of
// mcp-dispatch.
//
// The ServerContext owns the capability registry, the session store and the
// dispatch router, and tears them down in order on Shutdown: bindings are
// drained and closed first so that no exchange is recorded into a stopped
// store.
//
// Dependencies are injected with functional options:
//
//	sc, err := server.NewServerContext(ctx,
//		server.WithRegistry(reg),
//		server.WithSessionStore(store),
//		server.WithRouter(router.New(reg, store)),
//		server.WithLogger(logger),
//	)
//	if err != nil {
//		return err
//	}
//	defer sc.Shutdown(context.Background())
//
// HTTPServer mounts, on one mux:
//
//   - the MCP streamable HTTP handler (default /mcp)
//   - the JSON API: POST /v1/dispatch, GET /v1/capabilities and the
//     /v1/sessions endpoints
//   - /healthz, /readyz and /healthz/detailed
//   - optionally the Prometheus scrape endpoint
//
// POST /v1/dispatch answers malformed envelopes with 400. Every envelope that
// reaches the router is answered with 200 and a result envelope, including
// failed dispatches.
//
// MetricsServer serves the scrape endpoint on a dedicated listener when it
// should not be exposed next to the API.
package server
