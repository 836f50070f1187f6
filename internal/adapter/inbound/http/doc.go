// Package http provides the gateway's ambient HTTP surface: liveness and
// readiness probes, Prometheus metrics, request logging, and the bearer-token
// middleware that gates the registration REST API (the API's handlers for
// GET/POST /registry/servers and DELETE /registry/servers/{domain} live in
// internal/server).
//
// The MCP wire protocol itself is not implemented here — it is mounted
// separately via the SDK's mcp.NewStreamableHTTPHandler at /mcp, wired up
// in internal/server alongside the handlers this package provides.
package http
