// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with the request_id field.
type LoggerKey struct{}

// HeadersKey is the context key type for the incoming request's HTTP
// headers, threaded explicitly from the MCP HTTP transport down into
// meta-tool handlers and hooks rather than carried ambiently.
type HeadersKey struct{}
