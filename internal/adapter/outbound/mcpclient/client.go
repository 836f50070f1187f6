// Package mcpclient wraps the MCP SDK's client to give the gateway two kinds
// of upstream connection: a long-lived Discovery session for list_tools and
// a short-lived Execution session for a single tool/call, each carrying its
// own header set, per the dual-connection model the upstream manager
// implements.
package mcpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// hopByHop lists the headers that must never be forwarded to an upstream,
// since they describe the connection to the gateway itself, not to the
// upstream.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Host":                true,
	"Content-Length":      true,
}

// StripHopByHop returns a copy of in with hop-by-hop and transport headers
// removed, leaving the rest eligible for merging into an upstream call.
func StripHopByHop(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for k, v := range in {
		if hopByHop[http.CanonicalHeaderKey(k)] {
			continue
		}
		out[k] = v
	}
	return out
}

// headerRoundTripper injects a fixed header set into every outgoing
// request, which is how per-connection headers are threaded through the
// SDK's HTTP transport without the SDK needing its own header API.
type headerRoundTripper struct {
	headers http.Header
	base    http.RoundTripper
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, vs := range t.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

// dialTimeout bounds how long connecting to an upstream (including its
// initial MCP handshake) may take.
const dialTimeout = 15 * time.Second

// Connection wraps one MCP client session to a single upstream.
type Connection struct {
	session *mcp.ClientSession
}

// Dial opens a new MCP session to endpoint carrying headers, preferring the
// primary streamable-HTTP transport and falling back to the SSE streaming
// transport if the upstream only advertises that variant.
func Dial(ctx context.Context, clientName, endpoint string, headers http.Header) (*Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	httpClient := &http.Client{
		Transport: &headerRoundTripper{headers: headers, base: http.DefaultTransport},
		Timeout:   dialTimeout,
	}

	client := mcp.NewClient(&mcp.Implementation{Name: clientName, Version: "1.0.0"}, nil)

	primary := &mcp.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: httpClient,
	}
	session, err := client.Connect(dialCtx, primary, nil)
	if err != nil {
		fallback := &mcp.SSEClientTransport{
			Endpoint:   endpoint,
			HTTPClient: httpClient,
		}
		session, err = client.Connect(dialCtx, fallback, nil)
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", endpoint, err)
		}
	}
	return &Connection{session: session}, nil
}

// ListTools fetches the upstream's full tool list, paginating until the
// server stops returning a cursor.
func (c *Connection) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	var all []*mcp.Tool
	cursor := ""
	for {
		res, err := c.session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		all = append(all, res.Tools...)
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}
	return all, nil
}

// CallTool invokes name on the upstream with arguments.
func (c *Connection) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	return c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
}

// Close tears down the session.
func (c *Connection) Close() error {
	return c.session.Close()
}
