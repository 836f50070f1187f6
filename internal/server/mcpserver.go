package server

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpgateway/gateway/internal/adapter/inbound/metatools"
)

// buildMCPServer creates the single long-lived MCP server advertising
// exactly the four meta-tools, with InitializeResult.instructions built from
// the registry snapshot at Populate time (or the operator's override, per
// spec.md §4.5). Unlike earlier revisions of this gateway, the server object
// is never rebuilt and swapped afterward: a client's session is bound to
// this *mcp.Server for its lifetime, and replacing the object would orphan
// it from any later notification. Instead, downstream tool-set changes are
// surfaced by re-asserting the same four tools on this same server (see
// announceToolsChanged), which is what the SDK observes as a tool mutation
// worth notifying already-connected sessions about.
func (gs *GatewayServer) buildMCPServer() *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    gs.cfg.Name,
		Version: "1.0.0",
	}, &mcp.ServerOptions{
		HasTools:     true,
		Instructions: buildInstructions(gs.cfg, gs.reg),
	})

	gs.metatools.Register(s)
	return s
}

// announceToolsChanged re-registers the four meta-tools on the already
// running MCP server. The four tool definitions never themselves change,
// but re-asserting them is how this gateway drives the SDK's built-in
// notifications/tools/list_changed delivery to every connected session,
// even though the client-visible four-tool surface is constant. It is
// called after a background refresh pass or an add_upstream with a
// non-empty diff, and after every remove_upstream; the refresh_registry
// meta-tool does not call it.
func (gs *GatewayServer) announceToolsChanged() {
	s := gs.mcpServer.Load()
	if s == nil {
		return
	}
	gs.metatools.Register(s)
}
