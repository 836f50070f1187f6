// Package metatools implements component D: the four meta-tools
// (discover_tools, get_tool_schema, execute_tool, refresh_registry) that are
// the only tools ever visible to an MCP client of this gateway.
package metatools

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpgateway/gateway/internal/ctxkey"
	"github.com/mcpgateway/gateway/internal/domain/hook"
	"github.com/mcpgateway/gateway/internal/domain/registry"
	"github.com/mcpgateway/gateway/internal/domain/tool"
)

// Executor is the subset of *upstreammanager.Manager this package drives.
// Declaring it here, rather than depending on the concrete type, lets
// execute_tool and refresh_registry be tested against a fake upstream.
type Executor interface {
	Execute(ctx context.Context, entry tool.Entry, arguments map[string]any, incomingHeaders http.Header, extraHeaders map[string]string) (*mcp.CallToolResult, error)
	RefreshAll(ctx context.Context) (diffs []registry.Diff, failed []string)
}

// errorEnvelope is the uniform error shape every meta-tool funnels through.
type errorEnvelope struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// Server implements component D over a shared Registry and Manager.
type Server struct {
	registry *registry.Registry
	manager  Executor
	hooks    *hook.Runner
	logger   *slog.Logger
}

// New creates a meta-tool Server.
func New(reg *registry.Registry, mgr Executor, hooks *hook.Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if hooks == nil {
		hooks = hook.NewRunner()
	}
	return &Server{registry: reg, manager: mgr, hooks: hooks, logger: logger}
}

// Register wires all four meta-tools onto s. It is safe to call more than
// once against the same running server — mcp.AddTool re-asserting a name it
// already holds is exactly how this gateway forces the SDK to emit
// notifications/tools/list_changed to connected sessions when the
// underlying upstream registry changes, without replacing the server object
// those sessions are bound to.
func (srv *Server) Register(s *mcp.Server) {
	mcp.AddTool(s, &mcp.Tool{
		Name:        "discover_tools",
		Description: "Browse available tool domains, groups, and tools without fetching full schemas.",
	}, srv.discoverTools)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_tool_schema",
		Description: "Fetch the full input schema for one tool by name.",
	}, srv.getToolSchema)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "execute_tool",
		Description: "Execute a previously discovered tool by name, routing the call to its owning upstream.",
	}, srv.executeTool)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "refresh_registry",
		Description: "Re-run discovery against every configured upstream and report what changed.",
	}, srv.refreshRegistry)
}

func textResult(v any) (*mcp.CallToolResult, any, error) {
	body, err := json.Marshal(v)
	if err != nil {
		body, _ = json.Marshal(errorEnvelope{Error: "internal error", Code: "execution_error"})
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
	}, nil, nil
}

func errorResult(code, message string, details map[string]any) (*mcp.CallToolResult, any, error) {
	return textResult(errorEnvelope{Error: message, Code: code, Details: details})
}

// requestHeaders extracts the incoming request's HTTP headers from ctx, set
// by the surrounding MCP HTTP transport. Absent a real HTTP request (e.g. a
// non-HTTP transport), an empty header set is used.
func requestHeaders(ctx context.Context) http.Header {
	if h, ok := ctx.Value(ctxkey.HeadersKey{}).(http.Header); ok {
		return h
	}
	return http.Header{}
}

// WithHeaders returns a context carrying headers for downstream meta-tool
// handlers to read — the explicit-propagation replacement for an ambient
// ContextVar-style carrier.
func WithHeaders(ctx context.Context, headers http.Header) context.Context {
	return context.WithValue(ctx, ctxkey.HeadersKey{}, headers)
}

// discoverTools implements 4.4.1.

type discoverToolsArgs struct {
	Domain string `json:"domain,omitempty" jsonschema:"restrict results to this domain"`
	Group  string `json:"group,omitempty" jsonschema:"restrict results to this group (requires domain)"`
	Query  string `json:"query,omitempty" jsonschema:"case-insensitive substring search across name and description"`
}

func (srv *Server) discoverTools(ctx context.Context, req *mcp.CallToolRequest, args discoverToolsArgs) (*mcp.CallToolResult, any, error) {
	if args.Group != "" && args.Domain == "" {
		return errorResult("group_not_found", "group filter requires a domain", nil)
	}

	headers := requestHeaders(ctx)
	user, err := srv.hooks.OnAuthenticate(ctx, headers)
	if err != nil {
		return errorResult("execution_error", "authentication failed", nil)
	}

	switch {
	case args.Domain == "" && args.Query == "":
		return srv.discoverDomainSummary(ctx, headers, user)
	case args.Domain != "" && args.Group == "" && args.Query == "":
		return srv.discoverDomainTools(ctx, headers, user, args.Domain)
	case args.Domain != "" && args.Group != "":
		return srv.discoverDomainGroup(ctx, headers, user, args.Domain, args.Group)
	default:
		return srv.discoverSearch(ctx, headers, user, args.Query)
	}
}

func (srv *Server) discoverDomainSummary(ctx context.Context, headers http.Header, user hook.Identity) (*mcp.CallToolResult, any, error) {
	domains := srv.registry.ListDomains()

	type domainSummary struct {
		Name        string   `json:"name"`
		Description string   `json:"description,omitempty"`
		ToolCount   int      `json:"tool_count"`
		Groups      []string `json:"groups"`
	}

	total := 0
	summaries := make([]domainSummary, 0, len(domains))
	for _, d := range domains {
		entries, _ := srv.registry.ListDomainTools(d.Name)
		filtered, err := srv.hooks.AfterListTools(ctx, hook.ListToolsContext{Domain: d.Name, Headers: headers, User: user}, entries)
		if err != nil {
			return errorResult("execution_error", "tool-list filtering failed", nil)
		}
		groupSet := map[string]struct{}{}
		for _, e := range filtered {
			if e.Group != "" {
				groupSet[e.Group] = struct{}{}
			}
		}
		groups := make([]string, 0, len(groupSet))
		for g := range groupSet {
			groups = append(groups, g)
		}
		sort.Strings(groups)

		summaries = append(summaries, domainSummary{
			Name:        d.Name,
			Description: d.Description,
			ToolCount:   len(filtered),
			Groups:      groups,
		})
		total += len(filtered)
	}

	return textResult(map[string]any{
		"domains":     summaries,
		"total_tools": total,
	})
}

func (srv *Server) discoverDomainTools(ctx context.Context, headers http.Header, user hook.Identity, domain string) (*mcp.CallToolResult, any, error) {
	entries, ok := srv.registry.ListDomainTools(domain)
	if !ok {
		return domainNotFound(srv.registry, domain)
	}
	filtered, err := srv.hooks.AfterListTools(ctx, hook.ListToolsContext{Domain: domain, Headers: headers, User: user}, entries)
	if err != nil {
		return errorResult("execution_error", "tool-list filtering failed", nil)
	}

	type toolSummary struct {
		Name        string `json:"name"`
		Group       string `json:"group,omitempty"`
		Description string `json:"description"`
	}
	tools := make([]toolSummary, 0, len(filtered))
	for _, e := range filtered {
		tools = append(tools, toolSummary{Name: e.Name, Group: e.Group, Description: e.Description})
	}

	return textResult(map[string]any{"domain": domain, "tools": tools})
}

func (srv *Server) discoverDomainGroup(ctx context.Context, headers http.Header, user hook.Identity, domain, group string) (*mcp.CallToolResult, any, error) {
	entries, ok := srv.registry.ListDomainTools(domain)
	if !ok {
		return domainNotFound(srv.registry, domain)
	}
	filtered, err := srv.hooks.AfterListTools(ctx, hook.ListToolsContext{Domain: domain, Headers: headers, User: user}, entries)
	if err != nil {
		return errorResult("execution_error", "tool-list filtering failed", nil)
	}

	type toolSummary struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	var tools []toolSummary
	found := false
	for _, e := range filtered {
		if e.Group == group {
			found = true
			tools = append(tools, toolSummary{Name: e.Name, Description: e.Description})
		}
	}
	if !found {
		groups := map[string]struct{}{}
		for _, e := range filtered {
			if e.Group != "" {
				groups[e.Group] = struct{}{}
			}
		}
		valid := make([]string, 0, len(groups))
		for g := range groups {
			valid = append(valid, g)
		}
		sort.Strings(valid)
		return errorResult("group_not_found", "no such group in domain", map[string]any{"valid_groups": valid})
	}

	return textResult(map[string]any{"domain": domain, "group": group, "tools": tools})
}

func (srv *Server) discoverSearch(ctx context.Context, headers http.Header, user hook.Identity, query string) (*mcp.CallToolResult, any, error) {
	results := srv.registry.Search(query)
	entries := make([]tool.Entry, 0, len(results))
	for _, r := range results {
		entries = append(entries, tool.Entry{Name: r.Name, Domain: r.Domain, Group: r.Group, Description: r.Description})
	}
	filtered, err := srv.hooks.AfterListTools(ctx, hook.ListToolsContext{Headers: headers, User: user}, entries)
	if err != nil {
		return errorResult("execution_error", "tool-list filtering failed", nil)
	}

	type searchResult struct {
		Name        string `json:"name"`
		Domain      string `json:"domain"`
		Group       string `json:"group,omitempty"`
		Description string `json:"description"`
	}
	out := make([]searchResult, 0, len(filtered))
	for _, e := range filtered {
		out = append(out, searchResult{Name: e.Name, Domain: e.Domain, Group: e.Group, Description: e.Description})
	}

	return textResult(map[string]any{"query": query, "results": out})
}

func domainNotFound(reg *registry.Registry, domain string) (*mcp.CallToolResult, any, error) {
	domains := reg.ListDomains()
	valid := make([]string, 0, len(domains))
	for _, d := range domains {
		valid = append(valid, d.Name)
	}
	return errorResult("domain_not_found", "no such domain", map[string]any{"valid_domains": valid})
}

// getToolSchema implements 4.4.2.

type getToolSchemaArgs struct {
	ToolName string `json:"tool_name" jsonschema:"the exact or approximate tool name to fetch a schema for"`
}

func (srv *Server) getToolSchema(ctx context.Context, req *mcp.CallToolRequest, args getToolSchemaArgs) (*mcp.CallToolResult, any, error) {
	headers := requestHeaders(ctx)
	user, err := srv.hooks.OnAuthenticate(ctx, headers)
	if err != nil {
		return errorResult("execution_error", "authentication failed", nil)
	}

	entry, ok := srv.lookupVisible(ctx, headers, user, args.ToolName)
	if !ok {
		_, _, suggestions := srv.registry.FuzzyResolve(args.ToolName)
		return errorResult("tool_not_found", "no such tool", map[string]any{"suggestions": suggestions})
	}

	var schema any = json.RawMessage(entry.InputSchema)
	return textResult(map[string]any{
		"name":        entry.Name,
		"domain":      entry.Domain,
		"group":       entry.Group,
		"description": entry.Description,
		"parameters":  schema,
	})
}

// lookupVisible resolves name to a ToolEntry, exact or fuzzy, but only
// among tools the identity's after_list_tools hooks would still show it:
// a tool hidden for this caller must behave exactly like tool_not_found.
func (srv *Server) lookupVisible(ctx context.Context, headers http.Header, user hook.Identity, name string) (tool.Entry, bool) {
	entry, ok := srv.registry.Get(name)
	if !ok {
		var resolved bool
		entry, resolved, _ = srv.registry.FuzzyResolve(name)
		if !resolved {
			return tool.Entry{}, false
		}
	}

	filtered, err := srv.hooks.AfterListTools(ctx, hook.ListToolsContext{Domain: entry.Domain, Headers: headers, User: user}, []tool.Entry{entry})
	if err != nil || len(filtered) == 0 {
		return tool.Entry{}, false
	}
	return filtered[0], true
}

// executeTool implements 4.4.3.

type executeToolArgs struct {
	ToolName  string         `json:"tool_name" jsonschema:"the tool to execute"`
	Arguments map[string]any `json:"arguments,omitempty" jsonschema:"arguments passed to the tool"`
}

func (srv *Server) executeTool(ctx context.Context, req *mcp.CallToolRequest, args executeToolArgs) (*mcp.CallToolResult, any, error) {
	headers := requestHeaders(ctx)

	// Step 1: resolve tool_name, exact or fuzzy.
	entry, ok := srv.registry.Get(args.ToolName)
	if !ok {
		var resolved bool
		entry, resolved, _ = srv.registry.FuzzyResolve(args.ToolName)
		if !resolved {
			_, _, suggestions := srv.registry.FuzzyResolve(args.ToolName)
			return errorResult("tool_not_found", "no such tool", map[string]any{"suggestions": suggestions})
		}
	}

	// Step 2: authenticate.
	user, err := srv.hooks.OnAuthenticate(ctx, headers)
	if err != nil {
		return errorResult("execution_error", "authentication failed", nil)
	}

	arguments := args.Arguments
	if arguments == nil {
		arguments = map[string]any{}
	}

	ec := &hook.ExecutionContext{
		Tool:         entry,
		Arguments:    arguments,
		Headers:      headers,
		User:         user,
		ExtraHeaders: map[string]string{},
		Metadata:     map[string]any{},
	}

	if denied := srv.hooks.BeforeExecute(ctx, ec); denied != nil {
		return errorResult(denied.Code, denied.Message, nil)
	}

	result, err := srv.manager.Execute(ctx, ec.Tool, ec.Arguments, ec.Headers, ec.ExtraHeaders)
	if err != nil {
		srv.hooks.OnError(ctx, ec, err)
		return errorResult("upstream_error", "upstream call failed", nil)
	}

	if result.IsError {
		text := contentText(result)
		payload := srv.hooks.AfterExecute(ctx, ec, map[string]any{"tool": entry.Name, "error": text}, true)
		out, _ := payload.(map[string]any)
		body, _ := json.Marshal(mergeCode(out, "execution_error"))
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(body)}}}, nil, nil
	}

	payload := srv.hooks.AfterExecute(ctx, ec, map[string]any{"tool": entry.Name, "result": resultPayload(result)}, false)
	return textResult(payload)
}

func mergeCode(m map[string]any, code string) map[string]any {
	if m == nil {
		m = map[string]any{}
	}
	m["code"] = code
	return m
}

func contentText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return "upstream reported an error"
}

func resultPayload(result *mcp.CallToolResult) any {
	if result.StructuredContent != nil {
		return result.StructuredContent
	}
	var texts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	if len(texts) == 1 {
		return texts[0]
	}
	return texts
}

// refreshRegistry implements 4.4.4.

type refreshRegistryArgs struct{}

func (srv *Server) refreshRegistry(ctx context.Context, req *mcp.CallToolRequest, args refreshRegistryArgs) (*mcp.CallToolResult, any, error) {
	diffs, failed := srv.manager.RefreshAll(ctx)
	if failed == nil {
		failed = []string{}
	}
	return textResult(map[string]any{"diffs": diffs, "failed": failed})
}
