package server

import (
	"fmt"
	"strings"

	"github.com/mcpgateway/gateway/internal/config"
	"github.com/mcpgateway/gateway/internal/domain/registry"
)

const workflowDescription = "This gateway exposes a progressive discovery workflow instead of one tool " +
	"per upstream capability: call discover_tools to browse domains and tools, get_tool_schema to fetch " +
	"the full input schema for a specific tool, execute_tool to invoke it, and refresh_registry to pick " +
	"up upstream changes without restarting."

// buildInstructions builds the MCP InitializeResult.instructions field from
// the current registry snapshot: the workflow description plus one line per
// domain. If cfg.Instructions is set, it always wins and is never
// regenerated on refresh.
func buildInstructions(cfg *config.Config, reg *registry.Registry) string {
	if cfg.Instructions != "" {
		return cfg.Instructions
	}

	domains := reg.ListDomains()
	if len(domains) == 0 {
		return workflowDescription
	}

	var b strings.Builder
	b.WriteString(workflowDescription)
	b.WriteString("\n\n")
	for _, d := range domains {
		desc := d.Description
		if desc == "" {
			desc = "no description"
		}
		fmt.Fprintf(&b, "%s (%d tools): %s\n", d.Name, d.ToolCount, desc)
	}
	return strings.TrimRight(b.String(), "\n")
}
