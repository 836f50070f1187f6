// Package cmd provides the gateway's CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpgateway/gateway/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "mcp-gateway",
	Short: "Progressive tool-discovery gateway for MCP servers",
	Long: `mcp-gateway fronts one or more upstream MCP servers behind a single
endpoint that exposes four meta-tools - discover_tools, get_tool_schema,
execute_tool, and refresh_registry - instead of flattening every upstream
tool into the model's context window.

Configuration is entirely environment-variable driven (GATEWAY_* and
LOG_LEVEL); there is no config file.

Commands:
  start       Start the gateway
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(config.InitViper)
}
