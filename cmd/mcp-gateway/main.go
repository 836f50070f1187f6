// Command mcp-gateway runs the progressive tool-discovery gateway.
package main

import "github.com/mcpgateway/gateway/cmd/mcp-gateway/cmd"

func main() {
	cmd.Execute()
}
