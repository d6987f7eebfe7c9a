// Command fprime-mcp runs the F-Prime MCP gateway.
package main

// version can be set during build with -ldflags.
var version = "dev"

func main() {
	execute()
}
