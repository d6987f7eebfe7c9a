package main

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the entry point when fprime-mcp is called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "fprime-mcp",
	Short: "F-Prime MCP gateway",
	Long: `fprime-mcp serves F-Prime's internal tools to MCP clients behind an
Entra ID login. Configuration is read from the environment.`,
	SilenceUsage: true,
}

func execute() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(`{{printf "fprime-mcp version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
