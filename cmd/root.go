package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the mcp-dispatch application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mcp-dispatch",
	Short: "MCP tool-dispatch router for backend capabilities",
	Long: `mcp-dispatch is a Model Context Protocol (MCP) server that routes tool
operations to backend capabilities: metric queries, log search, cluster command
execution and remote MCP servers. Capabilities are declared in a YAML file that
is reloaded on change; sessions remember which capability served them last so
that ambiguous operations resolve the way the conversation expects.

When run without subcommands, it starts the MCP server (equivalent to 'mcp-dispatch serve').`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcp-dispatch version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCapabilitiesCmd())
}
