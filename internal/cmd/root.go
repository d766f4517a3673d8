package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ccm",
	Short: "Orchestrator for terminal coding-agent sessions",
	Long: `ccm supervises interactive coding-agent sessions, one per git
worktree. Each session is a detached terminal-multiplexer window with a
loopback web-terminal gateway in front of it, reverse-proxied under
/t/<sid>/ and driven from the browser over a WebSocket protocol.`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
