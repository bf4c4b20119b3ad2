// Package main is the entry point for the heartbridge CLI.
//
// heartbridge can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	heartbridge serve -c config.yaml    # Start the bridge
//	heartbridge validate -c config.yaml # Validate configuration
//	heartbridge version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "heartbridge",
	Short: "Relay live heart rate from HypeRate to VRChat over OSC",
	Long: `heartbridge follows a HypeRate session and republishes every heart-rate
sample as OSC datagrams: a chat box line and three digit channels for
avatar parameters.

Quick start:
  1. Create a config file (heartbridge.yaml)
  2. Run: heartbridge serve -c heartbridge.yaml
  3. Start a session: curl -X POST localhost:8080/api/session -d '{"session_id":"abc123"}'

Example config:
  port: 8080
  session_id: abc123
  osc:
    host: localhost
    port: 9000
  formatting:
    text_template: "❤ {heartRate} {clock}"
    show_trend_arrow: true`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this heartbridge binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("heartbridge %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
