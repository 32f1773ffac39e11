// Package cmd provides the CLI commands for rpcgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rpcgate/rpcgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "rpcgate",
	Short: "rpcgate - JSON-RPC server gateway",
	Long: `rpcgate is a JSON-RPC 2.0 server over HTTP and WebSocket with a
security-first bootstrap: Host allow-listing against DNS rebinding,
CORS origin filtering, resource ceilings, and CEL call policies.

Quick start:
  1. Create a config file: rpcgate.yaml
  2. Run: rpcgate start

Configuration:
  Config is loaded from rpcgate.yaml in the current directory,
  $HOME/.rpcgate/, or /etc/rpcgate/.

  Environment variables can override config values with the RPCGATE_ prefix.
  Example: RPCGATE_SERVER_LOG_LEVEL=debug

Commands:
  start       Start the RPC server
  stop        Stop the running server
  config      Validate and print the effective configuration
  hash-token  Generate a hash for a bearer token
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
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./rpcgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
