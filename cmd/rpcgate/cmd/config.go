package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rpcgate/rpcgate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and print the effective configuration",
	Long: `Load the configuration (file, environment, defaults), validate it,
and print the effective result as YAML.

Secrets are redacted.

Examples:
  rpcgate config
  rpcgate --config /path/to/config.yaml config`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	if file := config.ConfigFileUsed(); file != "" {
		fmt.Fprintf(os.Stderr, "# config file: %s\n", file)
	} else {
		fmt.Fprintln(os.Stderr, "# no config file found (defaults and environment only)")
	}

	if cfg.Auth.TokenHash != "" {
		cfg.Auth.TokenHash = "<redacted>"
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}
