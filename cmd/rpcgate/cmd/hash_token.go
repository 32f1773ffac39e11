package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpcgate/rpcgate/internal/domain/auth"
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Generate a hash for a bearer token",
	Long: `Generate an Argon2id hash of a bearer token for use in config.

The output is a PHC-format string for the auth.token_hash field.

Example:
  rpcgate hash-token "my-secret-token"
  # Output: $argon2id$v=19$m=48128,t=1,p=1$...

Security note: The token will appear in shell history.
Consider clearing history after use or using an environment variable:
  rpcgate hash-token "$MY_TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashToken(args[0])
		if err != nil {
			return fmt.Errorf("failed to hash token: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashTokenCmd)
}
