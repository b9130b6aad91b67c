package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tollgate/tollgate/internal/domain/identity"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate SHA256 hash for an agent API key",
	Long: `Generate a SHA256 hash of an agent API key for seeding the agents
table's key_hash column.

Example:
  tollgate hash-key "my-secret-api-key"
  # Output: 7d5e8c...

Security note: the key will appear in shell history. Consider clearing
history after use or passing it via an environment variable:
  tollgate hash-key "$AGENT_API_KEY"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(identity.HashKey(args[0]))
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
