package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"powledger/node"
)

func newIdentifierCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identifier",
		Short: "Generates a new random node identifier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), node.NewIdentifier())
			return err
		},
	}
}
