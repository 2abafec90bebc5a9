// Package cli wires configuration and components into the lexa commands.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// NewRootCmd builds the lexa command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lexa",
		Short:         "Legal document analysis service",
		Long:          "lexa extracts text from uploaded contracts and explains them with a language model.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newMCPCmd())
	root.AddCommand(newCleanupCmd())
	return root
}
