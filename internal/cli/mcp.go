package cli

import (
	"github.com/spf13/cobra"

	"github.com/duynguyendang/lexa/pkg/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve session and analysis tools over MCP stdio",
		Long: "Serve session and analysis tools over MCP stdio. With the sqlite session " +
			"backend the tools see the sessions of a running lexa serve.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol
			cfg, logger, err := loadConfig("stderr")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			return mcp.Run(mcp.New(a.pipeline, a.engine, a.extractor, logger), Version)
		},
	}
}
