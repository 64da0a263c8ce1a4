package main

import (
	"github.com/spf13/cobra"

	"github.com/hurttlocker/contextgraph/internal/extract"
	cgmcp "github.com/hurttlocker/contextgraph/internal/mcp"
)

func newMCPCmd(a *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve contextgraph tools over MCP (stdio)",
		Long: `Serve the Model Context Protocol over stdin/stdout so agents can list items,
look up entities, import sources and trigger extraction.

Without an API key for the selected provider the server still starts;
only contextgraph_extract reports an error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			var runner *extract.Runner
			if r, err := a.newRunner(st); err != nil {
				a.logger.Warn("extraction tool disabled", "error", err)
			} else {
				runner = r
			}

			return cgmcp.Serve(cgmcp.ServerConfig{Store: st, Runner: runner, Version: version})
		},
	}
}
