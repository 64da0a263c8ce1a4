package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/contextgraph/internal/extract"
	"github.com/hurttlocker/contextgraph/internal/ingest"
)

func newExtractCmd(a *cliApp) *cobra.Command {
	var opts extract.RunOptions

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run LLM extraction over stored interactions",
		Long: `Run extraction over interactions that have no items yet, newest first.

Each interaction is sent to the model once; items and entities are written
before moving on. Failures are reported per interaction and never stop the
batch. Interrupting waits for the interaction in flight to finish.

Examples:
  contextgraph extract                     # everything not yet extracted
  contextgraph extract --type call --limit 5
  contextgraph extract --force             # re-extract and replace items`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Type != "" && ingest.AdapterFor(ingest.DefaultAdapters(), opts.Type) == nil {
				return errUnknownType(opts.Type)
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			runner, err := a.newRunner(st)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, err := runner.Run(ctx, opts)
			if stats != nil {
				if a.jsonOut {
					if jerr := writeJSON(cmd.OutOrStdout(), stats); jerr != nil {
						return jerr
					}
				} else {
					printStats(cmd.OutOrStdout(), stats)
				}
			}
			if errors.Is(err, context.Canceled) && stats != nil {
				a.logger.Warn("extraction interrupted", "processed", stats.InteractionsProcessed)
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "only process this interaction type (call, email, chat)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum interactions to process (0 = all)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "re-extract interactions that already have items")
	return cmd
}
