// Command contextgraph turns call transcripts, emails and chats into a
// queryable knowledge base of commitments, decisions and the people and
// companies behind them.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/contextgraph/internal/config"
	"github.com/hurttlocker/contextgraph/internal/extract"
	"github.com/hurttlocker/contextgraph/internal/llm"
	"github.com/hurttlocker/contextgraph/internal/store"
)

var version = "0.1.0-dev"

// cliApp carries resolved settings from the root command to subcommands.
type cliApp struct {
	opts    config.ResolveOptions
	jsonOut bool

	cfg    config.ResolvedConfig
	logger *slog.Logger
	errOut io.Writer

	newProvider func(llm.Config) (llm.Provider, error)
}

func newApp() *cliApp {
	return &cliApp{errOut: os.Stderr, newProvider: llm.NewProvider}
}

func main() {
	if err := newRootCmd(newApp()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *cliApp) *cobra.Command {
	root := &cobra.Command{
		Use:   "contextgraph",
		Short: "Extract commitments, decisions and entities from conversations",
		Long: `contextgraph reads call transcripts, email threads and chat logs, asks a
language model to pull out promises, action items, decisions, questions,
metrics and deal mentions with their evidence quotes, and resolves every
person, company and product into a deduplicated registry.

Examples:
  contextgraph import ~/calls/2025-03-04-acme      # register a call folder
  contextgraph extract --limit 10                  # extract new interactions
  contextgraph items --trust high --entity jane-doe
  contextgraph entities --candidates
  contextgraph mcp                                 # serve tools over stdio`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.ResolveConfig(a.opts)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(a.errOut, cfg.LogFormat.Value, cfg.LogLevel.Value)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.opts.ConfigPath, "config", "", "config file (default ~/.contextgraph/config.yaml)")
	pf.StringVar(&a.opts.CLIDBPath, "db", "", "database path (default ~/.contextgraph/contextgraph.db)")
	pf.StringVar(&a.opts.CLILLM, "llm", "", "model as provider/model, e.g. anthropic/"+llm.DefaultModel)
	pf.StringVar(&a.opts.CLILogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.opts.CLILogFormat, "log-format", "", "log format: text or json")
	pf.BoolVar(&a.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newExtractCmd(a),
		newImportCmd(a),
		newItemsCmd(a),
		newEntitiesCmd(a),
		newRunsCmd(a),
		newMCPCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *cliApp) openStore() (store.Store, error) {
	st, err := store.NewStore(store.StoreConfig{DBPath: a.cfg.DBPath.Value})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

// newRunner builds an extraction runner. It fails fast when the selected
// provider has no API key.
func (a *cliApp) newRunner(st store.Store) (*extract.Runner, error) {
	llmCfg, err := a.cfg.LLMConfig()
	if err != nil {
		return nil, err
	}
	provider, err := a.newProvider(llmCfg)
	if err != nil {
		return nil, err
	}
	rc, err := a.cfg.RunnerConfig(a.logger)
	if err != nil {
		return nil, err
	}
	return extract.NewRunner(st, provider, rc), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "contextgraph %s\n", version)
			return nil
		},
	}
}
