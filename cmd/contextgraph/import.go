package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/contextgraph/internal/ingest"
	"github.com/hurttlocker/contextgraph/internal/store"
)

func errUnknownType(t string) error {
	return fmt.Errorf("unknown interaction type %q (supported: %s, %s, %s)", t, ingest.KindCall, ingest.KindEmail, ingest.KindChat)
}

func newImportCmd(a *cliApp) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "import <path>...",
		Short: "Register call folders, email folders or chat logs as interactions",
		Long: `Register sources so extraction can select them. The type is detected from
the path unless --type is given:
  call   folder with transcript.txt (plus metadata.json and optional notes.md)
  email  folder with body.md and metadata.json
  chat   markdown file with a "# Title" header ended by ---

Re-importing a path keeps its interaction id.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind != "" && ingest.AdapterFor(ingest.DefaultAdapters(), kind) == nil {
				return errUnknownType(kind)
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			adapters := ingest.DefaultAdapters()
			var imported []*store.Interaction
			failed := 0
			for _, path := range args {
				in, err := ingest.ImportInteraction(cmd.Context(), st, adapters, path, kind)
				if err != nil {
					failed++
					a.logger.Error("import failed", "path", path, "error", err)
					continue
				}
				imported = append(imported, in)
			}

			out := cmd.OutOrStdout()
			if a.jsonOut {
				views := make([]map[string]interface{}, 0, len(imported))
				for _, in := range imported {
					views = append(views, map[string]interface{}{
						"id": in.ID, "type": in.Type, "source_path": in.SourcePath,
						"title": in.Title, "timestamp": in.Timestamp,
					})
				}
				if err := writeJSON(out, views); err != nil {
					return err
				}
			} else {
				for _, in := range imported {
					fmt.Fprintf(out, "%s  %s  %s\n", okColor.Sprint(in.ID), in.Title, dimColor.Sprint(in.SourcePath))
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d paths failed to import", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "type", "", "interaction type (call, email, chat); detected when empty")
	return cmd
}
