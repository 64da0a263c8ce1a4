package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/contextgraph/internal/store"
)

func newItemsCmd(a *cliApp) *cobra.Command {
	var opts store.ItemListOpts

	cmd := &cobra.Command{
		Use:   "items",
		Short: "List extracted items",
		Long: `List extracted items, newest interaction first.

Examples:
  contextgraph items --trust high
  contextgraph items --type promise --status pending --entity jane-doe
  contextgraph items --interaction call-3f2a9c1d0b7e --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			items, err := st.ListItems(cmd.Context(), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOut {
				return writeJSON(out, itemsJSON(items))
			}
			if len(items) == 0 {
				dimColor.Fprintln(out, "No items found.")
				return nil
			}

			tw := newTable(out)
			fmt.Fprintln(tw, "ID\tTYPE\tTRUST\tSTATUS\tOWNER\tTARGET\tCONTENT")
			for _, it := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					it.ID, it.Type, it.TrustLevel, it.Status,
					orDash(party(it.OwnerName, it.OwnerEntity)), orDash(party(it.TargetName, it.TargetEntity)),
					clip(it.Content, 60))
			}
			return tw.Flush()
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.InteractionID, "interaction", "", "only items from this interaction id")
	f.StringVar(&opts.Type, "type", "", "item type")
	f.StringVar(&opts.TrustLevel, "trust", "", "trust level: high, medium, low")
	f.StringVar(&opts.Status, "status", "", "status: pending, completed, cancelled")
	f.StringVar(&opts.Entity, "entity", "", "only items owned by or targeting this entity slug")
	f.IntVar(&opts.Limit, "limit", 50, "maximum items to list")
	return cmd
}

// party renders an owner or target, preferring the linked slug.
func party(name, slug string) string {
	if slug != "" {
		return "@" + slug
	}
	return name
}

func itemsJSON(items []*store.Item) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]interface{}{
			"id":              it.ID,
			"interaction_id":  it.InteractionID,
			"type":            it.Type,
			"content":         it.Content,
			"owner":           it.OwnerName,
			"owner_entity":    it.OwnerEntity,
			"target":          it.TargetName,
			"target_entity":   it.TargetEntity,
			"source_path":     it.SourcePath,
			"source_quote":    it.SourceQuote,
			"line_range":      it.LineRange,
			"quote_timestamp": it.QuoteTimestamp,
			"trust_level":     it.TrustLevel,
			"due_date":        it.DueDate,
			"status":          it.Status,
			"confidence":      it.Confidence,
			"extracted_at":    it.ExtractedAt,
		})
	}
	return out
}

func newEntitiesCmd(a *cliApp) *cobra.Command {
	var opts store.EntityListOpts

	cmd := &cobra.Command{
		Use:   "entities [slug]",
		Short: "List registry entities, or show one entity with its items",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				e, err := st.GetEntity(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if e == nil {
					return fmt.Errorf("entity %q: %w", args[0], store.ErrNotFound)
				}
				items, err := st.ListItems(cmd.Context(), store.ItemListOpts{Entity: e.Slug, Limit: opts.Limit})
				if err != nil {
					return err
				}
				if a.jsonOut {
					return writeJSON(out, map[string]interface{}{"entity": entityJSON(e), "items": itemsJSON(items)})
				}
				printEntity(cmd, e, items)
				return nil
			}

			ents, err := st.ListEntities(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if a.jsonOut {
				views := make([]map[string]interface{}, 0, len(ents))
				for _, e := range ents {
					views = append(views, entityJSON(e))
				}
				return writeJSON(out, views)
			}
			if len(ents) == 0 {
				dimColor.Fprintln(out, "No entities found.")
				return nil
			}

			tw := newTable(out)
			fmt.Fprintln(tw, "SLUG\tNAME\tTYPE\tLAST ACTIVITY\t")
			for _, e := range ents {
				mark := ""
				if e.IsCandidate {
					mark = warnColor.Sprint("candidate")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Slug, e.Name, e.Type, formatDay(e.LastActivity), mark)
			}
			return tw.Flush()
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Type, "type", "", "entity type: person, company, product")
	f.BoolVar(&opts.CandidateOnly, "candidates", false, "only unconfirmed candidates")
	f.IntVar(&opts.Limit, "limit", 50, "maximum entities (or related items) to list")
	return cmd
}

func entityJSON(e *store.Entity) map[string]interface{} {
	v := map[string]interface{}{
		"slug":         e.Slug,
		"name":         e.Name,
		"type":         e.Type,
		"attributes":   e.Attributes,
		"is_candidate": e.IsCandidate,
	}
	if !e.LastActivity.IsZero() {
		v["last_activity"] = e.LastActivity
	}
	return v
}

func printEntity(cmd *cobra.Command, e *store.Entity, items []*store.Item) {
	out := cmd.OutOrStdout()
	headerColor.Fprintf(out, "%s (%s)\n", e.Name, e.Type)
	fmt.Fprintf(out, "  Slug:          %s\n", e.Slug)
	if e.IsCandidate {
		fmt.Fprintf(out, "  Status:        %s\n", warnColor.Sprint("candidate"))
	}
	fmt.Fprintf(out, "  Last activity: %s\n", formatDay(e.LastActivity))

	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %-14s %s\n", strings.ToUpper(k[:1])+k[1:]+":", e.Attributes[k])
	}

	fmt.Fprintf(out, "\n%d related items\n", len(items))
	for _, it := range items {
		fmt.Fprintf(out, "  [%s] %s %s\n", trustLabel(it.TrustLevel), it.Type, clip(it.Content, 70))
	}
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02")
}

func newRunsCmd(a *cliApp) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent extraction runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOut {
				views := make([]map[string]interface{}, 0, len(runs))
				for _, r := range runs {
					v := map[string]interface{}{
						"id": r.ID, "started_at": r.StartedAt, "status": r.Status,
						"options": json.RawMessage(orEmptyObject(r.Options)),
						"stats":   json.RawMessage(orEmptyObject(r.Stats)),
					}
					if r.FinishedAt != nil {
						v["finished_at"] = *r.FinishedAt
					}
					views = append(views, v)
				}
				return writeJSON(out, views)
			}
			if len(runs) == 0 {
				dimColor.Fprintln(out, "No extraction runs yet.")
				return nil
			}

			tw := newTable(out)
			fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tPROCESSED\tITEMS\tCOST\tERRORS")
			for _, r := range runs {
				started := r.StartedAt.Local().Format("2006-01-02 15:04")
				var s struct {
					InteractionsProcessed int      `json:"interactionsProcessed"`
					ItemsExtracted        int      `json:"itemsExtracted"`
					CostUSD               float64  `json:"costUsd"`
					Errors                []string `json:"errors"`
				}
				if err := json.Unmarshal([]byte(r.Stats), &s); err != nil {
					a.logger.Debug("run stats unreadable", "run", r.ID, "error", err)
					fmt.Fprintf(tw, "%s\t%s\t%s\t?\t?\t?\t?\n", r.ID, started, r.Status)
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t$%.4f\t%d\n",
					r.ID, started, r.Status,
					s.InteractionsProcessed, s.ItemsExtracted, s.CostUSD, len(s.Errors))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func orEmptyObject(s string) string {
	if s == "" || !json.Valid([]byte(s)) {
		return "{}"
	}
	return s
}
