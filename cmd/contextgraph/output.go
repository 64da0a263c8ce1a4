package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/hurttlocker/contextgraph/internal/extract"
)

var (
	headerColor = color.New(color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	errColor    = color.New(color.FgRed)
	dimColor    = color.New(color.Faint)
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTable aligns columns. Cells must stay uncolored: tabwriter counts ANSI
// escape bytes as width.
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func trustLabel(level string) string {
	switch extract.TrustLevel(level) {
	case extract.TrustHigh:
		return okColor.Sprint(level)
	case extract.TrustMedium:
		return warnColor.Sprint(level)
	default:
		return errColor.Sprint(level)
	}
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// printStats prints a run summary.
func printStats(w io.Writer, s *extract.Stats) {
	headerColor.Fprintf(w, "Extraction run %s\n", s.RunID)
	fmt.Fprintf(w, "  Interactions processed: %d of %d\n", s.InteractionsProcessed, s.InteractionsSelected)
	fmt.Fprintf(w, "  Items extracted:        %d", s.ItemsExtracted)
	if s.ItemsDropped > 0 {
		warnColor.Fprintf(w, " (%d dropped)", s.ItemsDropped)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Entities resolved:      %d (%d new)\n", s.EntitiesResolved, s.EntitiesCreated)
	fmt.Fprintf(w, "  Tokens:                 %d in / %d out\n", s.TokensUsed.Input, s.TokensUsed.Output)
	fmt.Fprintf(w, "  Estimated cost:         $%.4f\n", s.CostUSD)
	fmt.Fprintf(w, "  Duration:               %s\n", s.Duration)

	if len(s.Errors) == 0 {
		okColor.Fprintln(w, "  No errors")
		return
	}
	errColor.Fprintf(w, "  Errors (%d):\n", len(s.Errors))
	for _, e := range s.Errors {
		fmt.Fprintf(w, "    - %s\n", e)
	}
}
