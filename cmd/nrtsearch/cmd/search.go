package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nrtsearch/internal/index"
	"github.com/Aman-CERP/nrtsearch/internal/output"
	"github.com/Aman-CERP/nrtsearch/internal/telemetry"
)

type searchOptions struct {
	limit  int
	format string // "text", "json"
}

func newSearchCmd(a *app) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <index> [query...]",
		Short: "Search an index",
		Long: `Search an index with the bleve query string syntax.

An empty query matches every document.`,
		Example: `  nrtsearch search City.name rome
  nrtsearch search City.name 'name:rome tags:capital' --limit 5
  nrtsearch search City.name rome --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, a, args[0], strings.Join(args[1:], " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default: search.default_limit)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, a *app, name, query string, opts searchOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q (use text or json)", opts.format)
	}
	a.warnIfMemory()

	reg, lc, err := a.openIndex(ctx, name)
	if err != nil {
		return err
	}
	defer func() { _ = reg.CloseAll() }()

	limit := opts.limit
	if limit <= 0 {
		limit = a.cfg.Search.DefaultLimit
	}

	vars := telemetry.NewVariables()
	res, err := lc.Search(ctx, index.SearchRequest{
		Query:   query,
		Limit:   limit,
		Context: vars,
	})
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	out := output.New(cmd.OutOrStdout())
	if len(res.Hits) == 0 {
		out.Warningf("No results for %q", query)
		return nil
	}

	rows := make([][]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		rows = append(rows, []string{h.RecordID, fmt.Sprintf("%.3f", h.Score), formatFields(h.Fields)})
	}
	out.Table([]string{"RECORD", "SCORE", "FIELDS"}, rows)
	out.Newline()

	lt, _ := vars.Variable(telemetry.LookupTimeName(name))
	if lookup, ok := lt.(telemetry.LookupTime); ok {
		out.Dim(fmt.Sprintf("%d of %d hits in %s (generation %d)", lookup.ReturnedHits, lookup.TotalHits, lookup.TotalTime, res.Generation))
	}
	return nil
}

// formatFields renders stored fields as name=v1|v2, sorted by name.
func formatFields(fields map[string][]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+strings.Join(fields[name], "|"))
	}
	return strings.Join(parts, " ")
}
