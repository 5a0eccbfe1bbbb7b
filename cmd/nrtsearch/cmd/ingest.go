package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nrtsearch/internal/index"
	"github.com/Aman-CERP/nrtsearch/internal/output"
	"github.com/Aman-CERP/nrtsearch/internal/spool"
)

func newIngestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <index> [file]",
		Short: "Add JSONL records to an index",
		Long: `Read one JSON record per line and add it to the index, then commit.

Each line is {"record_id": "#12:1", "fields": {"name": ["Rome"]}}.
Records without a record_id get a generated one. Reads stdin when no
file is given or the file is "-".`,
		Example: `  nrtsearch ingest City.name cities.jsonl
  cat cities.jsonl | nrtsearch ingest City.name`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 2 && args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return fmt.Errorf("failed to open input: %w", err)
				}
				defer func() { _ = f.Close() }()
				in = f
			}
			return runIngest(cmd.Context(), cmd, a, args[0], in)
		},
	}
	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, a *app, name string, in io.Reader) error {
	a.warnIfMemory()
	out := output.New(cmd.OutOrStdout())

	reg, lc, err := a.openIndex(ctx, name)
	if err != nil {
		return err
	}
	defer func() { _ = reg.CloseAll() }()

	count, gen, err := ingestRecords(lc, in)
	if err != nil {
		return err
	}

	a.logger.Info("ingest_complete", slog.String("index", name), slog.Int("documents", count), slog.Int64("generation", int64(gen)))
	out.Successf("Ingested %d documents into %s (generation %d)", count, name, gen)
	return nil
}

// ingestRecords adds every record of in to lc and commits. It returns the
// number of records and the generation of the last one.
func ingestRecords(lc *index.Lifecycle, in io.Reader) (int, index.Generation, error) {
	var (
		count int
		gen   index.Generation
	)
	err := spool.ReadRecords(in, func(doc index.Document) error {
		g, err := lc.AddDocument(doc)
		if err != nil {
			return err
		}
		gen = g
		count++
		return nil
	})
	if err != nil {
		return count, gen, err
	}
	return count, gen, lc.Commit()
}
