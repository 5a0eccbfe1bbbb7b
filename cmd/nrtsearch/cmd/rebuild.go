package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nrtsearch/internal/async"
	"github.com/Aman-CERP/nrtsearch/internal/index"
	"github.com/Aman-CERP/nrtsearch/internal/output"
	"github.com/Aman-CERP/nrtsearch/internal/spool"
)

const progressInterval = 200 * time.Millisecond

func newRebuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild <index> <file>",
		Short: "Replace the contents of an index with JSONL records",
		Long: `Clear the index and refill it from a JSONL file in the same format
as ingest, then commit. The index reports itself as rebuilding until the
commit. A failed rebuild is rolled back to the last commit.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebuild(cmd.Context(), cmd, a, args[0], args[1])
		},
	}
}

func runRebuild(ctx context.Context, cmd *cobra.Command, a *app, name, path string) error {
	a.warnIfMemory()
	out := output.New(cmd.OutOrStdout())

	total, err := countFile(path)
	if err != nil {
		return err
	}

	reg, lc, err := a.openIndex(ctx, name)
	if err != nil {
		return err
	}
	defer func() { _ = reg.CloseAll() }()

	r := async.NewRebuilder(lc, fileSource(path), total, a.logger)
	r.Start(ctx)

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	done := make(chan error, 1)
	go func() { done <- r.Wait() }()

	for {
		select {
		case err := <-done:
			if err != nil {
				// Drop what the writer has not applied yet
				_ = lc.Rollback(context.Background())
				return err
			}
			snap := r.Progress().Snapshot()
			out.Progress(snap.Processed, snap.Total, name)
			out.Successf("Rebuilt %s with %d documents (generation %d)", name, snap.Processed, snap.Generation)
			return nil
		case <-ticker.C:
			snap := r.Progress().Snapshot()
			out.Progress(snap.Processed, snap.Total, name)
		}
	}
}

// fileSource streams the records of path.
func fileSource(path string) async.Source {
	return func(_ context.Context, emit func(index.Document) error) error {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer func() { _ = f.Close() }()
		return spool.ReadRecords(f, emit)
	}
}

func countFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open input: %w", err)
	}
	defer func() { _ = f.Close() }()
	return spool.CountRecords(f)
}
