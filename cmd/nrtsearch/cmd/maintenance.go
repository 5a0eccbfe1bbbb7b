package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nrtsearch/internal/output"
	"github.com/Aman-CERP/nrtsearch/internal/spool"
	"github.com/Aman-CERP/nrtsearch/internal/store"
)

func newCountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count <index>",
		Short: "Print the number of documents in an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.warnIfMemory()
			reg, lc, err := a.openIndex(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer func() { _ = reg.CloseAll() }()

			n, err := lc.Size()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
			return err
		},
	}
}

func newDumpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <index>",
		Short: "Write every stored document as JSONL",
		Long: `Write every document of the current view as one JSON object per line.
Only stored fields are included.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.warnIfMemory()
			reg, lc, err := a.openIndex(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer func() { _ = reg.CloseAll() }()

			it, err := lc.Iterator()
			if err != nil {
				return err
			}
			defer func() { _ = it.Close() }()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				e, ok, err := it.Next()
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				if err := enc.Encode(spool.Record{RecordID: e.RecordID, Fields: e.Fields}); err != nil {
					return err
				}
			}
		},
	}
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <index>",
		Short: "Remove every document from an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, lc, err := a.openIndex(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer func() { _ = reg.CloseAll() }()

			gen, err := lc.Clear()
			if err != nil {
				return err
			}
			if err := lc.Commit(); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Cleared %s (generation %d)", args[0], gen)
			return nil
		},
	}
}

func newDropCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <index>",
		Short: "Delete an index and its directory",
		Long: `Delete the index directory. The storage base directory is removed
too once no index is left in it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.newRegistry()
			if err != nil {
				return err
			}
			if err := reg.Drop(args[0]); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Dropped %s", args[0])
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the declared indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			if len(a.cfg.Indexes) == 0 {
				out.Warning("No indexes declared")
				return nil
			}

			rows := make([][]string, 0, len(a.cfg.Indexes))
			for _, ic := range a.cfg.Indexes {
				onDisk := "-"
				if a.storage().Durable() {
					onDisk = strconv.FormatBool(store.Exists(a.cfg.Storage.Path, ic.Name))
				}
				analyzer := ic.Analyzer
				if analyzer == "" {
					analyzer = "standard"
				}
				rows = append(rows, []string{ic.Name, ic.Class, fmt.Sprint(ic.Fields), analyzer, onDisk})
			}
			out.Table([]string{"NAME", "CLASS", "FIELDS", "ANALYZER", "ON DISK"}, rows)
			return nil
		},
	}
}
