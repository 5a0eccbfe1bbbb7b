package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nrtsearch/internal/index"
	"github.com/Aman-CERP/nrtsearch/internal/server"
	"github.com/Aman-CERP/nrtsearch/internal/spool"
)

func newServeCmd(a *app) *cobra.Command {
	var addr, spoolDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve every declared index over HTTP",
		Long: `Open every index declared in the configuration and serve them over
HTTP until interrupted. Pending writes are committed on shutdown.

With a spool directory, files named <index>.jsonl (or <index>@<suffix>.jsonl)
dropped there are ingested and moved to done/ or failed/.`,
		Example: `  nrtsearch serve
  nrtsearch serve --addr :8790
  nrtsearch serve --spool ./spool`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			if spoolDir != "" {
				a.cfg.Server.SpoolDir = spoolDir
			}
			return runServe(cmd.Context(), a)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&spoolDir, "spool", "", "Directory watched for JSONL drop files (overrides server.spool_dir)")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := index.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	reg, err := a.openIndexes(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.CloseAll(); err != nil {
			a.logger.Error("index_close_failed", slog.String("error", err.Error()))
		}
	}()

	spoolDone := make(chan struct{})
	if dir := a.cfg.Server.SpoolDir; dir != "" {
		w, err := spool.New(spool.Options{Dir: dir, Logger: a.logger}, spoolHandler(reg))
		if err != nil {
			return err
		}
		go func() {
			defer close(spoolDone)
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("spool_stopped", slog.String("error", err.Error()))
			}
		}()
	} else {
		close(spoolDone)
	}

	srv := server.New(reg, server.Config{
		Addr:         a.cfg.Server.Addr,
		DefaultLimit: a.cfg.Search.DefaultLimit,
		Logger:       a.logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		stop()
		<-spoolDone
		return err
	case <-ctx.Done():
	}

	<-spoolDone
	if err := srv.Shutdown(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return <-errCh
}

// spoolHandler ingests a drop file into the registered index it names.
func spoolHandler(reg *index.Registry) spool.Handler {
	return func(_ context.Context, name, path string) error {
		lc, ok := reg.Get(name)
		if !ok {
			return fmt.Errorf("index %q is not open", name)
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		_, _, err = ingestRecords(lc, f)
		return err
	}
}
