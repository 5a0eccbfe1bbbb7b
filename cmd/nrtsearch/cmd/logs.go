package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nrtsearch/internal/logging"
	"github.com/Aman-CERP/nrtsearch/internal/output"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	index   string
	filter  string
	noColor bool
	file    string
}

func newLogsCmd(a *app) *cobra.Command {
	opts := logsOptions{}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View nrtsearch logs",
		Long: `Show the last lines of the JSON log file written when logging.file is
set or --debug is used. Use -f to follow new entries.`,
		Example: `  nrtsearch logs -n 100
  nrtsearch logs -f --index City.name
  nrtsearch logs --level warn --filter reopen`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd.Context(), cmd, a, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.index, "index", "", "Only entries about this index")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Only lines matching this regular expression")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&opts.file, "file", "", "Log file (default: logging.file, else the debug log)")
	return cmd
}

func runLogs(ctx context.Context, cmd *cobra.Command, a *app, opts logsOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.level != "" && !logging.ValidLevel(opts.level) {
		return fmt.Errorf("invalid level %q", opts.level)
	}

	var pattern *regexp.Regexp
	if opts.filter != "" {
		p, err := regexp.Compile(opts.filter)
		if err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
		pattern = p
	}

	path := opts.file
	if path == "" {
		path = a.cfg.Logging.File
	}
	if path == "" {
		path = logging.DefaultLogPath()
	}

	out := cmd.OutOrStdout()
	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:   opts.level,
		Index:   opts.index,
		Pattern: pattern,
		NoColor: opts.noColor || !output.IsTTY(out) || output.NoColor(),
	}, out)

	if !opts.follow {
		entries, err := viewer.Tail(path, opts.lines)
		if err != nil {
			return err
		}
		viewer.Print(entries)
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	entries := make(chan logging.Entry, 100)
	errCh := make(chan error, 1)
	go func() { errCh <- viewer.Follow(ctx, path, entries) }()

	for {
		select {
		case e := <-entries:
			viewer.Print([]logging.Entry{e})
		case err := <-errCh:
			return err
		}
	}
}
