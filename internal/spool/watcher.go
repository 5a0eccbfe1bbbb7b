package spool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

const (
	// FileSuffix marks spool files. Other files are ignored.
	FileSuffix = ".jsonl"

	// DoneDir and FailedDir receive processed files.
	DoneDir   = "done"
	FailedDir = "failed"

	defaultSettle       = 500 * time.Millisecond
	defaultPollInterval = 2 * time.Second
)

// Handler ingests the spool file at path into the named index.
type Handler func(ctx context.Context, indexName, path string) error

// Options configures a Watcher.
type Options struct {
	// Dir is the spool directory.
	Dir string

	// Settle is how long a file must go without writes before it is
	// processed (default: 500ms).
	Settle time.Duration

	// PollInterval is the scan interval when fsnotify is unavailable
	// (default: 2s).
	PollInterval time.Duration

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Settle <= 0 {
		o.Settle = defaultSettle
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// IndexFromFile returns the index a spool file belongs to: the file name
// without FileSuffix, cut at the first "@". "City.name@0001.jsonl" and
// "City.name.jsonl" both feed City.name.
func IndexFromFile(name string) (string, bool) {
	base, ok := strings.CutSuffix(filepath.Base(name), FileSuffix)
	if !ok || strings.HasPrefix(base, ".") {
		return "", false
	}
	if i := strings.IndexByte(base, '@'); i >= 0 {
		base = base[:i]
	}
	return base, base != ""
}

// Watcher processes the files dropped into a spool directory, one at a
// time, once they stop changing. Processed files move to Dir/done, failed
// ones to Dir/failed next to a .err file holding the error.
type Watcher struct {
	opts    Options
	handler Handler
	logger  *slog.Logger

	// last write seen per pending file
	pending map[string]time.Time
}

// New returns a watcher over opts.Dir, creating the directory layout.
func New(opts Options, handler Handler) (*Watcher, error) {
	opts = opts.withDefaults()
	if opts.Dir == "" {
		return nil, fmt.Errorf("spool directory is required")
	}
	for _, dir := range []string{opts.Dir, filepath.Join(opts.Dir, DoneDir), filepath.Join(opts.Dir, FailedDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create spool directory: %w", err)
		}
	}
	return &Watcher{
		opts:    opts,
		handler: handler,
		logger:  opts.Logger,
		pending: make(map[string]time.Time),
	}, nil
}

// Run processes files until ctx is done. Files already present are picked
// up first. Without fsnotify the directory is polled.
func (w *Watcher) Run(ctx context.Context) error {
	w.scan()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		err = fsw.Add(w.opts.Dir)
	}
	if err != nil {
		w.logger.Warn("spool_fsnotify_unavailable", slog.String("error", err.Error()))
		if fsw != nil {
			_ = fsw.Close()
			fsw = nil
		}
	} else {
		defer func() { _ = fsw.Close() }()
		events, errs = fsw.Events, fsw.Errors
	}

	tick := w.opts.Settle / 2
	if fsw == nil {
		tick = w.opts.PollInterval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	w.logger.Info("spool_watching", slog.String("dir", w.opts.Dir), slog.Bool("fsnotify", fsw != nil))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.touch(ev.Name)
			}
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			w.logger.Warn("spool_watch_error", slog.String("error", err.Error()))
		case <-ticker.C:
			if fsw == nil {
				w.scan()
			}
			w.processSettled(ctx)
		}
	}
}

// touch records a write to path if it is a spool file.
func (w *Watcher) touch(path string) {
	if filepath.Dir(path) != filepath.Clean(w.opts.Dir) {
		return
	}
	if _, ok := IndexFromFile(path); !ok {
		return
	}
	w.pending[path] = time.Now()
}

// scan marks every spool file in the directory as pending, keeping the
// timestamps of files already pending.
func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		w.logger.Warn("spool_scan_failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(w.opts.Dir, e.Name())
		if _, seen := w.pending[path]; !seen {
			w.touch(path)
		}
	}
}

func (w *Watcher) processSettled(ctx context.Context) {
	cutoff := time.Now().Add(-w.opts.Settle)

	var ready []string
	for path, last := range w.pending {
		if last.Before(cutoff) {
			ready = append(ready, path)
		}
	}
	// Files are processed in name order so numbered batches apply in sequence
	sort.Strings(ready)

	for _, path := range ready {
		if ctx.Err() != nil {
			return
		}
		delete(w.pending, path)
		w.process(ctx, path)
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return
	}

	name, _ := IndexFromFile(path)
	start := time.Now()
	err := w.handler(ctx, name, path)

	base := filepath.Base(path)
	if err == nil {
		w.logger.Info("spool_file_ingested",
			slog.String("file", base),
			slog.String("index", name),
			slog.Duration("took", time.Since(start)))
		w.move(path, destination(filepath.Join(w.opts.Dir, DoneDir), base))
		return
	}

	w.logger.Warn("spool_file_failed",
		slog.String("file", base),
		slog.String("index", name),
		slog.String("error", err.Error()))
	failed := destination(filepath.Join(w.opts.Dir, FailedDir), base)
	w.move(path, failed)
	_ = os.WriteFile(failed+".err", []byte(err.Error()+"\n"), 0o644)
}

// destination returns dir/base, or a uuid-suffixed name when a file of
// that name was already processed.
func destination(dir, base string) string {
	to := filepath.Join(dir, base)
	if _, err := os.Lstat(to); errors.Is(err, os.ErrNotExist) {
		return to
	}
	stem := strings.TrimSuffix(base, FileSuffix)
	return filepath.Join(dir, stem+"."+uuid.NewString()[:8]+FileSuffix)
}

func (w *Watcher) move(from, to string) {
	if err := os.Rename(from, to); err != nil {
		w.logger.Error("spool_move_failed",
			slog.String("from", from),
			slog.String("to", to),
			slog.String("error", err.Error()))
	}
}
