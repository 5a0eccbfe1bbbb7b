package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Aman-CERP/nrtsearch/internal/index"
)

// Target is the index a rebuild writes to. *index.Lifecycle implements it.
type Target interface {
	SetRebuilding(rebuilding bool)
	Clear() (index.Generation, error)
	AddDocument(doc index.Document) (index.Generation, error)
	Commit() error
}

// Source emits the records of the rebuilt index. It stops early when emit
// returns an error and must honor ctx.
type Source func(ctx context.Context, emit func(index.Document) error) error

// Rebuilder clears an index and refills it from a Source in a background
// goroutine. The target is flagged as rebuilding for the whole run.
type Rebuilder struct {
	target   Target
	source   Source
	progress *Progress
	logger   *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	mu       sync.Mutex
	running  bool
	started  bool
	stopOnce sync.Once
	err      error
}

// NewRebuilder prepares a rebuild of target from source. total is the
// expected record count, or zero when unknown.
func NewRebuilder(target Target, source Source, total int, logger *slog.Logger) *Rebuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rebuilder{
		target:   target,
		source:   source,
		progress: NewProgress(total),
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Progress returns the progress tracker of the rebuild.
func (r *Rebuilder) Progress() *Progress {
	return r.progress
}

// IsRunning reports whether the rebuild goroutine is running.
func (r *Rebuilder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start begins the rebuild and returns immediately. A Rebuilder runs once;
// later calls do nothing.
func (r *Rebuilder) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.running = true
	r.mu.Unlock()

	go r.run(ctx)
}

func (r *Rebuilder) run(ctx context.Context) {
	defer close(r.doneCh)
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	r.target.SetRebuilding(true)
	defer r.target.SetRebuilding(false)

	if err := r.rebuild(ctx); err != nil {
		r.progress.setError(err.Error())
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		r.logger.Warn("index_rebuild_failed", slog.String("error", err.Error()))
		return
	}

	snap := r.progress.Snapshot()
	r.progress.setReady()
	r.logger.Info("index_rebuilt",
		slog.Int("documents", snap.Processed),
		slog.Int64("generation", int64(snap.Generation)))
}

func (r *Rebuilder) rebuild(ctx context.Context) error {
	if _, err := r.target.Clear(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}

	err := r.source(ctx, func(doc index.Document) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		gen, err := r.target.AddDocument(doc)
		if err != nil {
			return err
		}
		r.progress.advance(gen)
		return nil
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := r.target.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Stop cancels a running rebuild and waits for it to finish. Documents
// added so far stay pending in the writer until the next commit or rollback.
func (r *Rebuilder) Stop() {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return
	}

	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

// Wait blocks until the rebuild finishes and returns its error. Before
// Start it returns nil at once.
func (r *Rebuilder) Wait() error {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return nil
	}

	<-r.doneCh
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
