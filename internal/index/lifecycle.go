package index

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/nrtsearch/internal/analysis"
	ierrors "github.com/Aman-CERP/nrtsearch/internal/errors"
	"github.com/Aman-CERP/nrtsearch/internal/schema"
	"github.com/Aman-CERP/nrtsearch/internal/store"
	"github.com/Aman-CERP/nrtsearch/internal/telemetry"
)

// Options configures a Lifecycle.
type Options struct {
	// Schema resolves the class and property metadata of indexed fields.
	Schema schema.Schema

	// Analyzers resolves Metadata.Analyzer. Defaults to analysis.Default().
	Analyzers *analysis.Registry

	// Reopen bounds the staleness of published views.
	Reopen ReopenConfig

	// AcquireTimeout applies to acquires whose context has no deadline.
	// Zero waits as long as the context allows.
	AcquireTimeout time.Duration

	// QueryCacheSize is the number of parsed queries kept per index.
	QueryCacheSize int

	// Logger receives lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger
}

// Lifecycle owns one index: its store, writer, view manager and reopen
// coordinator. All methods are safe for concurrent use.
type Lifecycle struct {
	opts   Options
	clock  Clock
	logger *slog.Logger

	rebuilding atomic.Bool

	mu      sync.RWMutex
	state   State
	def     Definition
	storage Storage
	md      Metadata
	st      *store.Store
	writer  *Writer
	views   *ViewManager
	coord   *ReopenCoordinator
	queries *queryCache

	// rollbacks counts rollbacks so acquires can tell them from reopens.
	rollbacks uint64

	queryMetrics *telemetry.QueryMetrics
}

// NewLifecycle returns a closed lifecycle.
func NewLifecycle(opts Options) *Lifecycle {
	if opts.Analyzers == nil {
		opts.Analyzers = analysis.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Lifecycle{
		opts:         opts,
		logger:       opts.Logger,
		state:        StateClosed,
		queryMetrics: telemetry.NewQueryMetrics(),
	}
}

// Open opens the index described by def. A non-empty storage path selects
// a durable directory store, otherwise the store lives in memory. Open is
// idempotent: on an open index it returns the current state unchanged.
// When the store cannot be opened the index stays Closed and the error is
// StoreUnavailable.
func (l *Lifecycle) Open(ctx context.Context, def Definition, storage Storage, md Metadata) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		return l.state, nil
	}
	if err := ctx.Err(); err != nil {
		return l.state, err
	}
	if err := def.Validate(); err != nil {
		return l.state, err
	}

	l.state = StateOpening
	l.def, l.storage, l.md = def, storage, md
	l.logger = l.opts.Logger.With(slog.String("index", def.Name))

	if err := l.openLocked(nil); err != nil {
		l.state = StateClosed
		l.logger.Error("index_open_failed", slog.String("error", err.Error()))
		return l.state, err
	}

	l.state = StateOpen
	l.logger.Info("index_opened",
		slog.String("class", def.ClassName),
		slog.Bool("durable", storage.Durable()),
		slog.Int64("generation", int64(l.clock.Current())))
	return l.state, nil
}

// openLocked builds the writer, view manager and coordinator. When st is
// nil a store is opened first. Caller holds mu.
func (l *Lifecycle) openLocked(st *store.Store) error {
	policy, err := BuildPolicy(l.opts.Schema, l.def)
	if err != nil {
		return err
	}

	if st == nil {
		m, err := buildMapping(l.opts.Analyzers, policy, l.md)
		if err != nil {
			return err
		}
		if l.storage.Durable() {
			st, err = store.Open(store.IndexDir(l.storage.Path, l.def.Name), m)
		} else {
			st, err = store.OpenMemory(m)
		}
		if err != nil {
			return err
		}
	}

	committed, err := st.CommitGeneration()
	if err != nil {
		_ = st.Close()
		return ierrors.StoreUnavailable(st.Dir(), err)
	}
	l.clock.advanceTo(Generation(committed))

	writer := newWriter(l.def.Name, st, policy, &l.clock, l.logger)
	views := NewViewManager(l.def.Name, l.logger)
	coord := NewReopenCoordinator(l.def.Name, writer, views, l.opts.Reopen, l.logger)

	if _, err := coord.ReopenNow(); err != nil {
		views.Close()
		_ = st.Close()
		return ierrors.StoreUnavailable(st.Dir(), err)
	}
	coord.Start()

	l.st, l.writer, l.views, l.coord = st, writer, views, coord
	if l.queries == nil {
		l.queries = newQueryCache(l.opts.QueryCacheSize)
	}
	return nil
}

// teardownLocked stops the coordinator, closes the view manager, then
// closes the writer (committing first when commit is set) and, unless
// keepStore is set, the store. Every step runs even when an earlier one
// failed. Caller holds mu.
func (l *Lifecycle) teardownLocked(commit, keepStore bool) error {
	var errs []error

	if l.coord != nil {
		l.coord.Stop()
	}
	if l.views != nil {
		l.views.Close()
	}
	if l.writer != nil {
		if err := l.writer.close(commit); err != nil {
			l.logger.Warn("index_teardown_step_failed", slog.String("step", "commit"), slog.String("error", err.Error()))
			errs = append(errs, ierrors.TeardownFailed("commit", err))
		}
	}
	if l.st != nil && !keepStore {
		if err := l.st.Close(); err != nil {
			l.logger.Warn("index_teardown_step_failed", slog.String("step", "close_store"), slog.String("error", err.Error()))
			errs = append(errs, ierrors.TeardownFailed("close_store", err))
		}
		l.st = nil
	}

	l.coord, l.views, l.writer = nil, nil, nil
	return errors.Join(errs...)
}

// Close stops the coordinator, closes the view manager and commits and
// closes the writer. Teardown is best effort: the returned error lists the
// failed steps for the caller's information only.
func (l *Lifecycle) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer == nil {
		return nil
	}
	l.state = StateClosing
	err := l.teardownLocked(true, false)
	l.state = StateClosed
	l.logger.Info("index_closed")
	return err
}

// Reopen tears the index down and builds it again against a fresh writer,
// re-deriving the field policy from the schema. Acquires issued meanwhile,
// or already waiting on the old view manager, continue on the new one.
func (l *Lifecycle) Reopen(ctx context.Context, md Metadata) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.state = StateOpening
	// An in-memory store cannot be closed without losing its content.
	keep := !l.storage.Durable()
	var kept *store.Store
	if keep {
		kept = l.st
	}
	if err := l.teardownLocked(true, keep); err != nil {
		l.logger.Warn("index_reopen_teardown_incomplete", slog.String("error", err.Error()))
	}

	l.md = md
	if err := l.openLocked(kept); err != nil {
		if kept != nil {
			_ = kept.Close()
		}
		l.st = nil
		l.state = StateClosed
		l.logger.Error("index_reopen_failed", slog.String("error", err.Error()))
		return err
	}
	l.state = StateOpen
	l.logger.Info("index_reopened", slog.Int64("generation", int64(l.clock.Current())))
	return nil
}

// Rollback discards every mutation since the last commit, whether or not
// it reached the store or a published view, and restarts the writer, view
// manager and coordinator over the same store. Leases taken before the
// rollback keep their view; acquires waiting during it fail with
// ErrClosed. Generations stay monotonic.
func (l *Lifecycle) Rollback(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.state = StateRollingBack
	l.rollbacks++
	w, st := l.writer, l.st
	if err := l.teardownLocked(false, true); err != nil {
		l.logger.Warn("index_rollback_teardown_incomplete", slog.String("error", err.Error()))
	}

	dropped, restored, undoErr := w.rollback()
	if undoErr != nil {
		writeFailures.WithLabelValues(l.def.Name, "rollback").Inc()
		l.logger.Error("index_rollback_restore_failed", slog.String("error", undoErr.Error()))
	}

	if err := l.openLocked(st); err != nil {
		_ = st.Close()
		l.st = nil
		l.state = StateClosed
		l.logger.Error("index_rollback_failed", slog.String("error", err.Error()))
		return err
	}
	l.state = StateOpen
	l.logger.Info("index_rolled_back",
		slog.Int("discarded_steps", dropped),
		slog.Int("restored_documents", restored))
	if undoErr != nil {
		return ierrors.WriteFailed("rollback", "", undoErr)
	}
	return nil
}

// Delete closes the index when needed, then removes its directory and the
// shared base directory once no index is left in it. Removal failures are
// logged, not returned: a leftover directory is cleared by the next open.
func (l *Lifecycle) Delete() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		l.state = StateClosing
		if err := l.teardownLocked(true, false); err != nil {
			l.logger.Warn("index_delete_close_incomplete", slog.String("error", err.Error()))
		}
	}
	l.state = StateClosed
	l.queries = nil

	if l.def.Name == "" {
		return nil
	}
	forgetMetrics(l.def.Name)

	if !l.storage.Durable() {
		l.logger.Info("index_deleted")
		return nil
	}

	dir := store.IndexDir(l.storage.Path, l.def.Name)
	if err := store.RemoveDir(dir); err != nil {
		l.logger.Warn("index_directory_remove_failed", slog.String("path", dir), slog.String("error", err.Error()))
		return nil
	}
	base := store.BaseDir(l.storage.Path)
	if removed, err := store.RemoveDirIfEmpty(base); err != nil {
		l.logger.Warn("index_base_directory_remove_failed", slog.String("path", base), slog.String("error", err.Error()))
	} else if removed {
		l.logger.Debug("index_base_directory_removed", slog.String("path", base))
	}
	l.logger.Info("index_deleted", slog.String("path", dir))
	return nil
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Definition returns the definition the index was opened with.
func (l *Lifecycle) Definition() Definition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.def
}

// Policy returns the field policy of the open index.
func (l *Lifecycle) Policy() (Policy, error) {
	w, err := l.currentWriter()
	if err != nil {
		return Policy{}, err
	}
	return w.Policy(), nil
}

// SetRebuilding marks the index as being rebuilt by the host.
func (l *Lifecycle) SetRebuilding(rebuilding bool) {
	l.rebuilding.Store(rebuilding)
}

// Rebuilding reports whether the host is rebuilding the index.
func (l *Lifecycle) Rebuilding() bool {
	return l.rebuilding.Load()
}

// Generation returns the last generation handed out to a mutation.
func (l *Lifecycle) Generation() Generation {
	return l.clock.Current()
}

// Published returns the generation of the current view, or zero when closed.
func (l *Lifecycle) Published() Generation {
	views, err := l.currentViews()
	if err != nil {
		return 0
	}
	return views.Published()
}

func (l *Lifecycle) currentWriter() (*Writer, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.writer == nil {
		return nil, ErrClosed
	}
	return l.writer, nil
}

func (l *Lifecycle) currentViews() (*ViewManager, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.views == nil {
		return nil, ErrClosed
	}
	return l.views, nil
}

// AddDocument submits doc and returns the generation that covers it.
func (l *Lifecycle) AddDocument(doc Document) (Generation, error) {
	w, err := l.currentWriter()
	if err != nil {
		return 0, err
	}
	gen, err := w.AddDocument(doc)
	if err != nil {
		l.logger.Warn("index_add_failed", slog.String("record_id", doc.RecordID), slog.String("error", err.Error()))
	}
	return gen, err
}

// DeleteByIdentity deletes every document of recordID.
func (l *Lifecycle) DeleteByIdentity(recordID string) (Generation, error) {
	w, err := l.currentWriter()
	if err != nil {
		return 0, err
	}
	gen, err := w.DeleteByIdentity(recordID)
	if err != nil {
		l.logger.Warn("index_delete_failed", slog.String("record_id", recordID), slog.String("error", err.Error()))
	}
	return gen, err
}

// DeleteByFieldValue deletes the documents of recordID whose field holds
// one of values.
func (l *Lifecycle) DeleteByFieldValue(recordID, field string, values []string) (Generation, error) {
	w, err := l.currentWriter()
	if err != nil {
		return 0, err
	}
	gen, err := w.DeleteByFieldValue(recordID, field, values)
	if err != nil {
		l.logger.Warn("index_delete_by_value_failed",
			slog.String("record_id", recordID),
			slog.String("field", field),
			slog.String("error", err.Error()))
	}
	return gen, err
}

// Remove is the host's delete path; see Writer.Remove.
func (l *Lifecycle) Remove(recordID string, fields map[string][]string) (Generation, error) {
	w, err := l.currentWriter()
	if err != nil {
		return 0, err
	}
	gen, err := w.Remove(recordID, fields)
	if err != nil {
		l.logger.Warn("index_remove_failed", slog.String("record_id", recordID), slog.String("error", err.Error()))
	}
	return gen, err
}

// Clear deletes every document.
func (l *Lifecycle) Clear() (Generation, error) {
	w, err := l.currentWriter()
	if err != nil {
		return 0, err
	}
	gen, err := w.Clear()
	if err == nil {
		l.logger.Info("index_cleared", slog.Int64("generation", int64(gen)))
	}
	return gen, err
}

// Commit applies pending mutations and records a commit point. Failures
// are logged; the returned error is informational.
func (l *Lifecycle) Commit() error {
	w, err := l.currentWriter()
	if err != nil {
		return err
	}
	if err := w.Commit(); err != nil {
		l.logger.Warn("index_commit_failed", slog.String("error", err.Error()))
		return err
	}
	l.logger.Debug("index_committed", slog.Int64("generation", int64(w.Applied())))
	return nil
}

// Refresh publishes a view of everything written so far without waiting
// for the coordinator, and returns its generation.
func (l *Lifecycle) Refresh() (Generation, error) {
	l.mu.RLock()
	coord := l.coord
	l.mu.RUnlock()
	if coord == nil {
		return 0, ErrClosed
	}
	return coord.ReopenNow()
}

// Acquire leases a view of at least minGen. When ctx has no deadline the
// configured AcquireTimeout applies. An acquire waiting across a Reopen
// moves to the new view manager; one waiting across a Rollback fails with
// ErrClosed. See ViewManager.Acquire.
func (l *Lifecycle) Acquire(ctx context.Context, minGen Generation) (*Lease, error) {
	if _, ok := ctx.Deadline(); !ok && l.opts.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.AcquireTimeout)
		defer cancel()
	}

	l.mu.RLock()
	views, rollbacks := l.views, l.rollbacks
	l.mu.RUnlock()

	for {
		if views == nil {
			return nil, ErrClosed
		}
		lease, err := views.Acquire(ctx, minGen)
		if !errors.Is(err, ErrClosed) {
			return lease, err
		}

		// Blocks until a reopen in progress has finished.
		l.mu.RLock()
		next, state, again := l.views, l.state, l.rollbacks
		l.mu.RUnlock()
		if next == views || state != StateOpen || again != rollbacks {
			return nil, ErrClosed
		}
		views = next
	}
}

// AcquireLatest leases the current view without waiting.
func (l *Lifecycle) AcquireLatest() (*Lease, error) {
	views, err := l.currentViews()
	if err != nil {
		return nil, err
	}
	return views.AcquireLatest()
}

// Release releases a lease obtained from Acquire or AcquireLatest.
func (l *Lifecycle) Release(lease *Lease) error {
	return lease.Release()
}

// WithView acquires a view of at least minGen, runs fn on it and releases
// it on every exit path.
func (l *Lifecycle) WithView(ctx context.Context, minGen Generation, fn func(*View) error) error {
	lease, err := l.Acquire(ctx, minGen)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := lease.Release(); relErr != nil {
			l.logger.Error("view_release_failed", slog.String("error", relErr.Error()))
		}
	}()
	return fn(lease.View())
}

// Size returns the number of live documents in the current view.
func (l *Lifecycle) Size() (uint64, error) {
	views, err := l.currentViews()
	if err != nil {
		return 0, err
	}
	return views.Size()
}
