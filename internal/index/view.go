package index

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	index "github.com/blevesearch/bleve_index_api"
)

// View is an immutable point-in-time snapshot of an index, tagged with the
// generation it reflects. Views are reference counted: the manager holds
// one reference while the view is current and every lease holds one more.
// The underlying reader closes when the last reference goes.
type View struct {
	reader index.IndexReader
	gen    Generation
	refs   atomic.Int64
	logger *slog.Logger
}

func newView(r index.IndexReader, gen Generation, logger *slog.Logger) *View {
	v := &View{reader: r, gen: gen, logger: logger}
	v.refs.Store(1)
	return v
}

// Generation returns the generation the view reflects.
func (v *View) Generation() Generation {
	return v.gen
}

// Reader returns the snapshot reader. It must not be used after the lease
// that yielded the view is released.
func (v *View) Reader() index.IndexReader {
	return v.reader
}

// DocCount returns the number of live documents in the view.
func (v *View) DocCount() (uint64, error) {
	return v.reader.DocCount()
}

func (v *View) incRef() {
	v.refs.Add(1)
}

func (v *View) decRef() {
	if v.refs.Add(-1) != 0 {
		return
	}
	if err := v.reader.Close(); err != nil {
		v.logger.Warn("view_close_failed",
			slog.Int64("generation", int64(v.gen)),
			slog.String("error", err.Error()))
	}
}

// Lease is the handle returned by one acquire. Release it exactly once.
type Lease struct {
	view     *View
	released atomic.Bool
	logger   *slog.Logger
}

// View returns the leased view.
func (l *Lease) View() *View {
	return l.view
}

// Generation returns the generation of the leased view.
func (l *Lease) Generation() Generation {
	return l.view.gen
}

// Release gives the view back. A second release returns ErrInvalidRelease
// and leaves the reference count untouched.
func (l *Lease) Release() error {
	if l == nil {
		slog.Error("view_release_without_acquire")
		return ErrInvalidRelease
	}
	if !l.released.CompareAndSwap(false, true) {
		l.logger.Error("view_released_twice", slog.Int64("generation", int64(l.view.gen)))
		return ErrInvalidRelease
	}
	l.view.decRef()
	return nil
}

// ViewManager publishes views and serves acquires. Acquire blocks until a
// view with the requested generation is published; publication swaps the
// current view and wakes every waiter at once.
type ViewManager struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	current *View
	changed chan struct{}
	closed  bool

	// demand is signalled when an acquire has to wait for a newer view.
	demand  chan struct{}
	waiters atomic.Int32
}

// NewViewManager returns a manager with no current view.
func NewViewManager(name string, logger *slog.Logger) *ViewManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ViewManager{
		name:    name,
		logger:  logger,
		changed: make(chan struct{}),
		demand:  make(chan struct{}, 1),
	}
}

// Acquire returns a lease on a view whose generation is at least minGen.
// It waits for such a view to be published until ctx is done, then
// returns ErrTimedOut. It returns ErrClosed once the manager is closed.
func (m *ViewManager) Acquire(ctx context.Context, minGen Generation) (*Lease, error) {
	start := time.Now()
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			acquireWait.WithLabelValues(m.name, "closed").Observe(time.Since(start).Seconds())
			return nil, ErrClosed
		}
		if v := m.current; v != nil && v.gen >= minGen {
			v.incRef()
			m.mu.Unlock()
			acquireWait.WithLabelValues(m.name, "ok").Observe(time.Since(start).Seconds())
			return &Lease{view: v, logger: m.logger}, nil
		}
		changed := m.changed
		m.mu.Unlock()

		m.waiters.Add(1)
		m.requestReopen()

		select {
		case <-ctx.Done():
			m.waiters.Add(-1)
			acquireWait.WithLabelValues(m.name, "timeout").Observe(time.Since(start).Seconds())
			m.logger.Debug("view_acquire_timed_out",
				slog.Int64("min_generation", int64(minGen)),
				slog.Int64("published", int64(m.Published())))
			return nil, ErrTimedOut
		case <-changed:
			m.waiters.Add(-1)
		}
	}
}

// AcquireLatest returns a lease on the current view without waiting.
func (m *ViewManager) AcquireLatest() (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.current == nil {
		return nil, ErrClosed
	}
	m.current.incRef()
	return &Lease{view: m.current, logger: m.logger}, nil
}

// Release releases lease. It is the same as lease.Release.
func (m *ViewManager) Release(lease *Lease) error {
	return lease.Release()
}

// Size returns the number of live documents in the current view.
func (m *ViewManager) Size() (uint64, error) {
	lease, err := m.AcquireLatest()
	if err != nil {
		return 0, err
	}
	defer func() { _ = lease.Release() }()
	return lease.view.DocCount()
}

// Published returns the generation of the current view, or zero.
func (m *ViewManager) Published() Generation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return 0
	}
	return m.current.gen
}

// Demand is signalled when an acquire waits for a newer view.
func (m *ViewManager) Demand() <-chan struct{} {
	return m.demand
}

// Waiting reports whether any acquire is blocked on a newer view.
func (m *ViewManager) Waiting() bool {
	return m.waiters.Load() > 0
}

func (m *ViewManager) hasCurrent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

func (m *ViewManager) requestReopen() {
	select {
	case m.demand <- struct{}{}:
	default:
	}
}

// publish makes v current and wakes waiting acquires. A view older than the
// current one is dropped. The manager takes over the caller's reference.
func (m *ViewManager) publish(v *View) bool {
	m.mu.Lock()
	if m.closed || (m.current != nil && v.gen < m.current.gen) {
		m.mu.Unlock()
		v.decRef()
		return false
	}
	old := m.current
	m.current = v
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()

	publishedGeneration.WithLabelValues(m.name).Set(float64(v.gen))
	if old != nil {
		old.decRef()
	}
	return true
}

// Close fails pending and future acquires with ErrClosed and drops the
// manager's reference on the current view. Outstanding leases stay valid
// until released.
func (m *ViewManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	old := m.current
	m.current = nil
	close(m.changed)
	m.mu.Unlock()

	if old != nil {
		old.decRef()
	}
}
