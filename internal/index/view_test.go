package index

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/nrtsearch/internal/analysis"
	"github.com/Aman-CERP/nrtsearch/internal/store"
)

// testView opens a view over an empty in-memory index.
func testView(t *testing.T, gen Generation) *View {
	t.Helper()
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	adv, err := idx.Advanced()
	require.NoError(t, err)
	r, err := adv.Reader()
	require.NoError(t, err)
	return newView(r, gen, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestManager() *ViewManager {
	return NewViewManager("test", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestViewManager_AcquireWaitsForPublication(t *testing.T) {
	m := newTestManager()
	require.True(t, m.publish(testView(t, 1)))

	got := make(chan *Lease, 1)
	go func() {
		lease, err := m.Acquire(context.Background(), 5)
		if err == nil {
			got <- lease
		}
		close(got)
	}()

	// The waiter asks for a reopen
	select {
	case <-m.Demand():
	case <-time.After(5 * time.Second):
		t.Fatal("acquire did not signal demand")
	}
	assert.Eventually(t, m.Waiting, time.Second, time.Millisecond)

	// A view below the request does not satisfy it
	require.True(t, m.publish(testView(t, 3)))
	require.True(t, m.publish(testView(t, 5)))

	lease, ok := <-got
	require.True(t, ok)
	assert.Equal(t, Generation(5), lease.Generation())
	assert.NoError(t, lease.Release())
	assert.False(t, m.Waiting())
}

func TestViewManager_PublishDropsOlderView(t *testing.T) {
	m := newTestManager()
	require.True(t, m.publish(testView(t, 7)))

	assert.False(t, m.publish(testView(t, 3)))
	assert.Equal(t, Generation(7), m.Published())
}

func TestViewManager_ReplacedViewClosesAfterLastLease(t *testing.T) {
	m := newTestManager()
	first := testView(t, 1)
	require.True(t, m.publish(first))

	lease, err := m.AcquireLatest()
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.refs.Load())

	// Publishing a newer view drops the manager's reference only
	require.True(t, m.publish(testView(t, 2)))
	assert.Equal(t, int64(1), first.refs.Load())

	require.NoError(t, m.Release(lease))
	assert.Equal(t, int64(0), first.refs.Load())
}

func TestLease_DoubleReleaseIsInvalid(t *testing.T) {
	m := newTestManager()
	v := testView(t, 1)
	require.True(t, m.publish(v))

	lease, err := m.Acquire(context.Background(), 1)
	require.NoError(t, err)

	assert.NoError(t, lease.Release())
	assert.ErrorIs(t, lease.Release(), ErrInvalidRelease)
	assert.Equal(t, int64(1), v.refs.Load(), "a rejected release must not drop a reference")

	var missing *Lease
	assert.ErrorIs(t, missing.Release(), ErrInvalidRelease)
}

func TestViewManager_CloseFailsAcquires(t *testing.T) {
	m := newTestManager()

	_, err := m.AcquireLatest()
	assert.ErrorIs(t, err, ErrClosed, "no view published yet")

	require.True(t, m.publish(testView(t, 1)))
	m.Close()
	m.Close()

	_, err = m.Acquire(context.Background(), 0)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Size()
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, m.publish(testView(t, 2)))
}

func TestViewManager_Size(t *testing.T) {
	m := newTestManager()
	require.True(t, m.publish(testView(t, 1)))

	n, err := m.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func TestReopenCoordinator_StopIsPrompt(t *testing.T) {
	lc := openTest(t, testOptions(), cityDef("City.name", "name"), Storage{})

	lc.mu.RLock()
	coord := lc.coord
	lc.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		coord.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop")
	}

	// A second stop is a no-op
	coord.Stop()
}

func TestReopenCoordinator_PublishesAfterMaxStaleWithoutReaders(t *testing.T) {
	opts := testOptions()
	opts.Reopen = ReopenConfig{MaxStale: 50 * time.Millisecond, MinStale: 5 * time.Millisecond}
	lc := openTest(t, opts, cityDef("City.name", "name"), Storage{})

	gen, err := lc.AddDocument(doc("#1:0", "name", "Rome"))
	require.NoError(t, err)

	// Nobody acquires; the timer alone moves the view forward
	assert.Eventually(t, func() bool { return lc.Published() >= gen }, 2*time.Second, 10*time.Millisecond)
}

func TestReopenCoordinator_IdleWithoutDemand(t *testing.T) {
	opts := testOptions()
	opts.Reopen = ReopenConfig{MaxStale: time.Hour, MinStale: 5 * time.Millisecond}
	lc := openTest(t, opts, cityDef("City.name", "name"), Storage{})

	gen, err := lc.AddDocument(doc("#1:0", "name", "Rome"))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Less(t, lc.Published(), gen, "no view is published while nobody waits")

	// A waiting acquire triggers a reopen well before MaxStale
	lease, err := lc.Acquire(context.Background(), gen)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, lease.Generation(), gen)
	assert.NoError(t, lease.Release())
}

func TestReopenCoordinator_FailedReopenKeepsPreviousView(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy, err := BuildPolicy(testSchema(), cityDef("City.name", "name"))
	require.NoError(t, err)
	m, err := buildMapping(analysis.Default(), policy, Metadata{})
	require.NoError(t, err)
	st, err := store.OpenMemory(m)
	require.NoError(t, err)

	var clock Clock
	w := newWriter("test", st, policy, &clock, logger)
	views := NewViewManager("test", logger)
	t.Cleanup(views.Close)
	coord := NewReopenCoordinator("test", w, views, ReopenConfig{}, logger)

	published, err := coord.ReopenNow()
	require.NoError(t, err)
	assert.Equal(t, published, views.Published())

	// Given: a pending write and a store that can no longer apply it
	_, err = w.AddDocument(doc("#1:0", "name", "Rome"))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	// When: reopening
	_, err = coord.ReopenNow()

	// Then: the reopen fails and the previous view stays published
	assert.Error(t, err)
	assert.Equal(t, published, views.Published())

	lease, err := views.AcquireLatest()
	require.NoError(t, err)
	assert.Equal(t, published, lease.Generation())
	assert.NoError(t, lease.Release())
}

func TestReopenConfig_Defaults(t *testing.T) {
	cfg := ReopenConfig{}.withDefaults()
	assert.Equal(t, DefaultMaxStale, cfg.MaxStale)
	assert.Equal(t, DefaultMinStale, cfg.MinStale)

	cfg = ReopenConfig{MaxStale: time.Millisecond, MinStale: time.Second}.withDefaults()
	assert.Equal(t, time.Millisecond, cfg.MinStale)
}
