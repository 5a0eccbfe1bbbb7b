package index

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestDeleteByFieldValue_OnlyMatchingRecordAndValue(t *testing.T) {
	lc := openTest(t, testOptions(), cityDef("City.tags", "tags"), Storage{})
	require.True(t, mustPolicy(t, lc).AnyMultiValued())

	// Given: record #1 holds three tag values, record #2 shares one of them
	for _, tag := range []string{"rome", "paris", "oslo"} {
		_, err := lc.AddDocument(doc("#1:1", "tags", tag))
		require.NoError(t, err)
	}
	_, err := lc.AddDocument(doc("#1:2", "tags", "rome"))
	require.NoError(t, err)

	// When: deleting two of record #1's values
	gen, err := lc.DeleteByFieldValue("#1:1", "tags", []string{"rome", "paris"})
	require.NoError(t, err)

	// Then: record #1 keeps its third value, record #2 is untouched
	res := searchAt(t, lc, "tags:rome", gen)
	require.Equal(t, uint64(1), res.Total)
	assert.Equal(t, "#1:2", res.Hits[0].RecordID)
	assert.Equal(t, []string{"rome"}, res.Hits[0].Fields["tags"])

	res = searchAt(t, lc, "tags:oslo", gen)
	require.Equal(t, uint64(1), res.Total)
	assert.Equal(t, "#1:1", res.Hits[0].RecordID)

	ids := recordIDs(t, lc)
	sort.Strings(ids)
	assert.Equal(t, []string{"#1:1", "#1:2"}, ids)
}

func TestDeleteByFieldValue_CollectionInOneDocument(t *testing.T) {
	lc := openTest(t, testOptions(), cityDef("City.tags", "tags"), Storage{})

	// One document carrying the whole collection
	_, err := lc.AddDocument(Document{RecordID: "#1:1", Fields: map[string][]string{"tags": {"rome", "paris", "oslo"}}})
	require.NoError(t, err)
	_, err = lc.AddDocument(doc("#1:2", "tags", "paris"))
	require.NoError(t, err)

	gen, err := lc.DeleteByFieldValue("#1:1", "tags", []string{"paris"})
	require.NoError(t, err)

	assert.Equal(t, []string{"#1:2"}, recordIDs(t, lc))
	assert.Equal(t, uint64(1), searchAt(t, lc, "tags:paris", gen).Total)
}

func TestDeleteByFieldValue_UnknownField(t *testing.T) {
	lc := openTest(t, testOptions(), cityDef("City.tags", "tags"), Storage{})

	_, err := lc.DeleteByFieldValue("#1:1", "name", []string{"rome"})
	assert.Error(t, err)
}

// syncBuffer is a bytes.Buffer safe for the coordinator goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDeleteByFieldValue_WarnsWhenNothingMatches(t *testing.T) {
	var logs syncBuffer
	opts := testOptions()
	opts.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	lc := openTest(t, opts, cityDef("City.tags", "tags"), Storage{})

	_, err := lc.AddDocument(doc("#1:1", "tags", "rome"))
	require.NoError(t, err)

	gen, err := lc.DeleteByFieldValue("#1:1", "tags", []string{"oslo"})
	require.NoError(t, err)
	_, err = lc.Refresh()
	require.NoError(t, err)

	assert.Equal(t, uint64(1), searchAt(t, lc, "tags:rome", gen).Total)
	assert.Contains(t, logs.String(), "index_delete_matched_nothing")
	assert.Contains(t, logs.String(), "record_id=#1:1")
}

func TestRemove_MixedIndexUsesFieldScopedDelete(t *testing.T) {
	lc := openTest(t, testOptions(), cityDef("City.mixed", "name", "tags"), Storage{})

	_, err := lc.AddDocument(doc("#1:1", "name", "Rome", "tags", "capital"))
	require.NoError(t, err)
	_, err = lc.AddDocument(doc("#1:1", "name", "Rome", "tags", "ancient"))
	require.NoError(t, err)

	// Removing by the single-valued field still scopes to the value
	gen, err := lc.Remove("#1:1", map[string][]string{"tags": {"capital"}})
	require.NoError(t, err)

	res := searchAt(t, lc, "tags:ancient", gen)
	assert.Equal(t, uint64(1), res.Total)
	assert.Equal(t, uint64(0), searchAt(t, lc, "tags:capital", gen).Total)

	// An unstored single-valued field falls back to analysed matching
	gen, err = lc.Remove("#1:1", map[string][]string{"name": {"Rome"}})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), searchAt(t, lc, "", gen).Total)
}

func TestRemove_SingleValuedIndexDeletesByIdentity(t *testing.T) {
	lc := openTest(t, testOptions(), cityDef("City.name", "name"), Storage{})
	require.False(t, mustPolicy(t, lc).AnyMultiValued())

	_, err := lc.AddDocument(doc("#1:1", "name", "Rome"))
	require.NoError(t, err)
	_, err = lc.AddDocument(doc("#1:2", "name", "Rome"))
	require.NoError(t, err)

	// The field values do not matter without multi-valued fields
	gen, err := lc.Remove("#1:1", map[string][]string{"name": {"Something else"}})
	require.NoError(t, err)

	res := searchAt(t, lc, "name:rome", gen)
	require.Equal(t, uint64(1), res.Total)
	assert.Equal(t, "#1:2", res.Hits[0].RecordID)
}

func TestAddDocument_ReplacesSameRecord(t *testing.T) {
	lc := openTest(t, testOptions(), cityDef("City.name", "name"), Storage{})

	_, err := lc.AddDocument(doc("#1:1", "name", "Rome"))
	require.NoError(t, err)
	gen, err := lc.AddDocument(doc("#1:1", "name", "Oslo"))
	require.NoError(t, err)

	assert.Equal(t, uint64(0), searchAt(t, lc, "name:rome", gen).Total)
	assert.Equal(t, uint64(1), searchAt(t, lc, "name:oslo", gen).Total)
}

func TestClear_IsOrderedWithSurroundingMutations(t *testing.T) {
	lc := openTest(t, testOptions(), cityDef("City.name", "name"), Storage{})

	_, err := lc.AddDocument(doc("#1:1", "name", "Rome"))
	require.NoError(t, err)
	_, err = lc.Clear()
	require.NoError(t, err)
	gen, err := lc.AddDocument(doc("#1:2", "name", "Rome"))
	require.NoError(t, err)

	assert.Equal(t, []string{"#1:2"}, recordIDs(t, waitFor(t, lc, gen)))
}

func TestConcurrentAcquire_NeverBelowRequestedGeneration(t *testing.T) {
	lc := openTest(t, testOptions(), cityDef("City.name", "name"), Storage{})

	gens := make(chan Generation, 1000)
	var writers sync.WaitGroup
	for w := 0; w < 4; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			for i := 0; i < 100; i++ {
				gen, err := lc.AddDocument(doc(fmt.Sprintf("#%d:%d", w, i), "name", "Rome"))
				if err == nil {
					gens <- gen
				}
			}
		}(w)
	}
	go func() {
		writers.Wait()
		close(gens)
	}()

	var g errgroup.Group
	for gen := range gens {
		if gen%10 != 0 {
			continue
		}
		want := gen
		g.Go(func() error {
			lease, err := lc.Acquire(context.Background(), want)
			if err != nil {
				return err
			}
			defer func() { _ = lease.Release() }()
			if lease.Generation() < want {
				return fmt.Errorf("view %d older than requested %d", lease.Generation(), want)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestClock_AdvanceToNeverGoesBack(t *testing.T) {
	var c Clock
	c.advanceTo(10)
	assert.Equal(t, Generation(10), c.Current())
	c.advanceTo(3)
	assert.Equal(t, Generation(10), c.Current())
	assert.Equal(t, Generation(11), c.next())
}

func TestDocumentID(t *testing.T) {
	single, err := BuildPolicy(testSchema(), cityDef("s", "name"))
	require.NoError(t, err)
	multi, err := BuildPolicy(testSchema(), cityDef("m", "tags"))
	require.NoError(t, err)

	assert.Equal(t, "#1:1", documentID(single, doc("#1:1", "name", "Rome")))

	a := documentID(multi, doc("#1:1", "tags", "rome"))
	b := documentID(multi, doc("#1:1", "tags", "paris"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, documentID(multi, doc("#1:1", "tags", "rome")))
	assert.Contains(t, a, "#1:1/")
}

func TestHoldsAny(t *testing.T) {
	want := map[string]struct{}{"rome": {}}

	assert.True(t, holdsAny("rome", want))
	assert.True(t, holdsAny([]interface{}{"oslo", "rome"}, want))
	assert.False(t, holdsAny([]interface{}{"oslo"}, want))
	assert.False(t, holdsAny(nil, want))
}

func mustPolicy(t *testing.T, lc *Lifecycle) Policy {
	t.Helper()
	p, err := lc.Policy()
	require.NoError(t, err)
	return p
}

// waitFor returns lc once a view of at least gen is published.
func waitFor(t *testing.T, lc *Lifecycle, gen Generation) *Lifecycle {
	t.Helper()
	require.NoError(t, lc.WithView(context.Background(), gen, func(*View) error { return nil }))
	return lc
}
