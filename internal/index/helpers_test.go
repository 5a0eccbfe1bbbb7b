package index

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/nrtsearch/internal/schema"
)

func testSchema() *schema.Memory {
	s := schema.NewMemory()
	s.Define("City",
		schema.Property{Name: "name", Type: schema.TypeString},
		schema.Property{Name: "country", Type: schema.TypeString},
		schema.Property{Name: "tags", Type: schema.TypeEmbeddedList, LinkedType: schema.TypeString},
		schema.Property{Name: "population", Type: schema.TypeInteger},
	)
	return s
}

func testOptions() Options {
	return Options{
		Schema:         testSchema(),
		Reopen:         ReopenConfig{MaxStale: time.Second, MinStale: 5 * time.Millisecond},
		AcquireTimeout: 10 * time.Second,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func cityDef(name string, fields ...string) Definition {
	return Definition{Name: name, ClassName: "City", Fields: fields}
}

// openTest opens a lifecycle and closes it when the test ends.
func openTest(t *testing.T, opts Options, def Definition, storage Storage) *Lifecycle {
	t.Helper()
	lc := NewLifecycle(opts)
	state, err := lc.Open(context.Background(), def, storage, Metadata{})
	require.NoError(t, err)
	require.Equal(t, StateOpen, state)
	t.Cleanup(func() { _ = lc.Close() })
	return lc
}

func doc(rid string, kv ...string) Document {
	d := Document{RecordID: rid, Fields: map[string][]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		d.Fields[kv[i]] = append(d.Fields[kv[i]], kv[i+1])
	}
	return d
}

// searchAt runs q on a view of at least gen.
func searchAt(t *testing.T, lc *Lifecycle, q string, gen Generation) *SearchResult {
	t.Helper()
	res, err := lc.Search(context.Background(), SearchRequest{Query: q, MinGeneration: gen})
	require.NoError(t, err)
	require.False(t, res.Stale, "search fell back to a stale view")
	return res
}

// recordIDs collects the record ids of every document in the current view.
func recordIDs(t *testing.T, lc *Lifecycle) []string {
	t.Helper()
	it, err := lc.Iterator()
	require.NoError(t, err)
	defer func() { require.NoError(t, it.Close()) }()

	var out []string
	for {
		e, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, e.RecordID)
	}
}
