package spool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/nrtsearch/internal/index"
)

func TestReadRecords(t *testing.T) {
	in := strings.NewReader(`{"record_id":"#12:1","fields":{"name":["Rome"]}}

  {"fields":{"name":["Oslo"]}}
`)

	var docs []index.Document
	err := ReadRecords(in, func(d index.Document) error {
		docs = append(docs, d)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "#12:1", docs[0].RecordID)
	assert.Equal(t, []string{"Rome"}, docs[0].Fields["name"])
	// Generated ids are UUIDs
	assert.Len(t, docs[1].RecordID, 36)
}

func TestReadRecords_ErrorsCarryLineNumbers(t *testing.T) {
	err := ReadRecords(strings.NewReader("{}\n{oops\n"), func(index.Document) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	err = ReadRecords(strings.NewReader("\n{}\n"), func(index.Document) error { return errors.New("rejected") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2: rejected")
}

func TestCountRecords(t *testing.T) {
	n, err := CountRecords(strings.NewReader("{}\n\n{}\n  \n{}"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestIndexFromFile(t *testing.T) {
	tests := []struct {
		file string
		want string
		ok   bool
	}{
		{"City.name.jsonl", "City.name", true},
		{"/spool/City.name@0001.jsonl", "City.name", true},
		{"City.name.json", "", false},
		{".City.name.jsonl", "", false},
		{"@1.jsonl", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			got, ok := IndexFromFile(tt.file)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

type recorder struct {
	mu    sync.Mutex
	calls []string
	fail  string
}

func (r *recorder) handle(_ context.Context, name, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name+" "+filepath.Base(path))
	if filepath.Base(path) == r.fail {
		return errors.New("bad batch")
	}
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func startWatcher(t *testing.T, dir string, rec *recorder) {
	t.Helper()
	w, err := New(Options{
		Dir:          dir,
		Settle:       20 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, rec.handle)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWatcher_ProcessesExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "City.name@1.jsonl"), []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	rec := &recorder{}
	startWatcher(t, dir, rec)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "City.name@2.jsonl"), []byte("{}\n"), 0o644))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"City.name City.name@1.jsonl", "City.name City.name@2.jsonl"}, rec.snapshot())
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, DoneDir, "City.name@2.jsonl"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}

func TestWatcher_FailedFileMovesWithError(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{fail: "City.name@bad.jsonl"}
	startWatcher(t, dir, rec)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "City.name@bad.jsonl"), []byte("{}\n"), 0o644))

	errFile := filepath.Join(dir, FailedDir, "City.name@bad.jsonl.err")
	require.Eventually(t, func() bool {
		_, err := os.Stat(errFile)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	data, err := os.ReadFile(errFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "bad batch")
	assert.FileExists(t, filepath.Join(dir, FailedDir, "City.name@bad.jsonl"))
}

func TestWatcher_SameNameFilesKeepBothInDone(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec)

	for i := 1; i <= 2; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "City.name@batch.jsonl"), []byte("{}\n"), 0o644))
		require.Eventually(t, func() bool {
			entries, err := os.ReadDir(filepath.Join(dir, DoneDir))
			return err == nil && len(entries) == i
		}, 5*time.Second, 10*time.Millisecond)
	}

	entries, err := os.ReadDir(filepath.Join(dir, DoneDir))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		name, ok := IndexFromFile(e.Name())
		assert.True(t, ok, e.Name())
		assert.Equal(t, "City.name", name)
	}
	assert.Len(t, rec.snapshot(), 2)
}

func TestDestination(t *testing.T) {
	dir := t.TempDir()

	first := destination(dir, "City.name@1.jsonl")
	assert.Equal(t, filepath.Join(dir, "City.name@1.jsonl"), first)
	require.NoError(t, os.WriteFile(first, nil, 0o644))

	second := destination(dir, "City.name@1.jsonl")
	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasPrefix(filepath.Base(second), "City.name@1."))
	assert.True(t, strings.HasSuffix(second, FileSuffix))
	assert.NoFileExists(t, second)
}

func TestNew_RequiresDir(t *testing.T) {
	_, err := New(Options{}, func(context.Context, string, string) error { return nil })
	assert.Error(t, err)
}
