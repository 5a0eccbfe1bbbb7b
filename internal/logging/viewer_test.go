package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

const sampleLog = `{"time":"2026-01-02T10:00:00.000Z","level":"INFO","msg":"index_opened","index":"City.name"}
{"time":"2026-01-02T10:00:01.000Z","level":"DEBUG","msg":"view_published","index":"City.name","generation":3}
not json
{"time":"2026-01-02T10:00:02.000Z","level":"ERROR","msg":"commit_failed","index":"Town.name"}
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nrtsearch.log")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestViewer_TailFilters(t *testing.T) {
	path := writeLog(t, sampleLog)

	tests := []struct {
		name string
		cfg  ViewerConfig
		n    int
		want []string
	}{
		{name: "all", n: 10, want: []string{"index_opened", "view_published", "not json", "commit_failed"}},
		{name: "last two", n: 2, want: []string{"not json", "commit_failed"}},
		{name: "level", cfg: ViewerConfig{Level: "info"}, n: 10, want: []string{"index_opened", "not json", "commit_failed"}},
		{name: "index", cfg: ViewerConfig{Index: "City.name"}, n: 10, want: []string{"index_opened", "view_published"}},
		{name: "pattern", cfg: ViewerConfig{Pattern: regexp.MustCompile("commit")}, n: 10, want: []string{"commit_failed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := NewViewer(tt.cfg, &bytes.Buffer{}).Tail(path, tt.n)
			if err != nil {
				t.Fatalf("Tail failed: %v", err)
			}
			var got []string
			for _, e := range entries {
				if e.Valid {
					got = append(got, e.Msg)
				} else {
					got = append(got, e.Raw)
				}
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestViewer_TailReadsRotatedFile(t *testing.T) {
	path := writeLog(t, `{"level":"INFO","msg":"newer"}`+"\n")
	if err := os.WriteFile(path+".1", []byte(`{"level":"INFO","msg":"older"}`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	entries, err := NewViewer(ViewerConfig{}, &bytes.Buffer{}).Tail(path, 5)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Msg != "older" || entries[1].Msg != "newer" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestViewer_TailMissingFile(t *testing.T) {
	_, err := NewViewer(ViewerConfig{}, &bytes.Buffer{}).Tail(filepath.Join(t.TempDir(), "missing.log"), 5)
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestViewer_FormatSortsAttributes(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, &bytes.Buffer{})
	e := parseLine(`{"time":"2026-01-02T10:00:01.500Z","level":"WARN","msg":"reopen_slow","index":"City.name","elapsed":12}`)

	got := v.Format(e)
	want := "10:00:01.500 WARN  reopen_slow elapsed=12 index=City.name"
	if got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
}

func TestViewer_Follow(t *testing.T) {
	path := writeLog(t, sampleLog)
	v := NewViewer(ViewerConfig{}, &bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	entries := make(chan Entry, 4)
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, path, entries) }()

	// Let Follow seek to the end before appending
	time.Sleep(200 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString(`{"level":"INFO","msg":"document_added"}` + "\n")
	_ = f.Close()

	select {
	case e := <-entries:
		if e.Msg != "document_added" {
			t.Errorf("unexpected entry: %+v", e)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for followed entry")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Follow returned error: %v", err)
	}
}
