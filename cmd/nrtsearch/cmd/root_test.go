package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/nrtsearch/internal/config"
	"github.com/Aman-CERP/nrtsearch/internal/index"
	"github.com/Aman-CERP/nrtsearch/internal/store"
	"github.com/Aman-CERP/nrtsearch/pkg/version"
)

// writeTestConfig writes a config with durable storage in a temp dir and
// returns the config path and the storage path.
func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	dir := t.TempDir()
	storage := filepath.Join(dir, "data")
	cfg := `
storage:
  path: ` + storage + `
reopen:
  max_stale: 1s
  min_stale: 5ms
logging:
  level: error
schema:
  City:
    name: string
    tags: embeddedlist:string
indexes:
  - name: City.name
    class: City
    fields: [name, tags]
`
	path := filepath.Join(dir, "nrtsearch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path, storage
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

const cities = `{"record_id":"#12:1","fields":{"name":["Rome"],"tags":["capital","italy"]}}
{"record_id":"#12:2","fields":{"name":["Paris"],"tags":["capital"]}}

{"fields":{"name":["Oslo"]}}
`

func TestCLI_IngestSearchCountDumpClearDrop(t *testing.T) {
	cfgPath, storage := writeTestConfig(t)

	out, err := run(t, cities, "ingest", "City.name", "--config", cfgPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Ingested 3 documents into City.name")
	assert.True(t, store.Exists(storage, "City.name"))

	out, err = run(t, "", "count", "City.name", "--config", cfgPath)
	require.NoError(t, err, out)
	assert.Equal(t, "3", strings.TrimSpace(out))

	out, err = run(t, "", "search", "City.name", "name:rome", "--format", "json", "--config", cfgPath)
	require.NoError(t, err, out)
	var res index.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "#12:1", res.Hits[0].RecordID)

	out, err = run(t, "", "search", "City.name", "capital", "--config", cfgPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "#12:1")
	assert.Contains(t, out, "#12:2")
	assert.Contains(t, out, "tags=capital")

	out, err = run(t, "", "dump", "City.name", "--config", cfgPath)
	require.NoError(t, err, out)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, out, `"record_id":"#12:2"`)

	out, err = run(t, "", "clear", "City.name", "--config", cfgPath)
	require.NoError(t, err, out)
	out, err = run(t, "", "count", "City.name", "--config", cfgPath)
	require.NoError(t, err, out)
	assert.Equal(t, "0", strings.TrimSpace(out))

	out, err = run(t, "", "drop", "City.name", "--config", cfgPath)
	require.NoError(t, err, out)
	assert.False(t, store.Exists(storage, "City.name"))
	_, statErr := os.Stat(store.BaseDir(storage))
	assert.True(t, os.IsNotExist(statErr), "empty base directory should be removed")
}

func TestCLI_IngestRejectsBadLine(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	_, err := run(t, "{not json}\n", "ingest", "City.name", "--config", cfgPath)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestCLI_UndeclaredIndex(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	_, err := run(t, "", "count", "Town.name", "--config", cfgPath)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not declared")
}

func TestCLI_SearchRejectsUnknownFormat(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	_, err := run(t, "", "search", "City.name", "rome", "--format", "xml", "--config", cfgPath)

	assert.Error(t, err)
}

func TestCLI_List(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	out, err := run(t, "", "list", "--config", cfgPath)

	require.NoError(t, err)
	assert.Contains(t, out, "City.name")
	assert.Contains(t, out, "standard")
	assert.Contains(t, out, "false")
}

func TestCLI_ConfigInit(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nrtsearch.yaml")

	out, err := run(t, "", "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")

	// The template loads and validates
	_, err = config.Load(t.TempDir(), path)
	require.NoError(t, err)

	out, err = run(t, "", "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	out, err = run(t, "", "config", "init", path, "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Backed up")
	backups, err := config.ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	out, err = run(t, "", "config", "restore", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Restored")
}

func TestCLI_ConfigShowJSON(t *testing.T) {
	cfgPath, storage := writeTestConfig(t)

	out, err := run(t, "", "config", "show", "--json", "--config", cfgPath)
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, storage, cfg.Storage.Path)
	assert.Len(t, cfg.Indexes, 1)
}

func TestCLI_InvalidConfigFails(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reopen:\n  min_stale: 2m\n"), 0644))

	_, err := run(t, "", "list", "--config", path)

	assert.Error(t, err)
}

func TestCLI_Version(t *testing.T) {
	out, err := run(t, "", "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.Short(), strings.TrimSpace(out))

	out, err = run(t, "", "version", "--json")
	require.NoError(t, err)
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
}

func TestCLI_ProfileFlags(t *testing.T) {
	dir := t.TempDir()
	heap := filepath.Join(dir, "heap.prof")

	_, err := run(t, "", "version", "--profile-mem", heap)
	require.NoError(t, err)

	info, err := os.Stat(heap)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestCLI_Rebuild(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	_, err := run(t, cities, "ingest", "City.name", "--config", cfgPath)
	require.NoError(t, err)

	input := filepath.Join(t.TempDir(), "rebuild.jsonl")
	require.NoError(t, os.WriteFile(input, []byte(`{"record_id":"#12:7","fields":{"name":["Lima"]}}`+"\n\n"), 0644))

	out, err := run(t, "", "rebuild", "City.name", input, "--config", cfgPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Rebuilt City.name with 1 documents")

	out, err = run(t, "", "count", "City.name", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "1", strings.TrimSpace(out))
}

func TestCLI_Logs(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	logPath := filepath.Join(t.TempDir(), "nrtsearch.log")
	require.NoError(t, os.WriteFile(logPath, []byte(
		`{"time":"2026-01-02T10:00:00Z","level":"INFO","msg":"index_opened","index":"City.name"}`+"\n"+
			`{"time":"2026-01-02T10:00:01Z","level":"ERROR","msg":"commit_failed","index":"Town.name"}`+"\n"), 0644))

	out, err := run(t, "", "logs", "--file", logPath, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "index_opened")
	assert.Contains(t, out, "commit_failed")

	out, err = run(t, "", "logs", "--file", logPath, "--index", "Town.name", "--config", cfgPath)
	require.NoError(t, err)
	assert.NotContains(t, out, "index_opened")
	assert.Contains(t, out, "ERROR commit_failed")

	_, err = run(t, "", "logs", "--file", logPath, "--level", "loud", "--config", cfgPath)
	assert.Error(t, err)
}
