package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/blevesearch/bleve/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/Aman-CERP/nrtsearch/internal/errors"
)

func TestOpen_CreatesThenReopens(t *testing.T) {
	// Given: an empty storage directory
	dir := IndexDir(t.TempDir(), "City.name")

	// When: opening for the first time
	s, err := Open(dir, bleve.NewIndexMapping())
	require.NoError(t, err)
	assert.True(t, s.Created())
	assert.True(t, s.Durable())
	require.NoError(t, s.Index().Index("1", map[string]interface{}{"name": "Rome"}))
	require.NoError(t, s.Close())

	// Then: a second open finds the existing store and its documents
	s, err = Open(dir, bleve.NewIndexMapping())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.False(t, s.Created())

	count, err := s.Index().DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestOpen_SecondWriterIsRejected(t *testing.T) {
	dir := IndexDir(t.TempDir(), "City.name")

	first, err := Open(dir, bleve.NewIndexMapping())
	require.NoError(t, err)
	defer func() { _ = first.Close() }()

	// When: another store opens the same directory
	_, err = Open(dir, bleve.NewIndexMapping())

	// Then: it fails fast with StoreUnavailable
	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeStoreUnavailable, ierrors.GetCode(err))
	assert.True(t, errors.Is(err, ErrLocked))
}

func TestOpen_RecoversFromLeftoverDirectory(t *testing.T) {
	// Given: a store directory left half-deleted (no index metadata)
	dir := IndexDir(t.TempDir(), "City.name")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, storeDirName, "store"), 0o755))

	// When: opening it
	s, err := Open(dir, bleve.NewIndexMapping())

	// Then: the leftover is cleared and a fresh store is created
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.True(t, s.Created())
}

func TestCommitGeneration_RoundTrip(t *testing.T) {
	dir := IndexDir(t.TempDir(), "idx")

	s, err := Open(dir, bleve.NewIndexMapping())
	require.NoError(t, err)

	gen, err := s.CommitGeneration()
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	require.NoError(t, s.SaveCommitGeneration(42))
	require.NoError(t, s.Close())

	s, err = Open(dir, bleve.NewIndexMapping())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	gen, err = s.CommitGeneration()
	require.NoError(t, err)
	assert.Equal(t, int64(42), gen)
}

func TestOpenMemory(t *testing.T) {
	s, err := OpenMemory(bleve.NewIndexMapping())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	assert.False(t, s.Durable())
	assert.Empty(t, s.Dir())
}

func TestRemoveDirIfEmpty(t *testing.T) {
	storage := t.TempDir()
	base := BaseDir(storage)
	require.NoError(t, os.MkdirAll(IndexDir(storage, "a"), 0o755))

	// Non-empty base stays
	removed, err := RemoveDirIfEmpty(base)
	require.NoError(t, err)
	assert.False(t, removed)

	// Empty base goes
	require.NoError(t, RemoveDir(IndexDir(storage, "a")))
	removed, err = RemoveDirIfEmpty(base)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, dirExists(base))

	// Missing base is fine
	removed, err = RemoveDirIfEmpty(base)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestExists(t *testing.T) {
	storage := t.TempDir()
	assert.False(t, Exists(storage, "idx"))

	s, err := Open(IndexDir(storage, "idx"), bleve.NewIndexMapping())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.True(t, Exists(storage, "idx"))
}
