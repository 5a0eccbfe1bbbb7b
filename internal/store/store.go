// Package store opens the bleve index that backs one search index, either
// as a durable directory store or as an in-memory store.
//
// A durable store lives in its own directory:
//
//	<storage>/search_indexes/<index name>/
//	    write.lock   exclusive-open lock (gofrs/flock)
//	    store/       bleve index
//
// Only one Store may hold a directory at a time; a second Open fails fast
// instead of waiting on the lock.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/gofrs/flock"

	ierrors "github.com/Aman-CERP/nrtsearch/internal/errors"
)

const (
	lockFileName  = "write.lock"
	storeDirName  = "store"
	generationKey = "_nrt_commit_generation"
)

// ErrLocked is the cause reported when another Store holds the directory.
var ErrLocked = fmt.Errorf("index directory is locked by another writer")

// Store is an open bleve index plus, for durable stores, the directory lock.
type Store struct {
	index   bleve.Index
	dir     string
	lock    *flock.Flock
	created bool
}

// OpenMemory creates a non-durable in-memory store.
func OpenMemory(m mapping.IndexMapping) (*Store, error) {
	idx, err := bleve.NewMemOnly(m)
	if err != nil {
		return nil, ierrors.StoreUnavailable("", err)
	}
	return &Store{index: idx, created: true}, nil
}

// Open opens the durable store in dir, creating it with mapping m when it
// does not exist yet. A store whose metadata is corrupt (for example a
// directory left behind by an interrupted delete) is cleared and recreated.
func Open(dir string, m mapping.IndexMapping) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ierrors.StoreUnavailable(dir, err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, ierrors.StoreUnavailable(dir, err)
	}
	if !locked {
		return nil, ierrors.StoreUnavailable(dir, ErrLocked)
	}

	idx, created, err := openOrCreate(filepath.Join(dir, storeDirName), m)
	if err != nil {
		_ = lock.Unlock()
		return nil, ierrors.StoreUnavailable(dir, err)
	}

	return &Store{index: idx, dir: dir, lock: lock, created: created}, nil
}

func openOrCreate(path string, m mapping.IndexMapping) (bleve.Index, bool, error) {
	if validErr := validateIntegrity(path); validErr != nil {
		slog.Warn("search_store_corrupted",
			slog.String("path", path),
			slog.String("error", validErr.Error()))

		if err := os.RemoveAll(path); err != nil {
			return nil, false, fmt.Errorf("corrupted store cannot be removed: %w (original error: %v)", err, validErr)
		}
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, m)
		return idx, err == nil, err
	}
	if err != nil && isCorruptionError(err) {
		slog.Warn("search_store_open_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))

		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, false, fmt.Errorf("corrupted store cannot be cleared: %w (original: %v)", removeErr, err)
		}
		idx, err = bleve.New(path, m)
		return idx, err == nil, err
	}
	return idx, false, err
}

// validateIntegrity checks the bleve metadata file before opening.
// A missing directory is valid: the store will be created.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (incomplete store)")
	}
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return err == bleve.ErrorIndexMetaCorrupt ||
		strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment")
}

// Index returns the underlying bleve index.
func (s *Store) Index() bleve.Index {
	return s.index
}

// Dir returns the store directory, empty for in-memory stores.
func (s *Store) Dir() string {
	return s.dir
}

// Durable reports whether the store is directory-backed.
func (s *Store) Durable() bool {
	return s.dir != ""
}

// Created reports whether Open created a new, empty store.
func (s *Store) Created() bool {
	return s.created
}

// CommitGeneration returns the generation recorded by the last
// SaveCommitGeneration, or zero.
func (s *Store) CommitGeneration() (int64, error) {
	raw, err := s.index.GetInternal([]byte(generationKey))
	if err != nil {
		return 0, fmt.Errorf("read commit generation: %w", err)
	}
	if len(raw) != 8 {
		return 0, nil
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

// SaveCommitGeneration records gen as the generation of the latest commit point.
func (s *Store) SaveCommitGeneration(gen int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(gen))
	if err := s.index.SetInternal([]byte(generationKey), buf); err != nil {
		return fmt.Errorf("save commit generation: %w", err)
	}
	return nil
}

// Close closes the bleve index and releases the directory lock. The lock
// is released even when closing the index fails.
func (s *Store) Close() error {
	err := s.index.Close()
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
			err = fmt.Errorf("release index lock: %w", unlockErr)
		}
	}
	return err
}
