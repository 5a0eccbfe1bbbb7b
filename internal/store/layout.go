package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// BaseDirName is the directory, under a storage path, that holds one
// subdirectory per index.
const BaseDirName = "search_indexes"

// BaseDir returns the directory holding every index of a storage.
func BaseDir(storagePath string) string {
	return filepath.Join(storagePath, BaseDirName)
}

// IndexDir returns the directory of the named index under storagePath.
func IndexDir(storagePath, indexName string) string {
	return filepath.Join(BaseDir(storagePath), indexName)
}

// RemoveDir deletes dir and everything below it. A missing dir is not an error.
func RemoveDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}

// RemoveDirIfEmpty deletes dir only when it holds no entries. It reports
// whether the directory was removed.
func RemoveDirIfEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", dir, err)
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := os.Remove(dir); err != nil {
		return false, fmt.Errorf("remove %s: %w", dir, err)
	}
	return true, nil
}

// dirExists checks if a directory exists at the given path.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Exists reports whether a durable store has been created for the index.
func Exists(storagePath, indexName string) bool {
	return dirExists(filepath.Join(IndexDir(storagePath, indexName), storeDirName))
}
