package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/nrtsearch/internal/store"
)

// maxParallelClose bounds the lifecycles closed at once by CloseAll.
const maxParallelClose = 4

// Registry keeps the open indexes of one storage by name.
type Registry struct {
	storage Storage
	opts    Options

	mu      sync.Mutex
	indexes map[string]*Lifecycle
}

// NewRegistry returns an empty registry for storage.
func NewRegistry(storage Storage, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		storage: storage,
		opts:    opts,
		indexes: make(map[string]*Lifecycle),
	}
}

// Storage returns the storage the registry's indexes live in.
func (r *Registry) Storage() Storage {
	return r.storage
}

// Open opens def, or returns the lifecycle already registered under its name.
func (r *Registry) Open(ctx context.Context, def Definition, md Metadata) (*Lifecycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lc, ok := r.indexes[def.Name]
	if !ok {
		lc = NewLifecycle(r.opts)
	}
	if _, err := lc.Open(ctx, def, r.storage, md); err != nil {
		return nil, fmt.Errorf("open index %s: %w", def.Name, err)
	}
	r.indexes[def.Name] = lc
	return lc, nil
}

// Get returns the lifecycle registered under name.
func (r *Registry) Get(name string) (*Lifecycle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lc, ok := r.indexes[name]
	return lc, ok
}

// Names returns the registered index names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.indexes))
	for name := range r.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Drop deletes the named index and forgets it. An index that is not
// registered only has its directory removed.
func (r *Registry) Drop(name string) error {
	r.mu.Lock()
	lc, ok := r.indexes[name]
	delete(r.indexes, name)
	r.mu.Unlock()

	if ok {
		return lc.Delete()
	}
	if !r.storage.Durable() {
		return nil
	}

	if err := store.RemoveDir(store.IndexDir(r.storage.Path, name)); err != nil {
		r.opts.Logger.Warn("index_directory_remove_failed", slog.String("index", name), slog.String("error", err.Error()))
		return nil
	}
	if _, err := store.RemoveDirIfEmpty(store.BaseDir(r.storage.Path)); err != nil {
		r.opts.Logger.Warn("index_base_directory_remove_failed", slog.String("error", err.Error()))
	}
	return nil
}

// CloseAll closes every registered index concurrently and forgets them.
// Every index is closed even when some fail; the failures are joined.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	names := make([]string, 0, len(r.indexes))
	lcs := make([]*Lifecycle, 0, len(r.indexes))
	for name, lc := range r.indexes {
		names = append(names, name)
		lcs = append(lcs, lc)
	}
	r.indexes = make(map[string]*Lifecycle)
	r.mu.Unlock()

	errs := make([]error, len(lcs))
	var g errgroup.Group
	g.SetLimit(maxParallelClose)
	for i, lc := range lcs {
		i, lc := i, lc
		g.Go(func() error {
			if err := lc.Close(); err != nil {
				errs[i] = fmt.Errorf("close index %s: %w", names[i], err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
