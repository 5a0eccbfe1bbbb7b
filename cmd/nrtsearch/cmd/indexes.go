package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/nrtsearch/internal/config"
	"github.com/Aman-CERP/nrtsearch/internal/index"
)

// indexOptions builds lifecycle options from the loaded configuration.
func (a *app) indexOptions() (index.Options, error) {
	s, err := a.cfg.BuildSchema()
	if err != nil {
		return index.Options{}, err
	}
	return index.Options{
		Schema: s,
		Reopen: index.ReopenConfig{
			MaxStale: a.cfg.MaxStale(),
			MinStale: a.cfg.MinStale(),
		},
		AcquireTimeout: a.cfg.AcquireTimeout(),
		QueryCacheSize: a.cfg.Search.QueryCacheSize,
		Logger:         a.logger,
	}, nil
}

func (a *app) storage() index.Storage {
	return index.Storage{Path: a.cfg.Storage.Path}
}

func definition(ic config.IndexConfig) index.Definition {
	return index.Definition{Name: ic.Name, ClassName: ic.Class, Fields: ic.Fields}
}

func metadata(ic config.IndexConfig) index.Metadata {
	return index.Metadata{Analyzer: ic.Analyzer}
}

// newRegistry returns an empty registry over the configured storage.
func (a *app) newRegistry() (*index.Registry, error) {
	opts, err := a.indexOptions()
	if err != nil {
		return nil, err
	}
	return index.NewRegistry(a.storage(), opts), nil
}

// openIndexes opens the named indexes, or every declared index when names
// is empty. The caller closes the registry.
func (a *app) openIndexes(ctx context.Context, names ...string) (*index.Registry, error) {
	reg, err := a.newRegistry()
	if err != nil {
		return nil, err
	}

	declared := a.cfg.Indexes
	if len(names) > 0 {
		declared = declared[:0:0]
		for _, name := range names {
			ic, ok := a.cfg.Index(name)
			if !ok {
				return nil, fmt.Errorf("index %q is not declared in the configuration", name)
			}
			declared = append(declared, ic)
		}
	}

	for _, ic := range declared {
		if _, err := reg.Open(ctx, definition(ic), metadata(ic)); err != nil {
			_ = reg.CloseAll()
			return nil, err
		}
	}
	return reg, nil
}

// openIndex opens one declared index.
func (a *app) openIndex(ctx context.Context, name string) (*index.Registry, *index.Lifecycle, error) {
	reg, err := a.openIndexes(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	lc, _ := reg.Get(name)
	return reg, lc, nil
}

// warnIfMemory tells the user that a one-shot command on in-memory storage
// sees an empty index and loses its writes.
func (a *app) warnIfMemory() {
	if !a.storage().Durable() {
		a.logger.Warn("storage_in_memory", slog.String("hint", "set storage.path to keep indexes between runs"))
	}
}
