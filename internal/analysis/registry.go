// Package analysis resolves analyzer names from index metadata into bleve
// analyzers installed on an index mapping.
//
// Analyzers are looked up in a Registry keyed by a string identifier. Each
// entry is a constructor closure that installs whatever the analyzer needs
// on the mapping and returns the name the mapping should reference. An
// empty name resolves to DefaultAnalyzer; an unknown name is an error.
package analysis

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
)

// DefaultAnalyzer is used when index metadata names no analyzer.
const DefaultAnalyzer = "standard"

// ErrUnknownAnalyzer is returned when a name has no registered factory.
var ErrUnknownAnalyzer = errors.New("unknown analyzer")

// Factory installs an analyzer on m and returns the analyzer name to use in
// field mappings.
type Factory func(m *mapping.IndexMappingImpl) (string, error)

// Registry maps analyzer identifiers to factories. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// builtin returns a factory for an analyzer bleve registers on import.
func builtin(name string) Factory {
	return func(*mapping.IndexMappingImpl) (string, error) {
		return name, nil
	}
}

// NewRegistry returns a registry holding the built-in analyzers:
// standard, keyword, simple, english and code.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]Factory{
			"standard": builtin(standard.Name),
			"keyword":  builtin(keyword.Name),
			"simple":   builtin(simple.Name),
			"english":  builtin(en.AnalyzerName),
			"code":     installCodeAnalyzer,
		},
	}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a factory under name. Registering a name twice is an error.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("analyzer registration requires a name and a factory")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("analyzer %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Apply resolves name (DefaultAnalyzer when empty), installs it on m and
// returns the analyzer name field mappings should reference.
func (r *Registry) Apply(m *mapping.IndexMappingImpl, name string) (string, error) {
	if name == "" {
		name = DefaultAnalyzer
	}

	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAnalyzer, name)
	}

	resolved, err := f(m)
	if err != nil {
		return "", fmt.Errorf("analyzer %s: %w", name, err)
	}
	return resolved, nil
}

// Names returns the registered analyzer identifiers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
