package index

import (
	"fmt"
	"strings"

	ierrors "github.com/Aman-CERP/nrtsearch/internal/errors"
)

// Generation is a point in the write history of one index. Every mutation
// returns the generation that covers it; a view tagged with generation G
// reflects every mutation whose generation is <= G.
type Generation int64

// Definition identifies one logical index. The host's registry owns the
// index; a Lifecycle only holds a copy.
type Definition struct {
	// Name is the index name. It names the index directory on disk.
	Name string

	// ClassName is the class whose records feed the index.
	ClassName string

	// Fields are the indexed properties of ClassName.
	Fields []string
}

// Validate checks that the definition can back an index.
func (d Definition) Validate() error {
	if d.Name == "" {
		return ierrors.ConfigError("index name is required", nil)
	}
	if strings.ContainsAny(d.Name, `/\`) {
		return ierrors.ConfigError(fmt.Sprintf("index name %q must not contain path separators", d.Name), nil)
	}
	if len(d.Fields) == 0 {
		return ierrors.ConfigError(fmt.Sprintf("index %q has no fields", d.Name), nil)
	}
	return nil
}

// Storage tells a Lifecycle where its store lives. An empty Path selects
// an in-memory store that does not survive Close.
type Storage struct {
	Path string
}

// Durable reports whether the storage is directory-backed.
func (s Storage) Durable() bool {
	return s.Path != ""
}

// Metadata carries per-index options read from the host's index metadata.
type Metadata struct {
	// Analyzer names an analyzer in the analysis registry. Empty selects
	// the default analyzer.
	Analyzer string
}

// Document is one record as submitted to the writer. RecordID is required;
// Fields maps a field name to one or more values. Documents are immutable
// once submitted.
type Document struct {
	RecordID string
	Fields   map[string][]string
}

// State is the externally visible state of a Lifecycle.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
	StateRollingBack
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateRollingBack:
		return "rolling_back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sentinel errors matched with errors.Is.
var (
	// ErrTimedOut is returned when no view reached the requested generation
	// before the deadline. It is an expected condition under load; callers
	// usually degrade to AcquireLatest.
	ErrTimedOut = ierrors.Sentinel(ierrors.ErrCodeTimedOut, "view not ready before deadline")

	// ErrInvalidRelease is returned when a lease is released more than once.
	ErrInvalidRelease = ierrors.Sentinel(ierrors.ErrCodeInvalidRelease, "lease already released")

	// ErrClosed is returned by operations on a closed index or view manager.
	ErrClosed = ierrors.Sentinel(ierrors.ErrCodeClosed, "index is closed")
)
