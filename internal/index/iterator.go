package index

import (
	"fmt"

	index "github.com/blevesearch/bleve_index_api"
)

// Entry is one document as seen by the host's generic index abstraction:
// the stored values keyed by field, and the record they belong to.
type Entry struct {
	DocumentID string
	RecordID   string
	Fields     map[string][]string
}

// Iterator walks every document of one view. It holds a lease on the view
// until Close.
type Iterator struct {
	lease *Lease
	ids   index.DocIDReader
	done  bool
}

// Iterator returns an iterator over the current view.
func (l *Lifecycle) Iterator() (*Iterator, error) {
	lease, err := l.AcquireLatest()
	if err != nil {
		return nil, err
	}
	ids, err := lease.View().Reader().DocIDReaderAll()
	if err != nil {
		_ = lease.Release()
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return &Iterator{lease: lease, ids: ids}, nil
}

// Generation returns the generation of the iterated view.
func (it *Iterator) Generation() Generation {
	return it.lease.Generation()
}

// Next returns the next entry. ok is false once the view is exhausted.
func (it *Iterator) Next() (e Entry, ok bool, err error) {
	if it.done {
		return Entry{}, false, nil
	}

	r := it.lease.View().Reader()
	internal, err := it.ids.Next()
	if err != nil {
		return Entry{}, false, fmt.Errorf("next document: %w", err)
	}
	if internal == nil {
		it.done = true
		return Entry{}, false, nil
	}

	id, err := r.ExternalID(internal)
	if err != nil {
		return Entry{}, false, fmt.Errorf("resolve document id: %w", err)
	}
	rid, fields, err := storedFields(r, id)
	if err != nil {
		return Entry{}, false, fmt.Errorf("load document %s: %w", id, err)
	}
	return Entry{DocumentID: id, RecordID: rid, Fields: fields}, true, nil
}

// Close releases the view. Calling it twice returns ErrInvalidRelease.
func (it *Iterator) Close() error {
	it.done = true
	if it.ids != nil {
		_ = it.ids.Close()
		it.ids = nil
	}
	return it.lease.Release()
}
