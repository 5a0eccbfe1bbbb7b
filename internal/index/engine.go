package index

import (
	"context"
)

// Engine adapts a Lifecycle to the host database's index engine contract.
// The host calls Put and Remove from its own transactions; failures are
// logged by the lifecycle and returned for information, never to abort the
// host's write.
type Engine struct {
	lc      *Lifecycle
	def     Definition
	storage Storage
}

// NewEngine returns an engine for def stored under storage.
func NewEngine(def Definition, storage Storage, opts Options) *Engine {
	return &Engine{
		lc:      NewLifecycle(opts),
		def:     def,
		storage: storage,
	}
}

// Lifecycle returns the lifecycle behind the engine.
func (e *Engine) Lifecycle() *Lifecycle {
	return e.lc
}

// Create opens the index, creating its store when missing.
func (e *Engine) Create(ctx context.Context, md Metadata) error {
	_, err := e.lc.Open(ctx, e.def, e.storage, md)
	return err
}

// Load opens an existing index. It is the same as Create: the store is
// created when it does not exist.
func (e *Engine) Load(ctx context.Context, md Metadata) error {
	_, err := e.lc.Open(ctx, e.def, e.storage, md)
	return err
}

// Put indexes the field values of one record.
func (e *Engine) Put(fields map[string][]string, recordID string) error {
	_, err := e.lc.AddDocument(Document{RecordID: recordID, Fields: fields})
	return err
}

// Remove deletes the documents of recordID. With multi-valued fields in the
// index only the documents holding the given field values go.
func (e *Engine) Remove(fields map[string][]string, recordID string) error {
	_, err := e.lc.Remove(recordID, fields)
	return err
}

// Size returns the number of documents in the current view.
func (e *Engine) Size() (uint64, error) {
	return e.lc.Size()
}

// Flush commits pending mutations. Failures are logged by the lifecycle.
func (e *Engine) Flush() {
	_ = e.lc.Commit()
}

// Clear deletes every document.
func (e *Engine) Clear() error {
	_, err := e.lc.Clear()
	return err
}

// Close closes the index.
func (e *Engine) Close() error {
	return e.lc.Close()
}

// Delete closes the index and removes its files.
func (e *Engine) Delete() error {
	return e.lc.Delete()
}

// Rollback discards every mutation since the last commit.
func (e *Engine) Rollback(ctx context.Context) error {
	return e.lc.Rollback(ctx)
}

// Iterator walks the documents of the current view.
func (e *Engine) Iterator() (*Iterator, error) {
	return e.lc.Iterator()
}

// Version is always zero: the index keeps no per-entry versions.
func (e *Engine) Version() int64 {
	return 0
}
