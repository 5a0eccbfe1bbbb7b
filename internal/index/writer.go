package index

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"

	ierrors "github.com/Aman-CERP/nrtsearch/internal/errors"
	"github.com/Aman-CERP/nrtsearch/internal/store"
)

const (
	// deletePageSize bounds the hits fetched per search when a mutation
	// deletes by query.
	deletePageSize = 1000

	// sourcePrefix keys the submitted form of every document in the
	// store's internal storage. Rollback restores documents from it.
	sourcePrefix = "_nrt_src/"
)

func sourceKey(id string) []byte {
	return []byte(sourcePrefix + id)
}

// source is the stored form of a submitted document.
type source struct {
	RecordID string              `json:"rid"`
	Fields   map[string][]string `json:"fields"`
}

// Clock hands out generations. It outlives writers so tokens keep
// increasing across reopen and rollback.
type Clock struct {
	v atomic.Int64
}

func (c *Clock) next() Generation {
	return Generation(c.v.Add(1))
}

// Current returns the last generation handed out.
func (c *Clock) Current() Generation {
	return Generation(c.v.Load())
}

// advanceTo moves the clock forward to at least g.
func (c *Clock) advanceTo(g Generation) {
	for {
		cur := c.v.Load()
		if cur >= int64(g) || c.v.CompareAndSwap(cur, int64(g)) {
			return
		}
	}
}

type stepKind int

const (
	stepBatch stepKind = iota
	stepDeleteQuery
	stepClear
)

// step is one ordered unit of pending work. Adds and identity deletes
// coalesce into the batch of the trailing step; query deletes and clears
// stand alone so their ordering against batches is kept.
type step struct {
	kind  stepKind
	batch *bleve.Batch
	gen   Generation

	// ids are the storage ids a batch step touches.
	ids []string

	recordID string
	field    string
	values   []string
}

// Writer is the single mutation gateway of an open index. Mutations are
// buffered and reach the store on Flush, Commit or the next reopen.
// Safe for concurrent use; mutations are serialised on an internal lock.
type Writer struct {
	name   string
	st     *store.Store
	policy Policy
	clock  *Clock
	logger *slog.Logger

	mu      sync.Mutex
	pending []*step
	closed  bool

	// applyMu serialises flushes so pending steps reach the store in order.
	applyMu sync.Mutex
	applied atomic.Int64

	// undo holds, for every storage id changed since the last commit, its
	// source at that commit; nil means the id did not exist. Guarded by
	// applyMu.
	undo map[string][]byte
}

func newWriter(name string, st *store.Store, policy Policy, clock *Clock, logger *slog.Logger) *Writer {
	w := &Writer{
		name:   name,
		st:     st,
		policy: policy,
		clock:  clock,
		logger: logger,
		undo:   make(map[string][]byte),
	}
	w.applied.Store(int64(clock.Current()))
	return w
}

// Policy returns the field policy the writer was built with.
func (w *Writer) Policy() Policy {
	return w.policy
}

// Generation returns the last generation handed out by any writer of the index.
func (w *Writer) Generation() Generation {
	return w.clock.Current()
}

// Applied returns the generation of the last mutation that reached the store.
func (w *Writer) Applied() Generation {
	return Generation(w.applied.Load())
}

// AddDocument adds doc, replacing any document with the same storage id.
// Mapping errors surface here as WriteFailed carrying the record id.
func (w *Writer) AddDocument(doc Document) (Generation, error) {
	if doc.RecordID == "" {
		return 0, ierrors.WriteFailed("add", "", fmt.Errorf("record id is required"))
	}

	id := documentID(w.policy, doc)
	body := documentBody(w.policy, doc)
	src, err := json.Marshal(source{RecordID: doc.RecordID, Fields: doc.Fields})
	if err != nil {
		return 0, ierrors.WriteFailed("add", doc.RecordID, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}

	s := w.tailBatch()
	if err := s.batch.Index(id, body); err != nil {
		writeFailures.WithLabelValues(w.name, "add").Inc()
		return 0, ierrors.WriteFailed("add", doc.RecordID, err)
	}
	s.batch.SetInternal(sourceKey(id), src)
	s.ids = append(s.ids, id)
	s.gen = w.clock.next()
	return s.gen, nil
}

// DeleteByIdentity deletes every document of recordID.
func (w *Writer) DeleteByIdentity(recordID string) (Generation, error) {
	if recordID == "" {
		return 0, ierrors.WriteFailed("delete", "", fmt.Errorf("record id is required"))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}

	// One document per record: the record id is the storage id.
	if !w.policy.AnyMultiValued() {
		s := w.tailBatch()
		s.batch.Delete(recordID)
		s.batch.DeleteInternal(sourceKey(recordID))
		s.ids = append(s.ids, recordID)
		s.gen = w.clock.next()
		return s.gen, nil
	}

	return w.appendStep(&step{kind: stepDeleteQuery, recordID: recordID}), nil
}

// DeleteByFieldValue deletes the documents of recordID whose field holds
// one of values. Stored fields are compared verbatim; unstored fields fall
// back to matching analysed terms.
func (w *Writer) DeleteByFieldValue(recordID, field string, values []string) (Generation, error) {
	if recordID == "" {
		return 0, ierrors.WriteFailed("delete_by_value", "", fmt.Errorf("record id is required"))
	}
	if !w.policy.Has(field) {
		return 0, ierrors.WriteFailed("delete_by_value", recordID, fmt.Errorf("field %q is not indexed", field))
	}

	vs := make([]string, len(values))
	copy(vs, values)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	return w.appendStep(&step{kind: stepDeleteQuery, recordID: recordID, field: field, values: vs}), nil
}

// Remove is the host's delete path. When any indexed field is multi-valued
// it deletes by field value for every field in fields; otherwise it deletes
// by identity and fields are ignored.
func (w *Writer) Remove(recordID string, fields map[string][]string) (Generation, error) {
	if !w.policy.AnyMultiValued() || len(fields) == 0 {
		return w.DeleteByIdentity(recordID)
	}

	var gen Generation
	for _, name := range w.policy.Fields() {
		values, ok := fields[name]
		if !ok {
			continue
		}
		g, err := w.DeleteByFieldValue(recordID, name, values)
		if err != nil {
			return 0, err
		}
		gen = g
	}
	if gen == 0 {
		return w.DeleteByIdentity(recordID)
	}
	return gen, nil
}

// Clear deletes every document. It is ordered with the surrounding mutations.
func (w *Writer) Clear() (Generation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	// Earlier pending steps would be wiped anyway.
	w.pending = nil
	return w.appendStep(&step{kind: stepClear}), nil
}

// Flush applies all pending mutations to the store and returns the
// generation the store now reflects.
func (w *Writer) Flush() (Generation, error) {
	w.applyMu.Lock()
	defer w.applyMu.Unlock()
	return w.flushLocked()
}

// Commit flushes and records the applied generation as the commit point
// of a durable store.
func (w *Writer) Commit() error {
	w.applyMu.Lock()
	defer w.applyMu.Unlock()

	gen, err := w.flushLocked()
	if err != nil {
		return err
	}
	if err := w.st.SaveCommitGeneration(int64(gen)); err != nil {
		return ierrors.WriteFailed("commit", "", err)
	}
	w.undo = make(map[string][]byte)
	return nil
}

// snapshot flushes and opens a point-in-time reader tagged with the
// generation it reflects. The caller owns the reader.
func (w *Writer) snapshot() (index.IndexReader, Generation, error) {
	w.applyMu.Lock()
	defer w.applyMu.Unlock()

	gen, err := w.flushLocked()
	if err != nil {
		return nil, 0, err
	}

	adv, err := w.st.Index().Advanced()
	if err != nil {
		return nil, 0, fmt.Errorf("open advanced index: %w", err)
	}
	r, err := adv.Reader()
	if err != nil {
		return nil, 0, fmt.Errorf("open reader: %w", err)
	}
	return r, gen, nil
}

// rollback drops pending mutations and restores every document changed
// since the last commit to its committed form. It returns the number of
// dropped steps and restored documents.
func (w *Writer) rollback() (int, int, error) {
	w.mu.Lock()
	dropped := len(w.pending)
	w.pending = nil
	w.mu.Unlock()

	w.applyMu.Lock()
	defer w.applyMu.Unlock()

	idx := w.st.Index()
	b := idx.NewBatch()
	restored := 0
	for id, src := range w.undo {
		if src == nil {
			b.Delete(id)
			b.DeleteInternal(sourceKey(id))
		} else {
			var prior source
			if err := json.Unmarshal(src, &prior); err != nil {
				return dropped, restored, fmt.Errorf("decode source of %s: %w", id, err)
			}
			doc := Document{RecordID: prior.RecordID, Fields: prior.Fields}
			if err := b.Index(id, documentBody(w.policy, doc)); err != nil {
				return dropped, restored, fmt.Errorf("restore %s: %w", id, err)
			}
			b.SetInternal(sourceKey(id), src)
		}
		restored++

		if b.Size() >= deletePageSize {
			if err := idx.Batch(b); err != nil {
				return dropped, restored, fmt.Errorf("restore committed documents: %w", err)
			}
			b = idx.NewBatch()
		}
	}
	if b.Size() > 0 {
		if err := idx.Batch(b); err != nil {
			return dropped, restored, fmt.Errorf("restore committed documents: %w", err)
		}
	}
	w.undo = make(map[string][]byte)
	return dropped, restored, nil
}

// remember records the committed source of ids the first time they change
// after a commit. Caller holds applyMu.
func (w *Writer) remember(ids []string) error {
	idx := w.st.Index()
	for _, id := range ids {
		if _, seen := w.undo[id]; seen {
			continue
		}
		src, err := idx.GetInternal(sourceKey(id))
		if err != nil {
			return fmt.Errorf("read source of %s: %w", id, err)
		}
		w.undo[id] = src
	}
	return nil
}

// close commits pending work and rejects further mutations. The store
// itself is closed by the owner.
func (w *Writer) close(commit bool) error {
	var err error
	if commit {
		err = w.Commit()
	}
	w.mu.Lock()
	w.closed = true
	w.pending = nil
	w.mu.Unlock()
	return err
}

// tailBatch returns the trailing batch step, starting one when the tail is
// a query delete or a clear. Caller holds mu.
func (w *Writer) tailBatch() *step {
	if n := len(w.pending); n > 0 && w.pending[n-1].kind == stepBatch {
		return w.pending[n-1]
	}
	s := &step{kind: stepBatch, batch: w.st.Index().NewBatch()}
	w.pending = append(w.pending, s)
	return s
}

// appendStep queues s under a fresh generation. Caller holds mu.
func (w *Writer) appendStep(s *step) Generation {
	s.gen = w.clock.next()
	w.pending = append(w.pending, s)
	return s.gen
}

// flushLocked applies pending steps in order. On failure the unapplied
// steps go back in front of anything queued meanwhile. Caller holds applyMu.
func (w *Writer) flushLocked() (Generation, error) {
	w.mu.Lock()
	steps := w.pending
	w.pending = nil
	target := w.clock.Current()
	w.mu.Unlock()

	for i, s := range steps {
		if err := w.apply(s); err != nil {
			w.mu.Lock()
			w.pending = append(append([]*step{}, steps[i:]...), w.pending...)
			w.mu.Unlock()

			writeFailures.WithLabelValues(w.name, "flush").Inc()
			w.logger.Error("index_flush_failed",
				slog.Int64("generation", int64(s.gen)),
				slog.Int("pending_steps", len(steps)-i),
				slog.String("error", err.Error()))
			return w.Applied(), ierrors.WriteFailed("flush", s.recordID, err)
		}
		w.applied.Store(int64(s.gen))
	}

	w.applied.Store(int64(target))
	return target, nil
}

func (w *Writer) apply(s *step) error {
	idx := w.st.Index()
	switch s.kind {
	case stepBatch:
		if s.batch.Size() == 0 && len(s.ids) == 0 {
			return nil
		}
		if err := w.remember(s.ids); err != nil {
			return err
		}
		return idx.Batch(s.batch)
	case stepDeleteQuery:
		return w.deleteMatching(s.recordID, s.field, s.values)
	case stepClear:
		return w.clearAll()
	default:
		return fmt.Errorf("unknown step kind %d", s.kind)
	}
}

// deleteMatching deletes the documents of recordID and, when field is set,
// only those whose field holds one of values.
func (w *Writer) deleteMatching(recordID, field string, values []string) error {
	idx := w.st.Index()

	ridQuery := bleve.NewTermQuery(recordID)
	ridQuery.SetField(RecordIDField)

	var q query.Query = ridQuery
	stored := field != "" && w.policy.Field(field).Stored
	if field != "" && !stored {
		alts := make([]query.Query, 0, len(values))
		for _, v := range values {
			mq := bleve.NewMatchQuery(v)
			mq.SetField(field)
			alts = append(alts, mq)
		}
		q = bleve.NewConjunctionQuery(ridQuery, bleve.NewDisjunctionQuery(alts...))
	}

	want := make(map[string]struct{}, len(values))
	for _, v := range values {
		want[v] = struct{}{}
	}

	var ids []string
	for from := 0; ; from += deletePageSize {
		req := bleve.NewSearchRequestOptions(q, deletePageSize, from, false)
		if stored {
			req.Fields = []string{field}
		}
		res, err := idx.Search(req)
		if err != nil {
			return fmt.Errorf("find documents of %s: %w", recordID, err)
		}
		for _, hit := range res.Hits {
			if stored && !holdsAny(hit.Fields[field], want) {
				continue
			}
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) < deletePageSize {
			break
		}
	}

	if len(ids) == 0 {
		w.logger.Warn("index_delete_matched_nothing",
			slog.String("record_id", recordID),
			slog.String("field", field),
			slog.Int("values", len(values)))
		return nil
	}
	return w.deleteIDs(ids)
}

// clearAll deletes documents page by page until none are left.
func (w *Writer) clearAll() error {
	idx := w.st.Index()
	for {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), deletePageSize, 0, false)
		req.Fields = []string{}
		res, err := idx.Search(req)
		if err != nil {
			return fmt.Errorf("list documents: %w", err)
		}
		if len(res.Hits) == 0 {
			return nil
		}

		ids := make([]string, len(res.Hits))
		for i, hit := range res.Hits {
			ids[i] = hit.ID
		}
		if err := w.deleteIDs(ids); err != nil {
			return err
		}
	}
}

func (w *Writer) deleteIDs(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := w.remember(ids); err != nil {
		return err
	}
	idx := w.st.Index()
	b := idx.NewBatch()
	for _, id := range ids {
		b.Delete(id)
		b.DeleteInternal(sourceKey(id))
	}
	if err := idx.Batch(b); err != nil {
		return fmt.Errorf("delete %d documents: %w", len(ids), err)
	}
	return nil
}

// holdsAny reports whether a stored field value, as returned in hit
// fields, equals one of want.
func holdsAny(stored interface{}, want map[string]struct{}) bool {
	switch v := stored.(type) {
	case string:
		_, ok := want[v]
		return ok
	case []interface{}:
		for _, e := range v {
			if s, ok := e.(string); ok {
				if _, hit := want[s]; hit {
					return true
				}
			}
		}
	case []string:
		for _, s := range v {
			if _, hit := want[s]; hit {
				return true
			}
		}
	}
	return false
}
