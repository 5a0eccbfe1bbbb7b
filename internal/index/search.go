package index

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/collector"
	"github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"
	lru "github.com/hashicorp/golang-lru/v2"

	ierrors "github.com/Aman-CERP/nrtsearch/internal/errors"
	"github.com/Aman-CERP/nrtsearch/internal/telemetry"
)

const (
	// DefaultSearchLimit applies when a request sets no limit.
	DefaultSearchLimit = 10

	defaultQueryCacheSize = 256
)

// SearchRequest is a query against one index.
type SearchRequest struct {
	// Query uses the bleve query string syntax, e.g. "name:Rome". Empty
	// matches every document.
	Query string

	// Limit caps the returned hits. Zero means DefaultSearchLimit.
	Limit int

	// MinGeneration asks for a view that reflects at least this generation.
	MinGeneration Generation

	// Context receives hit counts and lookup statistics. Optional.
	Context telemetry.ExecutionContext
}

// Hit is one matching document.
type Hit struct {
	ID       string              `json:"id"`
	RecordID string              `json:"record_id"`
	Score    float64             `json:"score"`
	Fields   map[string][]string `json:"fields,omitempty"`
}

// SearchResult is the outcome of a search.
type SearchResult struct {
	Hits       []Hit         `json:"hits"`
	Total      uint64        `json:"total"`
	MaxScore   float64       `json:"max_score"`
	Took       time.Duration `json:"took"`
	Generation Generation    `json:"generation"`
	// Stale is set when no view reached MinGeneration in time and the
	// latest published view answered instead.
	Stale bool `json:"stale"`
}

// queryCache keeps parsed query strings.
type queryCache struct {
	parsed *lru.Cache[string, query.Query]
}

func newQueryCache(size int) *queryCache {
	if size <= 0 {
		size = defaultQueryCacheSize
	}
	c, _ := lru.New[string, query.Query](size)
	return &queryCache{parsed: c}
}

func (c *queryCache) parse(qs string) (query.Query, error) {
	if qs == "" {
		return bleve.NewMatchAllQuery(), nil
	}
	if c != nil {
		if q, ok := c.parsed.Get(qs); ok {
			return q, nil
		}
	}
	q, err := bleve.NewQueryStringQuery(qs).Parse()
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeInvalidQuery, "invalid query", err).WithDetail("query", qs)
	}
	if c != nil {
		c.parsed.Add(qs, q)
	}
	return q, nil
}

// Search runs req on a view of at least req.MinGeneration. When that view
// is not ready in time the latest view answers and the result is marked
// Stale. Hit counts and lookup statistics go to req.Context.
func (l *Lifecycle) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	l.mu.RLock()
	st, queries, name := l.st, l.queries, l.def.Name
	metrics := l.queryMetrics
	l.mu.RUnlock()
	if st == nil {
		return nil, ErrClosed
	}

	q, err := queries.parse(req.Query)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	start := time.Now()
	stale := false
	lease, err := l.Acquire(ctx, req.MinGeneration)
	if errors.Is(err, ErrTimedOut) {
		lease, err = l.AcquireLatest()
		stale = true
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = lease.Release() }()

	res, err := runQuery(ctx, lease.View(), st.Index().Mapping(), q, limit)
	if err != nil {
		return nil, err
	}
	res.Took = time.Since(start)
	res.Stale = stale

	telemetry.PublishTotalHits(req.Context, name, res.Total)
	telemetry.PublishLookupTime(req.Context, name, telemetry.LookupTime{
		Limit:        limit,
		TotalTime:    res.Took,
		TotalHits:    res.Total,
		ReturnedHits: len(res.Hits),
		MaxScore:     res.MaxScore,
	})
	metrics.Record(telemetry.QueryEvent{Query: req.Query, TotalHits: res.Total, Latency: res.Took, Stale: stale})

	l.logger.Debug("index_search",
		slog.String("query", req.Query),
		slog.Uint64("total_hits", res.Total),
		slog.Int64("generation", int64(res.Generation)),
		slog.Bool("stale", stale),
		slog.Duration("took", res.Took))
	return res, nil
}

// QueryMetrics returns the aggregated query statistics of the index.
func (l *Lifecycle) QueryMetrics() *telemetry.QueryMetricsSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.queryMetrics.Snapshot()
}

// runQuery executes q on the view's snapshot reader and loads the stored
// fields of the top hits.
func runQuery(ctx context.Context, v *View, m mapping.IndexMapping, q query.Query, limit int) (*SearchResult, error) {
	r := v.Reader()

	searcher, err := q.Searcher(ctx, r, m, search.SearcherOptions{})
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeInvalidQuery, "cannot build searcher", err)
	}
	defer func() { _ = searcher.Close() }()

	coll := collector.NewTopNCollector(limit, 0, search.SortOrder{&search.SortScore{Desc: true}})
	if err := coll.Collect(ctx, searcher, r); err != nil {
		return nil, ierrors.InternalError("collect hits", err)
	}

	matches := coll.Results()
	res := &SearchResult{
		Hits:       make([]Hit, 0, len(matches)),
		Total:      coll.Total(),
		MaxScore:   coll.MaxScore(),
		Generation: v.Generation(),
	}
	for _, dm := range matches {
		hit := Hit{ID: dm.ID, Score: dm.Score}
		hit.RecordID, hit.Fields, err = storedFields(r, dm.ID)
		if err != nil {
			return nil, ierrors.InternalError("load stored fields", err).WithDetail("id", dm.ID)
		}
		res.Hits = append(res.Hits, hit)
	}
	return res, nil
}

// storedFields returns the record id and the other stored fields of a document.
func storedFields(r index.IndexReader, id string) (string, map[string][]string, error) {
	doc, err := r.Document(id)
	if err != nil || doc == nil {
		return "", nil, err
	}

	var recordID string
	var fields map[string][]string
	doc.VisitFields(func(f index.Field) {
		value := string(f.Value())
		if f.Name() == RecordIDField {
			recordID = value
			return
		}
		if fields == nil {
			fields = make(map[string][]string)
		}
		fields[f.Name()] = append(fields[f.Name()], value)
	})
	return recordID, fields, nil
}
