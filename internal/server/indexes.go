package server

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Aman-CERP/nrtsearch/internal/index"
	"github.com/Aman-CERP/nrtsearch/internal/telemetry"
)

const defaultListLimit = 100

// IndexStatus describes one open index.
type IndexStatus struct {
	Name       string           `json:"name"`
	Class      string           `json:"class"`
	Fields     []string         `json:"fields"`
	State      string           `json:"state"`
	Generation index.Generation `json:"generation"`
	Published  index.Generation `json:"published"`
	Rebuilding bool             `json:"rebuilding"`
}

// DocumentRequest is the body of an add or field-scoped remove.
type DocumentRequest struct {
	RecordID string              `json:"record_id"`
	Fields   map[string][]string `json:"fields"`
}

// WriteResponse reports the generation a write was assigned.
type WriteResponse struct {
	Generation index.Generation `json:"generation"`
}

// SearchResponse is a search result plus the telemetry it published.
type SearchResponse struct {
	*index.SearchResult
	Telemetry map[string]any `json:"telemetry,omitempty"`
}

type indexGroup struct {
	s *Server
}

func newIndexGroup(g *echo.Group, s *Server) *indexGroup {
	group := &indexGroup{s: s}

	g.GET("", group.List)
	g.GET("/:name", group.Status)
	g.GET("/:name/search", group.Search)
	g.GET("/:name/documents", group.Documents)
	g.POST("/:name/documents", group.AddDocument)
	g.DELETE("/:name/documents/:rid", group.RemoveDocument)
	g.POST("/:name/commit", group.Commit)
	g.POST("/:name/refresh", group.Refresh)
	g.POST("/:name/clear", group.Clear)
	g.POST("/:name/rollback", group.Rollback)
	g.GET("/:name/size", group.Size)
	g.GET("/:name/stats", group.Stats)

	return group
}

// param returns a path parameter with percent-escapes decoded, so record
// ids such as "#12:1" can be sent as %2312:1.
func param(c echo.Context, name string) string {
	raw := c.Param(name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func (g *indexGroup) lookup(c echo.Context) (*index.Lifecycle, bool) {
	return g.s.registry.Get(param(c, "name"))
}

func indexNotFound(c echo.Context) error {
	return notFound(c, "index "+param(c, "name")+" not found")
}

func status(lc *index.Lifecycle) IndexStatus {
	def := lc.Definition()
	return IndexStatus{
		Name:       def.Name,
		Class:      def.ClassName,
		Fields:     def.Fields,
		State:      lc.State().String(),
		Generation: lc.Generation(),
		Published:  lc.Published(),
		Rebuilding: lc.Rebuilding(),
	}
}

func (g *indexGroup) List(c echo.Context) error {
	names := g.s.registry.Names()
	out := make([]IndexStatus, 0, len(names))
	for _, name := range names {
		if lc, ok := g.s.registry.Get(name); ok {
			out = append(out, status(lc))
		}
	}
	return successResponse(c, out)
}

func (g *indexGroup) Status(c echo.Context) error {
	lc, ok := g.lookup(c)
	if !ok {
		return indexNotFound(c)
	}
	return successResponse(c, status(lc))
}

func (g *indexGroup) Search(c echo.Context) error {
	lc, ok := g.lookup(c)
	if !ok {
		return indexNotFound(c)
	}

	limit := g.s.cfg.DefaultLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		limit = n
	}
	var minGen int64
	if v := c.QueryParam("min_gen"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return badRequest(c, "min_gen must be a non-negative integer")
		}
		minGen = n
	}

	vars := telemetry.NewVariables()
	res, err := lc.Search(c.Request().Context(), index.SearchRequest{
		Query:         c.QueryParam("q"),
		Limit:         limit,
		MinGeneration: index.Generation(minGen),
		Context:       vars,
	})
	if err != nil {
		return indexError(c, err)
	}
	return successResponse(c, SearchResponse{SearchResult: res, Telemetry: vars.Snapshot()})
}

// Documents lists the stored documents of the current view, up to limit.
func (g *indexGroup) Documents(c echo.Context) error {
	lc, ok := g.lookup(c)
	if !ok {
		return indexNotFound(c)
	}

	limit := defaultListLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		limit = n
	}

	it, err := lc.Iterator()
	if err != nil {
		return indexError(c, err)
	}
	defer func() { _ = it.Close() }()

	entries := make([]index.Entry, 0)
	for len(entries) < limit {
		e, ok, err := it.Next()
		if err != nil {
			return indexError(c, err)
		}
		if !ok {
			break
		}
		entries = append(entries, e)
	}
	return successResponse(c, map[string]interface{}{
		"generation": it.Generation(),
		"documents":  entries,
	})
}

func (g *indexGroup) AddDocument(c echo.Context) error {
	lc, ok := g.lookup(c)
	if !ok {
		return indexNotFound(c)
	}

	var req DocumentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid document body")
	}

	gen, err := lc.AddDocument(index.Document{RecordID: req.RecordID, Fields: req.Fields})
	if err != nil {
		return indexError(c, err)
	}
	return successResponse(c, WriteResponse{Generation: gen})
}

// RemoveDocument removes a record. With a body carrying fields only the
// entries holding those values are removed.
func (g *indexGroup) RemoveDocument(c echo.Context) error {
	lc, ok := g.lookup(c)
	if !ok {
		return indexNotFound(c)
	}

	var req DocumentRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid document body")
		}
	}

	rid := param(c, "rid")
	var (
		gen index.Generation
		err error
	)
	if len(req.Fields) > 0 {
		gen, err = lc.Remove(rid, req.Fields)
	} else {
		gen, err = lc.DeleteByIdentity(rid)
	}
	if err != nil {
		return indexError(c, err)
	}
	return successResponse(c, WriteResponse{Generation: gen})
}

func (g *indexGroup) Commit(c echo.Context) error {
	lc, ok := g.lookup(c)
	if !ok {
		return indexNotFound(c)
	}
	if err := lc.Commit(); err != nil {
		return indexError(c, err)
	}
	return successResponse(c, WriteResponse{Generation: lc.Generation()})
}

func (g *indexGroup) Refresh(c echo.Context) error {
	lc, ok := g.lookup(c)
	if !ok {
		return indexNotFound(c)
	}
	gen, err := lc.Refresh()
	if err != nil {
		return indexError(c, err)
	}
	return successResponse(c, WriteResponse{Generation: gen})
}

func (g *indexGroup) Clear(c echo.Context) error {
	lc, ok := g.lookup(c)
	if !ok {
		return indexNotFound(c)
	}
	gen, err := lc.Clear()
	if err != nil {
		return indexError(c, err)
	}
	return successResponse(c, WriteResponse{Generation: gen})
}

func (g *indexGroup) Rollback(c echo.Context) error {
	lc, ok := g.lookup(c)
	if !ok {
		return indexNotFound(c)
	}
	if err := lc.Rollback(c.Request().Context()); err != nil {
		return indexError(c, err)
	}
	return successResponse(c, status(lc))
}

func (g *indexGroup) Size(c echo.Context) error {
	lc, ok := g.lookup(c)
	if !ok {
		return indexNotFound(c)
	}
	n, err := lc.Size()
	if err != nil {
		return indexError(c, err)
	}
	return successResponse(c, map[string]uint64{"size": n})
}

func (g *indexGroup) Stats(c echo.Context) error {
	lc, ok := g.lookup(c)
	if !ok {
		return indexNotFound(c)
	}
	return successResponse(c, lc.QueryMetrics())
}
