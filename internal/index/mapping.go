package index

import (
	"encoding/hex"
	"sort"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/cespare/xxhash/v2"

	"github.com/Aman-CERP/nrtsearch/internal/analysis"
	ierrors "github.com/Aman-CERP/nrtsearch/internal/errors"
)

// RecordIDField holds the record identity of every document. It is
// indexed as a single keyword term and stored.
const RecordIDField = "_rid"

// buildMapping creates the bleve mapping for an index: a keyword record id
// field plus one text field per indexed field, analysed with the analyzer
// named in md. Multi-valued fields are stored.
func buildMapping(registry *analysis.Registry, policy Policy, md Metadata) (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	analyzer, err := registry.Apply(im, md.Analyzer)
	if err != nil {
		return nil, ierrors.ConfigError("resolve analyzer", err).WithDetail("analyzer", md.Analyzer)
	}

	dm := bleve.NewDocumentStaticMapping()

	rid := bleve.NewKeywordFieldMapping()
	rid.Analyzer = keyword.Name
	rid.Store = true
	rid.IncludeInAll = false
	dm.AddFieldMappingsAt(RecordIDField, rid)

	for _, name := range policy.Fields() {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = analyzer
		fm.Store = policy.Field(name).Stored
		fm.IncludeTermVectors = false
		dm.AddFieldMappingsAt(name, fm)
	}

	im.DefaultMapping = dm
	im.DefaultAnalyzer = analyzer
	im.DefaultField = "_all"
	return im, nil
}

// documentID derives the storage id of doc. Without multi-valued fields a
// record maps to exactly one document keyed by its record id. Otherwise a
// record may contribute several documents, one per distinct set of values.
func documentID(policy Policy, doc Document) string {
	if !policy.AnyMultiValued() {
		return doc.RecordID
	}

	names := make([]string, 0, len(doc.Fields))
	for name := range doc.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	h := xxhash.New()
	for _, name := range names {
		_, _ = h.WriteString(name)
		_, _ = h.Write([]byte{0})
		for _, v := range doc.Fields[name] {
			_, _ = h.WriteString(v)
			_, _ = h.Write([]byte{0})
		}
		_, _ = h.Write([]byte{1})
	}

	var sum [8]byte
	return doc.RecordID + "/" + hex.EncodeToString(h.Sum(sum[:0]))
}

// documentBody converts doc to the value bleve indexes. Fields outside the
// policy table are dropped; the static mapping would ignore them anyway.
func documentBody(policy Policy, doc Document) map[string]interface{} {
	body := make(map[string]interface{}, len(doc.Fields)+1)
	body[RecordIDField] = doc.RecordID
	for name, values := range doc.Fields {
		if !policy.Has(name) || len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			body[name] = values[0]
			continue
		}
		vs := make([]interface{}, len(values))
		for i, v := range values {
			vs[i] = v
		}
		body[name] = vs
	}
	return body
}
