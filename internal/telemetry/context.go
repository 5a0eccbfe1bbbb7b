// Package telemetry reports query statistics to callers and keeps local
// query metrics per index. Nothing is sent anywhere.
package telemetry

import (
	"strings"
	"sync"
	"time"
)

// Well-known execution context variable names.
const (
	// TotalHitsVar holds the hit count of the single index that served a
	// query. It is reset to nil when a second index reports, since the
	// count would be ambiguous.
	TotalHitsVar = "totalHits"

	totalHitsSuffix  = "_totalHits"
	lookupTimeSuffix = "_lookupTime"
)

// ExecutionContext is the caller-supplied variable bag a query reports into.
type ExecutionContext interface {
	Variable(name string) (any, bool)
	SetVariable(name string, value any)
}

// LookupTime is published under "<index>_lookupTime".
type LookupTime struct {
	Limit        int           `json:"limit"`
	TotalTime    time.Duration `json:"totalTime"`
	TotalHits    uint64        `json:"totalHits"`
	ReturnedHits int           `json:"returnedHits"`
	MaxScore     float64       `json:"maxScore"`
}

// VariablePrefix turns an index name into a variable name prefix. Dots are
// not allowed in variable names.
func VariablePrefix(indexName string) string {
	return strings.ReplaceAll(indexName, ".", "_")
}

// TotalHitsName returns the per-index hit count variable name.
func TotalHitsName(indexName string) string {
	return VariablePrefix(indexName) + totalHitsSuffix
}

// LookupTimeName returns the per-index lookup statistics variable name.
func LookupTimeName(indexName string) string {
	return VariablePrefix(indexName) + lookupTimeSuffix
}

// PublishTotalHits records the hit count of a query on indexName. A nil
// context is ignored.
func PublishTotalHits(ctx ExecutionContext, indexName string, totalHits uint64) {
	if ctx == nil {
		return
	}
	if v, ok := ctx.Variable(TotalHitsVar); !ok || v == nil {
		ctx.SetVariable(TotalHitsVar, totalHits)
	} else {
		ctx.SetVariable(TotalHitsVar, nil)
	}
	ctx.SetVariable(TotalHitsName(indexName), totalHits)
}

// PublishLookupTime records the lookup statistics of a query on indexName.
func PublishLookupTime(ctx ExecutionContext, indexName string, lt LookupTime) {
	if ctx == nil {
		return
	}
	ctx.SetVariable(LookupTimeName(indexName), lt)
}

// Variables is a map-backed ExecutionContext. Safe for concurrent use.
type Variables struct {
	mu   sync.RWMutex
	vars map[string]any
}

// NewVariables returns an empty variable bag.
func NewVariables() *Variables {
	return &Variables{vars: make(map[string]any)}
}

// Variable implements ExecutionContext. A variable set to nil is present.
func (v *Variables) Variable(name string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.vars[name]
	return val, ok
}

// SetVariable implements ExecutionContext.
func (v *Variables) SetVariable(name string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vars[name] = value
}

// Snapshot returns a copy of all variables.
func (v *Variables) Snapshot() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]any, len(v.vars))
	for k, val := range v.vars {
		out[k] = val
	}
	return out
}
