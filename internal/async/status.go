// Package async runs index rebuilds in the background with progress
// tracking.
package async

import (
	"sync"
	"time"

	"github.com/Aman-CERP/nrtsearch/internal/index"
)

// Status is the overall state of a rebuild.
type Status string

const (
	// StatusRebuilding indicates the rebuild is in progress.
	StatusRebuilding Status = "rebuilding"
	// StatusReady indicates the rebuild committed.
	StatusReady Status = "ready"
	// StatusError indicates the rebuild stopped on an error.
	StatusError Status = "error"
)

// ProgressSnapshot is an immutable copy of rebuild progress.
type ProgressSnapshot struct {
	Status         string           `json:"status"`
	Total          int              `json:"total"`
	Processed      int              `json:"processed"`
	ProgressPct    float64          `json:"progress_pct"`
	Generation     index.Generation `json:"generation"`
	ElapsedSeconds int              `json:"elapsed_seconds"`
	ErrorMessage   string           `json:"error_message,omitempty"`
}

// Progress tracks a rebuild. Safe for concurrent use.
type Progress struct {
	mu sync.RWMutex

	status       Status
	total        int
	processed    int
	generation   index.Generation
	startTime    time.Time
	errorMessage string
}

// NewProgress returns a tracker in the rebuilding state. total may be zero
// when the record count is not known up front.
func NewProgress(total int) *Progress {
	return &Progress{
		status:    StatusRebuilding,
		total:     total,
		startTime: time.Now(),
	}
}

func (p *Progress) advance(gen index.Generation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed++
	p.generation = gen
}

func (p *Progress) setError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusError
	p.errorMessage = message
}

func (p *Progress) setReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusReady
}

// IsRebuilding reports whether the rebuild is still running.
func (p *Progress) IsRebuilding() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status == StatusRebuilding
}

// Snapshot returns the current progress.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var pct float64
	if p.total > 0 {
		pct = float64(p.processed) / float64(p.total) * 100.0
	}

	return ProgressSnapshot{
		Status:         string(p.status),
		Total:          p.total,
		Processed:      p.processed,
		ProgressPct:    pct,
		Generation:     p.generation,
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
		ErrorMessage:   p.errorMessage,
	}
}
