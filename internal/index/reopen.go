package index

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultMaxStale is the longest a published view may lag the writer
	// when nobody is waiting for a newer one.
	DefaultMaxStale = 60 * time.Second

	// DefaultMinStale is the shortest interval between two reopens while
	// readers wait for a newer view.
	DefaultMinStale = 100 * time.Millisecond
)

// ReopenConfig bounds how stale the published view may get.
type ReopenConfig struct {
	MaxStale time.Duration
	MinStale time.Duration
}

func (c ReopenConfig) withDefaults() ReopenConfig {
	if c.MaxStale <= 0 {
		c.MaxStale = DefaultMaxStale
	}
	if c.MinStale <= 0 {
		c.MinStale = DefaultMinStale
	}
	if c.MinStale > c.MaxStale {
		c.MinStale = c.MaxStale
	}
	return c
}

// ReopenCoordinator moves the published view towards the writer. It
// sleeps up to MaxStale, or MinStale while an acquire is waiting, and on
// each wake publishes a fresh view when the writer is ahead of the
// published one.
type ReopenCoordinator struct {
	name   string
	writer *Writer
	views  *ViewManager
	cfg    ReopenConfig
	logger *slog.Logger

	mu         sync.Mutex
	lastReopen time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReopenCoordinator creates a coordinator. Call Start to run it.
func NewReopenCoordinator(name string, w *Writer, views *ViewManager, cfg ReopenConfig, logger *slog.Logger) *ReopenCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReopenCoordinator{
		name:   name,
		writer: w,
		views:  views,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Start launches the background loop. It is a no-op when already started.
func (c *ReopenCoordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// Stop cancels the loop and waits for it to exit. A reopen in flight
// finishes first; publication is atomic, so views stay consistent.
func (c *ReopenCoordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *ReopenCoordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if wait := c.nextWait(); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-c.views.Demand():
				timer.Stop()
				continue
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return
		}
		_, _ = c.ReopenNow()
	}
}

func (c *ReopenCoordinator) nextWait() time.Duration {
	c.mu.Lock()
	since := time.Since(c.lastReopen)
	c.mu.Unlock()

	if c.views.Waiting() {
		return c.cfg.MinStale - since
	}
	return c.cfg.MaxStale - since
}

// ReopenNow publishes a view of everything written so far when the writer
// is ahead of the published view, and returns the published generation.
// A failed reopen is logged and the previous view stays published.
func (c *ReopenCoordinator) ReopenNow() (Generation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastReopen = time.Now()

	published := c.views.Published()
	if c.views.hasCurrent() && c.writer.Generation() <= published {
		return published, nil
	}

	start := time.Now()
	r, gen, err := c.writer.snapshot()
	if err != nil {
		reopenCount.WithLabelValues(c.name, "error").Inc()
		c.logger.Warn("index_reopen_failed",
			slog.Int64("published", int64(published)),
			slog.String("error", err.Error()))
		return published, err
	}

	if !c.views.publish(newView(r, gen, c.logger)) {
		reopenCount.WithLabelValues(c.name, "dropped").Inc()
		return c.views.Published(), nil
	}

	reopenCount.WithLabelValues(c.name, "ok").Inc()
	c.logger.Debug("index_view_published",
		slog.Int64("generation", int64(gen)),
		slog.Duration("took", time.Since(start)))
	return gen, nil
}
