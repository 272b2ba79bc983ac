package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Trimmer periodically deletes price history older than the retention
// window, oldest first via the ts index.
type Trimmer struct {
	history   *HistoryStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	runs    int64
	deleted int64
	errors  int64
}

// TrimmerStats is a snapshot of trimmer counters.
type TrimmerStats struct {
	Runs    int64
	Deleted int64
	Errors  int64
}

// NewTrimmer creates a trimmer.
func NewTrimmer(history *HistoryStore, retention, interval time.Duration, logger *slog.Logger) *Trimmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trimmer{
		history:   history,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

// Start begins the trim loop.
func (t *Trimmer) Start(ctx context.Context) error {
	t.ctx, t.cancel = context.WithCancel(ctx)

	t.wg.Add(1)
	go t.run()

	t.logger.Info("history trimmer started",
		"retention", t.retention,
		"interval", t.interval,
	)
	return nil
}

// Stop shuts the trimmer down.
func (t *Trimmer) Stop(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("history trimmer stopped")
	case <-ctx.Done():
		t.logger.Warn("history trimmer stop timed out")
	}
	return nil
}

// Stats returns current counters.
func (t *Trimmer) Stats() TrimmerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TrimmerStats{Runs: t.runs, Deleted: t.deleted, Errors: t.errors}
}

func (t *Trimmer) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.trimOnce()
		}
	}
}

func (t *Trimmer) trimOnce() {
	cutoff := time.Now().Add(-t.retention).UnixMicro()

	start := time.Now()
	deleted, err := t.history.Trim(t.ctx, cutoff)

	t.mu.Lock()
	t.runs++
	if err != nil {
		t.errors++
	} else {
		t.deleted += deleted
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Error("history trim failed", "error", err)
		return
	}
	if deleted > 0 {
		t.logger.Info("trimmed price history",
			"deleted", deleted,
			"duration", time.Since(start),
		)
	}
}
