package shutdown

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// InFlightTracker counts running units of work so shutdown can wait for them.
// Once Shutdown starts, Add refuses new work.
type InFlightTracker struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	draining bool
	name     string
	logger   *zap.Logger
}

// NewInFlightTracker creates a tracker for the named kind of work
func NewInFlightTracker(name string, logger *zap.Logger) *InFlightTracker {
	return &InFlightTracker{name: name, logger: logger}
}

// Add registers one unit of work. It returns false once shutdown has begun.
func (t *InFlightTracker) Add() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining {
		return false
	}
	t.wg.Add(1)
	return true
}

// Done marks one unit of work finished
func (t *InFlightTracker) Done() {
	t.wg.Done()
}

// IsShuttingDown reports whether Shutdown has been called
func (t *InFlightTracker) IsShuttingDown() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.draining
}

// Shutdown refuses new work and waits for running work or ctx, whichever ends first
func (t *InFlightTracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.draining = true
	t.mu.Unlock()

	t.logger.Info("Waiting for in-flight work", zap.String("tracker", t.name))
	if err := waitGroup(ctx, &t.wg); err != nil {
		t.logger.Warn("In-flight work still running at shutdown deadline", zap.String("tracker", t.name))
		return err
	}
	t.logger.Info("In-flight work drained", zap.String("tracker", t.name))
	return nil
}

// PeriodicWorker runs work on a ticker in one goroutine. Work receives a
// context that ends when Shutdown is called.
type PeriodicWorker struct {
	name     string
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// NewPeriodicWorker creates a worker firing every interval
func NewPeriodicWorker(name string, interval time.Duration, logger *zap.Logger) *PeriodicWorker {
	return &PeriodicWorker{name: name, interval: interval, logger: logger}
}

// Start launches the ticker loop. The first run happens after one interval.
func (w *PeriodicWorker) Start(ctx context.Context, work func(ctx context.Context)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.cancel != nil {
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.logger.Info("Periodic worker started",
			zap.String("worker", w.name),
			zap.Duration("interval", w.interval),
		)
		for {
			select {
			case <-ctx.Done():
				w.logger.Info("Periodic worker stopped", zap.String("worker", w.name))
				return
			case <-ticker.C:
				work(ctx)
			}
		}
	}()
}

// Shutdown cancels the worker's context and waits for the current run to return
func (w *PeriodicWorker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.stopped = true
	cancel := w.cancel
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if err := waitGroup(ctx, &w.wg); err != nil {
		w.logger.Warn("Periodic worker shutdown timeout", zap.String("worker", w.name))
		return err
	}
	return nil
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
