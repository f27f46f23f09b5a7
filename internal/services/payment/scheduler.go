package payment

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/kevin07696/epay-processor/pkg/resilience"
	"github.com/kevin07696/epay-processor/pkg/shutdown"
	"go.uber.org/zap"
)

// Sweeper runs one pending-capture sweep
type Sweeper interface {
	Method() string
	CapturePendingPayments(ctx context.Context) (SweepResult, error)
}

// Scheduler runs sweeps on an interval and on demand, never two at once
type Scheduler struct {
	sweepers []Sweeper
	interval time.Duration
	timeouts *resilience.TimeoutConfig
	running  atomic.Bool
	worker   *shutdown.PeriodicWorker
	inflight *shutdown.InFlightTracker
	logger   *zap.Logger
}

// NewScheduler creates a scheduler over one sweeper per gateway.
// A zero interval disables the ticker; RunOnce still works.
func NewScheduler(interval time.Duration, timeouts *resilience.TimeoutConfig, logger *zap.Logger, sweepers ...Sweeper) *Scheduler {
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	return &Scheduler{
		sweepers: sweepers,
		interval: interval,
		timeouts: timeouts,
		worker:   shutdown.NewPeriodicWorker("capture-scheduler", interval, logger),
		inflight: shutdown.NewInFlightTracker("capture-sweeps", logger),
		logger:   logger,
	}
}

// Start runs sweeps every interval until ctx is done or Shutdown is called
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Capture scheduler disabled")
		return
	}

	s.worker.Start(ctx, func(ctx context.Context) {
		if _, ok := s.RunOnce(ctx); !ok && !s.inflight.IsShuttingDown() {
			s.logger.Warn("Skipping scheduled sweep, previous sweep still running")
		}
	})
}

// RunOnce sweeps every gateway once. It returns false without sweeping when
// another sweep is already in progress or the scheduler is shutting down.
func (s *Scheduler) RunOnce(ctx context.Context) (map[string]SweepResult, bool) {
	if !s.inflight.Add() {
		return nil, false
	}
	defer s.inflight.Done()

	if !s.running.CompareAndSwap(false, true) {
		return nil, false
	}
	defer s.running.Store(false)

	ctx, cancel := s.timeouts.SweepContext(ctx)
	defer cancel()

	results := make(map[string]SweepResult, len(s.sweepers))
	for _, sweeper := range s.sweepers {
		result, err := sweeper.CapturePendingPayments(ctx)
		if err != nil {
			s.logger.Error("Sweep failed", zap.String("method", sweeper.Method()), zap.Error(err))
			result.Failures = append(result.Failures, SweepFailure{Error: err.Error()})
		}
		results[sweeper.Method()] = result
	}
	return results, true
}

// Running reports whether a sweep is in progress
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Shutdown stops the ticker and waits until every running sweep has
// returned, including ones started through RunOnce. A cancelled sweep stops
// between payments; the capture in hand still records its result.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	return errors.Join(
		s.worker.Shutdown(ctx),
		s.inflight.Shutdown(ctx),
	)
}
