// Package shutdown stops the processor's components in reverse start order.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Func stops one component within ctx
type Func func(context.Context) error

type component struct {
	name string
	fn   Func
}

// Manager runs registered shutdown functions one at a time in reverse
// registration order, so the scheduler and HTTP servers stop before the
// database pool they use is closed.
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration

	mu         sync.Mutex
	components []component
	once       sync.Once

	duration       prometheus.Histogram
	componentTimes *prometheus.HistogramVec
	failures       *prometheus.CounterVec
}

// NewManager creates a manager whose whole shutdown is bounded by timeout
func NewManager(logger *zap.Logger, timeout time.Duration, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)
	return &Manager{
		logger:  logger,
		timeout: timeout,
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "shutdown_duration_seconds",
			Help:    "Total time taken to shutdown gracefully",
			Buckets: []float64{1, 5, 10, 15, 20, 25, 30},
		}),
		componentTimes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "component_shutdown_duration_seconds",
			Help:    "Time taken to shutdown individual components",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 20, 25, 30},
		}, []string{"component"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shutdown_errors_total",
			Help: "Total number of shutdown errors by component",
		}, []string{"component"}),
	}
}

// Register adds a component. Register the database first and the HTTP
// servers last.
func (m *Manager) Register(name string, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component{name: name, fn: fn})
}

// RegisterHTTPServer registers anything with Shutdown(ctx), such as *http.Server
func (m *Manager) RegisterHTTPServer(name string, server interface{ Shutdown(context.Context) error }) {
	m.Register(name, server.Shutdown)
}

// RegisterNoErr registers a function that cannot fail, such as pool.Close
func (m *Manager) RegisterNoErr(name string, fn func()) {
	m.Register(name, func(context.Context) error {
		fn()
		return nil
	})
}

// RegisterFunc registers a Close-style function
func (m *Manager) RegisterFunc(name string, fn func() error) {
	m.Register(name, func(context.Context) error { return fn() })
}

// WaitForSignal blocks until SIGINT, SIGTERM or ctx ends, then shuts down
func (m *Manager) WaitForSignal(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	m.logger.Info("Received shutdown signal - initiating graceful shutdown",
		zap.Duration("timeout", m.timeout),
	)
	return m.Shutdown()
}

// Shutdown stops every component once; later calls return nil
func (m *Manager) Shutdown() error {
	var err error
	m.once.Do(func() {
		err = m.shutdown()
	})
	return err
}

func (m *Manager) shutdown() error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	components := append([]component(nil), m.components...)
	m.mu.Unlock()

	var errs []error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: skipped: %w", c.name, ctx.Err()))
			m.failures.WithLabelValues(c.name).Inc()
			continue
		}

		compStart := time.Now()
		if err := c.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			m.failures.WithLabelValues(c.name).Inc()
			m.logger.Error("Component shutdown failed",
				zap.String("component", c.name),
				zap.Error(err),
			)
		} else {
			m.logger.Info("Component shut down",
				zap.String("component", c.name),
				zap.Duration("elapsed", time.Since(compStart)),
			)
		}
		m.componentTimes.WithLabelValues(c.name).Observe(time.Since(compStart).Seconds())
	}

	m.duration.Observe(time.Since(start).Seconds())
	if len(errs) > 0 {
		m.logger.Error("Graceful shutdown completed with errors", zap.Int("error_count", len(errs)))
		return errors.Join(errs...)
	}
	m.logger.Info("Graceful shutdown completed", zap.Duration("elapsed", time.Since(start)))
	return nil
}
