package resilience

import (
	"context"
	"time"
)

// TimeoutConfig defines the timeout hierarchy, outermost first:
//
//	Cron sweep (10m) > HTTP handler (60s) > gateway call (30s) > DB query (5s)
//
// Each layer must finish before its parent gives up.
type TimeoutConfig struct {
	HTTPHandler time.Duration
	CronSweep   time.Duration
	GatewayCall time.Duration
	DBQuery     time.Duration
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler: 60 * time.Second,
		CronSweep:   10 * time.Minute,
		GatewayCall: 30 * time.Second,
		DBQuery:     5 * time.Second,
	}
}

// TestTimeoutConfig returns shorter timeouts for testing
func TestTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler: 5 * time.Second,
		CronSweep:   30 * time.Second,
		GatewayCall: 2 * time.Second,
		DBQuery:     1 * time.Second,
	}
}

// HandlerContext creates a context with timeout for HTTP handlers
func (tc *TimeoutConfig) HandlerContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.HTTPHandler)
}

// SweepContext creates a context with timeout for one pending-capture sweep
func (tc *TimeoutConfig) SweepContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.CronSweep)
}

// GatewayContext creates a context for a single gateway exchange
func (tc *TimeoutConfig) GatewayContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.GatewayCall)
}

// QueryContext creates a context for a single ledger query
func (tc *TimeoutConfig) QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.DBQuery)
}
