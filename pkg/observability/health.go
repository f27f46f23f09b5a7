package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Health states
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// Pinger is satisfied by *pgxpool.Pool
type Pinger interface {
	Ping(ctx context.Context) error
}

type gatewayState struct {
	name  string
	state func() string
}

// HealthChecker reports database reachability and gateway circuit states.
// An unreachable database makes the service unhealthy; an open gateway
// circuit only degrades it, since the sweep retries captures later.
type HealthChecker struct {
	db       Pinger
	timeout  time.Duration
	mu       sync.RWMutex
	gateways []gatewayState
	now      func() time.Time
}

// NewHealthChecker creates a checker; db may be nil for in-memory storage
func NewHealthChecker(db Pinger) *HealthChecker {
	return &HealthChecker{
		db:      db,
		timeout: 2 * time.Second,
		now:     time.Now,
	}
}

// AddGateway reports a gateway's circuit breaker state under name
func (h *HealthChecker) AddGateway(name string, state func() string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gateways = append(h.gateways, gatewayState{name: name, state: state})
	sort.Slice(h.gateways, func(i, j int) bool { return h.gateways[i].name < h.gateways[j].name })
}

// Check performs health checks and returns the status
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	checks := make(map[string]string)
	overall := StatusHealthy

	if h.db != nil {
		dbCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()

		if err := h.db.Ping(dbCtx); err != nil {
			checks["database"] = "unhealthy: " + err.Error()
			overall = StatusUnhealthy
		} else {
			checks["database"] = StatusHealthy
		}
	} else {
		checks["database"] = "not configured"
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, g := range h.gateways {
		state := g.state()
		checks["gateway:"+g.name] = "circuit " + state
		if state != "closed" && overall == StatusHealthy {
			overall = StatusDegraded
		}
	}

	return HealthStatus{
		Status:    overall,
		Timestamp: h.now(),
		Checks:    checks,
	}
}

// HealthHandler answers 503 only when the service is unhealthy
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if status.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}

// ReadyHandler reports ready once the database answers
func (h *HealthChecker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
			defer cancel()
			if err := h.db.Ping(ctx); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}
