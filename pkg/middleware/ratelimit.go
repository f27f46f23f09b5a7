package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// clientLimiter tracks a rate limiter and when its client was last seen
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter limits requests per client IP. Idle clients are evicted
// periodically and the oldest client is dropped once maxClients is reached.
type RateLimiter struct {
	limiters        map[string]*clientLimiter
	mu              sync.Mutex
	rate            rate.Limit
	burst           int
	maxClients      int
	cleanupInterval time.Duration
	trustProxy      bool
	stopCh          chan struct{}
	stopOnce        sync.Once
	logger          *zap.Logger
}

// RateLimitConfig configures a RateLimiter
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	MaxClients        int
	CleanupInterval   time.Duration
	// TrustProxy keys clients by the first X-Forwarded-For hop
	TrustProxy bool
}

// DefaultRateLimitConfig allows 5 checkout requests per second per client
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 5,
		Burst:             10,
		MaxClients:        10000,
		CleanupInterval:   5 * time.Minute,
	}
}

// NewRateLimiter creates a limiter and starts its cleanup loop.
// Call Shutdown to stop the loop.
func NewRateLimiter(cfg RateLimitConfig, logger *zap.Logger) *RateLimiter {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 10000
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		limiters:        make(map[string]*clientLimiter),
		rate:            rate.Limit(cfg.RequestsPerSecond),
		burst:           cfg.Burst,
		maxClients:      cfg.MaxClients,
		cleanupInterval: cfg.CleanupInterval,
		trustProxy:      cfg.TrustProxy,
		stopCh:          make(chan struct{}),
		logger:          logger,
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.cleanup(time.Now())
		}
	}
}

func (rl *RateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.cleanupInterval)
	removed := 0
	for ip, cl := range rl.limiters {
		if cl.lastAccess.Before(cutoff) {
			delete(rl.limiters, ip)
			removed++
		}
	}
	if removed > 100 {
		rl.logger.Debug("Evicted idle rate limit entries", zap.Int("removed", removed))
	}
}

// Shutdown stops the cleanup goroutine
func (rl *RateLimiter) Shutdown() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Allow reports whether the client may make another request now
func (rl *RateLimiter) Allow(client string) bool {
	return rl.limiterFor(client).Allow()
}

func (rl *RateLimiter) limiterFor(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if cl, ok := rl.limiters[client]; ok {
		cl.lastAccess = now
		return cl.limiter
	}

	if len(rl.limiters) >= rl.maxClients {
		var oldest string
		var oldestAt time.Time
		for ip, cl := range rl.limiters {
			if oldest == "" || cl.lastAccess.Before(oldestAt) {
				oldest, oldestAt = ip, cl.lastAccess
			}
		}
		delete(rl.limiters, oldest)
	}

	cl := &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst), lastAccess: now}
	rl.limiters[client] = cl
	return cl.limiter
}

// Middleware rejects requests over the client's rate with 429
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := rl.clientIP(r)
		if !rl.Allow(client) {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("client", client),
				zap.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) clientIP(r *http.Request) string {
	if rl.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
