package gatewayhttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/kevin07696/epay-processor/internal/domain"
	pkghttp "github.com/kevin07696/epay-processor/pkg/http"
	"github.com/kevin07696/epay-processor/pkg/resilience"
	"go.uber.org/zap"
)

// Config controls how a gateway adapter talks to its remote endpoint
type Config struct {
	// Timeout bounds one HTTP exchange
	Timeout time.Duration
	// MaxRetries is the number of extra attempts after a transport failure
	MaxRetries int
	// InsecureSkipVerify is only honored for sandbox endpoints
	InsecureSkipVerify bool
	// MaxBodyBytes caps how much of a response is read
	MaxBodyBytes int64
}

// DefaultConfig returns the transport defaults for gateway calls
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		MaxRetries:   2,
		MaxBodyBytes: 1 << 20,
	}
}

// RequestFunc builds a fresh request for every attempt, so bodies are never reused
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Response is a fully read gateway answer
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Transport wraps an *http.Client with retries and a circuit breaker.
// Errors it returns always wrap domain.ErrGatewayUnavailable or
// domain.ErrGatewayProtocol.
type Transport struct {
	name    string
	client  *http.Client
	config  Config
	breaker *CircuitBreaker
	backoff resilience.BackoffStrategy
	logger  *zap.Logger
}

// Option customizes a Transport
type Option func(*Transport)

// WithHTTPClient replaces the pooled client, mainly for tests
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) { t.client = client }
}

// WithBackoff replaces the retry backoff strategy
func WithBackoff(b resilience.BackoffStrategy) Option {
	return func(t *Transport) { t.backoff = b }
}

// WithCircuitBreaker replaces the default breaker
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(t *Transport) { t.breaker = cb }
}

// NewTransport creates a transport for the named gateway
func NewTransport(name string, config Config, logger *zap.Logger, opts ...Option) *Transport {
	clientCfg := pkghttp.GatewayClientConfig()
	if config.InsecureSkipVerify {
		clientCfg = pkghttp.SandboxClientConfig()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	t := &Transport{
		name:    name,
		client:  pkghttp.NewHTTPClient(clientCfg, config.Timeout),
		config:  config,
		breaker: NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		backoff: resilience.DefaultExponentialBackoff(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.breaker.OnStateChange(func(from, to CircuitState) {
		logger.Warn("Gateway circuit breaker changed state",
			zap.String("gateway", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	})
	return t
}

// Breaker exposes the circuit breaker for health reporting
func (t *Transport) Breaker() *CircuitBreaker {
	return t.breaker
}

// Do sends the request built by build, retrying transport failures and 5xx
// answers with backoff. 4xx answers are returned to the caller untouched.
// Only use it for operations the gateway can safely see twice.
func (t *Transport) Do(ctx context.Context, operation string, build RequestFunc) (*Response, error) {
	return t.do(ctx, operation, build, isRetryable)
}

// DoNonIdempotent is Do for operations that move money. It retries only
// failures where the request never left this process (dial and DNS errors).
// A 5xx answer, a dropped connection or an unreadable body may follow a
// settled request and is returned as domain.ErrGatewayUnavailable.
func (t *Transport) DoNonIdempotent(ctx context.Context, operation string, build RequestFunc) (*Response, error) {
	return t.do(ctx, operation, build, isUnsent)
}

func (t *Transport) do(ctx context.Context, operation string, build RequestFunc, retryable func(error) bool) (*Response, error) {
	var response *Response

	err := t.breaker.Call(func() error {
		return resilience.Retry(ctx, t.config.MaxRetries, t.backoff, retryable, func(attempt int) error {
			if attempt > 0 {
				t.logger.Info("Retrying gateway request",
					zap.String("gateway", t.name),
					zap.String("operation", operation),
					zap.Int("attempt", attempt),
				)
			}

			resp, err := t.send(ctx, build)
			if err != nil {
				return err
			}
			response = resp
			return nil
		})
	})

	if err != nil {
		if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests) {
			t.logger.Warn("Circuit breaker rejected gateway request",
				zap.String("gateway", t.name),
				zap.String("operation", operation),
				zap.String("circuit_state", t.breaker.State().String()),
			)
			return nil, domain.WrapError(domain.ErrorCodeGatewayUnavailable, t.name+" circuit open", err)
		}
		t.logger.Error("Gateway request failed",
			zap.String("gateway", t.name),
			zap.String("operation", operation),
			zap.Error(err),
		)
		if domain.GetErrorCode(err) != "" {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrorCodeGatewayUnavailable, t.name+" "+operation+" failed", err)
	}

	return response, nil
}

func (t *Transport) send(ctx context.Context, build RequestFunc) (*Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeGatewayProtocol, "failed to build request", err)
	}

	start := time.Now()
	httpResp, err := t.client.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeGatewayUnavailable, "failed to send request", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, t.config.MaxBodyBytes))
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeGatewayUnavailable, "failed to read response", err)
	}

	t.logger.Debug("Received gateway response",
		zap.String("gateway", t.name),
		zap.Int("status_code", httpResp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("body_length", len(body)),
	)

	if httpResp.StatusCode >= http.StatusInternalServerError {
		return nil, domain.WrapError(domain.ErrorCodeGatewayUnavailable,
			fmt.Sprintf("gateway returned status %d", httpResp.StatusCode), nil)
	}

	return &Response{StatusCode: httpResp.StatusCode, Body: body, Header: httpResp.Header}, nil
}

// isRetryable retries unavailability but never cancellations or protocol faults
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if !domain.IsDomainError(err, domain.ErrorCodeGatewayUnavailable) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		// a timed-out exchange may have reached the gateway; let the next sweep decide
		return false
	}
	return !errors.Is(err, context.DeadlineExceeded)
}

// isUnsent retries only errors raised before a connection carried the request
func isUnsent(err error) bool {
	if !isRetryable(err) {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
