package gatewayhttp

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTransport(cfg Config, opts ...Option) *Transport {
	opts = append([]Option{WithBackoff(&resilience.FixedBackoff{Delay: 0})}, opts...)
	return NewTransport("test", cfg, zap.NewNop(), opts...)
}

func getRequest(url string) RequestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestTransport_Do_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	resp, err := newTestTransport(DefaultConfig()).Do(context.Background(), "lookup", getRequest(server.URL))

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(resp.Body))
}

func TestTransport_Do_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	resp, err := newTestTransport(cfg).Do(context.Background(), "lookup", getRequest(server.URL))

	require.NoError(t, err)
	assert.Equal(t, "recovered", string(resp.Body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestTransport_Do_ClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	resp, err := newTestTransport(DefaultConfig()).Do(context.Background(), "lookup", getRequest(server.URL))

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTransport_Do_TimeoutIsGatewayUnavailable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond

	_, err := newTestTransport(cfg).Do(context.Background(), "lookup", getRequest(server.URL))

	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeGatewayUnavailable))
}

func TestTransport_Do_OpenCircuitIsGatewayUnavailable(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Hour, MaxRequestsHalfOpen: 1})
	_ = cb.Call(func() error { return assert.AnError })

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	_, err := newTestTransport(DefaultConfig(), WithCircuitBreaker(cb)).Do(context.Background(), "lookup", getRequest(server.URL))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

// failingRoundTripper fails every request with err and counts attempts
type failingRoundTripper struct {
	err   error
	calls int32
}

func (f *failingRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	return nil, f.err
}

func TestTransport_DoNonIdempotent_ServerErrorIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	_, err := newTestTransport(cfg).DoNonIdempotent(context.Background(), "capture", getRequest(server.URL))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTransport_DoNonIdempotent_RetriesOnlyUnsentRequests(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int32
	}{
		{name: "connection refused", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, wantCalls: 3},
		{name: "unknown host", err: &net.DNSError{Err: "no such host", Name: "gateway.invalid"}, wantCalls: 3},
		{name: "connection reset", err: &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}, wantCalls: 1},
		{name: "closed mid response", err: io.ErrUnexpectedEOF, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &failingRoundTripper{err: tt.err}
			cfg := DefaultConfig()
			cfg.MaxRetries = 2
			transport := newTestTransport(cfg, WithHTTPClient(&http.Client{Transport: rt}))

			_, err := transport.DoNonIdempotent(context.Background(), "capture", getRequest("http://gateway.invalid/capture"))

			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&rt.calls))
		})
	}
}

func TestTransport_Do_RetriesDroppedConnections(t *testing.T) {
	rt := &failingRoundTripper{err: &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}}
	cfg := DefaultConfig()
	cfg.MaxRetries = 2

	_, err := newTestTransport(cfg, WithHTTPClient(&http.Client{Transport: rt})).
		Do(context.Background(), "lookup", getRequest("http://gateway.invalid/lookup"))

	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&rt.calls))
}
