package cron

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/internal/services/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "cron-secret"

// MockSweepRunner is a mock implementation of SweepRunner
type MockSweepRunner struct {
	mock.Mock
}

func (m *MockSweepRunner) RunOnce(ctx context.Context) (map[string]payment.SweepResult, bool) {
	args := m.Called(ctx)
	results, _ := args.Get(0).(map[string]payment.SweepResult)
	return results, args.Bool(1)
}

func (m *MockSweepRunner) Running() bool {
	return m.Called().Bool(0)
}

// MockCapturer is a mock implementation of Capturer
type MockCapturer struct {
	mock.Mock
	method string
}

func (m *MockCapturer) Method() string { return m.method }

func (m *MockCapturer) ManualCapture(ctx context.Context, paymentID string) (*payment.CaptureReport, error) {
	args := m.Called(ctx, paymentID)
	report, _ := args.Get(0).(*payment.CaptureReport)
	return report, args.Error(1)
}

func (m *MockCapturer) PurchaseCompleted(ctx context.Context, purchaseID string) error {
	return m.Called(ctx, purchaseID).Error(0)
}

type setup struct {
	sweeps *MockSweepRunner
	epay   *MockCapturer
	twoco  *MockCapturer
	mux    *http.ServeMux
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	s := &setup{
		sweeps: &MockSweepRunner{},
		epay:   &MockCapturer{method: "ePay"},
		twoco:  &MockCapturer{method: "2Checkout"},
		mux:    http.NewServeMux(),
	}
	NewCaptureHandler(s.sweeps, zap.NewNop(), secret, s.epay, s.twoco).Register(s.mux)
	t.Cleanup(func() {
		s.sweeps.AssertExpectations(t)
		s.epay.AssertExpectations(t)
		s.twoco.AssertExpectations(t)
	})
	return s
}

func (s *setup) post(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("X-Cron-Secret", secret)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func TestCapturePending(t *testing.T) {
	tests := []struct {
		name    string
		results map[string]payment.SweepResult
		want    int
		success bool
	}{
		{
			name: "all captured",
			results: map[string]payment.SweepResult{
				"ePay":      {Examined: 2, Captured: 2},
				"2Checkout": {},
			},
			want:    http.StatusOK,
			success: true,
		},
		{
			name: "some pending",
			results: map[string]payment.SweepResult{
				"ePay": {Examined: 2, Captured: 1, Pending: 1, Failures: []payment.SweepFailure{{PaymentID: "p2", Code: "PENDING_CAPTURE"}}},
			},
			want: http.StatusPartialContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSetup(t)
			s.sweeps.On("RunOnce", mock.Anything).Return(tt.results, true).Once()

			rec := s.post("/cron/capture-pending")

			require.Equal(t, tt.want, rec.Code)
			var resp CapturePendingResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.success, resp.Success)
			assert.Equal(t, tt.results["ePay"].Captured, resp.Results["ePay"].Captured)
		})
	}
}

func TestCapturePending_AlreadyRunning(t *testing.T) {
	s := newSetup(t)
	s.sweeps.On("RunOnce", mock.Anything).Return(nil, false).Once()

	rec := s.post("/cron/capture-pending")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAuthentication(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{name: "no credentials", want: http.StatusUnauthorized},
		{name: "wrong secret", header: "X-Cron-Secret", value: "nope", want: http.StatusUnauthorized},
		{name: "wrong bearer", header: "Authorization", value: "Bearer nope", want: http.StatusUnauthorized},
		{name: "bearer token", header: "Authorization", value: "Bearer " + secret, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSetup(t)
			if tt.want == http.StatusOK {
				s.sweeps.On("RunOnce", mock.Anything).Return(map[string]payment.SweepResult{}, true).Once()
			}

			req := httptest.NewRequest(http.MethodPost, "/cron/capture-pending", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			s.mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuthentication_EmptySecretRejectsAll(t *testing.T) {
	mux := http.NewServeMux()
	NewCaptureHandler(&MockSweepRunner{}, zap.NewNop(), "").Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/cron/capture-pending", nil)
	req.Header.Set("X-Cron-Secret", "")
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCapturePayment(t *testing.T) {
	s := newSetup(t)
	s.epay.On("ManualCapture", mock.Anything, "pay-1").Return(&payment.CaptureReport{
		Outcome:   payment.CaptureCaptured,
		DealIDs:   []string{"d1"},
		Completed: true,
		Payment:   &domain.Payment{Status: domain.PaymentStatusComplete},
	}, nil).Once()

	rec := s.post("/cron/capture/pay-1")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp CaptureResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "captured", resp.Outcome)
	assert.Equal(t, "complete", resp.Status)
	assert.Equal(t, []string{"d1"}, resp.DealIDs)
}

func TestCapturePayment_SelectsMethod(t *testing.T) {
	s := newSetup(t)
	s.twoco.On("ManualCapture", mock.Anything, "pay-2").Return(&payment.CaptureReport{Outcome: payment.CaptureSkipped, Reason: "payment already complete"}, nil).Once()

	rec := s.post("/cron/capture/pay-2?method=2Checkout")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "payment already complete")
}

func TestCapturePayment_Pending(t *testing.T) {
	s := newSetup(t)
	s.epay.On("ManualCapture", mock.Anything, "pay-1").Return(
		&payment.CaptureReport{Outcome: payment.CapturePending, Reason: "Card expired"},
		domain.ErrPendingCapture.WithDetail("response_code", "-23"),
	).Once()

	rec := s.post("/cron/capture/pay-1")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "Card expired")
}

func TestCapturePayment_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "not found", err: domain.ErrPaymentNotFound, want: http.StatusNotFound},
		{name: "ledger down", err: domain.ErrPersistence, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSetup(t)
			s.epay.On("ManualCapture", mock.Anything, "pay-1").Return(nil, tt.err).Once()

			assert.Equal(t, tt.want, s.post("/cron/capture/pay-1").Code)
		})
	}
}

func TestCapturePayment_UnknownMethod(t *testing.T) {
	s := newSetup(t)
	assert.Equal(t, http.StatusBadRequest, s.post("/cron/capture/pay-1?method=PayPal").Code)
}

func TestCompletePurchase(t *testing.T) {
	s := newSetup(t)
	s.epay.On("PurchaseCompleted", mock.Anything, "pur-1").Return(nil).Once()
	s.twoco.On("PurchaseCompleted", mock.Anything, "pur-1").Return(nil).Once()

	rec := s.post("/cron/purchase/pur-1/complete")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pur-1")
}

func TestCompletePurchase_OneGatewayFails(t *testing.T) {
	s := newSetup(t)
	s.epay.On("PurchaseCompleted", mock.Anything, "pur-1").Return(domain.ErrPersistence).Once()
	s.twoco.On("PurchaseCompleted", mock.Anything, "pur-1").Return(nil).Once()

	rec := s.post("/cron/purchase/pur-1/complete")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	s := newSetup(t)
	s.sweeps.On("Running").Return(true).Once()

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cron/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["sweep_running"])
}
