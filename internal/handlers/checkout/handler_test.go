package checkout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/kevin07696/epay-processor/internal/adapters/epay"
	"github.com/kevin07696/epay-processor/internal/adapters/events"
	"github.com/kevin07696/epay-processor/internal/adapters/memory"
	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/internal/services/charge"
	"github.com/kevin07696/epay-processor/internal/services/payment"
	"github.com/kevin07696/epay-processor/pkg/middleware"
	"github.com/kevin07696/epay-processor/pkg/timeutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockProcessor is a mock implementation of Processor
type MockProcessor struct {
	mock.Mock
	method string
}

func (m *MockProcessor) Method() string { return m.method }

func (m *MockProcessor) SendOffsite(ctx context.Context, session domain.SessionKey, buyer domain.Buyer, checkout *domain.Checkout) (*domain.OffsiteRedirect, error) {
	args := m.Called(ctx, session, buyer, checkout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OffsiteRedirect), args.Error(1)
}

func (m *MockProcessor) ResumeCheckout(ctx context.Context, session domain.SessionKey, params domain.CallbackParams, inProgress bool) (bool, error) {
	args := m.Called(ctx, session, params, inProgress)
	return args.Bool(0), args.Error(1)
}

func (m *MockProcessor) Authorize(ctx context.Context, session domain.SessionKey, checkout *domain.Checkout, purchase *domain.Purchase, params domain.CallbackParams) (*domain.Payment, error) {
	args := m.Called(ctx, session, checkout, purchase, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

var session = domain.SessionKey{Tenant: "1", UserID: "42"}

type setup struct {
	proc   *MockProcessor
	source *memory.CheckoutSource
	mux    *http.ServeMux
}

func newSetup(t *testing.T, config Config) *setup {
	t.Helper()
	s := &setup{
		proc:   &MockProcessor{method: "ePay"},
		source: memory.NewCheckoutSource(),
		mux:    http.NewServeMux(),
	}
	NewHandler(s.source, config, zap.NewNop(), s.proc).Register(s.mux, nil)
	t.Cleanup(func() { s.proc.AssertExpectations(t) })
	return s
}

func (s *setup) do(req *http.Request) *httptest.ResponseRecorder {
	req.Header.Set(HeaderTenant, session.Tenant)
	req.Header.Set(HeaderUser, session.UserID)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func offsiteRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/checkout/offsite", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSendOffsite_RedirectGateway(t *testing.T) {
	s := newSetup(t, Config{})
	checkout := &domain.Checkout{Cart: domain.Cart{TaxTotal: decimal.NewFromInt(5)}}
	s.source.PutCheckout(session, checkout)

	s.proc.On("SendOffsite", mock.Anything, session, domain.Buyer{ID: "42", Email: "ada@example.com"}, mock.Anything).
		Return(&domain.OffsiteRedirect{URL: "https://www.2checkout.com/checkout/purchase?sid=1"}, nil).Once()

	rec := s.do(offsiteRequest(`{"method":"ePay","email":"ada@example.com"}`))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "https://www.2checkout.com/checkout/purchase?sid=1", rec.Header().Get("Location"))
}

func TestSendOffsite_WidgetGateway(t *testing.T) {
	s := newSetup(t, Config{})
	s.source.PutCheckout(session, &domain.Checkout{})

	widget := &domain.PaymentWindow{ScriptURL: "https://ssl.ditonlinebetalingssystem.dk/integration/ewindow/paymentwindow.js", Params: map[string]string{"merchantnumber": "123"}}
	s.proc.On("SendOffsite", mock.Anything, session, mock.Anything, mock.Anything).
		Return(&domain.OffsiteRedirect{Widget: widget}, nil).Once()

	rec := s.do(offsiteRequest(``))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp OffsiteResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "widget", resp.Status)
	require.NotNil(t, resp.Widget)
	assert.Equal(t, "123", resp.Widget.Params["merchantnumber"])
}

func TestSendOffsite_FreeCart(t *testing.T) {
	s := newSetup(t, Config{})
	s.source.PutCheckout(session, &domain.Checkout{})
	s.proc.On("SendOffsite", mock.Anything, session, mock.Anything, mock.Anything).Return(nil, domain.ErrEmptyCharge).Once()

	rec := s.do(offsiteRequest(`{}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_payment_required")
}

func TestSendOffsite_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  func() *http.Request
		want int
	}{
		{name: "unknown method", req: func() *http.Request { return offsiteRequest(`{"method":"PayPal"}`) }, want: http.StatusBadRequest},
		{name: "bad body", req: func() *http.Request { return offsiteRequest(`{`) }, want: http.StatusBadRequest},
		{name: "no checkout", req: func() *http.Request { return offsiteRequest(`{}`) }, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSetup(t, Config{})
			rec := s.do(tt.req())
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSendOffsite_MissingSession(t *testing.T) {
	s := newSetup(t, Config{})
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, offsiteRequest(`{}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendOffsite_RateLimited(t *testing.T) {
	s := &setup{proc: &MockProcessor{method: "ePay"}, source: memory.NewCheckoutSource(), mux: http.NewServeMux()}
	rl := middleware.NewRateLimiter(middleware.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}, zap.NewNop())
	defer rl.Shutdown()
	NewHandler(s.source, Config{}, zap.NewNop(), s.proc).Register(s.mux, rl.Middleware)

	s.source.PutCheckout(session, &domain.Checkout{})
	s.proc.On("SendOffsite", mock.Anything, session, mock.Anything, mock.Anything).Return(nil, domain.ErrEmptyCharge).Once()

	assert.Equal(t, http.StatusOK, s.do(offsiteRequest(`{}`)).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(offsiteRequest(`{}`)).Code)
}

func TestStart(t *testing.T) {
	s := newSetup(t, Config{})
	params := domain.CallbackParams{"txnid": "9001"}
	s.proc.On("ResumeCheckout", mock.Anything, session, params, true).Return(true, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/checkout/start?txnid=9001", strings.NewReader(`{"in_progress":true}`))
	rec := s.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp StartResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.ValidReturn)
}

func seedPurchase(s *setup) *domain.Purchase {
	purchase := &domain.Purchase{ID: "pur-1", UserID: "42"}
	s.source.PutCheckout(session, &domain.Checkout{})
	s.source.PutPurchase(session, purchase)
	return purchase
}

func TestReturn_AuthorizesPayment(t *testing.T) {
	s := newSetup(t, Config{})
	purchase := seedPurchase(s)

	params := domain.CallbackParams{"txnid": "9001", "gbs_custom_token": "tok"}
	s.proc.On("Authorize", mock.Anything, session, mock.Anything, mock.MatchedBy(func(p *domain.Purchase) bool {
		return p.ID == purchase.ID
	}), params).Return(&domain.Payment{
		ID:         "pay-1",
		PurchaseID: purchase.ID,
		Amount:     decimal.RequireFromString("80"),
		Currency:   "DKK",
		Status:     domain.PaymentStatusAuthorized,
	}, nil).Once()

	rec := s.do(httptest.NewRequest(http.MethodGet, "/checkout/return?txnid=9001&gbs_custom_token=tok", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp PaymentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "pay-1", resp.PaymentID)
	assert.Equal(t, "80.00", resp.Amount)
	assert.Equal(t, "authorized", resp.Status)
}

func TestReturn_PostedFormRedirectsToSuccessURL(t *testing.T) {
	s := newSetup(t, Config{SuccessURL: "https://shop.example/thanks"})
	seedPurchase(s)

	params := domain.CallbackParams{"order_number": "4000", "key": "abc"}
	s.proc.On("Authorize", mock.Anything, session, mock.Anything, mock.Anything, params).
		Return(&domain.Payment{ID: "pay-1", PurchaseID: "pur-1"}, nil).Once()

	form := url.Values{"order_number": {"4000"}, "key": {"abc"}}
	req := httptest.NewRequest(http.MethodPost, "/checkout/return", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := s.do(req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "https://shop.example/thanks?payment_id=pay-1&purchase_id=pur-1", rec.Header().Get("Location"))
}

func TestReturn_EchoedUserParamIsNotASession(t *testing.T) {
	s := newSetup(t, Config{DefaultTenant: "1"})
	seedPurchase(s)

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkout/return?txnid=1&gbs_custom_user_id=42", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	s.proc.AssertNotCalled(t, "Authorize", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// epayStack wires the real ePay adapter and orchestrator over memory stores
type epayStack struct {
	mux    *http.ServeMux
	ledger *memory.PaymentLedger
	tokens *memory.TokenStore
}

func newEPayStack(t *testing.T) *epayStack {
	t.Helper()
	clock := timeutil.FixedClock{At: time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)}
	st := &epayStack{
		mux:    http.NewServeMux(),
		ledger: memory.NewPaymentLedger(clock),
		tokens: memory.NewTokenStore(),
	}
	source := memory.NewCheckoutSource()
	source.PutCheckout(session, &domain.Checkout{})
	source.PutPurchase(session, &domain.Purchase{ID: "p1", UserID: session.UserID, Items: []domain.LineItem{{
		DealID:        "d1",
		Name:          "Spa",
		Quantity:      1,
		UnitPrice:     decimal.RequireFromString("50"),
		Price:         decimal.RequireFromString("50"),
		PaymentMethod: map[string]decimal.Decimal{epay.MethodName: decimal.RequireFromString("50")},
	}}})

	gateway := epay.NewAdapter(epay.DefaultConfig("123", "pw"), zap.NewNop())
	builder := charge.NewBuilder(charge.Config{Method: epay.MethodName, Currency: "DKK"}, zap.NewNop())
	cfg := payment.DefaultConfig()
	cfg.Currency = "DKK"
	orch := payment.NewOrchestrator(gateway, builder, st.ledger, st.tokens, events.NewBus(zap.NewNop()), cfg, zap.NewNop(),
		payment.WithClock(clock))
	NewHandler(source, Config{DefaultTenant: session.Tenant}, zap.NewNop(), orch).Register(st.mux, nil)

	require.NoError(t, st.tokens.Issue(context.Background(), session, "victim-token"))
	return st
}

func TestReturn_ForgedReturnsAreRejected(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		headers bool
		want    int
	}{
		{name: "user named only by gateway param", target: "/checkout/return?txnid=FORGED&gbs_custom_user_id=42", want: http.StatusUnauthorized},
		{name: "session without token echo", target: "/checkout/return?txnid=FORGED", headers: true, want: http.StatusBadRequest},
		{name: "session with wrong token", target: "/checkout/return?txnid=FORGED&gbs_custom_token=guess", headers: true, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newEPayStack(t)
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.headers {
				req.Header.Set(HeaderUser, session.UserID)
			}
			rec := httptest.NewRecorder()
			st.mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			payments, err := st.ledger.ListForPurchase(context.Background(), "p1")
			require.NoError(t, err)
			assert.Empty(t, payments)
			token, _ := st.tokens.Get(context.Background(), session)
			assert.Equal(t, "victim-token", token)
		})
	}
}

func TestReturn_GenuineEPayReturn(t *testing.T) {
	st := newEPayStack(t)
	req := httptest.NewRequest(http.MethodGet, "/checkout/return?txnid=9001&amount=5000&gbs_custom_token=victim-token", nil)
	req.Header.Set(HeaderUser, session.UserID)
	rec := httptest.NewRecorder()
	st.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp PaymentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "authorized", resp.Status)
	assert.Equal(t, "50.00", resp.Amount)

	token, _ := st.tokens.Get(context.Background(), session)
	assert.Empty(t, token)
}

func TestReturn_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		body string
	}{
		{name: "invalid return", err: domain.ErrInvalidReturn, want: http.StatusBadRequest, body: "INVALID_RETURN"},
		{name: "persistence", err: domain.ErrPersistence, want: http.StatusInternalServerError, body: "contact support"},
		{name: "nothing payable", err: domain.ErrEmptyCharge, want: http.StatusOK, body: "no_payment_required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSetup(t, Config{})
			seedPurchase(s)
			s.proc.On("Authorize", mock.Anything, session, mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			rec := s.do(httptest.NewRequest(http.MethodGet, "/checkout/return?txnid=1", nil))

			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestReturn_NoPendingPurchase(t *testing.T) {
	s := newSetup(t, Config{})

	rec := s.do(httptest.NewRequest(http.MethodGet, "/checkout/return?txnid=1", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
