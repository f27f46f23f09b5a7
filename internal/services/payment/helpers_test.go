package payment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kevin07696/epay-processor/internal/adapters/memory"
	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/internal/domain/ports"
	"github.com/kevin07696/epay-processor/internal/returns"
	"github.com/kevin07696/epay-processor/internal/services/charge"
	"github.com/kevin07696/epay-processor/internal/services/payment"
	"github.com/kevin07696/epay-processor/pkg/timeutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const method = "ePay"

var now = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// MockGateway mocks the wire calls; return handling uses the real
// token-presence rules
type MockGateway struct {
	mock.Mock
	inherent    bool
	echoesToken bool
}

func (m *MockGateway) Name() string { return method }

func (m *MockGateway) CaptureInherent() bool { return m.inherent }

func (m *MockGateway) EchoesToken() bool { return m.echoesToken }

func (m *MockGateway) BuildOffsiteRedirect(ctx context.Context, req *domain.ChargeRequest) (*domain.OffsiteRedirect, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OffsiteRedirect), args.Error(1)
}

func (m *MockGateway) ValidateReturn(params domain.CallbackParams, secret string) bool {
	return returns.TokenPresenceValidator{TransactionField: "txnid"}.Validate(params, secret)
}

func (m *MockGateway) ParseReturn(params domain.CallbackParams) (*domain.ReturnData, error) {
	data := &domain.ReturnData{
		TransactionID: params.Get("txnid"),
		OrderID:       params.Get("orderid"),
		Token:         params.Get("token"),
		Raw:           map[string]string(params),
	}
	if raw := params.Get("amount"); raw != "" {
		data.Amount = dec(raw)
	}
	return data, nil
}

func (m *MockGateway) Capture(ctx context.Context, transactionID string, amount decimal.Decimal) (*domain.CaptureResult, error) {
	args := m.Called(ctx, transactionID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CaptureResult), args.Error(1)
}

func (m *MockGateway) TranslateErrorCode(ctx context.Context, code string) string {
	args := m.Called(ctx, code)
	return args.String(0)
}

// recordingNotifier keeps every published event
type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) Publish(ctx context.Context, evt domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
}

func (n *recordingNotifier) count(eventType domain.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, evt := range n.events {
		if evt.Type == eventType {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) last(eventType domain.EventType) *domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.events) - 1; i >= 0; i-- {
		if n.events[i].Type == eventType {
			return &n.events[i]
		}
	}
	return nil
}

// readiness reports deals in the ready set as capturable
type readiness struct {
	mu    sync.Mutex
	ready map[string]bool
}

func (r *readiness) ReadyForCapture(ctx context.Context, dealID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dealID == "broken" {
		return false, errors.New("lookup failed")
	}
	return r.ready[dealID], nil
}

func (r *readiness) set(dealID string, ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready[dealID] = ready
}

// failingLedger fails every Create
type failingLedger struct {
	*memory.PaymentLedger
}

func (l failingLedger) Create(ctx context.Context, p *domain.Payment) error {
	return errors.New("connection reset")
}

type fixture struct {
	gateway  *MockGateway
	ledger   *memory.PaymentLedger
	tokens   *memory.TokenStore
	notifier *recordingNotifier
	orch     *payment.Orchestrator
	session  domain.SessionKey
}

func newFixture(t *testing.T, opts ...payment.Option) *fixture {
	t.Helper()
	f := &fixture{
		gateway:  &MockGateway{},
		ledger:   memory.NewPaymentLedger(timeutil.FixedClock{At: now}),
		tokens:   memory.NewTokenStore(),
		notifier: &recordingNotifier{},
		session:  domain.SessionKey{Tenant: "1", UserID: "42"},
	}
	f.orch = f.build(f.ledger, opts...)
	t.Cleanup(func() { f.gateway.AssertExpectations(t) })
	return f
}

func (f *fixture) build(ledger ports.PaymentLedger, opts ...payment.Option) *payment.Orchestrator {
	builder := charge.NewBuilder(charge.Config{Method: method, AccountID: "1234567", Currency: "DKK"}, zap.NewNop())
	cfg := payment.DefaultConfig()
	cfg.Currency = "DKK"
	cfg.PersistRetries = 0
	opts = append([]payment.Option{payment.WithClock(timeutil.FixedClock{At: now})}, opts...)
	return payment.NewOrchestrator(f.gateway, builder, ledger, f.tokens, f.notifier, cfg, zap.NewNop(), opts...)
}

// item pays amount of a deal line with the given methods
func item(dealID string, price string, methods map[string]string) domain.LineItem {
	pm := make(map[string]decimal.Decimal, len(methods))
	for m, amount := range methods {
		pm[m] = dec(amount)
	}
	return domain.LineItem{DealID: dealID, Name: "Deal " + dealID, Quantity: 1, UnitPrice: dec(price), Price: dec(price), PaymentMethod: pm}
}

// seedPayment stores an authorized payment covering deals worth the given amounts
func seedPayment(t *testing.T, ledger *memory.PaymentLedger, txnID string, created time.Time, deals map[string]string) *domain.Payment {
	t.Helper()
	p := &domain.Payment{
		Method:        method,
		PurchaseID:    "pur-" + txnID,
		Currency:      "DKK",
		Status:        domain.PaymentStatusAuthorized,
		Data:          domain.PaymentData{TransactionID: txnID},
		DealLineItems: map[string][]domain.LineItem{},
		CreatedAt:     created,
	}
	total := decimal.Zero
	for dealID, amount := range deals {
		p.DealLineItems[dealID] = []domain.LineItem{item(dealID, amount, map[string]string{method: amount})}
		total = total.Add(dec(amount))
	}
	p.Amount = total
	p.Data.UncapturedDeals = p.DealIDs()
	require.NoError(t, ledger.Create(context.Background(), p))
	return p
}

func approved(txnID string) *domain.CaptureResult {
	return &domain.CaptureResult{Success: true, TransactionID: txnID, ResponseCode: "OK"}
}

func amountIs(s string) interface{} {
	want := dec(s)
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(want) })
}
