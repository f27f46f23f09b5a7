package payment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/internal/services/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// stepClock is a clock tests can move forward
type stepClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

// recordingMetrics counts capture outcomes
type recordingMetrics struct {
	mu             sync.Mutex
	authorizations map[string]int
	captures       map[payment.CaptureOutcome]int
	sweeps         int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		authorizations: map[string]int{},
		captures:       map[payment.CaptureOutcome]int{},
	}
}

func (m *recordingMetrics) RecordAuthorization(method, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authorizations[outcome]++
}

func (m *recordingMetrics) RecordCapture(method string, outcome payment.CaptureOutcome, amount decimal.Decimal, currency string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures[outcome]++
}

func (m *recordingMetrics) RecordSweep(method string, result payment.SweepResult, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps++
}

func TestCapture_SettlesAllReadyDeals(t *testing.T) {
	metrics := newRecordingMetrics()
	f := newFixture(t, payment.WithMetrics(metrics))
	ctx := context.Background()
	p := seedPayment(t, f.ledger, "t1", now, map[string]string{"d1": "30", "d2": "20"})

	f.gateway.On("Capture", mock.Anything, "t1", amountIs("50")).Return(approved("t1-cap"), nil).Once()

	report, err := f.orch.Capture(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, payment.CaptureCaptured, report.Outcome)
	assert.Equal(t, []string{"d1", "d2"}, report.DealIDs)
	assert.True(t, report.Completed)

	stored, err := f.ledger.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusComplete, stored.Status)
	assert.Empty(t, stored.Data.UncapturedDeals)
	assert.Nil(t, stored.Data.CaptureClaimedAt)
	require.Len(t, stored.Data.CaptureResponses, 1)
	assert.Equal(t, "t1-cap", stored.Data.CaptureResponses[0].TransactionID)
	assert.True(t, dec("50").Equal(stored.Data.CaptureResponses[0].Amount))

	// caller's copy tracks the ledger
	assert.Equal(t, stored.Version, p.Version)
	assert.Equal(t, domain.PaymentStatusComplete, p.Status)

	assert.Equal(t, 1, f.notifier.count(domain.EventPaymentCaptured))
	assert.Equal(t, 1, f.notifier.count(domain.EventPaymentComplete))
	assert.Equal(t, 1, metrics.captures[payment.CaptureCaptured])
}

func TestCapture_AtMostOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := seedPayment(t, f.ledger, "t1", now, map[string]string{"d1": "30"})
	stale, err := f.ledger.Get(ctx, p.ID)
	require.NoError(t, err)

	f.gateway.On("Capture", mock.Anything, "t1", amountIs("30")).Return(approved("t1"), nil).Once()

	_, err = f.orch.Capture(ctx, p)
	require.NoError(t, err)

	again, err := f.orch.Capture(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, payment.CaptureSkipped, again.Outcome)

	report, err := f.orch.Capture(ctx, stale)
	assert.ErrorIs(t, err, domain.ErrPendingCapture)
	assert.Equal(t, payment.CapturePending, report.Outcome)

	stored, _ := f.ledger.Get(ctx, p.ID)
	assert.Len(t, stored.Data.CaptureResponses, 1)
	f.gateway.AssertNumberOfCalls(t, "Capture", 1)
}

func TestCapture_ConcurrentWorkersCallGatewayOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := seedPayment(t, f.ledger, "t1", now, map[string]string{"d1": "30", "d2": "20"})

	f.gateway.On("Capture", mock.Anything, "t1", amountIs("50")).Return(approved("t1"), nil)

	const workers = 8
	copies := make([]*domain.Payment, workers)
	for i := range copies {
		c, err := f.ledger.Get(ctx, p.ID)
		require.NoError(t, err)
		copies[i] = c
	}

	var wg sync.WaitGroup
	outcomes := make([]payment.CaptureOutcome, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report, _ := f.orch.Capture(ctx, copies[i])
			outcomes[i] = report.Outcome
		}(i)
	}
	wg.Wait()

	captured := 0
	for _, outcome := range outcomes {
		if outcome == payment.CaptureCaptured {
			captured++
		}
	}
	assert.Equal(t, 1, captured)
	f.gateway.AssertNumberOfCalls(t, "Capture", 1)

	stored, _ := f.ledger.Get(ctx, p.ID)
	assert.Len(t, stored.Data.CaptureResponses, 1)
	assert.Equal(t, 1, f.notifier.count(domain.EventPaymentComplete))
}

func TestCapture_GatewayTimeoutLeavesPaymentAuthorized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := seedPayment(t, f.ledger, "t1", now, map[string]string{"d1": "30"})

	timeout := domain.WrapError(domain.ErrorCodeGatewayUnavailable, "capture timed out", context.DeadlineExceeded)
	f.gateway.On("Capture", mock.Anything, "t1", amountIs("30")).Return(nil, timeout).Once()

	report, err := f.orch.Capture(ctx, p)
	assert.ErrorIs(t, err, domain.ErrPendingCapture)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, payment.CapturePending, report.Outcome)

	stored, _ := f.ledger.Get(ctx, p.ID)
	assert.Equal(t, domain.PaymentStatusAuthorized, stored.Status)
	assert.Empty(t, stored.Data.CaptureResponses)
	assert.Equal(t, []string{"d1"}, stored.Data.UncapturedDeals)
	require.NotNil(t, stored.Data.CaptureClaimedAt, "claim held until the lease expires")

	// a second worker backs off while the lease is live
	report, err = f.orch.Capture(ctx, stored)
	assert.ErrorIs(t, err, domain.ErrPendingCapture)
	assert.Equal(t, "capture in progress", report.Reason)
	assert.Zero(t, f.notifier.count(domain.EventPaymentCaptured))
}

func TestCapture_ExpiredLeaseIsRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clock := &stepClock{at: now}
	orch := f.build(f.ledger, payment.WithClock(clock))
	p := seedPayment(t, f.ledger, "t1", now, map[string]string{"d1": "30"})

	f.gateway.On("Capture", mock.Anything, "t1", amountIs("30")).Return(nil, domain.ErrGatewayUnavailable).Once()
	_, err := orch.Capture(ctx, p)
	require.Error(t, err)

	clock.advance(payment.DefaultConfig().ClaimLease)
	f.gateway.On("Capture", mock.Anything, "t1", amountIs("30")).Return(approved("t1"), nil).Once()

	report, err := orch.Capture(ctx, p)
	require.NoError(t, err)
	assert.True(t, report.Completed)
}

func TestCapture_DeclineReleasesClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := seedPayment(t, f.ledger, "t1", now, map[string]string{"d1": "30"})

	declined := &domain.CaptureResult{Success: false, ResponseCode: "-1008"}
	f.gateway.On("Capture", mock.Anything, "t1", amountIs("30")).Return(declined, nil).Once()
	f.gateway.On("TranslateErrorCode", mock.Anything, "-1008").Return("Transaction not found").Once()

	report, err := f.orch.Capture(ctx, p)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPendingCapture)
	assert.Equal(t, payment.CapturePending, report.Outcome)
	assert.Equal(t, "Transaction not found", report.Reason)

	var domainErr *domain.DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, "-1008", domainErr.Details["response_code"])
	assert.Equal(t, "Transaction not found", domainErr.Details["message"])

	stored, _ := f.ledger.Get(ctx, p.ID)
	assert.Equal(t, domain.PaymentStatusAuthorized, stored.Status)
	assert.Nil(t, stored.Data.CaptureClaimedAt)
	assert.Empty(t, stored.Data.CaptureResponses)

	// released immediately, so the next attempt reaches the gateway
	f.gateway.On("Capture", mock.Anything, "t1", amountIs("30")).Return(approved("t1"), nil).Once()
	report, err = f.orch.Capture(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, payment.CaptureCaptured, report.Outcome)
}

func TestCapture_Guards(t *testing.T) {
	base := func() *domain.Payment {
		return &domain.Payment{
			ID:            "p1",
			Method:        method,
			Status:        domain.PaymentStatusAuthorized,
			Amount:        dec("30"),
			Data:          domain.PaymentData{TransactionID: "t1", UncapturedDeals: []string{"d1"}},
			DealLineItems: map[string][]domain.LineItem{"d1": {item("d1", "30", map[string]string{method: "30"})}},
		}
	}

	tests := []struct {
		name   string
		mutate func(p *domain.Payment)
		ready  map[string]bool
		reason string
	}{
		{
			name:   "other method",
			mutate: func(p *domain.Payment) { p.Method = "2Checkout" },
			reason: "payment belongs to another method",
		},
		{
			name:   "already complete",
			mutate: func(p *domain.Payment) { p.Status = domain.PaymentStatusComplete },
			reason: "payment already complete",
		},
		{
			name:   "no correlation id",
			mutate: func(p *domain.Payment) { p.Data.TransactionID = "" },
			reason: "no gateway transaction to capture",
		},
		{
			name:   "nothing uncaptured",
			mutate: func(p *domain.Payment) { p.Data.UncapturedDeals = nil },
			reason: "no deals ready for capture",
		},
		{
			name:   "deal not ready",
			mutate: func(p *domain.Payment) {},
			ready:  map[string]bool{},
			reason: "no deals ready for capture",
		},
		{
			name: "readiness lookup fails",
			mutate: func(p *domain.Payment) {
				p.Data.UncapturedDeals = []string{"broken"}
			},
			ready:  map[string]bool{},
			reason: "no deals ready for capture",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []payment.Option
			if tt.ready != nil {
				opts = append(opts, payment.WithDealReadiness(&readiness{ready: tt.ready}))
			}
			f := newFixture(t, opts...)
			p := base()
			tt.mutate(p)

			report, err := f.orch.Capture(context.Background(), p)

			require.NoError(t, err)
			assert.Equal(t, payment.CaptureSkipped, report.Outcome)
			assert.Equal(t, tt.reason, report.Reason)
			f.gateway.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCapture_IncrementalByDealReadiness(t *testing.T) {
	ready := &readiness{ready: map[string]bool{"d1": true}}
	f := newFixture(t, payment.WithDealReadiness(ready))
	ctx := context.Background()
	p := seedPayment(t, f.ledger, "t1", now, map[string]string{"d1": "30", "d2": "20"})

	f.gateway.On("Capture", mock.Anything, "t1", amountIs("30")).Return(approved("t1"), nil).Once()

	report, err := f.orch.Capture(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, report.DealIDs)
	assert.False(t, report.Completed)
	assert.Equal(t, domain.PaymentStatusAuthorized, p.Status)
	assert.Equal(t, []string{"d2"}, p.Data.UncapturedDeals)
	assert.Equal(t, []string{"d1"}, f.notifier.last(domain.EventPaymentCaptured).DealIDs)
	assert.Zero(t, f.notifier.count(domain.EventPaymentComplete))

	ready.set("d2", true)
	f.gateway.On("Capture", mock.Anything, "t1", amountIs("20")).Return(approved("t1"), nil).Once()

	report, err = f.orch.Capture(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"d2"}, report.DealIDs)
	assert.True(t, report.Completed)

	stored, _ := f.ledger.Get(ctx, p.ID)
	assert.Equal(t, domain.PaymentStatusComplete, stored.Status)
	assert.True(t, dec("50").Equal(stored.CapturedTotal()))
	assert.Equal(t, 1, f.notifier.count(domain.EventPaymentComplete))
}

func TestManualCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := seedPayment(t, f.ledger, "t1", now, map[string]string{"d1": "30"})

	f.gateway.On("Capture", mock.Anything, "t1", amountIs("30")).Return(approved("t1"), nil).Once()

	report, err := f.orch.ManualCapture(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.CaptureCaptured, report.Outcome)

	_, err = f.orch.ManualCapture(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestPurchaseCompleted_CapturesThroughGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := seedPayment(t, f.ledger, "t1", now, map[string]string{"d1": "30"})

	f.gateway.On("Capture", mock.Anything, "t1", amountIs("30")).Return(approved("t1"), nil).Once()

	require.NoError(t, f.orch.PurchaseCompleted(ctx, p.PurchaseID))

	stored, _ := f.ledger.Get(ctx, p.ID)
	assert.Equal(t, domain.PaymentStatusComplete, stored.Status)
}

func TestPurchaseCompleted_DefersUnavailableGatewayToSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := seedPayment(t, f.ledger, "t1", now, map[string]string{"d1": "30"})

	f.gateway.On("Capture", mock.Anything, "t1", amountIs("30")).Return(nil, domain.ErrGatewayUnavailable).Once()

	require.NoError(t, f.orch.PurchaseCompleted(ctx, p.PurchaseID))

	stored, _ := f.ledger.Get(ctx, p.ID)
	assert.Equal(t, domain.PaymentStatusAuthorized, stored.Status)
}

func TestPurchaseCompleted_InherentCaptureCompletesWithoutGateway(t *testing.T) {
	f := newFixture(t)
	f.gateway.inherent = true
	ctx := context.Background()
	p := seedPayment(t, f.ledger, "t1", now, map[string]string{"d1": "30", "d2": "20"})
	other := seedPayment(t, f.ledger, "t2", now, map[string]string{"d9": "5"})

	require.NoError(t, f.orch.PurchaseCompleted(ctx, p.PurchaseID))

	stored, _ := f.ledger.Get(ctx, p.ID)
	assert.Equal(t, domain.PaymentStatusComplete, stored.Status)
	assert.Empty(t, stored.Data.UncapturedDeals)
	require.Len(t, stored.Data.CaptureResponses, 1)
	assert.Equal(t, "settled at authorization", stored.Data.CaptureResponses[0].Message)
	assert.True(t, dec("50").Equal(stored.Data.CaptureResponses[0].Amount))

	untouched, _ := f.ledger.Get(ctx, other.ID)
	assert.Equal(t, domain.PaymentStatusAuthorized, untouched.Status)

	assert.Equal(t, 1, f.notifier.count(domain.EventPaymentComplete))
	f.gateway.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything, mock.Anything)

	// completing twice is a no-op
	require.NoError(t, f.orch.CompletePurchase(ctx, p.PurchaseID))
	assert.Equal(t, 1, f.notifier.count(domain.EventPaymentComplete))
}
