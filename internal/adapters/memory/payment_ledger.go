// Package memory holds process-local implementations of the processor's
// storage ports, used by tests and single-instance demo deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/internal/domain/ports"
	"github.com/kevin07696/epay-processor/pkg/timeutil"
)

// PaymentLedger is a mutex-guarded map of payments. Stored payments are
// cloned on the way in and out so callers never share state with the ledger.
type PaymentLedger struct {
	mu       sync.RWMutex
	payments map[string]*domain.Payment
	clock    timeutil.Clock
}

var _ ports.PaymentLedger = (*PaymentLedger)(nil)

// NewPaymentLedger creates an empty ledger
func NewPaymentLedger(clock timeutil.Clock) *PaymentLedger {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &PaymentLedger{
		payments: make(map[string]*domain.Payment),
		clock:    clock,
	}
}

// Create implements ports.PaymentLedger
func (l *PaymentLedger) Create(ctx context.Context, payment *domain.Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if _, exists := l.payments[payment.ID]; exists {
		return domain.WrapError(domain.ErrorCodePersistence, "payment already exists", nil).
			WithDetail("payment_id", payment.ID)
	}

	now := l.clock.Now()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now
	payment.Version = 1

	l.payments[payment.ID] = payment.Clone()
	return nil
}

// Get implements ports.PaymentLedger
func (l *PaymentLedger) Get(ctx context.Context, id string) (*domain.Payment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stored, ok := l.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound.WithDetail("payment_id", id)
	}
	return stored.Clone(), nil
}

// ListForPurchase implements ports.PaymentLedger
func (l *PaymentLedger) ListForPurchase(ctx context.Context, purchaseID string) ([]*domain.Payment, error) {
	return l.list(func(p *domain.Payment) bool { return p.PurchaseID == purchaseID }), nil
}

// ListPending implements ports.PaymentLedger
func (l *PaymentLedger) ListPending(ctx context.Context, method string, since time.Time) ([]*domain.Payment, error) {
	return l.list(func(p *domain.Payment) bool {
		return p.Method == method &&
			p.Status == domain.PaymentStatusAuthorized &&
			!p.CreatedAt.Before(since)
	}), nil
}

func (l *PaymentLedger) list(match func(*domain.Payment) bool) []*domain.Payment {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*domain.Payment, 0)
	for _, p := range l.payments {
		if match(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Update implements ports.PaymentLedger
func (l *PaymentLedger) Update(ctx context.Context, payment *domain.Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, ok := l.payments[payment.ID]
	if !ok {
		return domain.ErrPaymentNotFound.WithDetail("payment_id", payment.ID)
	}
	if stored.Version != payment.Version {
		return domain.ErrVersionConflict.
			WithDetail("payment_id", payment.ID).
			WithDetail("expected_version", payment.Version).
			WithDetail("stored_version", stored.Version)
	}

	payment.Version++
	payment.UpdatedAt = l.clock.Now()
	l.payments[payment.ID] = payment.Clone()
	return nil
}
