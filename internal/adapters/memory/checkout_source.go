package memory

import (
	"context"
	"sync"

	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/internal/domain/ports"
)

// CheckoutSource serves checkout and purchase snapshots registered by the
// host platform (or a test)
type CheckoutSource struct {
	mu        sync.RWMutex
	checkouts map[string]*domain.Checkout
	pending   map[string]string
	purchases map[string]*domain.Purchase
}

var _ ports.CheckoutSource = (*CheckoutSource)(nil)

// NewCheckoutSource creates an empty source
func NewCheckoutSource() *CheckoutSource {
	return &CheckoutSource{
		checkouts: make(map[string]*domain.Checkout),
		pending:   make(map[string]string),
		purchases: make(map[string]*domain.Purchase),
	}
}

// PutCheckout registers the session's current checkout
func (s *CheckoutSource) PutCheckout(key domain.SessionKey, checkout *domain.Checkout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkouts[key.String()] = checkout
}

// PutPurchase registers a purchase and marks it pending for the session
func (s *CheckoutSource) PutPurchase(key domain.SessionKey, purchase *domain.Purchase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchases[purchase.ID] = purchase
	s.pending[key.String()] = purchase.ID
}

// Checkout implements ports.CheckoutSource
func (s *CheckoutSource) Checkout(ctx context.Context, key domain.SessionKey) (*domain.Checkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checkout, ok := s.checkouts[key.String()]
	if !ok {
		return nil, domain.ErrValidationFailed.WithDetail("reason", "no checkout for session")
	}
	return checkout, nil
}

// PendingPurchase implements ports.CheckoutSource
func (s *CheckoutSource) PendingPurchase(ctx context.Context, key domain.SessionKey) (*domain.Purchase, error) {
	s.mu.RLock()
	id, ok := s.pending[key.String()]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrValidationFailed.WithDetail("reason", "no pending purchase for session")
	}
	return s.Purchase(ctx, id)
}

// Purchase implements ports.CheckoutSource
func (s *CheckoutSource) Purchase(ctx context.Context, purchaseID string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchase, ok := s.purchases[purchaseID]
	if !ok {
		return nil, domain.ErrValidationFailed.WithDetail("purchase_id", purchaseID)
	}
	return purchase, nil
}
