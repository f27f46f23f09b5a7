package ports

import (
	"context"
	"time"

	"github.com/kevin07696/epay-processor/internal/domain"
)

// PaymentLedger persists payments.
//
// Update is a compare-and-swap on Version: it succeeds only when the stored
// version equals payment.Version, then increments payment.Version in place.
// A lost race returns an error matching domain.ErrVersionConflict.
type PaymentLedger interface {
	// Create stores a new payment, assigning ID, Version and timestamps when unset
	Create(ctx context.Context, payment *domain.Payment) error

	// Get returns a payment or an error matching domain.ErrPaymentNotFound
	Get(ctx context.Context, id string) (*domain.Payment, error)

	// ListForPurchase returns the purchase's payments, oldest first
	ListForPurchase(ctx context.Context, purchaseID string) ([]*domain.Payment, error)

	// ListPending returns authorized payments of method created at or after since
	ListPending(ctx context.Context, method string, since time.Time) ([]*domain.Payment, error)

	// Update writes the payment if nobody changed it since it was read
	Update(ctx context.Context, payment *domain.Payment) error
}
