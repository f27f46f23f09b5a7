package ports

import (
	"context"

	"github.com/kevin07696/epay-processor/internal/domain"
)

// CheckoutSource reads the host platform's checkout and purchase snapshots
type CheckoutSource interface {
	Checkout(ctx context.Context, key domain.SessionKey) (*domain.Checkout, error)

	// PendingPurchase returns the purchase created for the session's current checkout
	PendingPurchase(ctx context.Context, key domain.SessionKey) (*domain.Purchase, error)

	Purchase(ctx context.Context, purchaseID string) (*domain.Purchase, error)
}
