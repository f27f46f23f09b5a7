package ports

import (
	"context"

	"github.com/kevin07696/epay-processor/internal/domain"
)

// Notifier delivers payment lifecycle events to whoever subscribed.
// Subscriber failures never propagate back to the publisher.
type Notifier interface {
	Publish(ctx context.Context, event domain.Event)
}

// DealReadiness tells the processor whether a deal may be settled yet,
// e.g. a group deal that has not reached its minimum buyers.
type DealReadiness interface {
	ReadyForCapture(ctx context.Context, dealID string) (bool, error)
}
