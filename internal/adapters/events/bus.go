// Package events fans payment lifecycle events out to in-process subscribers.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/internal/domain/ports"
	"go.uber.org/zap"
)

// HandlerFunc consumes one event
type HandlerFunc func(ctx context.Context, evt domain.Event) error

// Bus delivers each published event to every handler subscribed to its type,
// in subscription order. A failing or panicking handler is logged and the
// remaining handlers still run.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.EventType][]HandlerFunc
	logger   *zap.Logger
}

var _ ports.Notifier = (*Bus)(nil)

// NewBus creates an empty bus
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[domain.EventType][]HandlerFunc),
		logger:   logger,
	}
}

// Subscribe registers handler for eventType
func (b *Bus) Subscribe(eventType domain.EventType, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish implements ports.Notifier
func (b *Bus) Publish(ctx context.Context, evt domain.Event) {
	b.mu.RLock()
	handlers := append([]HandlerFunc(nil), b.handlers[evt.Type]...)
	b.mu.RUnlock()

	for i, handler := range handlers {
		if err := b.dispatch(ctx, handler, evt); err != nil {
			b.logger.Error("Event subscriber failed",
				zap.String("event", string(evt.Type)),
				zap.String("payment_id", paymentID(evt)),
				zap.Int("subscriber", i),
				zap.Error(err),
			)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, handler HandlerFunc, evt domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return handler(ctx, evt)
}

// LogEvents subscribes an audit logger to every payment event type
func LogEvents(bus *Bus, logger *zap.Logger) {
	for _, eventType := range []domain.EventType{
		domain.EventPaymentAuthorized,
		domain.EventPaymentCaptured,
		domain.EventPaymentComplete,
	} {
		bus.Subscribe(eventType, func(ctx context.Context, evt domain.Event) error {
			fields := []zap.Field{
				zap.String("event", string(evt.Type)),
				zap.String("payment_id", paymentID(evt)),
				zap.Strings("deal_ids", evt.DealIDs),
				zap.Time("occurred_at", evt.OccurredAt),
			}
			if evt.Payment != nil {
				fields = append(fields,
					zap.String("purchase_id", evt.Payment.PurchaseID),
					zap.String("method", evt.Payment.Method),
				)
			}
			logger.Info("Payment event", fields...)
			return nil
		})
	}
}

func paymentID(evt domain.Event) string {
	if evt.Payment == nil {
		return ""
	}
	return evt.Payment.ID
}
