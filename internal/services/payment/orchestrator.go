// Package payment drives a payment from the offsite redirect through
// authorization to capture and completion.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/internal/domain/ports"
	"github.com/kevin07696/epay-processor/pkg/timeutil"
	"go.uber.org/zap"
)

// Authorization outcomes reported to metrics
const (
	authorizeCreated        = "created"
	authorizeAlreadyHandled = "already_handled"
	authorizeInvalidReturn  = "invalid_return"
	authorizeFailed         = "persistence_error"
)

// ChargeBuilder builds the gateway charge for a checkout
type ChargeBuilder interface {
	Build(ctx context.Context, checkout *domain.Checkout, buyer domain.Buyer) (*domain.ChargeRequest, error)
}

// Config holds the orchestrator's immutable settings
type Config struct {
	// Currency is recorded on created payments
	Currency string
	// ReturnSecret is handed to the gateway's return validation
	ReturnSecret string
	// SweepWindow bounds how far back the pending sweep looks
	SweepWindow time.Duration
	// ClaimLease is how long a capture claim blocks other workers
	ClaimLease time.Duration
	// PersistRetries is how often a successful capture's ledger write is retried
	PersistRetries int
}

// DefaultConfig returns a 90 day sweep window and a 5 minute claim lease
func DefaultConfig() Config {
	return Config{
		SweepWindow:    timeutil.Days(90),
		ClaimLease:     5 * time.Minute,
		PersistRetries: 3,
	}
}

// Orchestrator is the payment state machine for one gateway.
// Construct one per configured gateway.
type Orchestrator struct {
	gateway   ports.GatewayClient
	builder   ChargeBuilder
	ledger    ports.PaymentLedger
	tokens    ports.TokenStore
	notifier  ports.Notifier
	readiness ports.DealReadiness
	metrics   Metrics
	clock     timeutil.Clock
	config    Config
	logger    *zap.Logger
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithClock replaces the wall clock, mainly for tests
func WithClock(clock timeutil.Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithDealReadiness limits capture to deals the host reports as ready
func WithDealReadiness(r ports.DealReadiness) Option {
	return func(o *Orchestrator) { o.readiness = r }
}

// WithMetrics records business metrics
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator wires an orchestrator for gateway
func NewOrchestrator(
	gateway ports.GatewayClient,
	builder ChargeBuilder,
	ledger ports.PaymentLedger,
	tokens ports.TokenStore,
	notifier ports.Notifier,
	config Config,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	defaults := DefaultConfig()
	if config.SweepWindow <= 0 {
		config.SweepWindow = defaults.SweepWindow
	}
	if config.ClaimLease <= 0 {
		config.ClaimLease = defaults.ClaimLease
	}
	if config.PersistRetries < 0 {
		config.PersistRetries = 0
	}

	o := &Orchestrator{
		gateway:  gateway,
		builder:  builder,
		ledger:   ledger,
		tokens:   tokens,
		notifier: notifier,
		metrics:  nopMetrics{},
		clock:    timeutil.SystemClock{},
		config:   config,
		logger:   logger.With(zap.String("method", gateway.Name())),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Method returns the payment method this orchestrator handles
func (o *Orchestrator) Method() string {
	return o.gateway.Name()
}

// SendOffsite builds the charge, issues the session token and returns where
// to send the buyer. Free carts return domain.ErrEmptyCharge so the host can
// complete the checkout without the gateway.
func (o *Orchestrator) SendOffsite(ctx context.Context, session domain.SessionKey, buyer domain.Buyer, checkout *domain.Checkout) (*domain.OffsiteRedirect, error) {
	if checkout.Cart.Total().LessThan(domain.MinimumCharge) {
		return nil, domain.ErrEmptyCharge
	}

	req, err := o.builder.Build(ctx, checkout, buyer)
	if err != nil {
		return nil, err
	}

	if err := o.tokens.Issue(ctx, session, req.Token); err != nil {
		o.logger.Error("Failed to issue checkout token",
			zap.String("session", session.String()),
			zap.Error(err),
		)
		return nil, err
	}

	redirect, err := o.gateway.BuildOffsiteRedirect(ctx, req)
	if err != nil {
		o.logger.Error("Failed to build offsite redirect",
			zap.String("session", session.String()),
			zap.Error(err),
		)
		return nil, err
	}

	o.logger.Info("Sending buyer offsite",
		zap.String("session", session.String()),
		zap.String("total", req.Total.StringFixed(2)),
		zap.Bool("widget", redirect.Widget != nil),
	)
	return redirect, nil
}

// ResumeCheckout reports whether params are a valid gateway return. When
// they are not and no checkout is in progress, the session starts fresh and
// its token is cleared so an old return cannot be replayed.
func (o *Orchestrator) ResumeCheckout(ctx context.Context, session domain.SessionKey, params domain.CallbackParams, inProgress bool) (bool, error) {
	if o.gateway.ValidateReturn(params, o.config.ReturnSecret) {
		return true, nil
	}
	if inProgress {
		return false, nil
	}
	if err := o.tokens.Clear(ctx, session); err != nil {
		return false, err
	}
	return false, nil
}

// Authorize records the buyer's return as an authorized payment.
//
// When this method has nothing left to pay the purchase was handled by
// another processor and its existing payment is returned instead. A return
// that fails validation, or whose token is not the session's live token,
// yields domain.ErrInvalidReturn and leaves the token in place. So does a
// return reporting less than the purchase owes this method. Every other
// exit clears the token.
func (o *Orchestrator) Authorize(ctx context.Context, session domain.SessionKey, checkout *domain.Checkout, purchase *domain.Purchase, params domain.CallbackParams) (*domain.Payment, error) {
	method := o.gateway.Name()
	logger := o.logger.With(zap.String("purchase_id", purchase.ID), zap.String("session", session.String()))

	payable := purchase.TotalFor(method)
	if payable.LessThan(domain.MinimumCharge) {
		defer o.clearToken(ctx, session, logger)
		o.metrics.RecordAuthorization(method, authorizeAlreadyHandled)
		return o.existingPayment(ctx, purchase.ID, logger)
	}

	if !o.gateway.ValidateReturn(params, o.config.ReturnSecret) {
		logger.Warn("Gateway return failed validation")
		o.metrics.RecordAuthorization(method, authorizeInvalidReturn)
		return nil, domain.ErrInvalidReturn
	}

	data, err := o.gateway.ParseReturn(params)
	if err != nil {
		logger.Warn("Gateway return could not be parsed", zap.Error(err))
		o.metrics.RecordAuthorization(method, authorizeInvalidReturn)
		return nil, domain.WrapError(domain.ErrorCodeInvalidReturn, "unreadable gateway return", err)
	}

	// a resubmitted return for a payment we already recorded
	if existing := o.findByCorrelation(ctx, purchase.ID, data, logger); existing != nil {
		o.clearToken(ctx, session, logger)
		o.metrics.RecordAuthorization(method, authorizeAlreadyHandled)
		return existing, nil
	}

	token, err := o.tokens.Get(ctx, session)
	if err != nil {
		return nil, err
	}
	echoMissing := data.Token == "" && o.gateway.EchoesToken()
	if token == "" || echoMissing || (data.Token != "" && data.Token != token) {
		logger.Warn("Gateway return does not match a live checkout token",
			zap.Bool("token_present", token != ""),
			zap.Bool("echo_missing", echoMissing),
		)
		o.metrics.RecordAuthorization(method, authorizeInvalidReturn)
		return nil, domain.ErrInvalidReturn.WithDetail("reason", "token mismatch")
	}

	// the charge may add tax and shipping on top, never less
	if data.Amount.IsPositive() && data.Amount.LessThan(payable) {
		logger.Warn("Gateway return is for less than the purchase owes",
			zap.String("returned", data.Amount.StringFixed(2)),
			zap.String("payable", payable.StringFixed(2)),
		)
		o.metrics.RecordAuthorization(method, authorizeInvalidReturn)
		return nil, domain.ErrInvalidReturn.
			WithDetail("reason", "amount mismatch").
			WithDetail("amount", data.Amount.StringFixed(2))
	}
	defer o.clearToken(ctx, session, logger)

	dealLineItems := purchase.DealLineItemsFor(method)
	payment := &domain.Payment{
		Method:     method,
		PurchaseID: purchase.ID,
		Amount:     payable,
		Currency:   o.config.Currency,
		Status:     domain.PaymentStatusAuthorized,
		Data: domain.PaymentData{
			TransactionID: data.TransactionID,
			OrderID:       data.OrderID,
			APIResponse:   data.Raw,
			Token:         token,
		},
		DealLineItems: dealLineItems,
		CreatedAt:     o.clock.Now(),
	}
	payment.Data.UncapturedDeals = payment.DealIDs()
	if checkout != nil && checkout.Cache.Shipping != nil {
		shipping := *checkout.Cache.Shipping
		payment.ShippingAddress = &shipping
	}

	if err := o.ledger.Create(ctx, payment); err != nil {
		logger.Error("Failed to record authorized payment",
			zap.String("transaction_id", data.TransactionID),
			zap.Error(err),
		)
		o.metrics.RecordAuthorization(method, authorizeFailed)
		if domain.GetErrorCode(err) == domain.ErrorCodePersistence {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrorCodePersistence, "failed to record payment", err)
	}

	logger.Info("Payment authorized",
		zap.String("payment_id", payment.ID),
		zap.String("transaction_id", payment.CorrelationID()),
		zap.String("amount", payment.Amount.StringFixed(2)),
		zap.Strings("deal_ids", payment.Data.UncapturedDeals),
	)
	o.metrics.RecordAuthorization(method, authorizeCreated)
	o.notifier.Publish(ctx, domain.NewEvent(domain.EventPaymentAuthorized, payment, payment.DealIDs(), o.clock.Now()))
	return payment, nil
}

// existingPayment returns the first payment recorded for the purchase, or
// domain.ErrEmptyCharge when the purchase needs no payment at all
func (o *Orchestrator) existingPayment(ctx context.Context, purchaseID string, logger *zap.Logger) (*domain.Payment, error) {
	payments, err := o.ledger.ListForPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		logger.Debug("Nothing payable and no existing payment")
		return nil, domain.ErrEmptyCharge
	}
	logger.Info("Purchase already handled", zap.String("payment_id", payments[0].ID))
	return payments[0], nil
}

func (o *Orchestrator) findByCorrelation(ctx context.Context, purchaseID string, data *domain.ReturnData, logger *zap.Logger) *domain.Payment {
	payments, err := o.ledger.ListForPurchase(ctx, purchaseID)
	if err != nil {
		logger.Warn("Could not check for an existing payment", zap.Error(err))
		return nil
	}
	for _, p := range payments {
		if p.Method != o.gateway.Name() {
			continue
		}
		if (data.TransactionID != "" && p.Data.TransactionID == data.TransactionID) ||
			(data.TransactionID == "" && data.OrderID != "" && p.Data.OrderID == data.OrderID) {
			return p
		}
	}
	return nil
}

func (o *Orchestrator) clearToken(ctx context.Context, session domain.SessionKey, logger *zap.Logger) {
	// the token must go even when the request was cancelled
	ctx = context.WithoutCancel(ctx)
	if err := o.tokens.Clear(ctx, session); err != nil {
		logger.Error("Failed to clear checkout token", zap.Error(err))
	}
}

// IsEmptyCharge reports whether err is the nothing-to-pay short-circuit
func IsEmptyCharge(err error) bool {
	return errors.Is(err, domain.ErrEmptyCharge)
}
