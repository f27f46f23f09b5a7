package payment

import (
	"context"
	"errors"
	"time"

	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/pkg/resilience"
	"go.uber.org/zap"
)

// CaptureOutcome classifies one capture call
type CaptureOutcome string

const (
	// CaptureSkipped means a guard made the call a no-op
	CaptureSkipped CaptureOutcome = "skipped"
	// CapturePending means nothing was settled; a later sweep retries
	CapturePending CaptureOutcome = "pending"
	// CaptureCaptured means deals were settled and recorded
	CaptureCaptured CaptureOutcome = "captured"
)

// CaptureReport describes what one capture call did
type CaptureReport struct {
	Outcome CaptureOutcome
	// DealIDs lists the deals settled by this call
	DealIDs []string
	// Completed is true when this call moved the payment to complete
	Completed bool
	// Reason explains skipped and pending outcomes
	Reason  string
	Payment *domain.Payment
}

func skipped(p *domain.Payment, reason string) *CaptureReport {
	return &CaptureReport{Outcome: CaptureSkipped, Reason: reason, Payment: p}
}

func pending(p *domain.Payment, reason string) *CaptureReport {
	return &CaptureReport{Outcome: CapturePending, Reason: reason, Payment: p}
}

// Capture settles the payment's ready, uncaptured deals.
//
// The payment is first claimed with a versioned write so concurrent workers
// never both reach the gateway. A failed or declined gateway call leaves
// status and capture history untouched and reports CapturePending with an
// error matching domain.ErrPendingCapture. On success payment is updated in
// place with the recorded state.
func (o *Orchestrator) Capture(ctx context.Context, payment *domain.Payment) (*CaptureReport, error) {
	start := time.Now()
	report, err := o.capture(ctx, payment)
	if report != nil {
		amount := payment.Amount
		if report.Outcome == CaptureCaptured && report.Payment != nil {
			if n := len(report.Payment.Data.CaptureResponses); n > 0 {
				amount = report.Payment.Data.CaptureResponses[n-1].Amount
			}
		}
		o.metrics.RecordCapture(o.gateway.Name(), report.Outcome, amount, payment.Currency, time.Since(start))
	}
	return report, err
}

func (o *Orchestrator) capture(ctx context.Context, payment *domain.Payment) (*CaptureReport, error) {
	logger := o.logger.With(zap.String("payment_id", payment.ID), zap.String("purchase_id", payment.PurchaseID))

	if payment.Method != o.gateway.Name() {
		return skipped(payment, "payment belongs to another method"), nil
	}
	if payment.IsComplete() {
		return skipped(payment, "payment already complete"), nil
	}
	correlationID := payment.CorrelationID()
	if correlationID == "" {
		return skipped(payment, "no gateway transaction to capture"), nil
	}

	deals := payment.ItemsToCapture(o.readyFunc(ctx, logger))
	if len(deals) == 0 {
		return skipped(payment, "no deals ready for capture"), nil
	}

	now := o.clock.Now()
	if !payment.ClaimExpired(now, o.config.ClaimLease) {
		return pending(payment, "capture in progress"),
			domain.ErrPendingCapture.WithDetail("reason", "claimed by another worker")
	}

	working := payment.Clone()
	working.Data.CaptureClaimedAt = &now
	if err := o.ledger.Update(ctx, working); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			logger.Info("Lost capture claim to another worker")
			return pending(payment, "payment changed concurrently"),
				domain.WrapError(domain.ErrorCodePendingCapture, "capture claim lost", err)
		}
		logger.Error("Failed to claim payment for capture", zap.Error(err))
		return pending(payment, "claim failed"), err
	}
	// the claim is ours; keep the caller's view in step with the ledger
	*payment = *working.Clone()

	amount := working.CaptureAmount(deals)
	result, err := o.gateway.Capture(ctx, correlationID, amount)
	if err != nil {
		// the gateway may or may not have settled; the lease keeps others off until it expires
		logger.Warn("Capture call failed",
			zap.String("transaction_id", correlationID),
			zap.String("amount", amount.StringFixed(2)),
			zap.Error(err),
		)
		return pending(payment, "gateway unavailable"),
			domain.WrapError(domain.ErrorCodePendingCapture, "capture call failed", err)
	}

	if !result.Success {
		message := result.Message
		if message == "" {
			message = o.gateway.TranslateErrorCode(ctx, result.ResponseCode)
		}
		logger.Warn("Capture declined",
			zap.String("transaction_id", correlationID),
			zap.String("response_code", result.ResponseCode),
			zap.String("message", message),
		)
		o.releaseClaim(ctx, payment, logger)
		return pending(payment, message),
			domain.ErrPendingCapture.
				WithDetail("response_code", result.ResponseCode).
				WithDetail("message", message)
	}

	transactionID := result.TransactionID
	if transactionID == "" {
		transactionID = correlationID
	}
	completed := working.RecordCapture(domain.CaptureAttempt{
		Amount:        amount,
		TransactionID: transactionID,
		DealIDs:       deals,
		ResponseCode:  result.ResponseCode,
		Message:       result.Message,
		Response:      result.Raw,
		Success:       true,
		CapturedAt:    o.clock.Now(),
	})

	if err := o.persistCapture(ctx, working); err != nil {
		// settled at the gateway but not recorded; the claim stays until an operator looks
		logger.Error("Captured payment could not be recorded",
			zap.String("transaction_id", transactionID),
			zap.String("amount", amount.StringFixed(2)),
			zap.Strings("deal_ids", deals),
			zap.Error(err),
		)
		return pending(payment, "capture not recorded"), err
	}
	*payment = *working.Clone()

	logger.Info("Payment captured",
		zap.String("transaction_id", transactionID),
		zap.String("amount", amount.StringFixed(2)),
		zap.Strings("deal_ids", deals),
		zap.Bool("completed", completed),
	)

	at := o.clock.Now()
	o.notifier.Publish(ctx, domain.NewEvent(domain.EventPaymentCaptured, working, deals, at))
	if completed {
		o.notifier.Publish(ctx, domain.NewEvent(domain.EventPaymentComplete, working, working.DealIDs(), at))
	}

	return &CaptureReport{
		Outcome:   CaptureCaptured,
		DealIDs:   deals,
		Completed: completed,
		Payment:   working,
	}, nil
}

// persistCapture retries transient ledger failures. A version conflict is
// final: someone else now owns the payment.
func (o *Orchestrator) persistCapture(ctx context.Context, working *domain.Payment) error {
	ctx = context.WithoutCancel(ctx)
	return resilience.Retry(ctx, o.config.PersistRetries, resilience.DefaultExponentialBackoff(),
		func(err error) bool { return !errors.Is(err, domain.ErrVersionConflict) },
		func(int) error { return o.ledger.Update(ctx, working) },
	)
}

func (o *Orchestrator) releaseClaim(ctx context.Context, payment *domain.Payment, logger *zap.Logger) {
	released := payment.Clone()
	released.Data.CaptureClaimedAt = nil
	if err := o.ledger.Update(context.WithoutCancel(ctx), released); err != nil {
		logger.Warn("Failed to release capture claim", zap.Error(err))
		return
	}
	*payment = *released
}

// readyFunc asks the host which deals may be settled; lookup errors defer the deal
func (o *Orchestrator) readyFunc(ctx context.Context, logger *zap.Logger) func(string) bool {
	if o.readiness == nil {
		return nil
	}
	return func(dealID string) bool {
		ready, err := o.readiness.ReadyForCapture(ctx, dealID)
		if err != nil {
			logger.Warn("Deal readiness lookup failed", zap.String("deal_id", dealID), zap.Error(err))
			return false
		}
		return ready
	}
}

// ManualCapture captures one payment on operator request
func (o *Orchestrator) ManualCapture(ctx context.Context, paymentID string) (*CaptureReport, error) {
	payment, err := o.ledger.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	o.logger.Info("Manual capture requested", zap.String("payment_id", paymentID))
	return o.Capture(ctx, payment)
}

// CapturePurchase captures every payment of the purchase made with this method
func (o *Orchestrator) CapturePurchase(ctx context.Context, purchaseID string) ([]*CaptureReport, error) {
	payments, err := o.ledger.ListForPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	reports := make([]*CaptureReport, 0, len(payments))
	var errs []error
	for _, payment := range payments {
		if payment.Method != o.gateway.Name() {
			continue
		}
		report, err := o.Capture(ctx, payment)
		if err != nil {
			errs = append(errs, err)
		}
		if report != nil {
			reports = append(reports, report)
		}
	}
	return reports, errors.Join(errs...)
}

// CompletePurchase marks the purchase's payments complete without a gateway
// call. Only for gateways that settle during authorization.
func (o *Orchestrator) CompletePurchase(ctx context.Context, purchaseID string) error {
	payments, err := o.ledger.ListForPurchase(ctx, purchaseID)
	if err != nil {
		return err
	}

	var errs []error
	for _, payment := range payments {
		if payment.Method != o.gateway.Name() || payment.IsComplete() {
			continue
		}

		deals := payment.DealIDs()
		now := o.clock.Now()
		payment.Data.UncapturedDeals = deals
		payment.RecordCapture(domain.CaptureAttempt{
			Amount:        payment.Amount.Sub(payment.CapturedTotal()),
			TransactionID: payment.CorrelationID(),
			DealIDs:       deals,
			Message:       "settled at authorization",
			Success:       true,
			CapturedAt:    now,
		})

		if err := o.ledger.Update(ctx, payment); err != nil {
			o.logger.Error("Failed to complete payment",
				zap.String("payment_id", payment.ID),
				zap.String("purchase_id", purchaseID),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}

		o.logger.Info("Payment completed", zap.String("payment_id", payment.ID), zap.String("purchase_id", purchaseID))
		o.notifier.Publish(ctx, domain.NewEvent(domain.EventPaymentCaptured, payment, deals, now))
		o.notifier.Publish(ctx, domain.NewEvent(domain.EventPaymentComplete, payment, deals, now))
	}
	return errors.Join(errs...)
}

// PurchaseCompleted settles a purchase the host just finished, choosing
// between a gateway capture and direct completion
func (o *Orchestrator) PurchaseCompleted(ctx context.Context, purchaseID string) error {
	if o.gateway.CaptureInherent() {
		return o.CompletePurchase(ctx, purchaseID)
	}
	_, err := o.CapturePurchase(ctx, purchaseID)
	if err != nil && domain.IsRetryable(err) {
		// pending captures are picked up by the sweep
		o.logger.Info("Purchase capture deferred to sweep", zap.String("purchase_id", purchaseID), zap.Error(err))
		return nil
	}
	return err
}
