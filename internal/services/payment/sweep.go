package payment

import (
	"context"
	"time"

	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/pkg/timeutil"
	"go.uber.org/zap"
)

// SweepFailure records one payment the sweep could not settle
type SweepFailure struct {
	PaymentID string `json:"payment_id"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error"`
}

// SweepResult summarizes one pass over pending payments
type SweepResult struct {
	Examined  int            `json:"examined"`
	Captured  int            `json:"captured"`
	Completed int            `json:"completed"`
	Pending   int            `json:"pending"`
	Skipped   int            `json:"skipped"`
	Failures  []SweepFailure `json:"failures,omitempty"`
	// Interrupted is set when the context ended before every payment was tried
	Interrupted bool `json:"interrupted,omitempty"`
}

// CapturePendingPayments tries to capture every authorized payment of this
// method created inside the sweep window. Each payment is independent: a
// failure is recorded and the sweep moves on.
func (o *Orchestrator) CapturePendingPayments(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	method := o.gateway.Name()
	since := timeutil.WindowStart(o.clock.Now(), o.config.SweepWindow)

	var result SweepResult
	payments, err := o.ledger.ListPending(ctx, method, since)
	if err != nil {
		o.logger.Error("Failed to list pending payments", zap.Error(err))
		return result, err
	}

	for _, payment := range payments {
		if ctx.Err() != nil {
			result.Interrupted = true
			break
		}
		result.Examined++

		report, err := o.Capture(ctx, payment)
		if err != nil {
			result.Pending++
			result.Failures = append(result.Failures, SweepFailure{
				PaymentID: payment.ID,
				Code:      string(domain.GetErrorCode(err)),
				Error:     err.Error(),
			})
			continue
		}

		switch report.Outcome {
		case CaptureCaptured:
			result.Captured++
			if report.Completed {
				result.Completed++
			}
		case CaptureSkipped:
			result.Skipped++
		default:
			result.Pending++
		}
	}

	elapsed := time.Since(start)
	o.metrics.RecordSweep(method, result, elapsed)
	o.logger.Info("Pending capture sweep finished",
		zap.Time("since", since),
		zap.Int("examined", result.Examined),
		zap.Int("captured", result.Captured),
		zap.Int("completed", result.Completed),
		zap.Int("pending", result.Pending),
		zap.Int("skipped", result.Skipped),
		zap.Bool("interrupted", result.Interrupted),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}
