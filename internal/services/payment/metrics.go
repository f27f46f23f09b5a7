package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Metrics receives business measurements from the orchestrator
type Metrics interface {
	RecordAuthorization(method, outcome string)
	RecordCapture(method string, outcome CaptureOutcome, amount decimal.Decimal, currency string, elapsed time.Duration)
	RecordSweep(method string, result SweepResult, elapsed time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordAuthorization(string, string) {}

func (nopMetrics) RecordCapture(string, CaptureOutcome, decimal.Decimal, string, time.Duration) {}

func (nopMetrics) RecordSweep(string, SweepResult, time.Duration) {}
