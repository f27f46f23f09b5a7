package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/kevin07696/epay-processor/internal/services/payment"
)

// PaymentMetrics records authorization, capture and sweep outcomes per
// payment method. It satisfies payment.Metrics.
type PaymentMetrics struct {
	authorizations  *prometheus.CounterVec
	captures        *prometheus.CounterVec
	capturedAmount  *prometheus.CounterVec
	captureDuration *prometheus.HistogramVec
	sweepPayments   *prometheus.CounterVec
	sweepDuration   *prometheus.HistogramVec
	sweepsInterrupt *prometheus.CounterVec
}

var _ payment.Metrics = (*PaymentMetrics)(nil)

// NewPaymentMetrics registers the collectors with reg
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	factory := promauto.With(reg)
	return &PaymentMetrics{
		authorizations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "epay_authorizations_total",
			Help: "Gateway returns handled, by outcome",
		}, []string{
			"method",  // ePay, 2Checkout
			"outcome", // authorized, empty, rejected, failed
		}),

		captures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "epay_captures_total",
			Help: "Capture calls, by outcome",
		}, []string{"method", "outcome"}),

		capturedAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "epay_captured_amount_total",
			Help: "Total amount settled through capture, in major currency units",
		}, []string{"method", "currency"}),

		// Buckets: 100ms to 60s, covering a gateway timeout plus retries
		captureDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "epay_capture_duration_seconds",
			Help:    "Time spent in one capture call",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "outcome"}),

		sweepPayments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "epay_sweep_payments_total",
			Help: "Payments visited by the pending-capture sweep, by result",
		}, []string{
			"method",
			"result", // captured, completed, pending, skipped, failed
		}),

		sweepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "epay_sweep_duration_seconds",
			Help:    "Duration of one pending-capture sweep",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"method"}),

		sweepsInterrupt: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "epay_sweeps_interrupted_total",
			Help: "Sweeps that ended before visiting every payment",
		}, []string{"method"}),
	}
}

func (m *PaymentMetrics) RecordAuthorization(method, outcome string) {
	m.authorizations.WithLabelValues(method, outcome).Inc()
}

// RecordCapture counts the call and, for settled captures, the amount
func (m *PaymentMetrics) RecordCapture(method string, outcome payment.CaptureOutcome, amount decimal.Decimal, currency string, elapsed time.Duration) {
	m.captures.WithLabelValues(method, string(outcome)).Inc()
	m.captureDuration.WithLabelValues(method, string(outcome)).Observe(elapsed.Seconds())

	if outcome == payment.CaptureCaptured && amount.IsPositive() {
		m.capturedAmount.WithLabelValues(method, currency).Add(amount.InexactFloat64())
	}
}

func (m *PaymentMetrics) RecordSweep(method string, result payment.SweepResult, elapsed time.Duration) {
	m.sweepDuration.WithLabelValues(method).Observe(elapsed.Seconds())

	m.sweepPayments.WithLabelValues(method, "captured").Add(float64(result.Captured))
	m.sweepPayments.WithLabelValues(method, "completed").Add(float64(result.Completed))
	m.sweepPayments.WithLabelValues(method, "pending").Add(float64(result.Pending))
	m.sweepPayments.WithLabelValues(method, "skipped").Add(float64(result.Skipped))
	m.sweepPayments.WithLabelValues(method, "failed").Add(float64(len(result.Failures)))

	if result.Interrupted {
		m.sweepsInterrupt.WithLabelValues(method).Inc()
	}
}
