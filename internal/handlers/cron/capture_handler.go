// Package cron serves the scheduler-facing capture endpoints.
package cron

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/internal/handlers"
	"github.com/kevin07696/epay-processor/internal/services/payment"
	"go.uber.org/zap"
)

// SweepRunner triggers pending-capture sweeps
type SweepRunner interface {
	RunOnce(ctx context.Context) (map[string]payment.SweepResult, bool)
	Running() bool
}

// Capturer captures payments of one gateway on request
type Capturer interface {
	Method() string
	ManualCapture(ctx context.Context, paymentID string) (*payment.CaptureReport, error)
	PurchaseCompleted(ctx context.Context, purchaseID string) error
}

// CaptureHandler handles cron endpoints for payment capture
type CaptureHandler struct {
	sweeps     SweepRunner
	capturers  map[string]Capturer
	order      []string
	logger     *zap.Logger
	cronSecret string // shared secret presented by Cloud Scheduler or cron
}

// NewCaptureHandler creates a capture cron handler. The first capturer
// serves requests that do not name a method.
func NewCaptureHandler(sweeps SweepRunner, logger *zap.Logger, cronSecret string, capturers ...Capturer) *CaptureHandler {
	h := &CaptureHandler{
		sweeps:     sweeps,
		capturers:  make(map[string]Capturer, len(capturers)),
		logger:     logger,
		cronSecret: cronSecret,
	}
	for _, c := range capturers {
		h.capturers[c.Method()] = c
		h.order = append(h.order, c.Method())
	}
	return h
}

// Register mounts the cron endpoints on mux
func (h *CaptureHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /cron/capture-pending", h.CapturePending)
	mux.HandleFunc("POST /cron/capture/{id}", h.CapturePayment)
	mux.HandleFunc("POST /cron/purchase/{id}/complete", h.CompletePurchase)
	mux.HandleFunc("GET /cron/health", h.HealthCheck)
}

// CapturePendingResponse reports one sweep over every gateway
type CapturePendingResponse struct {
	Success     bool                           `json:"success"`
	Results     map[string]payment.SweepResult `json:"results"`
	ProcessedAt string                         `json:"processed_at"`
}

// CapturePending handles POST /cron/capture-pending.
// It answers 206 when some payments stayed pending and 409 while a sweep is running.
func (h *CaptureHandler) CapturePending(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Capture sweep triggered",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()),
	)
	if !h.authenticate(w, r) {
		return
	}

	// the sweep outlives a dropped scheduler connection
	results, ok := h.sweeps.RunOnce(context.WithoutCancel(r.Context()))
	if !ok {
		handlers.WriteError(w, http.StatusConflict, "capture sweep already running", h.logger)
		return
	}

	resp := CapturePendingResponse{
		Success:     true,
		Results:     results,
		ProcessedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for _, result := range results {
		if len(result.Failures) > 0 || result.Interrupted {
			resp.Success = false
		}
	}

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusPartialContent
	}
	handlers.WriteJSON(w, status, resp, h.logger)
}

// CaptureResponse reports a manual capture
type CaptureResponse struct {
	Success   bool     `json:"success"`
	PaymentID string   `json:"payment_id"`
	Outcome   string   `json:"outcome"`
	Status    string   `json:"status"`
	DealIDs   []string `json:"deal_ids,omitempty"`
	Completed bool     `json:"completed"`
	Reason    string   `json:"reason,omitempty"`
}

// CapturePayment handles POST /cron/capture/{id}?method=
func (h *CaptureHandler) CapturePayment(w http.ResponseWriter, r *http.Request) {
	if !h.authenticate(w, r) {
		return
	}
	capturer, ok := h.capturer(r.URL.Query().Get("method"))
	if !ok {
		handlers.WriteError(w, http.StatusBadRequest, "unknown payment method", h.logger)
		return
	}

	paymentID := r.PathValue("id")
	report, err := capturer.ManualCapture(r.Context(), paymentID)
	if err != nil && (report == nil || !errors.Is(err, domain.ErrPendingCapture)) {
		h.logger.Warn("Manual capture failed", zap.String("payment_id", paymentID), zap.Error(err))
		handlers.WriteDomainError(w, err, h.logger)
		return
	}

	resp := CaptureResponse{
		Success:   report.Outcome == payment.CaptureCaptured,
		PaymentID: paymentID,
		Outcome:   string(report.Outcome),
		DealIDs:   report.DealIDs,
		Completed: report.Completed,
		Reason:    report.Reason,
	}
	if report.Payment != nil {
		resp.Status = string(report.Payment.Status)
	}

	status := http.StatusOK
	if report.Outcome == payment.CapturePending {
		status = http.StatusAccepted
	}
	handlers.WriteJSON(w, status, resp, h.logger)
}

// CompletePurchase handles POST /cron/purchase/{id}/complete, the host's
// purchase-completed notification. Every gateway settles its own payments.
func (h *CaptureHandler) CompletePurchase(w http.ResponseWriter, r *http.Request) {
	if !h.authenticate(w, r) {
		return
	}

	purchaseID := r.PathValue("id")
	var errs []error
	for _, method := range h.order {
		if err := h.capturers[method].PurchaseCompleted(r.Context(), purchaseID); err != nil {
			h.logger.Error("Purchase completion failed",
				zap.String("purchase_id", purchaseID),
				zap.String("method", method),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		handlers.WriteDomainError(w, err, h.logger)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"purchase_id": purchaseID,
	}, h.logger)
}

// HealthCheck handles GET /cron/health for monitoring
func (h *CaptureHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "healthy",
		"sweep_running": h.sweeps.Running(),
		"time":          time.Now().UTC().Format(time.RFC3339),
	}, h.logger)
}

func (h *CaptureHandler) capturer(method string) (Capturer, bool) {
	if method == "" && len(h.order) > 0 {
		method = h.order[0]
	}
	c, ok := h.capturers[method]
	return c, ok
}

// authenticate accepts the X-Cron-Secret header or a bearer token and writes
// 401 otherwise
func (h *CaptureHandler) authenticate(w http.ResponseWriter, r *http.Request) bool {
	if h.cronSecret != "" {
		if secretMatches(r.Header.Get("X-Cron-Secret"), h.cronSecret) {
			return true
		}
		if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && secretMatches(token, h.cronSecret) {
			return true
		}
	}

	h.logger.Warn("Unauthorized cron request", zap.String("remote_addr", r.RemoteAddr), zap.String("path", r.URL.Path))
	handlers.WriteError(w, http.StatusUnauthorized, "unauthorized", h.logger)
	return false
}

func secretMatches(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
