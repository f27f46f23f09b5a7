// Package checkout serves the buyer-facing endpoints: sending the buyer to
// the gateway and receiving them back.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/internal/domain/ports"
	"github.com/kevin07696/epay-processor/internal/handlers"
	"github.com/kevin07696/epay-processor/internal/services/payment"
	"go.uber.org/zap"
)

// Header names the host platform sets after authenticating the buyer
const (
	HeaderTenant = "X-Tenant-ID"
	HeaderUser   = "X-User-ID"
)

// Processor is the checkout side of a payment orchestrator
type Processor interface {
	Method() string
	SendOffsite(ctx context.Context, session domain.SessionKey, buyer domain.Buyer, checkout *domain.Checkout) (*domain.OffsiteRedirect, error)
	ResumeCheckout(ctx context.Context, session domain.SessionKey, params domain.CallbackParams, inProgress bool) (bool, error)
	Authorize(ctx context.Context, session domain.SessionKey, checkout *domain.Checkout, purchase *domain.Purchase, params domain.CallbackParams) (*domain.Payment, error)
}

// Config holds handler settings
type Config struct {
	// DefaultTenant is used when the request names no tenant
	DefaultTenant string
	// SuccessURL, when set, receives the buyer after an authorized return
	SuccessURL string
}

// Handler serves /checkout endpoints for every configured gateway
type Handler struct {
	processors map[string]Processor
	fallback   string
	source     ports.CheckoutSource
	config     Config
	logger     *zap.Logger
}

// NewHandler creates a checkout handler. The first processor serves requests
// that do not name a method.
func NewHandler(source ports.CheckoutSource, config Config, logger *zap.Logger, processors ...Processor) *Handler {
	h := &Handler{
		processors: make(map[string]Processor, len(processors)),
		source:     source,
		config:     config,
		logger:     logger,
	}
	for i, p := range processors {
		if i == 0 {
			h.fallback = p.Method()
		}
		h.processors[p.Method()] = p
	}
	return h
}

// Register mounts the endpoints on mux, wrapping them with wrap (rate limiting)
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("POST /checkout/start", wrap(http.HandlerFunc(h.Start)))
	mux.Handle("POST /checkout/offsite", wrap(http.HandlerFunc(h.SendOffsite)))
	mux.Handle("GET /checkout/return", wrap(http.HandlerFunc(h.Return)))
	mux.Handle("POST /checkout/return", wrap(http.HandlerFunc(h.Return)))
}

// OffsiteRequest is the body of POST /checkout/offsite
type OffsiteRequest struct {
	Method string `json:"method"`
	Email  string `json:"email"`
}

// OffsiteResponse carries a widget, or reports a checkout needing no payment
type OffsiteResponse struct {
	Success bool                  `json:"success"`
	Status  string                `json:"status"`
	Widget  *domain.PaymentWindow `json:"widget,omitempty"`
}

// SendOffsite handles POST /checkout/offsite. A redirect gateway answers 303,
// a widget gateway answers with the widget descriptor.
func (h *Handler) SendOffsite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req OffsiteRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handlers.WriteError(w, http.StatusBadRequest, "invalid request body", h.logger)
			return
		}
	}

	proc, ok := h.processor(req.Method)
	if !ok {
		handlers.WriteError(w, http.StatusBadRequest, "unknown payment method", h.logger)
		return
	}
	session, ok := h.session(r)
	if !ok {
		handlers.WriteError(w, http.StatusUnauthorized, "missing buyer session", h.logger)
		return
	}

	checkout, err := h.source.Checkout(ctx, session)
	if err != nil {
		h.logger.Warn("Checkout not found", zap.String("session", session.String()), zap.Error(err))
		handlers.WriteDomainError(w, err, h.logger)
		return
	}

	redirect, err := proc.SendOffsite(ctx, session, domain.Buyer{ID: session.UserID, Email: req.Email}, checkout)
	switch {
	case payment.IsEmptyCharge(err):
		handlers.WriteJSON(w, http.StatusOK, OffsiteResponse{Success: true, Status: "no_payment_required"}, h.logger)
		return
	case err != nil:
		handlers.WriteDomainError(w, err, h.logger)
		return
	}

	if redirect.URL != "" {
		http.Redirect(w, r, redirect.URL, http.StatusSeeOther)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, OffsiteResponse{Success: true, Status: "widget", Widget: redirect.Widget}, h.logger)
}

// StartRequest is the body of POST /checkout/start
type StartRequest struct {
	Method     string `json:"method"`
	InProgress bool   `json:"in_progress"`
}

// StartResponse tells the host whether the page load carries a gateway return
type StartResponse struct {
	Success     bool `json:"success"`
	ValidReturn bool `json:"valid_return"`
}

// Start handles POST /checkout/start, called when the buyer lands on the
// checkout page. Query parameters are the ones the page was loaded with.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handlers.WriteError(w, http.StatusBadRequest, "invalid request body", h.logger)
			return
		}
	}

	proc, ok := h.processor(req.Method)
	if !ok {
		handlers.WriteError(w, http.StatusBadRequest, "unknown payment method", h.logger)
		return
	}
	params := callbackParams(r.URL.Query())
	session, ok := h.session(r)
	if !ok {
		handlers.WriteError(w, http.StatusUnauthorized, "missing buyer session", h.logger)
		return
	}

	valid, err := proc.ResumeCheckout(r.Context(), session, params, req.InProgress)
	if err != nil {
		handlers.WriteDomainError(w, err, h.logger)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, StartResponse{Success: true, ValidReturn: valid}, h.logger)
}

// PaymentResponse summarizes the payment created by a return
type PaymentResponse struct {
	Success    bool   `json:"success"`
	Status     string `json:"status"`
	PaymentID  string `json:"payment_id,omitempty"`
	PurchaseID string `json:"purchase_id,omitempty"`
	Amount     string `json:"amount,omitempty"`
	Currency   string `json:"currency,omitempty"`
}

// Return handles GET|POST /checkout/return, where the gateway sends the buyer back
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		handlers.WriteError(w, http.StatusBadRequest, "invalid return parameters", h.logger)
		return
	}
	params := callbackParams(r.Form)

	proc, ok := h.processor(params.Get("method"))
	if !ok {
		handlers.WriteError(w, http.StatusBadRequest, "unknown payment method", h.logger)
		return
	}
	session, ok := h.session(r)
	if !ok {
		handlers.WriteError(w, http.StatusUnauthorized, "missing buyer session", h.logger)
		return
	}

	purchase, err := h.source.PendingPurchase(ctx, session)
	if err != nil {
		h.logger.Warn("No pending purchase for return", zap.String("session", session.String()), zap.Error(err))
		handlers.WriteDomainError(w, err, h.logger)
		return
	}

	// the shipping address is optional; a missing checkout still authorizes
	checkout, err := h.source.Checkout(ctx, session)
	if err != nil {
		h.logger.Debug("Checkout snapshot unavailable", zap.String("session", session.String()), zap.Error(err))
		checkout = nil
	}

	p, err := proc.Authorize(ctx, session, checkout, purchase, params)
	switch {
	case payment.IsEmptyCharge(err):
		handlers.WriteJSON(w, http.StatusOK, PaymentResponse{Success: true, Status: "no_payment_required", PurchaseID: purchase.ID}, h.logger)
		return
	case errors.Is(err, domain.ErrInvalidReturn):
		h.logger.Warn("Rejected gateway return",
			zap.String("session", session.String()),
			zap.String("method", proc.Method()),
		)
		handlers.WriteDomainError(w, err, h.logger)
		return
	case err != nil:
		handlers.WriteDomainError(w, err, h.logger)
		return
	}

	if h.config.SuccessURL != "" {
		target, err := url.Parse(h.config.SuccessURL)
		if err == nil {
			q := target.Query()
			q.Set("purchase_id", p.PurchaseID)
			q.Set("payment_id", p.ID)
			target.RawQuery = q.Encode()
			http.Redirect(w, r, target.String(), http.StatusSeeOther)
			return
		}
		h.logger.Error("Invalid success URL", zap.String("url", h.config.SuccessURL), zap.Error(err))
	}

	handlers.WriteJSON(w, http.StatusOK, PaymentResponse{
		Success:    true,
		Status:     string(p.Status),
		PaymentID:  p.ID,
		PurchaseID: p.PurchaseID,
		Amount:     p.Amount.StringFixed(2),
		Currency:   p.Currency,
	}, h.logger)
}

func (h *Handler) processor(method string) (Processor, bool) {
	if method == "" {
		method = h.fallback
	}
	p, ok := h.processors[method]
	return p, ok
}

// session identifies the buyer from the headers the host sets after
// authenticating them. Gateway parameters never name the buyer.
func (h *Handler) session(r *http.Request) (domain.SessionKey, bool) {
	tenant := r.Header.Get(HeaderTenant)
	if tenant == "" {
		tenant = h.config.DefaultTenant
	}
	user := r.Header.Get(HeaderUser)
	if tenant == "" || user == "" {
		return domain.SessionKey{}, false
	}
	return domain.SessionKey{Tenant: tenant, UserID: user}, true
}

// callbackParams keeps the first value of every key
func callbackParams(values url.Values) domain.CallbackParams {
	params := make(domain.CallbackParams, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}
