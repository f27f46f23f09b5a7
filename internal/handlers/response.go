// Package handlers holds the JSON response helpers shared by the HTTP handlers.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kevin07696/epay-processor/internal/domain"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// WriteJSON writes body with the given status
func WriteJSON(w http.ResponseWriter, status int, body interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

// WriteError writes an error body with the given status
func WriteError(w http.ResponseWriter, status int, message string, logger *zap.Logger) {
	WriteJSON(w, status, ErrorResponse{Success: false, Error: message}, logger)
}

// WriteDomainError maps err to a status and writes it. Internal failures are
// reported with a generic message; the detail stays in the logs.
func WriteDomainError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status := StatusFor(err)
	code := domain.GetErrorCode(err)

	message := "internal server error"
	if status < http.StatusInternalServerError {
		message = err.Error()
	}
	switch code {
	case domain.ErrorCodePersistence:
		message = "your payment could not be recorded, please contact support"
	case domain.ErrorCodeGatewayUnavailable, domain.ErrorCodeGatewayProtocol:
		message = "payment gateway unavailable, please try again"
	}

	WriteJSON(w, status, ErrorResponse{Success: false, Error: message, Code: string(code)}, logger)
}

// StatusFor maps a domain error code to an HTTP status
func StatusFor(err error) int {
	switch domain.GetErrorCode(err) {
	case domain.ErrorCodeInvalidReturn, domain.ErrorCodeValidationFailed, domain.ErrorCodeEmptyCharge:
		return http.StatusBadRequest
	case domain.ErrorCodePaymentNotFound:
		return http.StatusNotFound
	case domain.ErrorCodeVersionConflict, domain.ErrorCodeAlreadyHandled:
		return http.StatusConflict
	case domain.ErrorCodePendingCapture:
		return http.StatusAccepted
	case domain.ErrorCodeGatewayUnavailable, domain.ErrorCodeGatewayProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
