// Package returns validates the parameters a gateway sends back when the
// buyer returns from an offsite payment page.
package returns

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/kevin07696/epay-processor/internal/domain"
)

// Validator decides whether a return callback is genuine.
// Implementations are pure: browsers resubmit returns, so repeated calls
// with the same input must give the same answer.
type Validator interface {
	Validate(params domain.CallbackParams, secret string) bool
}

// SignatureValidator checks an HMAC-SHA256 signature computed over the
// SignedFields values, in order, joined with '|'.
type SignatureValidator struct {
	SignatureField string
	SignedFields   []string

	// ResponseCodeField, when set, must equal SuccessCode
	ResponseCodeField string
	SuccessCode       string
}

// Validate implements Validator
func (v SignatureValidator) Validate(params domain.CallbackParams, secret string) bool {
	if secret == "" {
		return false
	}
	if v.ResponseCodeField != "" && params.Get(v.ResponseCodeField) != v.SuccessCode {
		return false
	}

	provided := strings.ToLower(strings.TrimSpace(params.Get(v.SignatureField)))
	if provided == "" {
		return false
	}
	got, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	expected := computeHMAC(secret, v.payload(params))
	return hmac.Equal(got, expected)
}

// Sign returns the hex signature for params, used by gateways and tests
// that need to produce a valid return.
func (v SignatureValidator) Sign(params domain.CallbackParams, secret string) string {
	return hex.EncodeToString(computeHMAC(secret, v.payload(params)))
}

func (v SignatureValidator) payload(params domain.CallbackParams) string {
	values := make([]string, len(v.SignedFields))
	for i, field := range v.SignedFields {
		values[i] = params.Get(field)
	}
	return strings.Join(values, "|")
}

func computeHMAC(secret, payload string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// TokenPresenceValidator accepts any return carrying a non-empty transaction id.
// Authenticity is established later, when capture is attempted server to server.
type TokenPresenceValidator struct {
	TransactionField string
}

// Validate implements Validator
func (v TokenPresenceValidator) Validate(params domain.CallbackParams, _ string) bool {
	return strings.TrimSpace(params.Get(v.TransactionField)) != ""
}
