// Package twocheckout redirects buyers to the 2Checkout purchase page and
// confirms sales through the 2Checkout back-office API.
package twocheckout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/kevin07696/epay-processor/internal/adapters/gatewayhttp"
	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/internal/domain/ports"
	"github.com/kevin07696/epay-processor/internal/returns"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// SignatureField carries the HMAC over the signed return fields
	SignatureField = "key"

	unknownErrorMessage = "An unknown error occurred"
	saleRetrievedCode   = "OK"
)

// returnValidator requires a processed card and a valid signature over
// account, order number and total
var returnValidator = returns.SignatureValidator{
	SignatureField:    SignatureField,
	SignedFields:      []string{"sid", "order_number", "total"},
	ResponseCodeField: "credit_card_processed",
	SuccessCode:       "Y",
}

var errorMessages = map[string]string{
	"PARAMETER_MISSING": "Required parameter missing",
	"PARAMETER_INVALID": "Parameter value is invalid",
	"RECORD_NOT_FOUND":  "Sale not found",
	"FORBIDDEN":         "Access denied to the requested sale",
	"NOTHING_TO_DO":     "Sale is already settled",
}

// Adapter implements ports.GatewayClient for 2Checkout
type Adapter struct {
	config    Config
	transport *gatewayhttp.Transport
	logger    *zap.Logger
}

var _ ports.GatewayClient = (*Adapter)(nil)

// NewAdapter creates a 2Checkout gateway client
func NewAdapter(config Config, logger *zap.Logger, opts ...gatewayhttp.Option) *Adapter {
	return &Adapter{
		config:    config,
		transport: gatewayhttp.NewTransport(MethodName, config.Transport, logger, opts...),
		logger:    logger,
	}
}

// Name implements ports.GatewayClient
func (a *Adapter) Name() string {
	return MethodName
}

// Transport exposes the underlying transport for health reporting
func (a *Adapter) Transport() *gatewayhttp.Transport {
	return a.transport
}

// CaptureInherent implements ports.GatewayClient
func (a *Adapter) CaptureInherent() bool {
	return false
}

// EchoesToken implements ports.GatewayClient
func (a *Adapter) EchoesToken() bool {
	return true
}

// BuildOffsiteRedirect returns the purchase page URL carrying the charge fields
func (a *Adapter) BuildOffsiteRedirect(ctx context.Context, req *domain.ChargeRequest) (*domain.OffsiteRedirect, error) {
	if req == nil || !req.Total.IsPositive() {
		return nil, domain.ErrEmptyCharge
	}

	charge := *req
	if charge.AccountID == "" {
		charge.AccountID = a.config.AccountID
	}
	if charge.Currency == "" {
		charge.Currency = a.config.Currency
	}
	charge.Demo = charge.Demo || a.config.Demo

	target, err := url.Parse(a.config.PurchaseURL)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid purchase url", err)
	}
	target.RawQuery = charge.Fields().Encode()

	return &domain.OffsiteRedirect{URL: target.String()}, nil
}

// ValidateReturn implements ports.GatewayClient
func (a *Adapter) ValidateReturn(params domain.CallbackParams, secret string) bool {
	if secret == "" {
		secret = a.config.SecretWord
	}
	return returnValidator.Validate(params, secret)
}

// SignReturn produces the signature 2Checkout attaches to a return.
// Used by the demo return endpoint and tests.
func (a *Adapter) SignReturn(params domain.CallbackParams) string {
	return returnValidator.Sign(params, a.config.SecretWord)
}

// ParseReturn implements ports.GatewayClient. The order number doubles as
// the sale id used for capture.
func (a *Adapter) ParseReturn(params domain.CallbackParams) (*domain.ReturnData, error) {
	orderNumber := strings.TrimSpace(params.Get("order_number"))
	if orderNumber == "" {
		return nil, domain.ErrInvalidReturn
	}

	data := &domain.ReturnData{
		TransactionID: orderNumber,
		OrderID:       orderNumber,
		Token:         params.Get("gbs_custom_token"),
		Raw:           map[string]string(params),
	}
	if raw := params.Get("total"); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid total in return", err).
				WithDetail("total", raw)
		}
		data.Amount = amount
	}
	return data, nil
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type saleDetailResponse struct {
	ResponseCode    string          `json:"response_code"`
	ResponseMessage string          `json:"response_message"`
	Errors          []apiError      `json:"errors"`
	Sale            json.RawMessage `json:"sale"`
}

// Capture implements ports.GatewayClient. 2Checkout settles on its own once
// the sale exists, so capture confirms the sale can be retrieved.
func (a *Adapter) Capture(ctx context.Context, transactionID string, amount decimal.Decimal) (*domain.CaptureResult, error) {
	endpoint := strings.TrimRight(a.config.APIURL, "/") + "/sales/detail_sale?" +
		url.Values{"sale_id": {transactionID}}.Encode()

	resp, err := a.transport.DoNonIdempotent(ctx, "detail_sale", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(a.config.APIUsername, a.config.APIPassword)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var detail saleDetailResponse
	if err := json.Unmarshal(resp.Body, &detail); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeGatewayProtocol, "unexpected detail_sale response", err).
			WithDetail("status_code", resp.StatusCode)
	}

	result := &domain.CaptureResult{
		TransactionID: transactionID,
		ResponseCode:  detail.ResponseCode,
		Message:       detail.ResponseMessage,
		Raw: map[string]string{
			"response_code":    detail.ResponseCode,
			"response_message": detail.ResponseMessage,
			"amount":           amount.StringFixed(2),
		},
	}

	if detail.ResponseCode == saleRetrievedCode {
		result.Success = true
		return result, nil
	}

	if len(detail.Errors) > 0 {
		result.ResponseCode = detail.Errors[0].Code
		result.Message = detail.Errors[0].Message
	}
	if result.Message == "" {
		result.Message = a.TranslateErrorCode(ctx, result.ResponseCode)
	}

	a.logger.Warn("2Checkout sale retrieval failed",
		zap.String("sale_id", transactionID),
		zap.Int("status_code", resp.StatusCode),
		zap.String("response_code", result.ResponseCode),
		zap.String("message", result.Message),
	)
	return result, nil
}

// TranslateErrorCode implements ports.GatewayClient
func (a *Adapter) TranslateErrorCode(ctx context.Context, code string) string {
	if msg, ok := errorMessages[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return msg
	}
	return unknownErrorMessage
}

