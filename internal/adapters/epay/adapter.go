// Package epay talks to the ePay payment window and its SOAP remote API.
package epay

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/kevin07696/epay-processor/internal/adapters/gatewayhttp"
	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/internal/domain/ports"
	"github.com/kevin07696/epay-processor/internal/returns"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// UnknownErrorMessage is shown when ePay cannot describe a code
	UnknownErrorMessage = "An unknown error occurred"

	// "-1" asks ePay to fill the field in its answer
	requestResponseField = "-1"

	tokenParam = "gbs_custom_token"

	actionCapture = "capture"
)

// Adapter implements ports.GatewayClient for ePay
type Adapter struct {
	config    Config
	transport *gatewayhttp.Transport
	validator returns.Validator
	logger    *zap.Logger
}

var _ ports.GatewayClient = (*Adapter)(nil)

// NewAdapter creates an ePay gateway client
func NewAdapter(config Config, logger *zap.Logger, opts ...gatewayhttp.Option) *Adapter {
	return &Adapter{
		config:    config,
		transport: gatewayhttp.NewTransport(MethodName, config.Transport, logger, opts...),
		validator: returns.TokenPresenceValidator{TransactionField: "txnid"},
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
	return a.config.InstantCapture
}

// EchoesToken implements ports.GatewayClient. The window forwards custom
// fields to the accept URL.
func (a *Adapter) EchoesToken() bool {
	return true
}

// BuildOffsiteRedirect describes the ePay payment window for the charge.
// ePay is embedded as a script widget, so no redirect URL is returned.
func (a *Adapter) BuildOffsiteRedirect(ctx context.Context, req *domain.ChargeRequest) (*domain.OffsiteRedirect, error) {
	if req == nil || !req.Total.IsPositive() {
		return nil, domain.ErrEmptyCharge
	}

	currency := req.Currency
	if currency == "" {
		currency = a.config.Currency
	}

	// ePay hashes values in the order they are sent
	ordered := [][2]string{
		{"merchantnumber", a.config.MerchantNumber},
		{"amount", strconv.FormatInt(minorUnits(req.Total), 10)},
		{"currency", currency},
		{"orderid", req.OrderLabel},
		{"windowstate", strconv.Itoa(a.config.WindowState)},
		{"language", strconv.Itoa(a.config.Language)},
		{"instantcapture", boolFlag(a.config.InstantCapture)},
		{"paymenttype", a.config.PaymentTypes()},
		{"accepturl", firstNonEmpty(req.ReturnURL, a.config.AcceptURL)},
		{"cancelurl", a.config.CancelURL},
		{"callbackurl", a.config.CallbackURL},
		{tokenParam, req.Token},
	}

	params := make(map[string]string, len(ordered)+1)
	var concatenated strings.Builder
	for _, kv := range ordered {
		if kv[1] == "" {
			continue
		}
		params[kv[0]] = kv[1]
		concatenated.WriteString(kv[1])
	}
	if a.config.MD5Key != "" {
		sum := md5.Sum([]byte(concatenated.String() + a.config.MD5Key))
		params["hash"] = hex.EncodeToString(sum[:])
	}

	return &domain.OffsiteRedirect{
		Widget: &domain.PaymentWindow{ScriptURL: a.config.WindowURL, Params: params},
	}, nil
}

// ValidateReturn implements ports.GatewayClient. ePay's accept redirect is
// not signed unless an MD5 key is configured; a forged txnid fails at capture.
func (a *Adapter) ValidateReturn(params domain.CallbackParams, secret string) bool {
	return a.validator.Validate(params, secret)
}

// ParseReturn implements ports.GatewayClient
func (a *Adapter) ParseReturn(params domain.CallbackParams) (*domain.ReturnData, error) {
	txnID := strings.TrimSpace(params.Get("txnid"))
	if txnID == "" {
		return nil, domain.ErrInvalidReturn
	}

	data := &domain.ReturnData{
		TransactionID: txnID,
		OrderID:       params.Get("orderid"),
		Token:         params.Get(tokenParam),
		Raw:           map[string]string(params),
	}

	if raw := params.Get("amount"); raw != "" {
		minor, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid amount in return", err).
				WithDetail("amount", raw)
		}
		data.Amount = decimal.New(minor, -2)
	}
	return data, nil
}

// Capture implements ports.GatewayClient via the remote capture operation
func (a *Adapter) Capture(ctx context.Context, transactionID string, amount decimal.Decimal) (*domain.CaptureResult, error) {
	req := captureRequest{
		MerchantNumber: a.config.MerchantNumber,
		TransactionID:  transactionID,
		Amount:         minorUnits(amount),
		Password:       a.config.APIPassword,
		PBSResponse:    requestResponseField,
		EpayResponse:   requestResponseField,
	}

	var resp captureResponse
	if err := a.call(ctx, actionCapture, req, &resp); err != nil {
		return nil, err
	}

	result := &domain.CaptureResult{
		Success:       strings.EqualFold(resp.CaptureResult, "true"),
		TransactionID: transactionID,
		Raw: map[string]string{
			"captureResult": resp.CaptureResult,
			"pbsResponse":   resp.PBSResponse,
			"epayresponse":  resp.EpayResponse,
		},
	}
	if result.Success {
		return result, nil
	}

	// ePay reports either its own negative code or the acquirer's code
	result.ResponseCode = resp.EpayResponse
	if !isSet(resp.EpayResponse) {
		result.ResponseCode = resp.PBSResponse
	}
	result.Message = a.TranslateErrorCode(ctx, result.ResponseCode)

	a.logger.Warn("ePay capture declined",
		zap.String("transaction_id", transactionID),
		zap.String("response_code", result.ResponseCode),
		zap.String("message", result.Message),
	)
	return result, nil
}

// TranslateErrorCode implements ports.GatewayClient. Negative codes belong
// to ePay, the rest to the acquirer (PBS). Lookup failures fall back to a
// generic message.
func (a *Adapter) TranslateErrorCode(ctx context.Context, code string) string {
	code = strings.TrimSpace(code)
	if !isSet(code) {
		return UnknownErrorMessage
	}

	if strings.HasPrefix(code, "-") {
		var resp getEpayErrorResponse
		err := a.call(ctx, "getEpayError", getEpayErrorRequest{
			MerchantNumber:   a.config.MerchantNumber,
			Language:         a.config.Language,
			EpayResponseCode: code,
			Password:         a.config.APIPassword,
			EpayResponse:     requestResponseField,
		}, &resp)
		if err != nil || !strings.EqualFold(resp.Result, "true") || resp.EpayResponseString == "" {
			a.logLookupFailure(code, err)
			return UnknownErrorMessage
		}
		return resp.EpayResponseString
	}

	var resp getPbsErrorResponse
	err := a.call(ctx, "getPbsError", getPbsErrorRequest{
		MerchantNumber:  a.config.MerchantNumber,
		Language:        a.config.Language,
		PBSResponseCode: code,
		Password:        a.config.APIPassword,
		EpayResponse:    requestResponseField,
	}, &resp)
	if err != nil || !strings.EqualFold(resp.Result, "true") || resp.PBSResponseString == "" {
		a.logLookupFailure(code, err)
		return UnknownErrorMessage
	}
	return resp.PBSResponseString
}

func (a *Adapter) logLookupFailure(code string, err error) {
	fields := []zap.Field{zap.String("code", code)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	a.logger.Debug("ePay error lookup failed", fields...)
}

// call performs one SOAP action and decodes the answer into out
func (a *Adapter) call(ctx context.Context, action string, payload, out interface{}) error {
	body, err := encodeEnvelope(payload)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeGatewayProtocol, "failed to encode "+action, err)
	}

	do := a.transport.Do
	if action == actionCapture {
		do = a.transport.DoNonIdempotent
	}
	resp, err := do(ctx, action, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.APIURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "text/xml; charset=utf-8")
		req.Header.Set("SOAPAction", fmt.Sprintf("%q", soapNamespace+"/"+action))
		return req, nil
	})
	if err != nil {
		return err
	}

	if err := decodeEnvelope(resp.Body, out); err != nil {
		return domain.WrapError(domain.ErrorCodeGatewayProtocol, "unexpected "+action+" response", err).
			WithDetail("status_code", resp.StatusCode)
	}
	return nil
}

// minorUnits converts an amount to the integer minor units ePay expects
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func isSet(code string) bool {
	return code != "" && code != requestResponseField && code != "0"
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
