package ports

import (
	"context"

	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/shopspring/decimal"
)

// GatewayClient is the processor's view of one offsite payment gateway.
// Implementations hold their own immutable configuration and HTTP client.
//
// Error contract:
//   - network failures and timeouts wrap domain.ErrGatewayUnavailable
//   - unparsable gateway answers wrap domain.ErrGatewayProtocol
//   - a declined capture is a CaptureResult with Success=false and a nil error
//
// No method mutates processor state.
type GatewayClient interface {
	// Name is the payment method name stored on payments (e.g. "ePay")
	Name() string

	// BuildOffsiteRedirect turns a charge request into a redirect URL or widget
	BuildOffsiteRedirect(ctx context.Context, req *domain.ChargeRequest) (*domain.OffsiteRedirect, error)

	// ValidateReturn checks a return callback. Must be pure and idempotent.
	ValidateReturn(params domain.CallbackParams, secret string) bool

	// ParseReturn extracts correlation data from a validated return
	ParseReturn(params domain.CallbackParams) (*domain.ReturnData, error)

	// Capture settles amount against a previously authorized transaction
	Capture(ctx context.Context, transactionID string, amount decimal.Decimal) (*domain.CaptureResult, error)

	// TranslateErrorCode maps a gateway error code to readable text
	TranslateErrorCode(ctx context.Context, code string) string

	// CaptureInherent is true for gateways that settle during authorization
	CaptureInherent() bool

	// EchoesToken is true when the gateway passes the charge token back on
	// return. Returns from such gateways must carry it.
	EchoesToken() bool
}
