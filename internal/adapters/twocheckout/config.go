package twocheckout

import (
	"fmt"

	"github.com/kevin07696/epay-processor/internal/adapters/gatewayhttp"
)

const (
	// MethodName is the payment method recorded on 2Checkout payments
	MethodName = "2Checkout"

	defaultPurchaseURL = "https://www.2checkout.com/checkout/purchase"
	defaultAPIURL      = "https://www.2checkout.com/api"
	defaultSecretWord  = "tango"
)

// Config is the immutable 2Checkout account configuration
type Config struct {
	AccountID   string
	APIUsername string
	APIPassword string
	SecretWord  string
	Currency    string
	Demo        bool

	PurchaseURL string
	APIURL      string

	Transport gatewayhttp.Config
}

// DefaultConfig returns a demo-mode USD configuration for the account
func DefaultConfig(accountID string) Config {
	return Config{
		AccountID:   accountID,
		SecretWord:  defaultSecretWord,
		Currency:    "USD",
		Demo:        true,
		PurchaseURL: defaultPurchaseURL,
		APIURL:      defaultAPIURL,
		Transport:   gatewayhttp.DefaultConfig(),
	}
}

// Validate checks the fields the adapter cannot work without
func (c Config) Validate() error {
	if c.AccountID == "" {
		return fmt.Errorf("2checkout account id is required")
	}
	if c.SecretWord == "" {
		return fmt.Errorf("2checkout secret word is required")
	}
	return nil
}
