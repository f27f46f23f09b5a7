package epay

import (
	"fmt"
	"strings"

	"github.com/kevin07696/epay-processor/internal/adapters/gatewayhttp"
)

const (
	// MethodName is the payment method recorded on ePay payments
	MethodName = "ePay"

	defaultAPIURL    = "https://ssl.ditonlinebetalingssystem.dk/remote/payment.asmx"
	defaultWindowURL = "https://ssl.ditonlinebetalingssystem.dk/integration/ewindow/paymentwindow.js"
	soapNamespace    = "https://ssl.ditonlinebetalingssystem.dk/remote/payment"

	// fullscreen payment window
	defaultWindowState = 3
	// Danish
	defaultLanguage = 1
)

// DefaultAcceptedCards lists the card brands the payment window offers by default
var DefaultAcceptedCards = []string{"visa", "mastercard", "amex", "discover", "jcb", "maestro"}

// paymentTypes maps card brands to ePay paymenttype ids
var paymentTypes = map[string]string{
	"dankort":    "1",
	"visa":       "3",
	"mastercard": "4",
	"jcb":        "6",
	"maestro":    "7",
	"diners":     "8",
	"amex":       "9",
}

// Config is the immutable ePay merchant configuration
type Config struct {
	MerchantNumber string
	APIPassword    string
	Currency       string

	APIURL    string
	WindowURL string

	AcceptURL   string
	CancelURL   string
	CallbackURL string

	Language    int
	WindowState int

	// InstantCapture asks ePay to settle during authorization, in which case
	// the processor completes purchases without a capture call
	InstantCapture bool

	// MD5Key, when set, signs the payment window parameters
	MD5Key string

	// AcceptedCards restricts the window's card brands. Brands ePay has no
	// id for are ignored; when none remain the window offers every brand.
	AcceptedCards []string

	Transport gatewayhttp.Config
}

// DefaultConfig returns production endpoints with DKK as currency
func DefaultConfig(merchantNumber, apiPassword string) Config {
	return Config{
		MerchantNumber: merchantNumber,
		APIPassword:    apiPassword,
		Currency:       "DKK",
		APIURL:         defaultAPIURL,
		WindowURL:      defaultWindowURL,
		Language:       defaultLanguage,
		WindowState:    defaultWindowState,
		AcceptedCards:  DefaultAcceptedCards,
		Transport:      gatewayhttp.DefaultConfig(),
	}
}

// PaymentTypes renders AcceptedCards as ePay's comma separated paymenttype value
func (c Config) PaymentTypes() string {
	ids := make([]string, 0, len(c.AcceptedCards))
	seen := make(map[string]bool, len(c.AcceptedCards))
	for _, card := range c.AcceptedCards {
		id, ok := paymentTypes[strings.ToLower(strings.TrimSpace(card))]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return strings.Join(ids, ",")
}

// Validate checks the fields a capture call cannot work without
func (c Config) Validate() error {
	if c.MerchantNumber == "" {
		return fmt.Errorf("epay merchant number is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("epay api url is required")
	}
	return nil
}
