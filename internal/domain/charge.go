package domain

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
)

// LineItemType distinguishes product lines from tax and shipping lines
type LineItemType string

const (
	LineItemProduct  LineItemType = "product"
	LineItemTax      LineItemType = "tax"
	LineItemShipping LineItemType = "shipping"
)

// ChargeLineItem is one positional line on the gateway charge
type ChargeLineItem struct {
	Type      LineItemType
	ProductID string
	Name      string
	Quantity  int
	Price     decimal.Decimal
	Tangible  bool
}

// Total returns price times quantity
func (li ChargeLineItem) Total() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// ChargeRequest is the gateway-bound description of what the buyer pays.
// It is built per checkout and never persisted.
type ChargeRequest struct {
	AccountID  string
	OrderLabel string
	Total      decimal.Decimal
	Currency   string
	ReturnURL  string
	Billing    Address
	Email      string
	Shipping   *Address
	LineItems  []ChargeLineItem
	UserID     string
	Demo       bool
	Token      string
}

// Fields encodes the request with positional line-item keys. The token is only
// included once set, so the same encoding doubles as the token digest input.
func (r *ChargeRequest) Fields() url.Values {
	v := url.Values{}
	v.Set("sid", r.AccountID)
	v.Set("mode", "2CO")
	v.Set("cart_order_id", r.OrderLabel)
	v.Set("total", r.Total.StringFixed(2))
	v.Set("currency_code", r.Currency)
	v.Set("x_receipt_link_url", r.ReturnURL)

	v.Set("card_holder_name", r.Billing.FullName())
	v.Set("street_address", r.Billing.Street)
	v.Set("city", r.Billing.City)
	v.Set("state", r.Billing.Zone)
	v.Set("zip", r.Billing.PostalCode)
	v.Set("country", r.Billing.Country)
	v.Set("email", r.Email)

	if r.Shipping != nil {
		v.Set("ship_name", r.Shipping.FullName())
		v.Set("ship_street_address", r.Shipping.Street)
		v.Set("ship_city", r.Shipping.City)
		v.Set("ship_state", r.Shipping.Zone)
		v.Set("ship_zip", r.Shipping.PostalCode)
		v.Set("ship_country", r.Shipping.Country)
	}

	for i, li := range r.LineItems {
		prefix := fmt.Sprintf("li_%d_", i)
		v.Set(prefix+"type", string(li.Type))
		v.Set(prefix+"product_id", li.ProductID)
		v.Set(prefix+"name", li.Name)
		v.Set(prefix+"quantity", strconv.Itoa(li.Quantity))
		v.Set(prefix+"price", li.Price.StringFixed(2))
		v.Set(prefix+"tangible", yesNo(li.Tangible))
	}

	if r.Demo {
		v.Set("demo", "Y")
	}
	v.Set("gbs_custom_user_id", r.UserID)
	if r.Token != "" {
		v.Set("gbs_custom_token", r.Token)
	}
	return v
}

func yesNo(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

// PaymentWindow describes an embeddable gateway widget
type PaymentWindow struct {
	ScriptURL string            `json:"script_url"`
	Params    map[string]string `json:"params"`
}

// OffsiteRedirect is either a URL to send the buyer to or a widget to render
type OffsiteRedirect struct {
	URL    string         `json:"url,omitempty"`
	Widget *PaymentWindow `json:"widget,omitempty"`
}

// ReturnData is the correlation data extracted from a validated gateway return
type ReturnData struct {
	TransactionID string
	OrderID       string
	Amount        decimal.Decimal
	Token         string
	Raw           map[string]string
}

// CaptureResult is the gateway's answer to a capture call.
// A decline is reported as Success=false, not as an error.
type CaptureResult struct {
	Success       bool
	TransactionID string
	ResponseCode  string
	Message       string
	Raw           map[string]string
}
