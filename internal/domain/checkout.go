package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// MinimumCharge is the smallest payable amount a gateway is asked to collect.
var MinimumCharge = decimal.RequireFromString("0.01")

// Address is a billing or shipping address as cached by the checkout
type Address struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	Zone       string `json:"zone"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// FullName joins first and last name
func (a Address) FullName() string {
	switch {
	case a.FirstName == "":
		return a.LastName
	case a.LastName == "":
		return a.FirstName
	default:
		return a.FirstName + " " + a.LastName
	}
}

// CartItem is one deal in the buyer's cart
type CartItem struct {
	DealID    string          `json:"deal_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// LineTotal returns unit price times quantity
func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is the host's cart snapshot at checkout time.
// MethodTotals holds the portion payable by each payment method when the host
// splits a cart (credits, vouchers); a method absent from the map pays the full total.
type Cart struct {
	Items         []CartItem                 `json:"items"`
	TaxTotal      decimal.Decimal            `json:"tax_total"`
	ShippingTotal decimal.Decimal            `json:"shipping_total"`
	MethodTotals  map[string]decimal.Decimal `json:"method_totals,omitempty"`
}

// Subtotal sums the line totals of all items
func (c Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// Total returns subtotal plus tax and shipping
func (c Cart) Total() decimal.Decimal {
	return c.Subtotal().Add(c.TaxTotal).Add(c.ShippingTotal)
}

// TotalFor returns the amount payable by the given method
func (c Cart) TotalFor(method string) decimal.Decimal {
	if amount, ok := c.MethodTotals[method]; ok {
		return amount
	}
	return c.Total()
}

// CheckoutCache holds the address data collected during checkout
type CheckoutCache struct {
	Billing  Address  `json:"billing"`
	Email    string   `json:"email"`
	Shipping *Address `json:"shipping,omitempty"`
}

// Checkout is the host checkout state consumed by the processor
type Checkout struct {
	Cart  Cart          `json:"cart"`
	Cache CheckoutCache `json:"cache"`
}

// LineItem is one purchased product. PaymentMethod maps a method name to the
// amount of this line that method pays for.
type LineItem struct {
	DealID        string                     `json:"deal_id"`
	Name          string                     `json:"name"`
	Quantity      int                        `json:"quantity"`
	UnitPrice     decimal.Decimal            `json:"unit_price"`
	Price         decimal.Decimal            `json:"price"`
	PaymentMethod map[string]decimal.Decimal `json:"payment_method"`
}

// PaysWith reports whether the given method pays any part of this line
func (i LineItem) PaysWith(method string) bool {
	_, ok := i.PaymentMethod[method]
	return ok
}

// Purchase is the host record created once a checkout is submitted
type Purchase struct {
	ID     string     `json:"id"`
	UserID string     `json:"user_id"`
	Items  []LineItem `json:"items"`
}

// TotalFor sums the amounts allotted to the given method across all items
func (p Purchase) TotalFor(method string) decimal.Decimal {
	total := decimal.Zero
	for _, item := range p.Items {
		if amount, ok := item.PaymentMethod[method]; ok {
			total = total.Add(amount)
		}
	}
	return total
}

// DealLineItemsFor groups the items payable by method under their deal id.
// Items not routed to method are left out entirely.
func (p Purchase) DealLineItemsFor(method string) map[string][]LineItem {
	deals := make(map[string][]LineItem)
	for _, item := range p.Items {
		if !item.PaysWith(method) {
			continue
		}
		deals[item.DealID] = append(deals[item.DealID], item)
	}
	return deals
}

// DealIDs returns the distinct deal ids of the purchase in sorted order
func (p Purchase) DealIDs() []string {
	seen := make(map[string]struct{}, len(p.Items))
	ids := make([]string, 0, len(p.Items))
	for _, item := range p.Items {
		if _, ok := seen[item.DealID]; ok {
			continue
		}
		seen[item.DealID] = struct{}{}
		ids = append(ids, item.DealID)
	}
	sort.Strings(ids)
	return ids
}

// SessionKey scopes a checkout token to one user of one tenant
type SessionKey struct {
	Tenant string
	UserID string
}

// String renders the key the way the token store persists it
func (k SessionKey) String() string {
	return fmt.Sprintf("%s_gb_token_key:%s", k.Tenant, k.UserID)
}

// Buyer identifies the user checking out
type Buyer struct {
	ID    string
	Email string
}

// CallbackParams are the raw key/value pairs a gateway sends back on return
type CallbackParams map[string]string

// Get returns the value for key or an empty string
func (p CallbackParams) Get(key string) string {
	if p == nil {
		return ""
	}
	return p[key]
}
