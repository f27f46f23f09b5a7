package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus represents the lifecycle state of a payment
type PaymentStatus string

const (
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusComplete   PaymentStatus = "complete"
	// PaymentStatusFailed is a valid stored value but the processor never assigns it;
	// declined captures stay authorized and are retried by the sweep.
	PaymentStatusFailed PaymentStatus = "failed"
)

// CaptureAttempt records one successful settlement call against the gateway
type CaptureAttempt struct {
	Amount        decimal.Decimal   `json:"amount"`
	TransactionID string            `json:"transaction_id"`
	DealIDs       []string          `json:"deal_ids"`
	ResponseCode  string            `json:"response_code,omitempty"`
	Message       string            `json:"message,omitempty"`
	Response      map[string]string `json:"response,omitempty"`
	Success       bool              `json:"success"`
	CapturedAt    time.Time         `json:"captured_at"`
}

// PaymentData is the gateway-specific payload stored with a payment
type PaymentData struct {
	TransactionID    string            `json:"transaction_id,omitempty"`
	OrderID          string            `json:"order_id,omitempty"`
	APIResponse      map[string]string `json:"api_response,omitempty"`
	CaptureResponses []CaptureAttempt  `json:"capture_responses,omitempty"`
	UncapturedDeals  []string          `json:"uncaptured_deals,omitempty"`
	Token            string            `json:"token,omitempty"`

	// CaptureClaimedAt is set while a worker holds the capture lease
	CaptureClaimedAt *time.Time `json:"capture_claimed_at,omitempty"`
}

// Payment is one authorization recorded against a purchase by a single method
type Payment struct {
	ID              string
	Method          string
	PurchaseID      string
	Amount          decimal.Decimal
	Currency        string
	Status          PaymentStatus
	Data            PaymentData
	DealLineItems   map[string][]LineItem
	ShippingAddress *Address
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsComplete reports whether the payment has been fully settled
func (p *Payment) IsComplete() bool {
	return p.Status == PaymentStatusComplete
}

// CorrelationID returns the gateway reference used to capture the payment
func (p *Payment) CorrelationID() string {
	if p.Data.TransactionID != "" {
		return p.Data.TransactionID
	}
	return p.Data.OrderID
}

// DealIDs returns the ids of all deals this payment covers, sorted
func (p *Payment) DealIDs() []string {
	ids := make([]string, 0, len(p.DealLineItems))
	for id := range p.DealLineItems {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ItemsToCapture returns the uncaptured deals accepted by ready, sorted.
// A nil ready func accepts every deal.
func (p *Payment) ItemsToCapture(ready func(dealID string) bool) []string {
	deals := make([]string, 0, len(p.Data.UncapturedDeals))
	for _, id := range p.Data.UncapturedDeals {
		if ready == nil || ready(id) {
			deals = append(deals, id)
		}
	}
	sort.Strings(deals)
	return deals
}

// CapturedTotal sums the amounts of all recorded capture attempts
func (p *Payment) CapturedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, attempt := range p.Data.CaptureResponses {
		if attempt.Success {
			total = total.Add(attempt.Amount)
		}
	}
	return total
}

// CaptureAmount returns what to settle for the given deals. The final capture
// settles whatever remains of the authorized amount so rounding never strands cents.
func (p *Payment) CaptureAmount(dealIDs []string) decimal.Decimal {
	if len(dealIDs) >= len(p.Data.UncapturedDeals) {
		return p.Amount.Sub(p.CapturedTotal())
	}
	total := decimal.Zero
	for _, id := range dealIDs {
		for _, item := range p.DealLineItems[id] {
			if amount, ok := item.PaymentMethod[p.Method]; ok {
				total = total.Add(amount)
			}
		}
	}
	return total
}

// RecordCapture appends the attempt, drops the captured deals from the
// uncaptured set and completes the payment once nothing remains.
// It returns true when this call completed the payment.
func (p *Payment) RecordCapture(attempt CaptureAttempt) bool {
	p.Data.CaptureResponses = append(p.Data.CaptureResponses, attempt)

	captured := make(map[string]struct{}, len(attempt.DealIDs))
	for _, id := range attempt.DealIDs {
		captured[id] = struct{}{}
	}
	remaining := p.Data.UncapturedDeals[:0:0]
	for _, id := range p.Data.UncapturedDeals {
		if _, ok := captured[id]; !ok {
			remaining = append(remaining, id)
		}
	}
	p.Data.UncapturedDeals = remaining
	p.Data.CaptureClaimedAt = nil

	if len(remaining) == 0 && p.Status != PaymentStatusComplete {
		p.Status = PaymentStatusComplete
		return true
	}
	return false
}

// ClaimExpired reports whether no live capture lease is held at now
func (p *Payment) ClaimExpired(now time.Time, lease time.Duration) bool {
	claimed := p.Data.CaptureClaimedAt
	return claimed == nil || now.Sub(*claimed) >= lease
}

// Clone returns a deep copy so callers can mutate without aliasing ledger state
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p

	c.Data.APIResponse = cloneStrings(p.Data.APIResponse)
	c.Data.UncapturedDeals = append([]string(nil), p.Data.UncapturedDeals...)
	if p.Data.CaptureResponses != nil {
		c.Data.CaptureResponses = make([]CaptureAttempt, len(p.Data.CaptureResponses))
		for i, attempt := range p.Data.CaptureResponses {
			attempt.DealIDs = append([]string(nil), attempt.DealIDs...)
			attempt.Response = cloneStrings(attempt.Response)
			c.Data.CaptureResponses[i] = attempt
		}
	}
	if p.Data.CaptureClaimedAt != nil {
		claimed := *p.Data.CaptureClaimedAt
		c.Data.CaptureClaimedAt = &claimed
	}
	if p.DealLineItems != nil {
		c.DealLineItems = make(map[string][]LineItem, len(p.DealLineItems))
		for id, items := range p.DealLineItems {
			c.DealLineItems[id] = append([]LineItem(nil), items...)
		}
	}
	if p.ShippingAddress != nil {
		addr := *p.ShippingAddress
		c.ShippingAddress = &addr
	}
	return &c
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
