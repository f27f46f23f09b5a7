// Package charge turns a checkout snapshot into the gateway charge request.
package charge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TokenLength is the number of trailing digest characters kept as the token
const TokenLength = 60

// Config is the immutable per-gateway input to the builder
type Config struct {
	// Method selects which share of a split cart this gateway collects
	Method    string
	AccountID string
	Currency  string
	ReturnURL string
	Demo      bool
}

// Builder builds charge requests for one gateway
type Builder struct {
	config Config
	logger *zap.Logger
}

// NewBuilder creates a charge request builder
func NewBuilder(config Config, logger *zap.Logger) *Builder {
	return &Builder{config: config, logger: logger}
}

// Build returns the charge for checkout, or domain.ErrEmptyCharge when this
// method has less than the minimum charge to collect
func (b *Builder) Build(ctx context.Context, checkout *domain.Checkout, buyer domain.Buyer) (*domain.ChargeRequest, error) {
	cart := checkout.Cart
	total := cart.TotalFor(b.config.Method)
	if total.LessThan(domain.MinimumCharge) {
		b.logger.Debug("Nothing payable by this method",
			zap.String("method", b.config.Method),
			zap.String("total", total.String()),
		)
		return nil, domain.ErrEmptyCharge
	}

	req := &domain.ChargeRequest{
		AccountID:  b.config.AccountID,
		OrderLabel: orderLabel(checkout, buyer),
		Total:      total,
		Currency:   b.config.Currency,
		ReturnURL:  b.config.ReturnURL,
		Billing:    checkout.Cache.Billing,
		Email:      firstNonEmpty(buyer.Email, checkout.Cache.Email),
		Shipping:   checkout.Cache.Shipping,
		UserID:     buyer.ID,
		Demo:       b.config.Demo,
		LineItems:  lineItems(cart),
	}
	req.Token = Token(req)

	b.logger.Debug("Built charge request",
		zap.String("method", b.config.Method),
		zap.String("user_id", buyer.ID),
		zap.String("total", req.Total.StringFixed(2)),
		zap.Int("line_items", len(req.LineItems)),
	)
	return req, nil
}

// lineItems lists products, then tax and shipping when they are nonzero
func lineItems(cart domain.Cart) []domain.ChargeLineItem {
	items := make([]domain.ChargeLineItem, 0, len(cart.Items)+2)
	for _, item := range cart.Items {
		items = append(items, domain.ChargeLineItem{
			Type:      domain.LineItemProduct,
			ProductID: item.DealID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     item.UnitPrice,
			Tangible:  true,
		})
	}
	if !cart.TaxTotal.IsZero() {
		items = append(items, flatLine(domain.LineItemTax, "Tax", cart.TaxTotal, false))
	}
	if !cart.ShippingTotal.IsZero() {
		items = append(items, flatLine(domain.LineItemShipping, "Shipping", cart.ShippingTotal, true))
	}
	return items
}

func flatLine(kind domain.LineItemType, name string, amount decimal.Decimal, tangible bool) domain.ChargeLineItem {
	return domain.ChargeLineItem{Type: kind, Name: name, Quantity: 1, Price: amount, Tangible: tangible}
}

// Token derives the replay token from the request encoding and user id.
// Any token already set on req is ignored.
func Token(req *domain.ChargeRequest) string {
	unsigned := *req
	unsigned.Token = ""

	sum := sha256.Sum256([]byte(unsigned.Fields().Encode() + "|" + req.UserID))
	digest := hex.EncodeToString(sum[:])
	return digest[len(digest)-TokenLength:]
}

func orderLabel(checkout *domain.Checkout, buyer domain.Buyer) string {
	name := firstNonEmpty(checkout.Cache.Billing.FullName(), buyer.Email, buyer.ID)
	return name + "'s Cart"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
