package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/internal/domain/ports"
	"github.com/kevin07696/epay-processor/pkg/timeutil"
)

const paymentColumns = `id::text, method, purchase_id, amount, currency, status,
	data, deal_line_items, shipping_address, version, created_at, updated_at`

// PaymentLedger implements ports.PaymentLedger on the payments table.
// Gateway data, deal line items and the shipping address are stored as JSONB.
type PaymentLedger struct {
	db    ports.DBTX
	clock timeutil.Clock
}

var _ ports.PaymentLedger = (*PaymentLedger)(nil)

// NewPaymentLedger creates a ledger over a pool or transaction
func NewPaymentLedger(db ports.DBTX, clock timeutil.Clock) *PaymentLedger {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &PaymentLedger{db: db, clock: clock}
}

// Create implements ports.PaymentLedger
func (l *PaymentLedger) Create(ctx context.Context, payment *domain.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	id, err := uuid.Parse(payment.ID)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeValidationFailed, "invalid payment id", err)
	}

	cols, err := encodePayment(payment)
	if err != nil {
		return domain.WrapError(domain.ErrorCodePersistence, "encode payment", err)
	}

	now := l.clock.Now()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO payments (id, method, purchase_id, amount, currency, status,
			data, deal_line_items, shipping_address, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)`,
		id, payment.Method, payment.PurchaseID, cols.amount, payment.Currency, string(payment.Status),
		cols.data, cols.dealLineItems, cols.shippingAddress, payment.CreatedAt, now,
	)
	if err != nil {
		return persistenceError("create payment", err)
	}

	payment.Version = 1
	payment.UpdatedAt = now
	return nil
}

// Get implements ports.PaymentLedger
func (l *PaymentLedger) Get(ctx context.Context, id string) (*domain.Payment, error) {
	paymentID, err := uuid.Parse(id)
	if err != nil {
		return nil, domain.ErrPaymentNotFound.WithDetail("payment_id", id)
	}

	row := l.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID)
	payment, err := scanPayment(row)
	if err != nil {
		return nil, persistenceError("get payment", err)
	}
	return payment, nil
}

// ListForPurchase implements ports.PaymentLedger
func (l *PaymentLedger) ListForPurchase(ctx context.Context, purchaseID string) ([]*domain.Payment, error) {
	return l.query(ctx, "list purchase payments",
		`SELECT `+paymentColumns+` FROM payments
		WHERE purchase_id = $1
		ORDER BY created_at, id`, purchaseID)
}

// ListPending implements ports.PaymentLedger
func (l *PaymentLedger) ListPending(ctx context.Context, method string, since time.Time) ([]*domain.Payment, error) {
	return l.query(ctx, "list pending payments",
		`SELECT `+paymentColumns+` FROM payments
		WHERE method = $1 AND status = $2 AND created_at >= $3
		ORDER BY created_at, id`, method, string(domain.PaymentStatusAuthorized), since)
}

// Update implements ports.PaymentLedger
func (l *PaymentLedger) Update(ctx context.Context, payment *domain.Payment) error {
	id, err := uuid.Parse(payment.ID)
	if err != nil {
		return domain.ErrPaymentNotFound.WithDetail("payment_id", payment.ID)
	}

	cols, err := encodePayment(payment)
	if err != nil {
		return domain.WrapError(domain.ErrorCodePersistence, "encode payment", err)
	}

	now := l.clock.Now()
	tag, err := l.db.Exec(ctx, `
		UPDATE payments
		SET amount = $3, status = $4, data = $5, deal_line_items = $6,
			shipping_address = $7, version = version + 1, updated_at = $8
		WHERE id = $1 AND version = $2`,
		id, payment.Version, cols.amount, string(payment.Status),
		cols.data, cols.dealLineItems, cols.shippingAddress, now,
	)
	if err != nil {
		return persistenceError("update payment", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := l.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, id).Scan(&exists); err != nil {
			return persistenceError("check payment", err)
		}
		if !exists {
			return domain.ErrPaymentNotFound.WithDetail("payment_id", payment.ID)
		}
		return domain.ErrVersionConflict.
			WithDetail("payment_id", payment.ID).
			WithDetail("expected_version", payment.Version)
	}

	payment.Version++
	payment.UpdatedAt = now
	return nil
}

func (l *PaymentLedger) query(ctx context.Context, op, sql string, args ...interface{}) ([]*domain.Payment, error) {
	rows, err := l.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, persistenceError(op, err)
	}
	defer rows.Close()

	payments := make([]*domain.Payment, 0)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, persistenceError(op, err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError(op, err)
	}
	return payments, nil
}

type paymentColumnsEncoded struct {
	amount          pgtype.Numeric
	data            []byte
	dealLineItems   []byte
	shippingAddress []byte
}

func encodePayment(p *domain.Payment) (paymentColumnsEncoded, error) {
	var cols paymentColumnsEncoded
	var err error

	if cols.amount, err = decimalToNumeric(p.Amount); err != nil {
		return cols, err
	}
	if cols.data, err = json.Marshal(p.Data); err != nil {
		return cols, fmt.Errorf("marshal data: %w", err)
	}
	items := p.DealLineItems
	if items == nil {
		items = map[string][]domain.LineItem{}
	}
	if cols.dealLineItems, err = json.Marshal(items); err != nil {
		return cols, fmt.Errorf("marshal deal line items: %w", err)
	}
	if cols.shippingAddress, err = toJSONB(p.ShippingAddress); err != nil {
		return cols, fmt.Errorf("marshal shipping address: %w", err)
	}
	return cols, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p                        domain.Payment
		status                   string
		amount                   pgtype.Numeric
		data, items, shippingRaw []byte
	)

	err := row.Scan(&p.ID, &p.Method, &p.PurchaseID, &amount, &p.Currency, &status,
		&data, &items, &shippingRaw, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Status = domain.PaymentStatus(status)
	if p.Amount, err = pgNumericToDecimal(amount); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &p.Data); err != nil {
		return nil, fmt.Errorf("unmarshal data: %w", err)
	}
	if err := json.Unmarshal(items, &p.DealLineItems); err != nil {
		return nil, fmt.Errorf("unmarshal deal line items: %w", err)
	}
	if len(shippingRaw) > 0 {
		p.ShippingAddress = &domain.Address{}
		if err := json.Unmarshal(shippingRaw, p.ShippingAddress); err != nil {
			return nil, fmt.Errorf("unmarshal shipping address: %w", err)
		}
	}
	return &p, nil
}
