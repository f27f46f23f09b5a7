package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/internal/domain/ports"
)

// CheckoutSource implements ports.CheckoutSource over snapshots the host
// platform writes into checkout_snapshots and purchases
type CheckoutSource struct {
	db *DBExecutor
}

var _ ports.CheckoutSource = (*CheckoutSource)(nil)

// NewCheckoutSource creates a checkout source
func NewCheckoutSource(db *DBExecutor) *CheckoutSource {
	return &CheckoutSource{db: db}
}

// SaveCheckout stores the session's current checkout
func (s *CheckoutSource) SaveCheckout(ctx context.Context, key domain.SessionKey, checkout *domain.Checkout) error {
	raw, err := json.Marshal(checkout)
	if err != nil {
		return domain.WrapError(domain.ErrorCodePersistence, "encode checkout", err)
	}

	_, err = s.db.GetDB().Exec(ctx, `
		INSERT INTO checkout_snapshots (session_key, checkout, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_key) DO UPDATE
		SET checkout = EXCLUDED.checkout, updated_at = EXCLUDED.updated_at`,
		key.String(), raw,
	)
	if err != nil {
		return domain.WrapError(domain.ErrorCodePersistence, "save checkout", err)
	}
	return nil
}

// SavePurchase stores the purchase and marks it pending for the session
func (s *CheckoutSource) SavePurchase(ctx context.Context, key domain.SessionKey, purchase *domain.Purchase) error {
	items, err := json.Marshal(purchase.Items)
	if err != nil {
		return domain.WrapError(domain.ErrorCodePersistence, "encode purchase", err)
	}

	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO purchases (id, user_id, items)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET items = EXCLUDED.items`,
			purchase.ID, purchase.UserID, items,
		)
		if err != nil {
			return domain.WrapError(domain.ErrorCodePersistence, "save purchase", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE checkout_snapshots SET pending_purchase_id = $2, updated_at = NOW()
			WHERE session_key = $1`,
			key.String(), purchase.ID,
		)
		if err != nil {
			return domain.WrapError(domain.ErrorCodePersistence, "link pending purchase", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrValidationFailed.WithDetail("reason", "no checkout for session")
		}
		return nil
	})
}

// Checkout implements ports.CheckoutSource
func (s *CheckoutSource) Checkout(ctx context.Context, key domain.SessionKey) (*domain.Checkout, error) {
	var raw []byte
	err := s.db.GetDB().QueryRow(ctx,
		`SELECT checkout FROM checkout_snapshots WHERE session_key = $1`, key.String()).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrValidationFailed.WithDetail("reason", "no checkout for session")
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodePersistence, "get checkout", err)
	}

	var checkout domain.Checkout
	if err := json.Unmarshal(raw, &checkout); err != nil {
		return nil, domain.WrapError(domain.ErrorCodePersistence, "decode checkout", err)
	}
	return &checkout, nil
}

// PendingPurchase implements ports.CheckoutSource
func (s *CheckoutSource) PendingPurchase(ctx context.Context, key domain.SessionKey) (*domain.Purchase, error) {
	var purchase *domain.Purchase
	err := s.db.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var pendingID pgtype.Text
		err := tx.QueryRow(ctx,
			`SELECT pending_purchase_id FROM checkout_snapshots WHERE session_key = $1`, key.String()).Scan(&pendingID)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && !pendingID.Valid) {
			return domain.ErrValidationFailed.WithDetail("reason", "no pending purchase for session")
		}
		if err != nil {
			return domain.WrapError(domain.ErrorCodePersistence, "get pending purchase", err)
		}

		purchase, err = loadPurchase(ctx, tx, pendingID.String)
		return err
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

// Purchase implements ports.CheckoutSource
func (s *CheckoutSource) Purchase(ctx context.Context, purchaseID string) (*domain.Purchase, error) {
	return loadPurchase(ctx, s.db.GetDB(), purchaseID)
}

func loadPurchase(ctx context.Context, db ports.DBTX, purchaseID string) (*domain.Purchase, error) {
	var (
		purchase domain.Purchase
		items    []byte
	)
	err := db.QueryRow(ctx, `SELECT id, user_id, items FROM purchases WHERE id = $1`, purchaseID).
		Scan(&purchase.ID, &purchase.UserID, &items)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrValidationFailed.WithDetail("purchase_id", purchaseID)
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodePersistence, "get purchase", err)
	}
	if err := json.Unmarshal(items, &purchase.Items); err != nil {
		return nil, domain.WrapError(domain.ErrorCodePersistence, "decode purchase", err)
	}
	return &purchase, nil
}
