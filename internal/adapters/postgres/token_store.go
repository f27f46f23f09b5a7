package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/internal/domain/ports"
)

// TokenStore implements ports.TokenStore on the checkout_tokens table
type TokenStore struct {
	db ports.DBTX
}

var _ ports.TokenStore = (*TokenStore)(nil)

// NewTokenStore creates a token store
func NewTokenStore(db ports.DBTX) *TokenStore {
	return &TokenStore{db: db}
}

// Issue implements ports.TokenStore, replacing any live token for the session
func (s *TokenStore) Issue(ctx context.Context, key domain.SessionKey, token string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO checkout_tokens (session_key, token, issued_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_key) DO UPDATE
		SET token = EXCLUDED.token, issued_at = EXCLUDED.issued_at`,
		key.String(), token,
	)
	if err != nil {
		return domain.WrapError(domain.ErrorCodePersistence, "issue checkout token", err)
	}
	return nil
}

// Get implements ports.TokenStore
func (s *TokenStore) Get(ctx context.Context, key domain.SessionKey) (string, error) {
	var token string
	err := s.db.QueryRow(ctx, `SELECT token FROM checkout_tokens WHERE session_key = $1`, key.String()).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", domain.WrapError(domain.ErrorCodePersistence, "get checkout token", err)
	}
	return token, nil
}

// Clear implements ports.TokenStore
func (s *TokenStore) Clear(ctx context.Context, key domain.SessionKey) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM checkout_tokens WHERE session_key = $1`, key.String()); err != nil {
		return domain.WrapError(domain.ErrorCodePersistence, "clear checkout token", err)
	}
	return nil
}
