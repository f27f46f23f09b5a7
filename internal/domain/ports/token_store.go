package ports

import (
	"context"

	"github.com/kevin07696/epay-processor/internal/domain"
)

// TokenStore keeps at most one live checkout token per session.
// Tokens do not expire; they are cleared explicitly.
type TokenStore interface {
	Issue(ctx context.Context, key domain.SessionKey, token string) error

	// Get returns the live token or "" when none is set
	Get(ctx context.Context, key domain.SessionKey) (string, error)

	Clear(ctx context.Context, key domain.SessionKey) error
}
