package memory

import (
	"context"
	"sync"

	"github.com/kevin07696/epay-processor/internal/domain"
	"github.com/kevin07696/epay-processor/internal/domain/ports"
)

// TokenStore keeps checkout tokens in a map keyed by session
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]string
}

var _ ports.TokenStore = (*TokenStore)(nil)

// NewTokenStore creates an empty token store
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]string)}
}

// Issue implements ports.TokenStore
func (s *TokenStore) Issue(ctx context.Context, key domain.SessionKey, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key.String()] = token
	return nil
}

// Get implements ports.TokenStore
func (s *TokenStore) Get(ctx context.Context, key domain.SessionKey) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[key.String()], nil
}

// Clear implements ports.TokenStore
func (s *TokenStore) Clear(ctx context.Context, key domain.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, key.String())
	return nil
}
