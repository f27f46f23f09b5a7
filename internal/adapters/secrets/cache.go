// Package secrets resolves gateway credentials from the environment, local
// files, AWS Secrets Manager, HashiCorp Vault or GCP Secret Manager.
package secrets

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kevin07696/epay-processor/internal/domain/ports"
)

// ErrSecretNotFound is returned when a backend has no value under the name
var ErrSecretNotFound = errors.New("secret not found")

type cacheEntry struct {
	secret    *ports.Secret
	expiresAt time.Time
}

// CachedStore memoises another store's secrets for a TTL
type CachedStore struct {
	next   ports.SecretStore
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCachedStore wraps next. A non-positive ttl disables caching.
func NewCachedStore(next ports.SecretStore, ttl time.Duration, logger *zap.Logger) *CachedStore {
	return &CachedStore{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
		entries: make(map[string]cacheEntry),
	}
}

// GetSecret serves from cache or falls through to the wrapped store
func (c *CachedStore) GetSecret(ctx context.Context, name string) (*ports.Secret, error) {
	if c.ttl <= 0 {
		return c.next.GetSecret(ctx, name)
	}

	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		c.logger.Debug("Secret cache hit", zap.String("name", name))
		return entry.secret, nil
	}

	secret, err := c.next.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[name] = cacheEntry{secret: secret, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return secret, nil
}

// Invalidate drops a cached entry so the next read refetches it
func (c *CachedStore) Invalidate(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}
