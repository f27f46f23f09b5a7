package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kevin07696/epay-processor/internal/domain/ports"
)

// EnvStore reads secrets from environment variables. The name
// "epay/api-password" maps to EPAY_API_PASSWORD.
type EnvStore struct {
	lookup func(string) (string, bool)
}

func NewEnvStore() *EnvStore {
	return &EnvStore{lookup: os.LookupEnv}
}

func (s *EnvStore) GetSecret(_ context.Context, name string) (*ports.Secret, error) {
	key := envKey(name)
	value, ok := s.lookup(key)
	if !ok || value == "" {
		return nil, fmt.Errorf("%w: %s (env %s)", ErrSecretNotFound, name, key)
	}
	return &ports.Secret{Value: value, Version: "env"}, nil
}

func envKey(name string) string {
	return strings.ToUpper(strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(name))
}

// Resolve returns the named secret's value, or fallback when name is empty
func Resolve(ctx context.Context, store ports.SecretStore, name, fallback string) (string, error) {
	if name == "" {
		return fallback, nil
	}
	secret, err := store.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}
	return secret.Value, nil
}
