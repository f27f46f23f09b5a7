package ports

import "context"

// Secret is a credential value with the backend's version label
type Secret struct {
	Value   string
	Version string
}

// SecretStore resolves gateway credentials by name at startup.
type SecretStore interface {
	GetSecret(ctx context.Context, name string) (*Secret, error)
}
