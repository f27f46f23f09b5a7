package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/kevin07696/epay-processor/internal/domain/ports"
)

// VaultConfig configures token or AppRole access to a KV v2 mount
type VaultConfig struct {
	Address string
	Token   string
	// RoleID and SecretID are used when Token is empty
	RoleID   string
	SecretID string
	// Mount is the KV v2 mount path, "secret" by default
	Mount string
}

// VaultStore reads secrets from a HashiCorp Vault KV v2 engine. Each secret
// is stored under the "value" key.
type VaultStore struct {
	client *vault.Client
	mount  string
	logger *zap.Logger
}

func NewVaultStore(ctx context.Context, cfg VaultConfig, logger *zap.Logger) (*VaultStore, error) {
	vcfg := vault.DefaultConfig()
	vcfg.Address = cfg.Address

	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	switch {
	case cfg.Token != "":
		client.SetToken(cfg.Token)
	case cfg.RoleID != "" && cfg.SecretID != "":
		resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return nil, fmt.Errorf("AppRole login failed: %w", err)
		}
		if resp == nil || resp.Auth == nil {
			return nil, fmt.Errorf("AppRole login returned no auth info")
		}
		client.SetToken(resp.Auth.ClientToken)
	default:
		return nil, fmt.Errorf("vault token or AppRole credentials are required")
	}

	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}

	logger.Info("Vault store initialized",
		zap.String("address", cfg.Address),
		zap.String("mount", mount),
	)
	return &VaultStore{client: client, mount: mount, logger: logger}, nil
}

func (s *VaultStore) GetSecret(ctx context.Context, name string) (*ports.Secret, error) {
	secret, err := s.client.Logical().ReadWithContext(ctx, fmt.Sprintf("%s/data/%s", s.mount, name))
	if err != nil {
		s.logger.Error("Failed to read secret from Vault",
			zap.String("name", name),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to read secret %s from Vault: %w", name, err)
	}
	if secret == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format from Vault for %s", name)
	}
	value, _ := data["value"].(string)
	if value == "" {
		return nil, fmt.Errorf("%w: %s has no value", ErrSecretNotFound, name)
	}

	var version string
	if meta, ok := secret.Data["metadata"].(map[string]interface{}); ok {
		if v, ok := meta["version"].(json.Number); ok {
			version = v.String()
		}
	}
	return &ports.Secret{Value: value, Version: version}, nil
}
