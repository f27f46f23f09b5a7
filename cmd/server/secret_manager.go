package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kevin07696/epay-processor/internal/adapters/secrets"
	"github.com/kevin07696/epay-processor/internal/config"
	"github.com/kevin07696/epay-processor/internal/domain/ports"
)

// initSecretStore builds the backend named by SECRETS_BACKEND behind a TTL
// cache. The returned closer releases backend connections.
func initSecretStore(ctx context.Context, cfg config.SecretsConfig, logger *zap.Logger) (ports.SecretStore, func() error, error) {
	noop := func() error { return nil }

	var (
		store ports.SecretStore
		close = noop
	)
	switch cfg.Backend {
	case config.SecretsEnv:
		store = secrets.NewEnvStore()
	case config.SecretsLocal:
		logger.Warn("Using local filesystem secrets - NOT for production use!",
			zap.String("path", cfg.LocalPath),
		)
		store = secrets.NewLocalStore(cfg.LocalPath, logger)
	case config.SecretsAWS:
		aws, err := secrets.NewAWSStore(ctx, secrets.AWSConfig{
			Region:   cfg.AWSRegion,
			Profile:  cfg.AWSProfile,
			Endpoint: cfg.AWSEndpoint,
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		store = aws
	case config.SecretsVault:
		vault, err := secrets.NewVaultStore(ctx, secrets.VaultConfig{
			Address:  cfg.VaultAddress,
			Token:    cfg.VaultToken,
			RoleID:   cfg.VaultRoleID,
			SecretID: cfg.VaultSecretID,
			Mount:    cfg.VaultMount,
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		store = vault
	case config.SecretsGCP:
		gcp, err := secrets.NewGCPStore(ctx, cfg.GCPProjectID, logger)
		if err != nil {
			return nil, noop, err
		}
		store, close = gcp, gcp.Close
	default:
		return nil, noop, fmt.Errorf("unsupported secrets backend %q", cfg.Backend)
	}

	logger.Info("Secret store initialized",
		zap.String("backend", cfg.Backend),
		zap.Duration("cache_ttl", cfg.CacheTTL),
	)
	return secrets.NewCachedStore(store, cfg.CacheTTL, logger), close, nil
}

// resolveSecrets overwrites credentials in cfg with the values of any
// configured secret names.
func resolveSecrets(ctx context.Context, store ports.SecretStore, cfg *config.Config) error {
	targets := []struct {
		name string
		dst  *string
	}{
		{cfg.Secrets.EPayAPIPasswordName, &cfg.EPay.APIPassword},
		{cfg.Secrets.TwoCheckoutSecretWordName, &cfg.TwoCheckout.SecretWord},
		{cfg.Secrets.TwoCheckoutAPIPasswordName, &cfg.TwoCheckout.APIPassword},
		{cfg.Secrets.CronSecretName, &cfg.CronSecret},
	}
	for _, t := range targets {
		value, err := secrets.Resolve(ctx, store, t.name, *t.dst)
		if err != nil {
			return fmt.Errorf("failed to resolve secret %s: %w", t.name, err)
		}
		*t.dst = value
	}
	return nil
}
