package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"go.uber.org/zap"

	"github.com/kevin07696/epay-processor/internal/domain/ports"
)

// AWSConfig selects the Secrets Manager account and endpoint
type AWSConfig struct {
	Region string
	// Profile names a shared config profile for local development
	Profile string
	// Endpoint overrides the service URL (LocalStack)
	Endpoint string
}

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSStore reads secrets from AWS Secrets Manager
type AWSStore struct {
	client secretsManagerAPI
	logger *zap.Logger
}

// NewAWSStore loads the default credential chain for cfg.Region
func NewAWSStore(ctx context.Context, cfg AWSConfig, logger *zap.Logger) (*AWSStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*secretsmanager.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	logger.Info("AWS Secrets Manager store initialized", zap.String("region", cfg.Region))
	return newAWSStore(secretsmanager.NewFromConfig(awsCfg, clientOpts...), logger), nil
}

func newAWSStore(client secretsManagerAPI, logger *zap.Logger) *AWSStore {
	return &AWSStore{client: client, logger: logger}
}

func (s *AWSStore) GetSecret(ctx context.Context, name string) (*ports.Secret, error) {
	start := time.Now()
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		s.logger.Error("Failed to retrieve secret",
			zap.String("name", name),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to get secret %s: %w", name, err)
	}

	value := aws.ToString(out.SecretString)
	if value == "" {
		value = string(out.SecretBinary)
	}
	if value == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrSecretNotFound, name)
	}

	s.logger.Debug("Secret retrieved",
		zap.String("name", name),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &ports.Secret{Value: value, Version: aws.ToString(out.VersionId)}, nil
}
