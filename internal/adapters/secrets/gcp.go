package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kevin07696/epay-processor/internal/domain/ports"
)

type accessFunc func(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)

// GCPStore reads the latest version of secrets from GCP Secret Manager.
// Credentials come from the application default chain.
type GCPStore struct {
	projectID string
	access    accessFunc
	close     func() error
	logger    *zap.Logger
}

func NewGCPStore(ctx context.Context, projectID string, logger *zap.Logger) (*GCPStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("GCP project ID is required")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCP Secret Manager client: %w", err)
	}

	logger.Info("GCP Secret Manager store initialized", zap.String("project_id", projectID))
	return &GCPStore{
		projectID: projectID,
		access: func(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			return client.AccessSecretVersion(ctx, req)
		},
		close:  client.Close,
		logger: logger,
	}, nil
}

// Close releases the underlying gRPC connection
func (s *GCPStore) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// GetSecret resolves name to projects/<project>/secrets/<id>/versions/latest.
// Secret IDs cannot hold slashes, so "epay/api-password" becomes
// "epay-api-password".
func (s *GCPStore) GetSecret(ctx context.Context, name string) (*ports.Secret, error) {
	id := strings.NewReplacer("/", "-", ".", "-").Replace(name)
	resp, err := s.access(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, id),
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		s.logger.Error("Failed to access GCP secret",
			zap.String("name", name),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to access secret %s: %w", name, err)
	}

	value := string(resp.GetPayload().GetData())
	if value == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrSecretNotFound, name)
	}
	version := resp.GetName()
	if i := strings.LastIndex(version, "/"); i >= 0 {
		version = version[i+1:]
	}
	return &ports.Secret{Value: value, Version: version}, nil
}
