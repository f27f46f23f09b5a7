package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kevin07696/epay-processor/internal/domain/ports"
)

// LocalStore reads secrets from files under a base directory.
// For development only.
type LocalStore struct {
	basePath string
	logger   *zap.Logger
}

func NewLocalStore(basePath string, logger *zap.Logger) *LocalStore {
	return &LocalStore{basePath: basePath, logger: logger}
}

// GetSecret reads <base>/<name>. The file holds either the plain value or
// a JSON object {"value": ..., "version": ...}.
func (s *LocalStore) GetSecret(_ context.Context, name string) (*ports.Secret, error) {
	clean := filepath.Clean("/" + name)
	path := filepath.Join(s.basePath, clean)

	s.logger.Debug("Reading secret from filesystem", zap.String("name", name))

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return nil, fmt.Errorf("failed to read secret %s: %w", name, err)
	}

	var doc struct {
		Value   string `json:"value"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &doc); err == nil && doc.Value != "" {
		if doc.Version == "" {
			doc.Version = "v1"
		}
		return &ports.Secret{Value: doc.Value, Version: doc.Version}, nil
	}

	value := strings.TrimRight(string(data), "\r\n")
	if value == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrSecretNotFound, name)
	}
	return &ports.Secret{Value: value, Version: "v1"}, nil
}
