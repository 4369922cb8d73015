package gcp

import (
	"context"
	"fmt"
	"hash/crc32"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"release-orchestrator/core/credentials"
	"release-orchestrator/core/models"
)

// SecretAccessor is the part of the Secret Manager client the store uses
type SecretAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// SecretManagerStore resolves signing credentials from Google Secret Manager,
// always reading the latest version
type SecretManagerStore struct {
	api       SecretAccessor
	projectID string
}

// NewSecretManagerStore creates a store for projectID
func NewSecretManagerStore(api SecretAccessor, projectID string) *SecretManagerStore {
	return &SecretManagerStore{api: api, projectID: projectID}
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Lookup implements credentials.SecretStore
func (s *SecretManagerStore) Lookup(ctx context.Context, key models.SecretKey) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, key)
	result, err := s.api.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%s: %w", key, credentials.ErrSecretNotFound)
		}
		return "", fmt.Errorf("failed to access secret %s: %w", key, err)
	}

	payload := result.GetPayload()
	if payload == nil {
		return "", fmt.Errorf("%s: %w", key, credentials.ErrSecretNotFound)
	}
	checksum := int64(crc32.Checksum(payload.Data, castagnoli))
	if payload.DataCrc32C != nil && *payload.DataCrc32C != checksum {
		return "", fmt.Errorf("secret %s: data corruption detected", key)
	}
	return string(payload.Data), nil
}
