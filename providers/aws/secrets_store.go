package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"

	"release-orchestrator/core/credentials"
	"release-orchestrator/core/models"
)

const resourceNotFound = "ResourceNotFoundException"

// SecretsManagerAPI is the part of the Secrets Manager client the store uses
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerStore resolves signing credentials from AWS Secrets Manager.
// Each key is stored as its own secret named <prefix><KEY>.
type SecretsManagerStore struct {
	api    SecretsManagerAPI
	prefix string
}

// NewSecretsManagerStore creates a store
func NewSecretsManagerStore(api SecretsManagerAPI, prefix string) *SecretsManagerStore {
	return &SecretsManagerStore{api: api, prefix: prefix}
}

// Lookup implements credentials.SecretStore
func (s *SecretsManagerStore) Lookup(ctx context.Context, key models.SecretKey) (string, error) {
	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.prefix + string(key)),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == resourceNotFound {
			return "", fmt.Errorf("%s: %w", key, credentials.ErrSecretNotFound)
		}
		return "", fmt.Errorf("failed to read secret %s: %w", key, err)
	}

	switch {
	case out.SecretString != nil:
		return *out.SecretString, nil
	case out.SecretBinary != nil:
		return string(out.SecretBinary), nil
	}
	return "", fmt.Errorf("%s: %w", key, credentials.ErrSecretNotFound)
}
