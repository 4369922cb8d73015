package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Client is the AWS provider client
type Client struct {
	s3Client      *s3.Client
	secretsClient *secretsmanager.Client
	region        string
}

// NewClient creates a new AWS client. An empty region falls back to the
// default credential chain's region.
func NewClient(ctx context.Context, region string) (*Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Client{
		s3Client:      s3.NewFromConfig(cfg),
		secretsClient: secretsmanager.NewFromConfig(cfg),
		region:        cfg.Region,
	}, nil
}

// Region returns the region the client talks to
func (c *Client) Region() string {
	return c.region
}

// ArtifactStore returns an S3 artifact store writing to bucket
func (c *Client) ArtifactStore(bucket string) *S3Store {
	return NewS3Store(c.s3Client, bucket)
}

// SecretStore returns a Secrets Manager store resolving keys under prefix
func (c *Client) SecretStore(prefix string) *SecretsManagerStore {
	return NewSecretsManagerStore(c.secretsClient, prefix)
}
