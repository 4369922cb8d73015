package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"
	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	gcs "cloud.google.com/go/storage"
)

// Client is the GCP provider client. Sub-clients are created lazily so a
// deployment that only uses GCS does not need Pub/Sub credentials.
type Client struct {
	projectID string
	storage   *gcs.Client
	pubsub    *pubsub.Client
	secrets   *secretmanager.Client
}

// NewClient creates a new GCP client
func NewClient(ctx context.Context, projectID string) (*Client, error) {
	if projectID == "" {
		return nil, errors.New("gcp project id is required")
	}
	return &Client{projectID: projectID}, nil
}

// ProjectID returns the project the client works in
func (c *Client) ProjectID() string {
	return c.projectID
}

// ArtifactStore returns a GCS artifact store writing to bucket
func (c *Client) ArtifactStore(ctx context.Context, bucket string) (*GCSStore, error) {
	if c.storage == nil {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		c.storage = client
	}
	return NewGCSStore(&bucketWriter{client: c.storage}, bucket), nil
}

// SecretStore returns a Secret Manager store for the client's project
func (c *Client) SecretStore(ctx context.Context) (*SecretManagerStore, error) {
	if c.secrets == nil {
		client, err := secretmanager.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create secretmanager client: %w", err)
		}
		c.secrets = client
	}
	return NewSecretManagerStore(c.secrets, c.projectID), nil
}

// Notifier returns a publisher announcing releases on topicID
func (c *Client) Notifier(ctx context.Context, topicID, source string, logger *slog.Logger) (*ReleaseNotifier, error) {
	if c.pubsub == nil {
		client, err := pubsub.NewClient(ctx, c.projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create pubsub client: %w", err)
		}
		c.pubsub = client
	}
	return NewReleaseNotifier(&PubSubTopic{topic: c.pubsub.Topic(topicID)}, source, logger), nil
}

// Close releases every sub-client that was opened
func (c *Client) Close() error {
	var errs []error
	if c.storage != nil {
		errs = append(errs, c.storage.Close())
	}
	if c.pubsub != nil {
		errs = append(errs, c.pubsub.Close())
	}
	if c.secrets != nil {
		errs = append(errs, c.secrets.Close())
	}
	return errors.Join(errs...)
}
