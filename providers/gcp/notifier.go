package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"release-orchestrator/core/models"
)

// ReleasePublishedType is the CloudEvent type announcing a release
const ReleasePublishedType = "com.release-orchestrator.release.published"

// Topic publishes a message and waits for the server to acknowledge it
type Topic interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error)
}

// PubSubTopic adapts a Pub/Sub topic to Topic
type PubSubTopic struct {
	topic *pubsub.Topic
}

// Publish implements Topic
func (t *PubSubTopic) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	res := t.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attributes})
	return res.Get(ctx)
}

// ReleaseNotifier announces published manifests as CloudEvents
type ReleaseNotifier struct {
	topic  Topic
	source string
	logger *slog.Logger
}

// NewReleaseNotifier creates a notifier. source becomes the CloudEvent source.
func NewReleaseNotifier(topic Topic, source string, logger *slog.Logger) *ReleaseNotifier {
	if source == "" {
		source = "release-orchestrator"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReleaseNotifier{topic: topic, source: source, logger: logger.With("component", "release-notifier")}
}

// NewReleaseEvent wraps a manifest in a CloudEvent
func NewReleaseEvent(source string, manifest *models.ReleaseManifest) (cloudevents.Event, error) {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(source)
	e.SetType(ReleasePublishedType)
	e.SetSubject(manifest.Version)
	e.SetTime(manifest.CreatedAt)
	if err := e.SetData(cloudevents.ApplicationJSON, manifest); err != nil {
		return e, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return e, nil
}

// Publish implements release.Publisher
func (n *ReleaseNotifier) Publish(ctx context.Context, manifest *models.ReleaseManifest) error {
	e, err := NewReleaseEvent(n.source, manifest)
	if err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal CloudEvent: %w", err)
	}

	msgID, err := n.topic.Publish(ctx, data, map[string]string{
		"ce-type": e.Type(),
		"channel": string(manifest.Channel),
		"run_id":  manifest.RunID,
		"version": manifest.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to publish release event: %w", err)
	}
	n.logger.InfoContext(ctx, "release event published",
		"event_id", e.ID(),
		"message_id", msgID,
		"version", manifest.Version,
		"size_bytes", len(data),
	)
	return nil
}
