package release

import (
	"context"
	"fmt"

	"release-orchestrator/core/models"
)

// MultiPublisher publishes to each publisher in order, stopping at the first error
type MultiPublisher []Publisher

// Publish implements Publisher
func (m MultiPublisher) Publish(ctx context.Context, manifest *models.ReleaseManifest) error {
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, manifest); err != nil {
			return err
		}
	}
	return nil
}

// Tagger creates release tags
type Tagger interface {
	CreateTag(ctx context.Context, name, ref, message string) error
}

// TagPublisher tags the released commit with the manifest's tag, using the
// changelog as tag message
type TagPublisher struct {
	tagger Tagger
}

// NewTagPublisher creates a publisher that tags through t
func NewTagPublisher(t Tagger) *TagPublisher {
	return &TagPublisher{tagger: t}
}

// Publish implements Publisher
func (p *TagPublisher) Publish(ctx context.Context, manifest *models.ReleaseManifest) error {
	message := manifest.Changelog
	if message == "" {
		message = fmt.Sprintf("Release %s", manifest.Version)
	}
	if err := p.tagger.CreateTag(ctx, manifest.Tag, manifest.CommitRef, message); err != nil {
		return fmt.Errorf("failed to tag %s: %w", manifest.CommitRef, err)
	}
	return nil
}
