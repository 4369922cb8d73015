package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"

	"release-orchestrator/core/models"
)

// ArtifactRecorder persists where uploaded artifacts ended up
type ArtifactRecorder interface {
	CreateArtifact(ctx context.Context, runID string, ref models.ArtifactRef, meta map[string]interface{}) error
}

// ArtifactManager uploads release artifacts and the manifest to an object store
type ArtifactManager struct {
	store    ArtifactStore
	recorder ArtifactRecorder
	prefix   string
}

// NewArtifactManager creates a new artifact manager. recorder may be nil.
func NewArtifactManager(store ArtifactStore, recorder ArtifactRecorder, prefix string) *ArtifactManager {
	return &ArtifactManager{
		store:    store,
		recorder: recorder,
		prefix:   prefix,
	}
}

// Publish uploads every artifact under <prefix>/<version>/<platform>/ and then
// manifest.json next to them. Artifact URIs are filled in before the manifest
// is written.
func (m *ArtifactManager) Publish(ctx context.Context, manifest *models.ReleaseManifest) error {
	for i := range manifest.Artifacts {
		ref := &manifest.Artifacts[i]
		key := m.key(manifest.Version, string(ref.PlatformID), filepath.Base(ref.Path))

		uri, err := UploadFile(ctx, m.store, key, ref.Path)
		if err != nil {
			return fmt.Errorf("failed to upload %s artifact: %w", ref.PlatformID, err)
		}
		ref.URI = uri

		if m.recorder != nil {
			meta := map[string]interface{}{
				"version": manifest.Version,
				"key":     key,
			}
			if err := m.recorder.CreateArtifact(ctx, manifest.RunID, *ref, meta); err != nil {
				return fmt.Errorf("failed to record artifact: %w", err)
			}
		}
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if _, err := m.store.Put(ctx, m.key(manifest.Version, "manifest.json"), bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("failed to upload manifest: %w", err)
	}
	return nil
}

func (m *ArtifactManager) key(parts ...string) string {
	if m.prefix != "" {
		parts = append([]string{m.prefix}, parts...)
	}
	return path.Join(parts...)
}
