package gcp

import (
	"context"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
)

// ObjectWriter opens a writer for a new object
type ObjectWriter interface {
	NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser
}

type bucketWriter struct {
	client *gcs.Client
}

func (b *bucketWriter) NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
	w := b.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	return w
}

// GCSStore uploads release artifacts to a Cloud Storage bucket
type GCSStore struct {
	objects ObjectWriter
	bucket  string
}

// NewGCSStore creates a store for bucket
func NewGCSStore(objects ObjectWriter, bucket string) *GCSStore {
	return &GCSStore{objects: objects, bucket: bucket}
}

// Put implements storage.ArtifactStore
func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	w := s.objects.NewWriter(ctx, s.bucket, key, contentType)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to upload gs://%s/%s: %w", s.bucket, key, err)
	}
	// the object only exists once Close succeeds
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to upload gs://%s/%s: %w", s.bucket, key, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}
