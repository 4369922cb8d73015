package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ArtifactStore is an object store that release files are uploaded to
type ArtifactStore interface {
	// Put stores r under key and returns the object's URI
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
}

// UploadFile uploads the file at path, detecting its content type
func UploadFile(ctx context.Context, store ArtifactStore, key, path string) (string, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to detect content type of %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return store.Put(ctx, key, f, mtype.String())
}

// LocalStore keeps artifacts in a directory
type LocalStore struct {
	root string
}

// NewLocalStore creates a store rooted at dir
func NewLocalStore(dir string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &LocalStore{root: abs}, nil
}

// Put implements ArtifactStore
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	dst, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", key, err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store %s: %w", key, err)
	}
	return "file://" + filepath.ToSlash(dst), nil
}

func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}
