package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"release-orchestrator/core/models"
)

// ErrSecretNotFound is returned by a SecretStore when a key does not exist
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore is a read-only source of secret values
type SecretStore interface {
	Lookup(ctx context.Context, key models.SecretKey) (string, error)
}

// EnvStore reads secrets from the process environment, the way CI runners
// expose repository secrets.
type EnvStore struct {
	prefix string
	lookup func(string) (string, bool)
}

// NewEnvStore creates a store reading PREFIX+KEY variables
func NewEnvStore(prefix string) *EnvStore {
	return &EnvStore{prefix: prefix, lookup: os.LookupEnv}
}

func (s *EnvStore) Lookup(ctx context.Context, key models.SecretKey) (string, error) {
	v, ok := s.lookup(s.prefix + string(key))
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
	}
	return v, nil
}

// MemoryStore keeps secrets in memory
type MemoryStore struct {
	mu     sync.RWMutex
	values map[models.SecretKey]string
}

// NewMemoryStore creates a store seeded with values
func NewMemoryStore(values map[models.SecretKey]string) *MemoryStore {
	s := &MemoryStore{values: make(map[models.SecretKey]string, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Set adds or replaces a secret
func (s *MemoryStore) Set(key models.SecretKey, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *MemoryStore) Lookup(ctx context.Context, key models.SecretKey) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
	}
	return v, nil
}

// ChainStore asks each store in order and returns the first hit.
// A failure other than ErrSecretNotFound stops the chain.
type ChainStore []SecretStore

func (c ChainStore) Lookup(ctx context.Context, key models.SecretKey) (string, error) {
	for _, store := range c {
		v, err := store.Lookup(ctx, key)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
}
