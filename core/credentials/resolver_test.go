package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"release-orchestrator/core/errs"
	"release-orchestrator/core/models"
)

type failingStore struct{ err error }

func (s failingStore) Lookup(ctx context.Context, key models.SecretKey) (string, error) {
	return "", s.err
}

func TestResolveReturnsExactlyRequiredSecrets(t *testing.T) {
	store := NewMemoryStore(map[models.SecretKey]string{
		"KEYSTORE":   "ks-value",
		"PASSWORD":   "pw-value",
		"UNRELATED":  "other",
		"PLAY_TOKEN": "token",
	})
	job := models.NewPlatformJob(models.PlatformAndroid, true, false, "app", []models.SecretKey{"PASSWORD", "KEYSTORE"})

	bundle, err := NewResolver(store, nil).Resolve(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, []models.SecretKey{"KEYSTORE", "PASSWORD"}, bundle.Keys())
	v, ok := bundle.Get("KEYSTORE")
	assert.True(t, ok)
	assert.Equal(t, "ks-value", v)
	_, ok = bundle.Get("UNRELATED")
	assert.False(t, ok)
	assert.Equal(t, models.PlatformAndroid, bundle.Platform())
}

func TestResolveMissingSecrets(t *testing.T) {
	store := NewMemoryStore(map[models.SecretKey]string{
		"MACOS_CERT": "   ",
	})
	job := models.NewPlatformJob(models.PlatformDesktop, true, true, "desktop",
		[]models.SecretKey{"WINDOWS_CERT", "MACOS_CERT"})

	_, err := NewResolver(store, nil).Resolve(context.Background(), job)

	var missing *errs.MissingCredentialError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "desktop", missing.Platform)
	assert.Equal(t, []string{"MACOS_CERT", "WINDOWS_CERT"}, missing.Keys)
}

func TestResolveProviderFailure(t *testing.T) {
	boom := errors.New("throttled")
	job := models.NewPlatformJob(models.PlatformIOS, true, false, "ios", []models.SecretKey{"CERT"})

	_, err := NewResolver(failingStore{err: boom}, nil).Resolve(context.Background(), job)

	var providerErr *errs.SecretProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, errs.CodeSecretProvider, errs.CodeOf(err))
}

func TestResolveNoSecretsNeeded(t *testing.T) {
	job := models.NewPlatformJob(models.PlatformWeb, true, false, "web", nil)

	bundle, err := NewResolver(NewMemoryStore(nil), nil).Resolve(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 0, bundle.Len())
}

func TestResolverNeverLogsValues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store := NewMemoryStore(map[models.SecretKey]string{"KEYSTORE": "super-secret-value"})
	job := models.NewPlatformJob(models.PlatformAndroid, true, false, "app", []models.SecretKey{"KEYSTORE"})

	_, err := NewResolver(store, logger).Resolve(context.Background(), job)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "KEYSTORE")
	assert.NotContains(t, buf.String(), "super-secret-value")
}

func TestSecretBundleRedaction(t *testing.T) {
	bundle := NewSecretBundle(models.PlatformAndroid, map[models.SecretKey]string{"TOKEN": "hunter2"})

	for _, format := range []string{"%v", "%+v", "%#v", "%s"} {
		assert.NotContains(t, fmt.Sprintf(format, bundle), "hunter2", format)
	}
	assert.NotContains(t, bundle.String(), "hunter2")

	data, err := json.Marshal(bundle)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
	assert.Contains(t, string(data), "TOKEN")

	var buf bytes.Buffer
	slog.New(slog.NewTextHandler(&buf, nil)).Info("bundle", "secrets", bundle)
	assert.NotContains(t, buf.String(), "hunter2")
}

func TestSecretBundleRedact(t *testing.T) {
	bundle := NewSecretBundle(models.PlatformAndroid, map[models.SecretKey]string{"PASSWORD": "s3cr3t-pass", "SHORT": "ab"})

	out := bundle.Redact("signing with s3cr3t-pass failed for ab")
	assert.Equal(t, "signing with [REDACTED] failed for ab", out)
}

func TestSecretBundleEnvironAndClear(t *testing.T) {
	bundle := NewSecretBundle(models.PlatformAndroid, map[models.SecretKey]string{"B": "2", "A": "1"})
	assert.Equal(t, []string{"A=1", "B=2"}, bundle.Environ())

	bundle.Clear()
	assert.Equal(t, 0, bundle.Len())
	_, ok := bundle.Get("A")
	assert.False(t, ok)
}

func TestSecretBundleCloneIsIndependent(t *testing.T) {
	bundle := NewSecretBundle(models.PlatformIOS, map[models.SecretKey]string{"IOS_CERT": "cert-value"})
	clone := bundle.Clone()

	clone.Clear()
	v, ok := bundle.Get("IOS_CERT")
	require.True(t, ok)
	assert.Equal(t, "cert-value", v)
	assert.Equal(t, models.PlatformIOS, clone.Platform())
	assert.Equal(t, 0, clone.Len())
}

func TestChainStore(t *testing.T) {
	first := NewMemoryStore(map[models.SecretKey]string{"A": "from-first"})
	second := NewMemoryStore(map[models.SecretKey]string{"A": "from-second", "B": "b"})
	chain := ChainStore{first, second}

	v, err := chain.Lookup(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "from-first", v)

	v, err = chain.Lookup(context.Background(), "B")
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	_, err = chain.Lookup(context.Background(), "C")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	boom := errors.New("backend down")
	_, err = ChainStore{failingStore{err: boom}, second}.Lookup(context.Background(), "B")
	assert.ErrorIs(t, err, boom)
}

func TestEnvStore(t *testing.T) {
	t.Setenv("RELEASE_SECRET_KEYSTORE", "from-env")
	store := NewEnvStore("RELEASE_SECRET_")

	v, err := store.Lookup(context.Background(), "KEYSTORE")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	_, err = store.Lookup(context.Background(), "NOT_SET_ANYWHERE")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}
