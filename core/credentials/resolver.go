// Package credentials resolves the secrets a platform job needs.
package credentials

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"release-orchestrator/core/errs"
	"release-orchestrator/core/models"
)

// Resolver turns a job's RequiredSecrets into a SecretBundle. It keeps no
// state between calls; the store is the only source of values.
type Resolver struct {
	store  SecretStore
	logger *slog.Logger
}

// NewResolver creates a resolver over store
func NewResolver(store SecretStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger.With("component", "credentials")}
}

// Resolve returns exactly the secrets listed in job.RequiredSecrets.
// Absent or empty secrets produce a MissingCredentialError naming every
// missing key.
func (r *Resolver) Resolve(ctx context.Context, job models.PlatformJob) (SecretBundle, error) {
	keys := models.NormalizeSecrets(job.RequiredSecrets)
	values := make(map[models.SecretKey]string, len(keys))
	var missing []string

	for _, key := range keys {
		v, err := r.store.Lookup(ctx, key)
		switch {
		case errors.Is(err, ErrSecretNotFound):
			missing = append(missing, string(key))
			continue
		case err != nil:
			return SecretBundle{}, &errs.SecretProviderError{Platform: string(job.PlatformID), Key: string(key), Err: err}
		case strings.TrimSpace(v) == "":
			missing = append(missing, string(key))
			continue
		}
		values[key] = v
	}

	if len(missing) > 0 {
		r.logger.WarnContext(ctx, "required secrets missing",
			"platform", job.PlatformID,
			"missing", missing,
		)
		return SecretBundle{}, &errs.MissingCredentialError{Platform: string(job.PlatformID), Keys: missing}
	}

	bundle := NewSecretBundle(job.PlatformID, values)
	r.logger.DebugContext(ctx, "secrets resolved", "bundle", bundle)
	return bundle, nil
}
