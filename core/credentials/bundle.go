package credentials

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"release-orchestrator/core/models"
)

const redacted = "[REDACTED]"

// SecretBundle holds the resolved secrets of one platform job.
// Every formatting path redacts the values.
type SecretBundle struct {
	platform models.PlatformID
	values   map[models.SecretKey]string
}

// NewSecretBundle copies values into a bundle scoped to platform
func NewSecretBundle(platform models.PlatformID, values map[models.SecretKey]string) SecretBundle {
	b := SecretBundle{platform: platform, values: make(map[models.SecretKey]string, len(values))}
	for k, v := range values {
		b.values[k] = v
	}
	return b
}

// Platform returns the job the bundle belongs to
func (b SecretBundle) Platform() models.PlatformID { return b.platform }

// Get returns a secret value
func (b SecretBundle) Get(key models.SecretKey) (string, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Len returns the number of secrets
func (b SecretBundle) Len() int { return len(b.values) }

// Keys returns the secret names, sorted
func (b SecretBundle) Keys() []models.SecretKey {
	keys := make([]models.SecretKey, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Environ renders the secrets as KEY=value pairs for a child process
func (b SecretBundle) Environ() []string {
	env := make([]string, 0, len(b.values))
	for _, k := range b.Keys() {
		env = append(env, string(k)+"="+b.values[k])
	}
	return env
}

// Redact masks every secret value that appears in s
func (b SecretBundle) Redact(s string) string {
	for _, v := range b.values {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, redacted)
	}
	return s
}

// Clone returns a copy that can be cleared independently of b
func (b SecretBundle) Clone() SecretBundle {
	return NewSecretBundle(b.platform, b.values)
}

// Clear drops every value. The bundle must not be used afterwards.
func (b *SecretBundle) Clear() {
	for k := range b.values {
		delete(b.values, k)
	}
}

func (b SecretBundle) String() string {
	return fmt.Sprintf("SecretBundle{platform: %s, keys: %v, values: %s}", b.platform, b.Keys(), redacted)
}

// GoString covers %#v
func (b SecretBundle) GoString() string { return b.String() }

// Format covers %v, %+v and %s, which would otherwise print the unexported map
func (b SecretBundle) Format(f fmt.State, verb rune) {
	_, _ = f.Write([]byte(b.String()))
}

// LogValue implements slog.LogValuer
func (b SecretBundle) LogValue() slog.Value {
	keys := make([]string, 0, len(b.values))
	for _, k := range b.Keys() {
		keys = append(keys, string(k))
	}
	return slog.GroupValue(
		slog.String("platform", string(b.platform)),
		slog.Any("keys", keys),
		slog.Int("count", len(keys)),
	)
}

// MarshalJSON emits only the key names
func (b SecretBundle) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(b.values))
	for k := range b.values {
		out[string(k)] = redacted
	}
	return json.Marshal(struct {
		Platform models.PlatformID `json:"platform"`
		Secrets  map[string]string `json:"secrets"`
	}{Platform: b.platform, Secrets: out})
}
