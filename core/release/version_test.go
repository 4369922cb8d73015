package release

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"release-orchestrator/core/models"
	"release-orchestrator/core/vcs"
)

type fakeHistory struct {
	head       string
	commits    int
	tags       []vcs.Tag
	log        []vcs.Commit
	resolveErr error
	logErr     error

	sinceRef   string
	sinceCalls int
}

func (h *fakeHistory) Resolve(ctx context.Context, ref string) (string, error) {
	if h.resolveErr != nil {
		return "", h.resolveErr
	}
	return h.head, nil
}

func (h *fakeHistory) CountCommits(ctx context.Context, ref string) (int, error) {
	return h.commits, nil
}

func (h *fakeHistory) Tags(ctx context.Context) ([]vcs.Tag, error) {
	return h.tags, nil
}

func (h *fakeHistory) CommitsSince(ctx context.Context, ref, since string) ([]vcs.Commit, error) {
	h.sinceCalls++
	h.sinceRef = since
	if h.logErr != nil {
		return nil, h.logErr
	}
	return h.log, nil
}

func tag(name, commit string, hoursAgo int) vcs.Tag {
	return vcs.Tag{Name: name, Commit: commit, When: time.Now().Add(-time.Duration(hoursAgo) * time.Hour)}
}

func TestVersionCode(t *testing.T) {
	assert.Equal(t, int64(22), VersionCode(10, 1, models.ReleaseInternal))
	assert.Equal(t, int64(23), VersionCode(10, 1, models.ReleaseBeta))

	// beta and internal cuts of the same history never collide
	for commits := 0; commits < 50; commits++ {
		internal := VersionCode(commits, 2, models.ReleaseInternal)
		beta := VersionCode(commits, 2, models.ReleaseBeta)
		assert.Equal(t, int64(0), internal&1)
		assert.Equal(t, int64(1), beta&1)
		assert.Greater(t, VersionCode(commits+1, 2, models.ReleaseInternal), beta)
	}
}

func TestVersionName(t *testing.T) {
	tests := []struct {
		name    string
		tags    []string
		channel models.ReleaseType
		code    int64
		want    string
	}{
		{"no tags", nil, models.ReleaseInternal, 4, "0.1.0-internal.4"},
		{"next patch", []string{"v1.0.0"}, models.ReleaseInternal, 22, "1.0.1-internal.22"},
		{"highest stable wins", []string{"v1.2.0", "v1.10.3", "v1.9.9"}, models.ReleaseBeta, 9533, "1.10.4-beta.9533"},
		{"prereleases ignored", []string{"v1.0.0", "v2.0.0-beta.3", "not-a-version"}, models.ReleaseBeta, 7, "1.0.1-beta.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := VersionName(tt.tags, tt.channel, tt.code)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersionPolicyDerive(t *testing.T) {
	h := &fakeHistory{
		head:    "abc123",
		commits: 10,
		tags: []vcs.Tag{
			tag("v1.0.0", "c1", 5),
			tag("v1.0.1-beta.5", "c2", 3),
		},
	}

	v, err := VersionPolicy{Channel: models.ReleaseInternal, Ref: "dev"}.Derive(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, int64(22), v.Code)
	assert.Equal(t, "1.0.1-internal.22", v.Name)
	assert.Equal(t, "v1.0.1-internal.22", v.Tag)
	assert.Equal(t, "abc123", v.CommitRef)

	v, err = VersionPolicy{Channel: models.ReleaseBeta, Ref: "dev"}.Derive(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, int64(23), v.Code)
	assert.Equal(t, "v1.0.1-beta.23", v.Tag)
}

func TestVersionPolicyDeriveResolveError(t *testing.T) {
	h := &fakeHistory{resolveErr: errors.New("unknown revision")}
	_, err := VersionPolicy{Channel: models.ReleaseInternal, Ref: "nope"}.Derive(context.Background(), h)
	assert.ErrorContains(t, err, "failed to resolve nope")
}
