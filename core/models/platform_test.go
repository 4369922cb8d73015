package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"release-orchestrator/core/errs"
)

func TestPlatformJobValidate(t *testing.T) {
	tests := []struct {
		name    string
		job     PlatformJob
		wantErr bool
	}{
		{name: "enabled with publish", job: NewPlatformJob(PlatformAndroid, true, true, "app", nil)},
		{name: "disabled without publish", job: NewPlatformJob(PlatformIOS, false, false, "", nil)},
		{name: "publish requires enabled", job: NewPlatformJob(PlatformIOS, false, true, "app", nil), wantErr: true},
		{name: "missing id", job: NewPlatformJob("", true, false, "app", nil), wantErr: true},
		{name: "enabled needs package", job: NewPlatformJob(PlatformWeb, true, false, "", nil), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errs.ErrInvalidJob)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNormalizeSecrets(t *testing.T) {
	got := NormalizeSecrets([]SecretKey{"B", "A", "", "B", "C"})
	assert.Equal(t, []SecretKey{"A", "B", "C"}, got)
}

func TestTimeoutFor(t *testing.T) {
	job := NewPlatformJob(PlatformAndroid, true, false, "app", nil)
	assert.Equal(t, DefaultStageTimeout, job.TimeoutFor(StageBuilding))

	job.StageTimeout = time.Minute
	assert.Equal(t, time.Minute, job.TimeoutFor(StageBuilding))

	job.Stages[StageSigning] = StageSpec{Timeout: 5 * time.Second}
	assert.Equal(t, 5*time.Second, job.TimeoutFor(StageSigning))
	assert.Equal(t, time.Minute, job.TimeoutFor(StageBuilding))
}

func TestCloneIsDeep(t *testing.T) {
	job := NewPlatformJob(PlatformDesktop, true, true, "desktop", []SecretKey{"CERT"})
	job.Stages[StageBuilding] = StageSpec{Run: []string{"make"}, Env: map[string]string{"A": "1"}}
	job.Artifacts = []ArtifactSpec{{Kind: ArtifactDMG, Path: "*.dmg"}}

	clone := job.Clone()
	clone.RequiredSecrets[0] = "OTHER"
	clone.Stages[StageBuilding].Run[0] = "gradle"
	clone.Stages[StageBuilding].Env["A"] = "2"
	clone.Artifacts[0].Path = "changed"

	assert.Equal(t, SecretKey("CERT"), job.RequiredSecrets[0])
	assert.Equal(t, "make", job.Stages[StageBuilding].Run[0])
	assert.Equal(t, "1", job.Stages[StageBuilding].Env["A"])
	assert.Equal(t, "*.dmg", job.Artifacts[0].Path)
}

func TestRunRequest(t *testing.T) {
	req := RunRequest{}
	req.ApplyDefaults()
	assert.Equal(t, ReleaseInternal, req.ReleaseType)
	assert.Equal(t, DefaultTargetBranch, req.TargetBranch)
	require.NoError(t, req.Validate())

	req.PublishIOS = true
	assert.Error(t, req.Validate())

	req.BuildIOS = true
	assert.NoError(t, req.Validate())

	req.ReleaseType = "nightly"
	assert.Error(t, req.Validate())
}

func TestParseReleaseType(t *testing.T) {
	rt, err := ParseReleaseType(" Beta ")
	require.NoError(t, err)
	assert.Equal(t, ReleaseBeta, rt)

	_, err = ParseReleaseType("stable")
	assert.Error(t, err)
}

func TestJobStateTerminal(t *testing.T) {
	assert.True(t, JobStateNotImplemented.IsTerminal())
	assert.True(t, JobStateSkipped.IsTerminal())
	assert.False(t, StateOf(StagePackaging).IsTerminal())
	assert.Equal(t, JobStatePublishing, StateOf(StagePublishing))
}
