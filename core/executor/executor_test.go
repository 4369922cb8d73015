package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"release-orchestrator/core/credentials"
	"release-orchestrator/core/errs"
	"release-orchestrator/core/models"
)

// fakeToolchain records calls and lets tests inject per-stage behaviour
type fakeToolchain struct {
	mu        sync.Mutex
	calls     []models.Stage
	errs      map[models.Stage]error
	hooks     map[models.Stage]func(ctx context.Context)
	artifacts []models.ArtifactRef
	published []models.ArtifactRef
}

func newFakeToolchain() *fakeToolchain {
	return &fakeToolchain{
		errs:  map[models.Stage]error{},
		hooks: map[models.Stage]func(ctx context.Context){},
	}
}

func (f *fakeToolchain) do(ctx context.Context, stage models.Stage) error {
	f.mu.Lock()
	f.calls = append(f.calls, stage)
	hook := f.hooks[stage]
	err := f.errs[stage]
	f.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	return err
}

func (f *fakeToolchain) Build(ctx context.Context, ws *Workspace) error {
	return f.do(ctx, models.StageBuilding)
}

func (f *fakeToolchain) Sign(ctx context.Context, ws *Workspace) error {
	return f.do(ctx, models.StageSigning)
}

func (f *fakeToolchain) Package(ctx context.Context, ws *Workspace) ([]models.ArtifactRef, error) {
	if err := f.do(ctx, models.StagePackaging); err != nil {
		return nil, err
	}
	return f.artifacts, nil
}

func (f *fakeToolchain) Publish(ctx context.Context, ws *Workspace, artifacts []models.ArtifactRef) error {
	f.mu.Lock()
	f.published = artifacts
	f.mu.Unlock()
	return f.do(ctx, models.StagePublishing)
}

func (f *fakeToolchain) Calls() []models.Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Stage(nil), f.calls...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.JobEvent
}

func (s *recordingSink) RecordEvent(ctx context.Context, event models.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) States() []models.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.JobState, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.ToState)
	}
	return out
}

type countingResolver struct {
	inner CredentialResolver
	mu    sync.Mutex
	calls int
}

func (c *countingResolver) Resolve(ctx context.Context, job models.PlatformJob) (credentials.SecretBundle, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Resolve(ctx, job)
}

func newResolver(values map[models.SecretKey]string) *countingResolver {
	return &countingResolver{inner: credentials.NewResolver(credentials.NewMemoryStore(values), nil)}
}

func androidJob(publish bool) models.PlatformJob {
	return models.NewPlatformJob(models.PlatformAndroid, true, publish, "androidApp", []models.SecretKey{"KEYSTORE"})
}

func apk() []models.ArtifactRef {
	return []models.ArtifactRef{{PlatformID: models.PlatformAndroid, Kind: models.ArtifactAPK, Path: "apk/demo/release/app.apk"}}
}

func TestExecuteSkipsDisabledJob(t *testing.T) {
	tc := newFakeToolchain()
	resolver := newResolver(nil)
	sink := &recordingSink{}
	workRoot := t.TempDir()
	exec := NewJobExecutor(resolver, tc, WithEventSink(sink), WithWorkRoot(workRoot))

	job := models.NewPlatformJob(models.PlatformIOS, false, false, "", []models.SecretKey{"IOS_CERT"})
	result := exec.Execute(context.Background(), "run-1", job)

	assert.Equal(t, models.JobStatusSkipped, result.Status)
	assert.Empty(t, result.Artifacts)
	assert.Nil(t, result.Error)
	assert.Empty(t, tc.Calls())
	assert.Equal(t, 0, resolver.calls)
	assert.Equal(t, []models.JobState{models.JobStateSkipped}, sink.States())
	assert.NoDirExists(t, filepath.Join(workRoot, "run-1"))
}

func TestExecuteMissingCredentialHasNoSideEffects(t *testing.T) {
	tc := newFakeToolchain()
	sink := &recordingSink{}
	workRoot := t.TempDir()
	exec := NewJobExecutor(newResolver(nil), tc, WithEventSink(sink), WithWorkRoot(workRoot))

	result := exec.Execute(context.Background(), "run-1", androidJob(true))

	assert.Equal(t, models.JobStatusFailed, result.Status)
	var missing *errs.MissingCredentialError
	require.ErrorAs(t, result.Err, &missing)
	assert.Equal(t, []string{"KEYSTORE"}, missing.Keys)
	require.NotNil(t, result.Error)
	assert.Equal(t, models.StageResolving, result.Error.Stage)
	assert.Equal(t, string(errs.CodeMissingCredential), result.Error.Code)

	assert.Empty(t, tc.Calls())
	assert.NoDirExists(t, filepath.Join(workRoot, "run-1"))
	assert.Equal(t, []models.JobState{models.JobStateResolving, models.JobStateFailed}, sink.States())
}

func TestExecuteSucceedsWithoutPublishing(t *testing.T) {
	tc := newFakeToolchain()
	tc.artifacts = apk()
	sink := &recordingSink{}
	workRoot := t.TempDir()
	exec := NewJobExecutor(newResolver(map[models.SecretKey]string{"KEYSTORE": "ks"}), tc,
		WithEventSink(sink), WithWorkRoot(workRoot))

	result := exec.Execute(context.Background(), "run-1", androidJob(false))

	require.Equal(t, models.JobStatusSucceeded, result.Status)
	assert.Equal(t, apk(), result.Artifacts)
	assert.Equal(t, []models.Stage{models.StageBuilding, models.StageSigning, models.StagePackaging}, tc.Calls())
	assert.Equal(t, []models.JobState{
		models.JobStateResolving,
		models.JobStateBuilding,
		models.JobStateSigning,
		models.JobStatePackaging,
		models.JobStateSucceeded,
	}, sink.States())
	assert.DirExists(t, filepath.Join(workRoot, "run-1", "android"))
	assert.Len(t, result.Stages, 4)
	assert.False(t, result.FinishedAt.Before(result.StartedAt))
}

func TestExecutePublishesWhenEnabled(t *testing.T) {
	tc := newFakeToolchain()
	tc.artifacts = apk()
	exec := NewJobExecutor(newResolver(map[models.SecretKey]string{"KEYSTORE": "ks"}), tc, WithWorkRoot(t.TempDir()))

	result := exec.Execute(context.Background(), "run-1", androidJob(true))

	require.Equal(t, models.JobStatusSucceeded, result.Status)
	assert.Contains(t, tc.Calls(), models.StagePublishing)
	assert.Equal(t, apk(), tc.published)
}

func TestExecuteStageFailure(t *testing.T) {
	tc := newFakeToolchain()
	tc.errs[models.StageSigning] = errors.New("keystore rejected")
	exec := NewJobExecutor(newResolver(map[models.SecretKey]string{"KEYSTORE": "ks"}), tc, WithWorkRoot(t.TempDir()))

	result := exec.Execute(context.Background(), "run-1", androidJob(true))

	assert.Equal(t, models.JobStatusFailed, result.Status)
	assert.Empty(t, result.Artifacts)
	require.NotNil(t, result.Error)
	assert.Equal(t, models.StageSigning, result.Error.Stage)
	assert.Equal(t, string(errs.CodeStageFailed), result.Error.Code)
	assert.Contains(t, result.Error.Message, "keystore rejected")

	var sf *errs.StageFailure
	require.ErrorAs(t, result.Err, &sf)
	assert.Equal(t, "signing", sf.Stage)
	assert.Equal(t, []models.Stage{models.StageBuilding, models.StageSigning}, tc.Calls())
}

func TestExecuteStageTimeout(t *testing.T) {
	tc := newFakeToolchain()
	tc.hooks[models.StageBuilding] = func(ctx context.Context) {
		// ignores ctx on purpose
		time.Sleep(200 * time.Millisecond)
	}
	exec := NewJobExecutor(newResolver(map[models.SecretKey]string{"KEYSTORE": "ks"}), tc, WithWorkRoot(t.TempDir()))

	job := androidJob(false)
	job.StageTimeout = 20 * time.Millisecond

	start := time.Now()
	result := exec.Execute(context.Background(), "run-1", job)

	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, models.JobStatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, models.StageBuilding, result.Error.Stage)
	assert.Equal(t, string(errs.CodeTimeout), result.Error.Code)
}

func TestExecuteStageTimeoutWrapsToolchainError(t *testing.T) {
	tc := newFakeToolchain()
	tc.errs[models.StageBuilding] = errors.New("signal: killed")
	tc.hooks[models.StageBuilding] = func(ctx context.Context) { <-ctx.Done() }
	exec := NewJobExecutor(newResolver(map[models.SecretKey]string{"KEYSTORE": "ks"}), tc, WithWorkRoot(t.TempDir()))

	job := androidJob(false)
	job.Stages[models.StageBuilding] = models.StageSpec{Timeout: 10 * time.Millisecond}

	result := exec.Execute(context.Background(), "run-1", job)

	require.NotNil(t, result.Error)
	assert.Equal(t, string(errs.CodeTimeout), result.Error.Code)
	assert.ErrorIs(t, result.Err, context.DeadlineExceeded)
}

// blockingRunner returns only once its context is done, with the child
// environment as output the way a verbose build log would echo it
type blockingRunner struct{}

func (blockingRunner) Run(ctx context.Context, cmd Command) (*CommandResult, error) {
	<-ctx.Done()
	time.Sleep(time.Millisecond)
	return &CommandResult{Output: strings.Join(cmd.Env, "\n")}, ctx.Err()
}

// lateToolchain reports build errors only after the stage has been abandoned
type lateToolchain struct {
	Toolchain
	wg   *sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

func (l *lateToolchain) Build(ctx context.Context, ws *Workspace) error {
	defer l.wg.Done()
	err := l.Toolchain.Build(ctx, ws)
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
	return err
}

func TestExecuteTimedOutStagesOutliveJob(t *testing.T) {
	const jobs = 50
	var wg sync.WaitGroup
	tc := &lateToolchain{Toolchain: NewCommandToolchain(blockingRunner{}, nil), wg: &wg}
	exec := NewJobExecutor(newResolver(map[models.SecretKey]string{"KEYSTORE": "ks-secret-value"}), tc,
		WithWorkRoot(t.TempDir()))

	results := make([]models.JobResult, jobs)
	var running sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		running.Add(1)
		go func(i int) {
			defer running.Done()
			job := androidJob(false)
			job.Stages[models.StageBuilding] = models.StageSpec{
				Run:     []string{"./gradlew", "assembleRelease"},
				Timeout: time.Millisecond,
			}
			results[i] = exec.Execute(context.Background(), fmt.Sprintf("run-%d", i), job)
		}(i)
	}
	running.Wait()
	wg.Wait()

	for _, result := range results {
		assert.Equal(t, models.JobStatusFailed, result.Status)
		require.NotNil(t, result.Error)
		assert.Equal(t, models.StageBuilding, result.Error.Stage)
		assert.Equal(t, string(errs.CodeTimeout), result.Error.Code)
	}

	require.Len(t, tc.errs, jobs)
	for _, err := range tc.errs {
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "ks-secret-value")
		assert.Contains(t, err.Error(), "KEYSTORE=[REDACTED]")
	}
}

func TestExecuteCancellationBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tc := newFakeToolchain()
	tc.hooks[models.StageBuilding] = func(context.Context) { cancel() }
	sink := &recordingSink{}
	exec := NewJobExecutor(newResolver(map[models.SecretKey]string{"KEYSTORE": "ks"}), tc,
		WithEventSink(sink), WithWorkRoot(t.TempDir()))

	result := exec.Execute(ctx, "run-1", androidJob(false))

	assert.Equal(t, models.JobStatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, string(errs.CodeCancelled), result.Error.Code)
	assert.NotContains(t, tc.Calls(), models.StageSigning)

	states := sink.States()
	assert.Equal(t, models.JobStateFailed, states[len(states)-1])
}

func TestExecuteNotImplementedStage(t *testing.T) {
	tc := newFakeToolchain()
	tc.artifacts = []models.ArtifactRef{{PlatformID: models.PlatformIOS, Kind: models.ArtifactIPA, Path: "app.ipa"}}
	tc.errs[models.StagePublishing] = fmt.Errorf("app store: %w", errs.ErrNotImplemented)
	sink := &recordingSink{}
	exec := NewJobExecutor(newResolver(map[models.SecretKey]string{"IOS_CERT": "c"}), tc,
		WithEventSink(sink), WithWorkRoot(t.TempDir()))

	job := models.NewPlatformJob(models.PlatformIOS, true, true, "iosApp", []models.SecretKey{"IOS_CERT"})
	result := exec.Execute(context.Background(), "run-1", job)

	assert.Equal(t, models.JobStatusNotImplemented, result.Status)
	assert.Equal(t, tc.artifacts, result.Artifacts)
	require.NotNil(t, result.Error)
	assert.Equal(t, string(errs.CodeNotImplemented), result.Error.Code)
	assert.Equal(t, models.StagePublishing, result.Error.Stage)

	states := sink.States()
	assert.Equal(t, models.JobStateNotImplemented, states[len(states)-1])
}

func TestExecuteInvalidJob(t *testing.T) {
	tc := newFakeToolchain()
	exec := NewJobExecutor(newResolver(nil), tc, WithWorkRoot(t.TempDir()))

	job := models.NewPlatformJob(models.PlatformIOS, false, true, "iosApp", nil)
	result := exec.Execute(context.Background(), "run-1", job)

	assert.Equal(t, models.JobStatusFailed, result.Status)
	assert.ErrorIs(t, result.Err, errs.ErrInvalidJob)
	assert.Equal(t, string(errs.CodeInvalidJob), result.Error.Code)
	assert.Empty(t, tc.Calls())
}

func TestExecuteRecoversToolchainPanic(t *testing.T) {
	tc := newFakeToolchain()
	tc.hooks[models.StagePackaging] = func(context.Context) { panic("nil map") }
	exec := NewJobExecutor(newResolver(map[models.SecretKey]string{"KEYSTORE": "ks"}), tc, WithWorkRoot(t.TempDir()))

	result := exec.Execute(context.Background(), "run-1", androidJob(false))

	assert.Equal(t, models.JobStatusFailed, result.Status)
	assert.Equal(t, models.StagePackaging, result.Error.Stage)
	assert.Contains(t, result.Error.Message, "nil map")
}

func TestExecuteUsesPrivateWorkspace(t *testing.T) {
	workRoot := t.TempDir()
	var seen string
	tc := newFakeToolchain()
	exec := NewJobExecutor(newResolver(nil), &workspaceSpy{fakeToolchain: tc, dir: &seen}, WithWorkRoot(workRoot))

	job := models.NewPlatformJob(models.PlatformWeb, true, false, "webApp", nil)
	result := exec.Execute(context.Background(), "run-42", job)

	require.Equal(t, models.JobStatusSucceeded, result.Status)
	assert.Equal(t, filepath.Join(workRoot, "run-42", "web"), seen)
	info, err := os.Stat(seen)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

type workspaceSpy struct {
	*fakeToolchain
	dir *string
}

func (w *workspaceSpy) Build(ctx context.Context, ws *Workspace) error {
	*w.dir = ws.Dir
	return w.fakeToolchain.Build(ctx, ws)
}
