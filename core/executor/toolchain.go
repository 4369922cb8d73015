package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"release-orchestrator/core/credentials"
	"release-orchestrator/core/errs"
	"release-orchestrator/core/models"
)

// Workspace is everything a toolchain may touch for one job
type Workspace struct {
	RunID   string
	Job     models.PlatformJob
	Dir     string // private to this job
	Secrets credentials.SecretBundle
}

// SourceDir returns where toolchain commands run and artifact globs resolve
func (w *Workspace) SourceDir() string {
	if w.Job.SourceDir != "" {
		return w.Job.SourceDir
	}
	return w.Dir
}

// Toolchain performs the side-effecting stages of a platform job.
// Each call receives a context carrying the stage timeout.
type Toolchain interface {
	Build(ctx context.Context, ws *Workspace) error
	Sign(ctx context.Context, ws *Workspace) error
	Package(ctx context.Context, ws *Workspace) ([]models.ArtifactRef, error)
	Publish(ctx context.Context, ws *Workspace, artifacts []models.ArtifactRef) error
}

// outputTailLines bounds how much command output ends up in an error
const outputTailLines = 20

// CommandToolchain runs the stage commands of the pipeline definition
type CommandToolchain struct {
	runner CommandRunner
	logger *slog.Logger
}

// NewCommandToolchain creates a toolchain backed by runner
func NewCommandToolchain(runner CommandRunner, logger *slog.Logger) *CommandToolchain {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandToolchain{runner: runner, logger: logger.With("component", "toolchain")}
}

func (t *CommandToolchain) Build(ctx context.Context, ws *Workspace) error {
	return t.runStage(ctx, ws, models.StageBuilding, nil)
}

func (t *CommandToolchain) Sign(ctx context.Context, ws *Workspace) error {
	return t.runStage(ctx, ws, models.StageSigning, nil)
}

func (t *CommandToolchain) Package(ctx context.Context, ws *Workspace) ([]models.ArtifactRef, error) {
	if err := t.runStage(ctx, ws, models.StagePackaging, nil); err != nil {
		return nil, err
	}
	return collectArtifacts(ws, t.logger)
}

func (t *CommandToolchain) Publish(ctx context.Context, ws *Workspace, artifacts []models.ArtifactRef) error {
	paths := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		paths = append(paths, a.Path)
	}
	extra := []string{"RELEASE_ARTIFACTS=" + strings.Join(paths, string(os.PathListSeparator))}
	return t.runStage(ctx, ws, models.StagePublishing, extra)
}

func (t *CommandToolchain) runStage(ctx context.Context, ws *Workspace, stage models.Stage, extra []string) error {
	spec, ok := ws.Job.Stages[stage]
	if !ok {
		return nil
	}

	if len(spec.Run) > 0 {
		cmd := Command{
			Args: spec.Run,
			Dir:  ws.SourceDir(),
			Env:  stageEnv(ws, spec, extra),
		}
		t.logger.InfoContext(ctx, "running stage command",
			"run_id", ws.RunID,
			"platform", ws.Job.PlatformID,
			"stage", stage,
			"command", spec.Run[0],
		)
		res, err := t.runner.Run(ctx, cmd)
		if err != nil {
			output := ""
			if res != nil && res.Output != "" {
				output = "\n" + ws.Secrets.Redact(tail(res.Output, outputTailLines))
			}
			return fmt.Errorf("%s: %w%s", spec.Run[0], err, output)
		}
	}

	if spec.NotImplemented {
		return fmt.Errorf("%s %s: %w", ws.Job.PlatformID, stage, errs.ErrNotImplemented)
	}
	return nil
}

// stageEnv builds the child environment: job metadata, stage env, extras and
// finally the secrets, so a stage cannot shadow a secret by accident.
func stageEnv(ws *Workspace, spec models.StageSpec, extra []string) []string {
	env := []string{
		"PLATFORM=" + string(ws.Job.PlatformID),
		"PACKAGE_NAME=" + ws.Job.PackageName,
		"RELEASE_TYPE=" + string(ws.Job.ReleaseType),
		"TARGET_BRANCH=" + ws.Job.TargetBranch,
		"RELEASE_WORK_DIR=" + ws.Dir,
	}

	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+spec.Env[k])
	}

	env = append(env, extra...)
	return append(env, ws.Secrets.Environ()...)
}

// collectArtifacts resolves the artifact globs of a job. Individual globs may
// match nothing (a desktop host only produces its own installer formats), but
// a job that declares artifacts must produce at least one.
func collectArtifacts(ws *Workspace, logger *slog.Logger) ([]models.ArtifactRef, error) {
	base := ws.SourceDir()
	var refs []models.ArtifactRef

	for _, spec := range ws.Job.Artifacts {
		pattern := spec.Path
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(base, pattern)
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("artifact pattern %q: %w", spec.Path, err)
		}
		sort.Strings(matches)

		found := 0
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return nil, fmt.Errorf("artifact %s: %w", m, err)
			}
			if info.IsDir() != spec.Directory {
				continue
			}
			ref := models.ArtifactRef{PlatformID: ws.Job.PlatformID, Kind: spec.Kind, Path: m}
			if spec.Directory {
				ref.ArchiveName = spec.ArchiveName
			}
			refs = append(refs, ref)
			found++
		}
		if found == 0 {
			logger.Debug("artifact pattern matched nothing", "platform", ws.Job.PlatformID, "pattern", spec.Path)
		}
	}

	if len(ws.Job.Artifacts) > 0 && len(refs) == 0 {
		return nil, fmt.Errorf("no artifacts found under %s", base)
	}
	return refs, nil
}
