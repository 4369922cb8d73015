package spec

import (
	"errors"
	"fmt"
	"os"

	"release-orchestrator/core/models"
)

// BuildJobs merges the pipeline definition with the trigger inputs into one
// PlatformJob per declared platform, in declaration order.
//
// Android is always built and publish_android gates its store upload.
// build_ios gates the whole iOS job and publish_ios its distribution.
// Other platforms take enabled/publish from the definition.
func BuildJobs(p *Pipeline, req models.RunRequest, sourceDir string) ([]models.PlatformJob, error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run request: %w", err)
	}

	jobs := make([]models.PlatformJob, 0, len(p.Platforms))
	var problems []error

	for _, pl := range p.Platforms {
		id := models.PlatformID(pl.ID)

		enabled := pl.Enabled == nil || *pl.Enabled
		publish := pl.Publish
		switch id {
		case models.PlatformAndroid:
			publish = req.PublishAndroid
		case models.PlatformIOS:
			enabled = req.BuildIOS
			publish = req.PublishIOS
		}
		if !enabled {
			publish = false
		}

		packageName := req.PackageName(id)
		if packageName == "" {
			packageName = pl.PackageName
		}

		keys := toSecretKeys(pl.Secrets)
		if publish {
			keys = append(keys, toSecretKeys(pl.PublishSecrets)...)
		}

		job := models.NewPlatformJob(id, enabled, publish, packageName, keys)
		job.ReleaseType = req.ReleaseType
		job.TargetBranch = req.TargetBranch
		job.StageTimeout = p.stageTimeout
		job.SourceDir = sourceDir

		vars := placeholders(job)
		for name, entry := range pl.Stages {
			stage := models.Stage(name)
			if stage == models.StagePublishing && !publish {
				continue
			}
			job.Stages[stage] = models.StageSpec{
				Run:            expandAll(entry.Run, vars),
				Env:            entry.Env,
				Timeout:        entry.timeout,
				NotImplemented: entry.NotImplemented,
			}
		}
		for _, a := range pl.Artifacts {
			archive := expand(a.ArchiveName, vars)
			if a.Directory && archive == "" {
				archive = packageName
			}
			job.Artifacts = append(job.Artifacts, models.ArtifactSpec{
				Kind:        models.ArtifactKind(a.Kind),
				Path:        expand(a.Path, vars),
				Directory:   a.Directory,
				ArchiveName: archive,
			})
		}

		if err := job.Validate(); err != nil {
			problems = append(problems, err)
			continue
		}
		jobs = append(jobs, job)
	}

	if err := errors.Join(problems...); err != nil {
		return nil, err
	}
	return jobs, nil
}

func toSecretKeys(names []string) []models.SecretKey {
	keys := make([]models.SecretKey, 0, len(names))
	for _, n := range names {
		keys = append(keys, models.SecretKey(n))
	}
	return keys
}

func placeholders(job models.PlatformJob) map[string]string {
	return map[string]string{
		"PACKAGE_NAME":  job.PackageName,
		"PLATFORM":      string(job.PlatformID),
		"RELEASE_TYPE":  string(job.ReleaseType),
		"TARGET_BRANCH": job.TargetBranch,
	}
}

// expand substitutes known placeholders and leaves any other variable untouched
func expand(s string, vars map[string]string) string {
	return os.Expand(s, func(name string) string {
		if v, ok := vars[name]; ok {
			return v
		}
		return "${" + name + "}"
	})
}

func expandAll(args []string, vars map[string]string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = expand(a, vars)
	}
	return out
}
