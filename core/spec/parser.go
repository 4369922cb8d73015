package spec

import (
	"errors"
	"fmt"
	"os"
	"time"

	"release-orchestrator/core/models"

	"gopkg.in/yaml.v3"
)

// PipelineSpec represents the YAML pipeline definition
type PipelineSpec struct {
	Pipeline Pipeline `yaml:"pipeline"`
}

// Pipeline represents the pipeline section of the definition
type Pipeline struct {
	Name         string         `yaml:"name"`
	StageTimeout string         `yaml:"stage_timeout"` // e.g. "30m"
	Platforms    []PlatformSpec `yaml:"platforms"`

	stageTimeout time.Duration
}

// PlatformSpec describes one platform of the pipeline
type PlatformSpec struct {
	ID             string                `yaml:"id"`
	Enabled        *bool                 `yaml:"enabled,omitempty"` // default true
	Publish        bool                  `yaml:"publish"`
	PackageName    string                `yaml:"package_name"` // used when the trigger leaves it empty
	Secrets        []string              `yaml:"secrets"`
	PublishSecrets []string              `yaml:"publish_secrets"` // only required when publishing
	Stages         map[string]StageEntry `yaml:"stages"`
	Artifacts      []ArtifactEntry       `yaml:"artifacts"`
}

// StageEntry represents a stage command
type StageEntry struct {
	Run            []string          `yaml:"run"`
	Env            map[string]string `yaml:"env"`
	Timeout        string            `yaml:"timeout"`
	NotImplemented bool              `yaml:"not_implemented"`

	timeout time.Duration
}

// ArtifactEntry represents an artifact glob
type ArtifactEntry struct {
	Kind        string `yaml:"kind"`
	Path        string `yaml:"path"`
	Directory   bool   `yaml:"directory"`
	ArchiveName string `yaml:"archive_name"`
}

// ParsePipeline parses a YAML pipeline definition
func ParsePipeline(data []byte) (*Pipeline, error) {
	var spec PipelineSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	p := &spec.Pipeline
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadPipeline reads a pipeline definition from disk. An empty path
// yields the built-in default pipeline.
func LoadPipeline(path string) (*Pipeline, error) {
	if path == "" {
		return DefaultPipeline()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	return ParsePipeline(data)
}

func (p *Pipeline) validate() error {
	var problems []error

	if len(p.Platforms) == 0 {
		problems = append(problems, errors.New("pipeline defines no platforms"))
	}

	if p.StageTimeout != "" {
		d, err := parseTimeout(p.StageTimeout)
		if err != nil {
			problems = append(problems, fmt.Errorf("stage_timeout: %w", err))
		}
		p.stageTimeout = d
	}

	seen := make(map[string]bool)
	for i := range p.Platforms {
		pl := &p.Platforms[i]
		if pl.ID == "" {
			problems = append(problems, fmt.Errorf("platform %d: id is required", i))
			continue
		}
		if seen[pl.ID] {
			problems = append(problems, fmt.Errorf("platform %s: defined more than once", pl.ID))
		}
		seen[pl.ID] = true

		for name, stage := range pl.Stages {
			if !isToolchainStage(models.Stage(name)) {
				problems = append(problems, fmt.Errorf("platform %s: unknown stage %q", pl.ID, name))
				continue
			}
			if stage.Timeout != "" {
				d, err := parseTimeout(stage.Timeout)
				if err != nil {
					problems = append(problems, fmt.Errorf("platform %s: stage %s timeout: %w", pl.ID, name, err))
				}
				stage.timeout = d
				pl.Stages[name] = stage
			}
		}

		for j, a := range pl.Artifacts {
			if a.Kind == "" || a.Path == "" {
				problems = append(problems, fmt.Errorf("platform %s: artifact %d needs kind and path", pl.ID, j))
			}
		}
	}

	return errors.Join(problems...)
}

// Platform looks a platform up by id
func (p *Pipeline) Platform(id models.PlatformID) (*PlatformSpec, bool) {
	for i := range p.Platforms {
		if models.PlatformID(p.Platforms[i].ID) == id {
			return &p.Platforms[i], true
		}
	}
	return nil, false
}

// DefaultStageTimeout applies d to every stage when the definition sets no
// stage_timeout of its own
func (p *Pipeline) DefaultStageTimeout(d time.Duration) {
	if p.stageTimeout == 0 && d > 0 {
		p.stageTimeout = d
	}
}

func isToolchainStage(stage models.Stage) bool {
	for _, s := range models.ExecutionStages {
		if s == stage {
			return true
		}
	}
	return false
}

func parseTimeout(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s)
	}
	return d, nil
}
