// Package bootstrap assembles the release services from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"release-orchestrator/api/rest/handlers"
	"release-orchestrator/config"
	"release-orchestrator/core/credentials"
	"release-orchestrator/core/executor"
	"release-orchestrator/core/orchestrator"
	"release-orchestrator/core/release"
	"release-orchestrator/core/repository"
	"release-orchestrator/core/runner"
	"release-orchestrator/core/scheduler"
	"release-orchestrator/core/spec"
	"release-orchestrator/core/vcs"
	"release-orchestrator/providers/aws"
	"release-orchestrator/providers/gcp"
	"release-orchestrator/storage"
)

// Service holds the wired release components
type Service struct {
	Config    *config.Config
	Logger    *slog.Logger
	Pipeline  *spec.Pipeline
	Repo      *vcs.Repository
	Runner    *runner.Runner
	Scheduler *scheduler.Scheduler
	Runs      runner.RunStore
	Events    runner.EventStore
	DB        *repository.DB

	artifacts *repository.ArtifactRepository
	aws       *aws.Client
	gcp       *gcp.Client
	closers   []func() error
}

// NewService initializes all dependencies described by cfg
func NewService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	s := &Service{Config: cfg, Logger: logger}
	if err := s.init(ctx); err != nil {
		if cerr := s.Close(); cerr != nil {
			logger.Warn("cleanup after failed init", "error", cerr)
		}
		return nil, err
	}
	return s, nil
}

// Validate checks the settings that select backends
func Validate(cfg *config.Config) error {
	var problems []error

	switch cfg.ArtifactStore {
	case "local":
	case "s3", "gcs":
		if cfg.ArtifactBucket == "" {
			problems = append(problems, fmt.Errorf("ARTIFACT_BUCKET is required for the %s artifact store", cfg.ArtifactStore))
		}
	default:
		problems = append(problems, fmt.Errorf("unknown artifact store %q", cfg.ArtifactStore))
	}

	switch cfg.SecretBackend {
	case "env", "aws", "gcp":
	default:
		problems = append(problems, fmt.Errorf("unknown secret backend %q", cfg.SecretBackend))
	}

	needsGCP := cfg.ArtifactStore == "gcs" || cfg.SecretBackend == "gcp" || cfg.ReleaseTopic != ""
	if needsGCP && cfg.GCPProject == "" {
		problems = append(problems, errors.New("GCP_PROJECT is required for the configured GCP backends"))
	}
	if cfg.MaxParallel < 0 {
		problems = append(problems, fmt.Errorf("MAX_PARALLEL must not be negative, got %d", cfg.MaxParallel))
	}

	return errors.Join(problems...)
}

func (s *Service) init(ctx context.Context) error {
	cfg := s.Config

	pipeline, err := spec.LoadPipeline(cfg.PipelineFile)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	pipeline.DefaultStageTimeout(cfg.StageTimeout)
	s.Pipeline = pipeline

	repo, err := vcs.Open(cfg.RepoPath, vcs.Signature{})
	if err != nil {
		return err
	}
	s.Repo = repo

	if err := s.initStores(); err != nil {
		return err
	}

	secrets, err := s.secretStore(ctx)
	if err != nil {
		return err
	}
	publisher, err := s.publisher(ctx)
	if err != nil {
		return err
	}

	toolchain := executor.NewCommandToolchain(executor.ExecRunner{}, s.Logger)
	jobExecutor := executor.NewJobExecutor(
		credentials.NewResolver(secrets, s.Logger),
		toolchain,
		executor.WithEventSink(s.Events),
		executor.WithWorkRoot(filepath.Join(cfg.WorkDir, "jobs")),
		executor.WithLogger(s.Logger),
	)
	orch := orchestrator.New(jobExecutor,
		orchestrator.WithMaxParallel(cfg.MaxParallel),
		orchestrator.WithLogger(s.Logger),
	)
	assembler := release.NewAssembler(repo,
		release.WithPublisher(publisher),
		release.WithStagingDir(filepath.Join(cfg.WorkDir, "staging")),
		release.WithAssemblerLogger(s.Logger),
	)

	s.Runner = runner.New(pipeline, orch, assembler, s.Runs,
		runner.WithSourceDir(cfg.RepoPath),
		runner.WithHistory(repo),
		runner.WithLogger(s.Logger),
	)
	s.Scheduler = scheduler.NewScheduler(s.Runner, s.Runs, scheduler.DefaultInterval, s.Logger)

	s.Logger.Info("release services initialized",
		"pipeline", pipeline.Name,
		"platforms", len(pipeline.Platforms),
		"artifact_store", cfg.ArtifactStore,
		"secret_backend", cfg.SecretBackend,
		"persistent", s.DB != nil,
	)
	return nil
}

func (s *Service) initStores() error {
	if s.Config.DatabaseURL == "" {
		mem := runner.NewMemoryStore()
		s.Runs, s.Events = mem, mem
		s.Logger.Warn("DATABASE_URL not set, runs are kept in memory")
		return nil
	}

	db, err := repository.NewDB(s.Config.DatabaseURL)
	if err != nil {
		return err
	}
	s.DB = db
	s.closers = append(s.closers, db.Close)

	s.Runs = repository.NewRunRepository(db)
	s.Events = repository.NewEventRepository(db)
	s.artifacts = repository.NewArtifactRepository(db)
	return nil
}

func (s *Service) awsClient(ctx context.Context) (*aws.Client, error) {
	if s.aws == nil {
		c, err := aws.NewClient(ctx, s.Config.AWSRegion)
		if err != nil {
			return nil, err
		}
		s.aws = c
	}
	return s.aws, nil
}

func (s *Service) gcpClient(ctx context.Context) (*gcp.Client, error) {
	if s.gcp == nil {
		c, err := gcp.NewClient(ctx, s.Config.GCPProject)
		if err != nil {
			return nil, err
		}
		s.gcp = c
		s.closers = append(s.closers, c.Close)
	}
	return s.gcp, nil
}

// secretStore returns the process environment store, backed by the
// configured secret manager when one is set
func (s *Service) secretStore(ctx context.Context) (credentials.SecretStore, error) {
	cfg := s.Config
	switch cfg.SecretBackend {
	case "aws":
		c, err := s.awsClient(ctx)
		if err != nil {
			return nil, err
		}
		return credentials.ChainStore{credentials.NewEnvStore(""), c.SecretStore(cfg.SecretPrefix)}, nil
	case "gcp":
		c, err := s.gcpClient(ctx)
		if err != nil {
			return nil, err
		}
		sm, err := c.SecretStore(ctx)
		if err != nil {
			return nil, err
		}
		return credentials.ChainStore{credentials.NewEnvStore(""), sm}, nil
	default:
		return credentials.NewEnvStore(cfg.SecretPrefix), nil
	}
}

func (s *Service) artifactStore(ctx context.Context) (storage.ArtifactStore, error) {
	cfg := s.Config
	switch cfg.ArtifactStore {
	case "s3":
		c, err := s.awsClient(ctx)
		if err != nil {
			return nil, err
		}
		return c.ArtifactStore(cfg.ArtifactBucket), nil
	case "gcs":
		c, err := s.gcpClient(ctx)
		if err != nil {
			return nil, err
		}
		return c.ArtifactStore(ctx, cfg.ArtifactBucket)
	default:
		return storage.NewLocalStore(cfg.ArtifactDir)
	}
}

// publisher uploads artifacts first, then tags, then notifies
func (s *Service) publisher(ctx context.Context) (release.Publisher, error) {
	store, err := s.artifactStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}

	var recorder storage.ArtifactRecorder
	if s.artifacts != nil {
		recorder = s.artifacts
	}
	publishers := release.MultiPublisher{storage.NewArtifactManager(store, recorder, s.Config.ArtifactPrefix)}

	if s.Config.CreateTags {
		publishers = append(publishers, release.NewTagPublisher(s.Repo))
	}
	if s.Config.ReleaseTopic != "" {
		c, err := s.gcpClient(ctx)
		if err != nil {
			return nil, err
		}
		notifier, err := c.Notifier(ctx, s.Config.ReleaseTopic, "", s.Logger)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, notifier)
	}
	return publishers, nil
}

// ReleaseHandler builds the HTTP handler over the service's stores
func (s *Service) ReleaseHandler() *handlers.ReleaseHandler {
	var artifacts handlers.ArtifactReader
	if s.artifacts != nil {
		artifacts = s.artifacts
	}
	return handlers.NewReleaseHandler(s.Scheduler, s.Runs, s.Events, artifacts, s.Logger)
}

// Close releases database and cloud clients
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
