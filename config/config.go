package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
)

// Config holds the application configuration
type Config struct {
	// Database. Empty keeps runs in memory.
	DatabaseURL string

	// Server
	ServerPort string

	// Logging
	LogLevel  string
	LogFormat string // json or text

	// Workspace
	WorkDir      string
	RepoPath     string
	PipelineFile string
	MaxParallel  int
	StageTimeout time.Duration

	// Artifacts
	ArtifactStore  string // local, s3 or gcs
	ArtifactBucket string
	ArtifactDir    string
	ArtifactPrefix string

	// Secrets
	SecretBackend string // env, aws or gcp
	SecretPrefix  string

	// Release tags
	CreateTags bool

	// AWS
	AWSRegion string

	// GCP
	GCPProject   string
	ReleaseTopic string
}

// Load loads configuration from environment variables
func Load() *Config {
	workDir := getEnv("WORK_DIR", filepath.Join(xdg.CacheHome, "release-orchestrator"))

	return &Config{
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		WorkDir:        workDir,
		RepoPath:       getEnv("REPO_PATH", "."),
		PipelineFile:   getEnv("PIPELINE_FILE", ""),
		MaxParallel:    getEnvInt("MAX_PARALLEL", 0),
		StageTimeout:   getEnvDuration("STAGE_TIMEOUT", 0),
		ArtifactStore:  getEnv("ARTIFACT_STORE", "local"),
		ArtifactBucket: getEnv("ARTIFACT_BUCKET", ""),
		ArtifactDir:    getEnv("ARTIFACT_DIR", filepath.Join(workDir, "artifacts")),
		ArtifactPrefix: getEnv("ARTIFACT_PREFIX", "releases"),
		SecretBackend:  getEnv("SECRET_BACKEND", "env"),
		SecretPrefix:   getEnv("SECRET_PREFIX", ""),
		CreateTags:     getEnvBool("CREATE_TAGS", false),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		GCPProject:     getEnv("GCP_PROJECT", ""),
		ReleaseTopic:   getEnv("RELEASE_TOPIC", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
