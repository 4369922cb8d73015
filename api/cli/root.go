// Package cli implements the releasectl command line.
package cli

import (
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"release-orchestrator/config"
	"release-orchestrator/core/models"
)

// ErrRunFailed is returned when a release run ends in the failed status
var ErrRunFailed = errors.New("release run failed")

type rootFlags struct {
	cfg      *config.Config
	logLevel string
}

// Execute runs releasectl with os.Args
func Execute() error {
	return NewRootCmd(config.Load(), os.Stdout, os.Stderr).Execute()
}

// NewRootCmd builds the command tree. Flags default to the values in cfg so
// the environment is overridden by the command line.
func NewRootCmd(cfg *config.Config, stdout, stderr io.Writer) *cobra.Command {
	rf := &rootFlags{cfg: cfg, logLevel: cfg.LogLevel}

	rootCmd := &cobra.Command{
		Use:           "releasectl",
		Short:         "Multi-platform release orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.DatabaseURL, "dsn", cfg.DatabaseURL, "PostgreSQL DSN (defaults to DATABASE_URL, empty keeps runs in memory)")
	pf.StringVar(&cfg.PipelineFile, "pipeline", cfg.PipelineFile, "pipeline definition file (defaults to the built-in pipeline)")
	pf.StringVar(&cfg.RepoPath, "repo", cfg.RepoPath, "path to the application repository")
	pf.StringVar(&cfg.WorkDir, "work-dir", cfg.WorkDir, "directory for job workspaces and staging")
	pf.StringVar(&rf.logLevel, "log-level", rf.logLevel, "log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd(rf))
	rootCmd.AddCommand(validateCmd(rf))
	rootCmd.AddCommand(versionCmd(rf))
	rootCmd.AddCommand(serveCmd(rf))
	rootCmd.AddCommand(dbCmd(rf))

	return rootCmd
}

// logger writes human readable logs to the command's error stream
func (rf *rootFlags) logger(cmd *cobra.Command) *slog.Logger {
	return config.NewLogger(cmd.ErrOrStderr(), rf.logLevel, "text")
}

// requestFlags holds the trigger inputs shared by run and validate
type requestFlags struct {
	releaseType string
	req         models.RunRequest
}

func (f *requestFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.releaseType, "release-type", string(models.ReleaseInternal), "release channel (internal or beta)")
	fl.StringVar(&f.req.TargetBranch, "target-branch", models.DefaultTargetBranch, "branch to release")
	fl.StringVar(&f.req.AndroidPackageName, "android-package", "", "Android module name")
	fl.StringVar(&f.req.IOSPackageName, "ios-package", "", "iOS module name")
	fl.StringVar(&f.req.DesktopPackageName, "desktop-package", "", "desktop module name")
	fl.StringVar(&f.req.WebPackageName, "web-package", "", "web module name")
	fl.BoolVar(&f.req.PublishAndroid, "publish-android", false, "publish the Android build to the store")
	fl.BoolVar(&f.req.BuildIOS, "build-ios", false, "build the iOS app")
	fl.BoolVar(&f.req.PublishIOS, "publish-ios", false, "distribute the iOS build (requires --build-ios)")
}

func (f *requestFlags) request() (models.RunRequest, error) {
	rt, err := models.ParseReleaseType(f.releaseType)
	if err != nil {
		return models.RunRequest{}, err
	}
	req := f.req
	req.ReleaseType = rt
	req.ApplyDefaults()
	return req, nil
}
