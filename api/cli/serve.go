package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"release-orchestrator/api/rest/routes"
	"release-orchestrator/bootstrap"
	"release-orchestrator/config"
)

const shutdownTimeout = 30 * time.Second

func serveCmd(rf *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the run scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return Serve(ctx, rf.cfg, rf.logger(cmd))
		},
	}
	cmd.Flags().StringVar(&rf.cfg.ServerPort, "port", rf.cfg.ServerPort, "HTTP port")
	return cmd
}

// Serve runs the HTTP API and the scheduler until ctx is cancelled
func Serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	svc, err := bootstrap.NewService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	if svc.DB != nil {
		if err := svc.DB.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("database schema up to date")
	}

	go svc.Scheduler.Start(ctx)
	// runs in flight must be recorded before the deferred Close
	defer func() {
		svc.Scheduler.Stop()
		waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := svc.Scheduler.Wait(waitCtx); err != nil {
			logger.Warn("scheduler did not stop in time", "error", err)
			return
		}
		logger.Info("scheduler stopped")
	}()

	r := mux.NewRouter()
	routes.SetupRoutes(r, svc.ReleaseHandler())

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}
