package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"release-orchestrator/core/repository"
)

func dbCmd(rf *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database utilities",
	}
	cmd.AddCommand(dbInitCmd(rf))
	return cmd
}

func dbInitCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Apply the run schema to PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rf.cfg.DatabaseURL == "" {
				return fmt.Errorf("missing --dsn (or set DATABASE_URL)")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			db, err := repository.NewDB(rf.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(ctx); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok: schema applied")
			return nil
		},
	}
}
