package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"release-orchestrator/bootstrap"
	"release-orchestrator/core/models"
)

func runCmd(rf *rootFlags) *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the release pipeline once and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, err := bootstrap.NewService(ctx, rf.cfg, rf.logger(cmd))
			if err != nil {
				return err
			}
			defer svc.Close()

			run, err := svc.Runner.Trigger(ctx, req)
			if err != nil {
				return err
			}
			run, err = svc.Runner.Execute(ctx, run)
			if err != nil {
				return err
			}

			renderSummary(cmd.OutOrStdout(), run)
			if run.Status != models.RunStatusReleased {
				return fmt.Errorf("%w: %s", ErrRunFailed, run.ID)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
