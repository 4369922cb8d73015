package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"release-orchestrator/core/spec"
)

func validateCmd(rf *rootFlags) *cobra.Command {
	var flags requestFlags
	var withRequest bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate the pipeline definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := spec.LoadPipeline(rf.cfg.PipelineFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ok: pipeline %s (%d platforms)\n", pipeline.Name, len(pipeline.Platforms))

			if !withRequest {
				return nil
			}
			req, err := flags.request()
			if err != nil {
				return err
			}
			jobs, err := spec.BuildJobs(pipeline, req, rf.cfg.RepoPath)
			if err != nil {
				return err
			}
			for _, job := range jobs {
				fmt.Fprintf(out, "  %-8s enabled=%t publish=%t package=%s secrets=%d\n",
					job.PlatformID, job.Enabled, job.PublishEnabled, job.PackageName, len(job.RequiredSecrets))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withRequest, "jobs", false, "also merge the trigger flags and print the resulting jobs")
	flags.register(cmd)
	return cmd
}
