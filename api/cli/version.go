package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"release-orchestrator/core/models"
	"release-orchestrator/core/release"
	"release-orchestrator/core/vcs"
)

func versionCmd(rf *rootFlags) *cobra.Command {
	var releaseType, branch string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version the next release of the repository would get",
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, err := models.ParseReleaseType(releaseType)
			if err != nil {
				return err
			}
			repo, err := vcs.Open(rf.cfg.RepoPath, vcs.Signature{})
			if err != nil {
				return err
			}

			v, err := release.VersionPolicy{Channel: channel, Ref: branch}.Derive(cmd.Context(), repo)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				b, _ := json.MarshalIndent(v, "", "  ")
				fmt.Fprintln(out, string(b))
				return nil
			}
			fmt.Fprintf(out, "%s (code %d, tag %s)\n", v.Name, v.Code, v.Tag)
			return nil
		},
	}
	cmd.Flags().StringVar(&releaseType, "release-type", string(models.ReleaseInternal), "release channel (internal or beta)")
	cmd.Flags().StringVar(&branch, "target-branch", models.DefaultTargetBranch, "branch to version")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
