package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/client"
	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/ui"
)

var artifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Record and inspect work artifacts",
}

var artifactAddCmd = &cobra.Command{
	Use:   "add <task> <ref>",
	Short: "Record an artifact by reference",
	Long: `Record an artifact locator (branch name, patch path, file set, command
log) with its verification outcome. Content never passes through the
coordinator, only the reference.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		kind, _ := cmd.Flags().GetString("kind")
		checks, _ := cmd.Flags().GetString("checks")
		summary, _ := cmd.Flags().GetString("summary")
		token, _ := cmd.Flags().GetString("lease-token")
		art, err := api().SubmitArtifact(cmd.Context(), args[0], client.ArtifactParams{
			Kind:       types.ArtifactKind(kind),
			Ref:        args[1],
			Checks:     types.CheckOutcome(checks),
			Summary:    summary,
			LeaseToken: token,
		})
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(art)
			return
		}
		fmt.Printf("%s Recorded %s artifact %s (checks %s)\n",
			ui.RenderPass(ui.IconPass), art.Kind, ui.RenderBold(art.Ref), renderChecks(art.Checks))
	},
}

var artifactListCmd = &cobra.Command{
	Use:   "list <task>",
	Short: "List a task's artifacts, newest first",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		arts, err := api().ListArtifacts(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			if arts == nil {
				arts = []*types.Artifact{}
			}
			outputJSON(arts)
			return
		}
		if len(arts) == 0 {
			fmt.Println(ui.RenderMuted("No artifacts."))
			return
		}
		for _, a := range arts {
			fmt.Printf("%s %-12s %s  checks %s  by %s  %s\n",
				ui.RenderID(shortRef(a.ID)), a.Kind, a.Ref, renderChecks(a.Checks),
				a.ProducedBy, a.CreatedAt.Format("2006-01-02 15:04"))
		}
	},
}

func renderChecks(c types.CheckOutcome) string {
	switch c {
	case types.ChecksPassed:
		return ui.RenderPass(string(c))
	case types.ChecksFailed:
		return ui.RenderFail(string(c))
	default:
		return ui.RenderMuted(string(c))
	}
}

// shortRef truncates a full UUID to something scannable in list output.
func shortRef(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	artifactAddCmd.Flags().StringP("kind", "k", string(types.ArtifactBranch),
		"Artifact kind (patch, branch, file_set, command_log)")
	artifactAddCmd.Flags().String("checks", string(types.ChecksPassed),
		"Verification outcome (passed, failed, skipped)")
	artifactAddCmd.Flags().StringP("summary", "s", "", "Short description of the artifact")
	artifactAddCmd.Flags().String("lease-token", "", "Lease token, binds the artifact to the snapshot")
	artifactCmd.AddCommand(artifactAddCmd, artifactListCmd)
	rootCmd.AddCommand(artifactCmd)
}
