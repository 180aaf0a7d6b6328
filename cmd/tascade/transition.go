package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/client"
	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/ui"
)

var transitionCmd = &cobra.Command{
	Use:   "transition <task> <state>",
	Short: "Move a task through its lifecycle",
	Long: `Move a task to a new lifecycle state. In-flight tasks require the lease
token. --force performs an admin override and is recorded as such; it still
cannot bypass the review or gate requirements of integrated.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		rationale, _ := cmd.Flags().GetString("rationale")
		token, _ := cmd.Flags().GetString("lease-token")
		force, _ := cmd.Flags().GetBool("force")
		task, err := api().Transition(cmd.Context(), args[0], client.TransitionParams{
			To:         types.TaskState(args[1]),
			Rationale:  rationale,
			LeaseToken: token,
			Force:      force,
		})
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(task)
			return
		}
		fmt.Printf("%s %s is now %s\n", ui.RenderPass(ui.IconPass), ui.RenderID(task.ShortID), ui.RenderState(string(task.State)))
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review <task> <verdict>",
	Short: "Record a review verdict (approved, changes_requested)",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		reviewer, _ := cmd.Flags().GetString("by")
		if reviewer == "" {
			reviewer = api().Actor
		}
		notes, _ := cmd.Flags().GetString("notes")
		evidence, _ := cmd.Flags().GetStringSlice("evidence")
		rev, err := api().RecordReview(cmd.Context(), args[0], client.ReviewParams{
			ReviewedBy: reviewer,
			Verdict:    args[1],
			Notes:      notes,
			Evidence:   evidence,
		})
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(rev)
			return
		}
		fmt.Printf("%s Review recorded: %s by %s on %s\n",
			ui.RenderPass(ui.IconPass), ui.RenderVerdict(rev.Verdict), ui.RenderBold(rev.ReviewedBy), ui.RenderID(args[0]))
	},
}

func init() {
	transitionCmd.Flags().StringP("rationale", "r", "", "Why the state changes")
	transitionCmd.Flags().String("lease-token", "", "Lease token for in-flight tasks")
	transitionCmd.Flags().Bool("force", false, "Admin override (recorded in the event log)")
	reviewCmd.Flags().String("by", "", "Reviewer identity (default: actor)")
	reviewCmd.Flags().String("notes", "", "Review notes")
	reviewCmd.Flags().StringSlice("evidence", nil, "Evidence reference (repeatable)")
	rootCmd.AddCommand(transitionCmd, reviewCmd)
}
