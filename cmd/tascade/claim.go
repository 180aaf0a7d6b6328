package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/ui"
)

var claimCmd = &cobra.Command{
	Use:   "claim [task]",
	Short: "Claim a task (or the best ready one with --next)",
	Long: `Claim a specific task, or with --next <project> atomically claim the best
ready task matching --capabilities. Prints the lease token and the execution
snapshot version; keep the token, every mutation under the lease needs it.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		caps, _ := cmd.Flags().GetStringSlice("capabilities")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		next, _ := cmd.Flags().GetString("next")

		var (
			res *types.ClaimResult
			err error
		)
		switch {
		case next != "":
			res, err = api().ClaimNext(cmd.Context(), next, types.NormalizeCapabilities(caps), ttl)
		case len(args) == 1:
			res, err = api().ClaimTask(cmd.Context(), args[0], types.NormalizeCapabilities(caps), ttl)
		default:
			fail(fmt.Errorf("pass a task ref or --next <project>"))
		}
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(res)
			return
		}
		fmt.Printf("%s Claimed %s %q\n", ui.RenderPass(ui.IconPass), ui.RenderID(res.Task.ShortID), res.Task.Title)
		fmt.Printf("  lease token: %s\n", ui.RenderBold(res.Lease.Token))
		fmt.Printf("  fencing: %d  expires: %s  snapshot: plan v%d\n",
			res.Lease.Fencing, res.Lease.ExpiresAt.Format(time.RFC3339), res.Snapshot.PlanVersion)
	},
}

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat <token>",
	Short: "Extend an active lease",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		res, err := api().Heartbeat(cmd.Context(), args[0], ttl)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(res)
			return
		}
		fmt.Printf("%s Lease extended to %s\n", ui.RenderPass(ui.IconPass), res.Lease.ExpiresAt.Format(time.RFC3339))
		if res.Advisory.PlanStale {
			fmt.Printf("%s Plan moved to v%d since this claim; task scope is protected, review before continuing\n",
				ui.RenderWarn(ui.IconWarn), res.Advisory.PlanVersion)
		}
		if res.Advisory.MaterialPending {
			fmt.Printf("%s A material change to this task is queued to apply when the lease ends\n",
				ui.RenderWarn(ui.IconWarn))
		}
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release <token>",
	Short: "Release a lease and return the task to the pool",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")
		task, err := api().ReleaseLease(cmd.Context(), args[0], reason)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(task)
			return
		}
		fmt.Printf("%s Released %s, now %s\n", ui.RenderPass(ui.IconPass), ui.RenderID(task.ShortID), ui.RenderState(string(task.State)))
	},
}

func init() {
	claimCmd.Flags().StringSlice("capabilities", nil, "Capability tags this agent offers")
	claimCmd.Flags().Duration("ttl", 0, "Lease TTL (default: server lease.default_ttl)")
	claimCmd.Flags().String("next", "", "Claim the best ready task in this project instead")
	heartbeatCmd.Flags().Duration("ttl", 0, "New TTL (default: server lease.default_ttl)")
	releaseCmd.Flags().String("reason", "", "Why the work is handed back")
	rootCmd.AddCommand(claimCmd, heartbeatCmd, releaseCmd)
}
