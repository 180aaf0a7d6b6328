package main

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/ui"
)

var assignCmd = &cobra.Command{
	Use:   "assign <task> <assignee>",
	Short: "Reserve a task for a specific agent",
	Long: `Reserve a task for an agent without claiming it. The reservation expires
on its own; --until accepts natural language like "friday 5pm" or
"in 2 hours".`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if until, _ := cmd.Flags().GetString("until"); until != "" {
			d, err := parseUntil(until)
			if err != nil {
				fail(err)
			}
			ttl = d
		}
		res, err := api().AssignTask(cmd.Context(), args[0], args[1], ttl)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(res)
			return
		}
		fmt.Printf("%s Reserved %s for %s until %s\n",
			ui.RenderPass(ui.IconPass), ui.RenderID(args[0]), ui.RenderBold(res.Assignee),
			res.ExpiresAt.Format(time.RFC3339))
	},
}

// parseUntil turns a natural-language deadline into a TTL from now.
func parseUntil(s string) (time.Duration, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to parse %q: %w", s, err)
	}
	if r == nil {
		return 0, fmt.Errorf("could not understand %q as a time", s)
	}
	d := time.Until(r.Time)
	if d <= 0 {
		return 0, fmt.Errorf("%q is in the past", s)
	}
	return d, nil
}

var unassignCmd = &cobra.Command{
	Use:   "unassign <task>",
	Short: "Release a task's reservation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		task, err := api().ReleaseReservation(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(task)
			return
		}
		fmt.Printf("%s Reservation cleared, %s is %s\n",
			ui.RenderPass(ui.IconPass), ui.RenderID(task.ShortID), ui.RenderState(string(task.State)))
	},
}

func init() {
	assignCmd.Flags().Duration("ttl", 0, "Reservation TTL (default: server reservation.default_ttl)")
	assignCmd.Flags().String("until", "", `Reservation deadline in natural language ("friday 5pm")`)
	rootCmd.AddCommand(assignCmd, unassignCmd)
}
