package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/client"
	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/ui"
)

var readyCmd = &cobra.Command{
	Use:   "ready <project>",
	Short: "Show tasks ready to be claimed",
	Long: `Show the ready frontier: unblocked, unclaimed tasks in scheduling order.
With --capabilities the list is narrowed to tasks this agent can serve.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		caps, _ := cmd.Flags().GetStringSlice("capabilities")
		includeReserved, _ := cmd.Flags().GetBool("include-reserved")
		limit, _ := cmd.Flags().GetInt("limit")
		ready, err := api().ListReady(cmd.Context(), args[0], client.ReadyFilter{
			Capabilities:    types.NormalizeCapabilities(caps),
			IncludeReserved: includeReserved,
			Limit:           limit,
		})
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			if ready == nil {
				ready = []*types.ReadyTask{}
			}
			outputJSON(ready)
			return
		}
		rows := make([]ui.ReadyRow, 0, len(ready))
		for _, r := range ready {
			rows = append(rows, readyRow(r))
		}
		fmt.Println(ui.RenderReadyTable(rows, ui.GetWidth()))
	},
}

func readyRow(r *types.ReadyTask) ui.ReadyRow {
	return ui.ReadyRow{
		ID:          r.Task.ShortID,
		Title:       r.Task.Title,
		Priority:    r.Task.Priority,
		Class:       string(r.Task.Class),
		ReservedFor: r.ReservedFor,
		Contention:  r.Contention,
	}
}

func init() {
	readyCmd.Flags().StringSlice("capabilities", nil, "Only tasks satisfiable by these capability tags")
	readyCmd.Flags().Bool("include-reserved", false, "Include tasks reserved for other agents")
	readyCmd.Flags().Int("limit", 0, "Cap the number of rows returned")
	rootCmd.AddCommand(readyCmd)
}
