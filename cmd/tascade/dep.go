package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/ui"
)

var depCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage task dependencies",
}

var depAddCmd = &cobra.Command{
	Use:   "add <from> <to>",
	Short: "Add an edge: <to> waits on <from>",
	Long: `Add a dependency edge. <to> may not start until <from> reaches the
--unlock-on threshold (implemented or integrated). Cycles are rejected.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		unlockOn, _ := cmd.Flags().GetString("unlock-on")
		dep, err := api().AddDependency(cmd.Context(), args[0], args[1], types.UnlockOn(unlockOn))
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(dep)
			return
		}
		fmt.Printf("%s %s now waits on %s (unlock on %s)\n",
			ui.RenderPass(ui.IconPass), ui.RenderID(args[1]), ui.RenderID(args[0]), dep.UnlockOn)
	},
}

var depRmCmd = &cobra.Command{
	Use:   "rm <from> <to>",
	Short: "Remove a dependency edge",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := api().RemoveDependency(cmd.Context(), args[0], args[1]); err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(map[string]bool{"removed": true})
			return
		}
		fmt.Printf("%s Removed edge %s -> %s\n", ui.RenderPass(ui.IconPass), ui.RenderID(args[0]), ui.RenderID(args[1]))
	},
}

var depListCmd = &cobra.Command{
	Use:   "list <task>",
	Short: "Show what a task waits on and what waits on it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		deps, err := api().Dependencies(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(deps)
			return
		}
		fmt.Printf("%s %s\n", ui.RenderID(deps.Task.ShortID), ui.RenderBold(deps.Task.Title))
		if len(deps.DependsOn) == 0 && len(deps.RequiredBy) == 0 {
			fmt.Println(ui.RenderMuted("No dependencies."))
			return
		}
		if len(deps.DependsOn) > 0 {
			fmt.Println("\nWaits on:")
			for _, e := range deps.DependsOn {
				fmt.Printf("  %s\n", depEdgeLine(e))
			}
		}
		if len(deps.RequiredBy) > 0 {
			fmt.Println("\nRequired by:")
			for _, e := range deps.RequiredBy {
				fmt.Printf("  %s\n", depEdgeLine(e))
			}
		}
	},
}

func depEdgeLine(e types.ContextEdge) string {
	mark := ui.RenderMuted("·")
	if e.Satisfied {
		mark = ui.RenderPass(ui.IconPass)
	}
	return fmt.Sprintf("%s %s %s [%s, unlock on %s]",
		mark, ui.RenderID(e.Task.ShortID), e.Task.Title, ui.RenderState(string(e.Task.State)), e.UnlockOn)
}

func init() {
	depAddCmd.Flags().String("unlock-on", string(types.UnlockOnImplemented),
		"Threshold the prerequisite must reach (implemented, integrated)")
	depCmd.AddCommand(depAddCmd, depRmCmd, depListCmd)
	rootCmd.AddCommand(depCmd)
}
