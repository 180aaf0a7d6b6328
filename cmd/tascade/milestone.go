package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/ui"
)

var phaseCmd = &cobra.Command{
	Use:   "phase",
	Short: "Manage phases",
}

var phaseCreateCmd = &cobra.Command{
	Use:   "create <project> <name>",
	Short: "Append a phase to a project",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		description, _ := cmd.Flags().GetString("description")
		ph, err := api().CreatePhase(cmd.Context(), args[0], args[1], description)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(ph)
			return
		}
		fmt.Printf("%s Created phase %s %q\n", ui.RenderPass(ui.IconPass), ui.RenderID(ph.ShortID), ph.Name)
	},
}

var milestoneCmd = &cobra.Command{
	Use:   "milestone",
	Short: "Manage milestones",
}

var milestoneCreateCmd = &cobra.Command{
	Use:   "create <project> <name>",
	Short: "Create a milestone",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		phase, _ := cmd.Flags().GetString("phase")
		description, _ := cmd.Flags().GetString("description")
		m, err := api().CreateMilestone(cmd.Context(), args[0], phase, args[1], description)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(m)
			return
		}
		fmt.Printf("%s Created milestone %s %q\n", ui.RenderPass(ui.IconPass), ui.RenderID(m.ShortID), m.Name)
	},
}

var milestoneListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List a project's milestones in plan order",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		milestones, err := api().ListMilestones(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			if milestones == nil {
				milestones = []*types.Milestone{}
			}
			outputJSON(milestones)
			return
		}
		if len(milestones) == 0 {
			fmt.Println(ui.RenderMuted("No milestones yet."))
			return
		}
		for _, m := range milestones {
			fmt.Printf("%s %s\n", ui.RenderID(m.ShortID), m.Name)
		}
	},
}

func init() {
	phaseCreateCmd.Flags().StringP("description", "d", "", "Phase description")
	phaseCmd.AddCommand(phaseCreateCmd)
	rootCmd.AddCommand(phaseCmd)

	milestoneCreateCmd.Flags().String("phase", "", "Parent phase (short ID or ID)")
	milestoneCreateCmd.Flags().StringP("description", "d", "", "Milestone description")
	milestoneCmd.AddCommand(milestoneCreateCmd, milestoneListCmd)
	rootCmd.AddCommand(milestoneCmd)
}
