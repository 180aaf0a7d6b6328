package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/ui"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		description, _ := cmd.Flags().GetString("description")
		p, err := api().CreateProject(cmd.Context(), args[0], description)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(p)
			return
		}
		fmt.Printf("%s Created project %s %q (plan v%d)\n",
			ui.RenderPass(ui.IconPass), ui.RenderID(p.ShortID), p.Name, p.PlanVersion)
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Run: func(cmd *cobra.Command, args []string) {
		status, _ := cmd.Flags().GetString("status")
		projects, err := api().ListProjects(cmd.Context(), types.ProjectStatus(status))
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			if projects == nil {
				projects = []*types.Project{}
			}
			outputJSON(projects)
			return
		}
		if len(projects) == 0 {
			fmt.Println(ui.RenderMuted("No projects. Create one with: tascade project create <name>"))
			return
		}
		for _, p := range projects {
			note := ""
			if p.Status == types.ProjectArchived {
				note = ui.RenderMuted(" (archived)")
			}
			fmt.Printf("%s %s  plan v%d%s\n", ui.RenderID(p.ShortID), p.Name, p.PlanVersion, note)
		}
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <project>",
	Short: "Show one project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		p, err := api().GetProject(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(p)
			return
		}
		fmt.Printf("%s %s\n", ui.RenderID(p.ShortID), ui.RenderBold(p.Name))
		if p.Description != "" {
			fmt.Println(p.Description)
		}
		fmt.Printf("status: %s  plan version: %d  created: %s\n",
			p.Status, p.PlanVersion, p.CreatedAt.Format("2006-01-02"))
	},
}

var projectArchiveCmd = &cobra.Command{
	Use:   "archive <project>",
	Short: "Archive a project (rejects further writes)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !ui.PromptYesNo(fmt.Sprintf("Archive project %s?", args[0]), false) {
			return
		}
		p, err := api().ArchiveProject(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(p)
			return
		}
		fmt.Printf("%s Archived %s\n", ui.RenderPass(ui.IconPass), ui.RenderID(p.ShortID))
	},
}

var boardCmd = &cobra.Command{
	Use:   "board <project>",
	Short: "Project status board: milestones, states, ready queue",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		board, err := api().StatusBoard(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(board)
			return
		}
		counts := map[string]int{}
		for state, n := range board.Counts {
			counts[string(state)] = n
		}
		milestones := make([]ui.BoardMilestone, 0, len(board.Milestones))
		for _, m := range board.Milestones {
			active, blocked := 0, 0
			for state, n := range m.Counts {
				if state.InFlight() {
					active += n
				}
				if state == types.StateBlocked || state == types.StateConflict {
					blocked += n
				}
			}
			milestones = append(milestones, ui.BoardMilestone{
				ID:         m.Milestone.ShortID,
				Title:      m.Milestone.Name,
				Integrated: m.Counts[types.StateIntegrated],
				Total:      m.Total,
				Active:     active,
				Blocked:    blocked,
				Done:       m.Done,
			})
		}
		ready := make([]ui.ReadyRow, 0, len(board.Ready))
		for _, r := range board.Ready {
			ready = append(ready, readyRow(r))
		}
		fmt.Println(ui.RenderBoard(board.Project.ShortID, board.Project.Name,
			counts, milestones, ready, board.LatestSeq, ui.GetWidth()))
	},
}

func init() {
	projectCreateCmd.Flags().StringP("description", "d", "", "Project description")
	projectListCmd.Flags().String("status", "", "Filter by status (active, archived)")
	projectCmd.AddCommand(projectCreateCmd, projectListCmd, projectShowCmd, projectArchiveCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(boardCmd)
}
