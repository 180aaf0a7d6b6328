package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/ui"
)

var contextCmd = &cobra.Command{
	Use:   "context <task>",
	Short: "Project a task's working context in one call",
	Long: `Project everything an agent needs to pick up a task: the task and its
snapshot, plan position, blockers, dependents, gates, artifacts, and recent
events. Depths are bounded; --max-nodes caps the whole bundle.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ancestors, _ := cmd.Flags().GetInt("ancestors")
		dependents, _ := cmd.Flags().GetInt("dependents")
		maxNodes, _ := cmd.Flags().GetInt("max-nodes")
		eventLimit, _ := cmd.Flags().GetInt("events")
		bundle, err := api().TaskContext(cmd.Context(), args[0], types.ContextOptions{
			AncestorDepth:  ancestors,
			DependentDepth: dependents,
			MaxNodes:       maxNodes,
			EventLimit:     eventLimit,
		})
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(bundle)
			return
		}
		printContextBundle(bundle)
	},
}

func printContextBundle(b *types.ContextBundle) {
	fmt.Printf("%s %s [%s]\n", ui.RenderID(b.Task.ShortID), ui.RenderBold(b.Task.Title), ui.RenderState(string(b.Task.State)))
	place := fmt.Sprintf("%s / %s", b.Project.Name, b.Milestone.Name)
	if b.Phase != nil {
		place = fmt.Sprintf("%s / %s / %s", b.Project.Name, b.Phase.Name, b.Milestone.Name)
	}
	fmt.Println(ui.RenderMuted(place))
	if b.Snapshot != nil {
		fmt.Printf("snapshot: plan v%d, spec hash %s\n", b.Snapshot.PlanVersion, shortRef(b.Snapshot.WorkSpecHash))
	}

	section := func(title string, edges []types.ContextEdge) {
		if len(edges) == 0 {
			return
		}
		fmt.Printf("\n%s\n", ui.RenderBold(title))
		for _, e := range edges {
			fmt.Printf("  %s\n", depEdgeLine(e))
		}
	}
	section("Blockers", b.Blockers)
	section("Ancestors", b.Ancestors)
	section("Dependents", b.Dependents)

	if len(b.Siblings) > 0 {
		fmt.Printf("\n%s\n", ui.RenderBold("Siblings"))
		for _, s := range b.Siblings {
			fmt.Printf("  %s %s [%s]\n", ui.RenderID(s.ShortID), s.Title, ui.RenderState(string(s.State)))
		}
	}
	if len(b.Gates) > 0 {
		fmt.Printf("\n%s\n", ui.RenderBold("Gates"))
		for i := range b.Gates {
			g := &b.Gates[i]
			fmt.Printf("  %s %s [%s]\n", ui.RenderID(g.Gate.ShortID), g.Gate.Title, ui.RenderState(string(g.Gate.State)))
		}
	}
	if len(b.Artifacts) > 0 {
		fmt.Printf("\n%s\n", ui.RenderBold("Artifacts"))
		for i := range b.Artifacts {
			a := &b.Artifacts[i]
			fmt.Printf("  %-12s %s  checks %s\n", a.Kind, a.Ref, renderChecks(a.Checks))
		}
	}
	if len(b.Events) > 0 {
		fmt.Printf("\n%s\n", ui.RenderBold("Recent events"))
		for i := range b.Events {
			e := &b.Events[i]
			fmt.Printf("  %6d  %s  %s\n", e.Seq, e.CreatedAt.Format("15:04:05"), e.Type)
		}
	}
	if b.Truncated {
		fmt.Printf("\n%s\n", ui.RenderWarn("Bundle truncated at the node cap; raise --max-nodes for more."))
	}
}

func init() {
	contextCmd.Flags().Int("ancestors", 0, "Ancestor depth (default 2, max 5)")
	contextCmd.Flags().Int("dependents", 0, "Dependent depth (default 1, max 5)")
	contextCmd.Flags().Int("max-nodes", 0, "Cap on related tasks in the bundle (default 50)")
	contextCmd.Flags().Int("events", 0, "Recent events to include (default 10)")
	rootCmd.AddCommand(contextCmd)
}
