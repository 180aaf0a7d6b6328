package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/ui"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan changesets: the only way a live plan changes",
}

// planDoc is the YAML shape accepted by plan create -f. Ops are decoded
// generically and re-marshalled through JSON so nested work_spec maps land
// in PlanOp.WorkSpec unchanged.
type planDoc struct {
	Title string           `yaml:"title"`
	Ops   []map[string]any `yaml:"ops"`
}

func loadPlanOps(path string) (string, []types.PlanOp, error) {
	raw, err := os.ReadFile(path) // nolint:gosec // operator-supplied path
	if err != nil {
		return "", nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	var doc planDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return "", nil, fmt.Errorf("failed to parse plan file: %w", err)
	}
	buf, err := json.Marshal(doc.Ops)
	if err != nil {
		return "", nil, err
	}
	var ops []types.PlanOp
	if err := json.Unmarshal(buf, &ops); err != nil {
		return "", nil, fmt.Errorf("failed to decode plan ops: %w", err)
	}
	return doc.Title, ops, nil
}

var planCreateCmd = &cobra.Command{
	Use:   "create <project>",
	Short: "Create a draft changeset from a plan file",
	Long: `Create a draft changeset from -f <file>. The file is YAML:

  title: split the parser work
  ops:
    - op: add_task
      milestone: m-4f2a
      alias: parser-lexer
      title: Extract the lexer
      work_spec:
        goal: Lexer as its own package
    - op: add_dependency
      from: parser-lexer
      to: t-9c1b

The draft records the plan version it was authored against; apply fails
with a conflict if the plan has moved since (see --allow-rebase on apply).`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			fail(fmt.Errorf("a plan file is required (-f plan.yaml)"))
		}
		title, ops, err := loadPlanOps(file)
		if err != nil {
			fail(err)
		}
		if t, _ := cmd.Flags().GetString("title"); t != "" {
			title = t
		}
		cs, err := api().CreateChangeset(cmd.Context(), args[0], title, ops)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(cs)
			return
		}
		fmt.Printf("%s Draft changeset %s %q against plan v%d (%d ops)\n",
			ui.RenderPass(ui.IconPass), ui.RenderID(cs.ShortID), cs.Title, cs.BasePlanVersion, len(cs.Ops))
	},
}

var planValidateCmd = &cobra.Command{
	Use:   "validate <changeset>",
	Short: "Dry-run a changeset and preview its impact",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		report, err := api().ValidateChangeset(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(report)
			return
		}
		printValidation(report)
		if !report.OK {
			os.Exit(1)
		}
	},
}

func printValidation(report *types.ValidationReport) {
	if report.OK {
		fmt.Printf("%s Changeset is valid\n", ui.RenderPass(ui.IconPass))
	} else {
		fmt.Printf("%s Changeset is invalid\n", ui.RenderFail(ui.IconFail))
		for _, e := range report.Errors {
			fmt.Printf("  %s %s\n", ui.RenderFail("-"), e)
		}
	}
	printImpact(report.Impact)
}

func printImpact(im types.Impact) {
	impactLine := func(label string, refs []string) {
		if len(refs) > 0 {
			fmt.Printf("  %-20s %s\n", label+":", strings.Join(refs, ", "))
		}
	}
	impactLine("new tasks", im.NewTasks)
	impactLine("removed tasks", im.RemovedTasks)
	impactLine("newly ready", im.NewlyReady)
	impactLine("newly blocked", im.NewlyBlocked)
	impactLine("invalidated claims", im.InvalidatedClaims)
	impactLine("material changes", im.MateriallyChanged)
}

var planApplyCmd = &cobra.Command{
	Use:   "apply <changeset>",
	Short: "Apply a changeset atomically, advancing the plan version",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		allowRebase, _ := cmd.Flags().GetBool("allow-rebase")
		cs, err := api().ApplyChangeset(cmd.Context(), args[0], allowRebase)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(cs)
			return
		}
		fmt.Printf("%s Applied %s, plan is now v%d\n",
			ui.RenderPass(ui.IconPass), ui.RenderID(cs.ShortID), cs.AppliedVersion)
		if cs.Validation != nil {
			printImpact(cs.Validation.Impact)
		}
	},
}

var planRejectCmd = &cobra.Command{
	Use:   "reject <changeset>",
	Short: "Reject a draft changeset",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cs, err := api().RejectChangeset(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(cs)
			return
		}
		fmt.Printf("%s Rejected %s\n", ui.RenderPass(ui.IconPass), ui.RenderID(cs.ShortID))
	},
}

var planShowCmd = &cobra.Command{
	Use:   "show <changeset>",
	Short: "Show a changeset and its ops",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cs, err := api().GetChangeset(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(cs)
			return
		}
		fmt.Printf("%s %s  [%s]  base plan v%d  by %s\n",
			ui.RenderID(cs.ShortID), ui.RenderBold(cs.Title), cs.Status, cs.BasePlanVersion, cs.Author)
		for i := range cs.Ops {
			op := &cs.Ops[i]
			mark := " "
			if op.Material() {
				mark = ui.RenderWarn("M")
			}
			fmt.Printf("  %s %s\n", mark, op.Describe())
		}
		if cs.Validation != nil {
			fmt.Println()
			printValidation(cs.Validation)
		}
	},
}

var planListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List a project's changesets",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		status, _ := cmd.Flags().GetString("status")
		sets, err := api().ListChangesets(cmd.Context(), args[0], types.ChangesetStatus(status))
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			if sets == nil {
				sets = []*types.Changeset{}
			}
			outputJSON(sets)
			return
		}
		if len(sets) == 0 {
			fmt.Println(ui.RenderMuted("No changesets."))
			return
		}
		for _, cs := range sets {
			fmt.Printf("%s %-10s %s  (%d ops, base v%d)\n",
				ui.RenderID(cs.ShortID), cs.Status, cs.Title, len(cs.Ops), cs.BasePlanVersion)
		}
	},
}

func init() {
	planCreateCmd.Flags().StringP("file", "f", "", "Plan ops file (YAML)")
	planCreateCmd.Flags().String("title", "", "Changeset title (overrides the file's)")
	planApplyCmd.Flags().Bool("allow-rebase", false, "Re-validate against the current plan if the base moved")
	planListCmd.Flags().String("status", "", "Filter by status (draft, validated, applied, rejected)")
	planCmd.AddCommand(planCreateCmd, planValidateCmd, planApplyCmd, planRejectCmd, planShowCmd, planListCmd)
	rootCmd.AddCommand(planCmd)
}
