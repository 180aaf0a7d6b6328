package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/client"
	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/ui"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Gate rules and decisions",
}

var gateRulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List gate rules",
	Run: func(cmd *cobra.Command, args []string) {
		project, _ := cmd.Flags().GetString("project")
		enabledOnly, _ := cmd.Flags().GetBool("enabled")
		rules, err := api().ListGateRules(cmd.Context(), project, enabledOnly)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			if rules == nil {
				rules = []*types.GateRule{}
			}
			outputJSON(rules)
			return
		}
		if len(rules) == 0 {
			fmt.Println(ui.RenderMuted("No gate rules."))
			return
		}
		for _, r := range rules {
			state := ui.RenderPass("enabled")
			if !r.Enabled {
				state = ui.RenderMuted("disabled")
			}
			scope := "global"
			if r.ProjectID != "" {
				scope = r.ProjectID
			}
			fmt.Printf("%s %-24s %s  on %s  scope %s  (%s)\n",
				ui.RenderID(shortRef(r.ID)), r.Name, state, r.Trigger, scope, r.Source)
		}
	},
}

var gateRuleCreateCmd = &cobra.Command{
	Use:   "rule-create <name>",
	Short: "Create a gate rule over the API",
	Long: `Create a gate rule. Rules created here carry source "api" and survive
rules-file reloads; file-sourced rules belong to gates.toml.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		project, _ := cmd.Flags().GetString("project")
		trigger, _ := cmd.Flags().GetString("trigger")
		gateClass, _ := cmd.Flags().GetString("gate-class")
		reviewerCap, _ := cmd.Flags().GetString("reviewer-capability")
		matchClass, _ := cmd.Flags().GetString("match-class")
		matchCap, _ := cmd.Flags().GetString("match-capability")
		matchPrefix, _ := cmd.Flags().GetString("match-path-prefix")

		p := client.GateRuleParams{
			Project:            project,
			Name:               args[0],
			Trigger:            types.GateTrigger(trigger),
			GateClass:          types.TaskClass(gateClass),
			ReviewerCapability: reviewerCap,
			Match: types.GateMatch{
				TaskClass:  types.TaskClass(matchClass),
				Capability: matchCap,
				PathPrefix: matchPrefix,
			},
		}
		if cmd.Flags().Changed("match-min-priority") {
			pri, _ := cmd.Flags().GetInt("match-min-priority")
			p.Match.MinPriority = &pri
		}
		rule, err := api().CreateGateRule(cmd.Context(), p)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(rule)
			return
		}
		fmt.Printf("%s Created gate rule %q (%s)\n", ui.RenderPass(ui.IconPass), rule.Name, shortRef(rule.ID))
	},
}

var gateEnableCmd = &cobra.Command{
	Use:   "enable <rule-id>",
	Short: "Enable a gate rule",
	Args:  cobra.ExactArgs(1),
	Run:   func(cmd *cobra.Command, args []string) { setRuleEnabled(cmd, args[0], true) },
}

var gateDisableCmd = &cobra.Command{
	Use:   "disable <rule-id>",
	Short: "Disable a gate rule (keeps its decision history)",
	Args:  cobra.ExactArgs(1),
	Run:   func(cmd *cobra.Command, args []string) { setRuleEnabled(cmd, args[0], false) },
}

func setRuleEnabled(cmd *cobra.Command, id string, enabled bool) {
	if err := api().SetGateRuleEnabled(cmd.Context(), id, enabled); err != nil {
		fail(err)
	}
	if jsonOutput {
		outputJSON(map[string]bool{"enabled": enabled})
		return
	}
	verb := "Enabled"
	if !enabled {
		verb = "Disabled"
	}
	fmt.Printf("%s %s rule %s\n", ui.RenderPass(ui.IconPass), verb, ui.RenderID(shortRef(id)))
}

var gateDecideCmd = &cobra.Command{
	Use:   "decide <gate-task> <verdict>",
	Short: "Record a gate decision (approved, rejected, approved_with_risk)",
	Long: `Record a verdict on a gate task. approved_with_risk requires --risk-note.
The decider must differ from the implementers of every candidate the gate
covers.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		decidedBy, _ := cmd.Flags().GetString("by")
		if decidedBy == "" {
			decidedBy = api().Actor
		}
		rationale, _ := cmd.Flags().GetString("rationale")
		riskNote, _ := cmd.Flags().GetString("risk-note")
		evidence, _ := cmd.Flags().GetStringSlice("evidence")
		decision, err := api().RecordGateDecision(cmd.Context(), args[0], client.GateDecisionParams{
			Verdict:   args[1],
			DecidedBy: decidedBy,
			Rationale: rationale,
			RiskNote:  riskNote,
			Evidence:  evidence,
		})
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(decision)
			return
		}
		fmt.Printf("%s Gate %s: %s by %s\n",
			ui.RenderPass(ui.IconPass), ui.RenderID(args[0]), ui.RenderVerdict(decision.Verdict), ui.RenderBold(decision.DecidedBy))
	},
}

var gateStatusCmd = &cobra.Command{
	Use:   "status <task>",
	Short: "Show the gates covering a task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		gates, err := api().GateStatus(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			if gates == nil {
				gates = []types.GateStatus{}
			}
			outputJSON(gates)
			return
		}
		if len(gates) == 0 {
			fmt.Println(ui.RenderMuted("No gates cover this task."))
			return
		}
		for i := range gates {
			g := &gates[i]
			fmt.Printf("%s %s [%s]  %d candidate(s)\n",
				ui.RenderID(g.Gate.ShortID), g.Gate.Title, ui.RenderState(string(g.Gate.State)), len(g.Candidates))
			for _, d := range g.Decisions {
				note := d.Rationale
				if d.RiskNote != "" {
					note += "  risk: " + d.RiskNote
				}
				fmt.Printf("  %s by %s  %s  %s\n",
					ui.RenderVerdict(d.Verdict), d.DecidedBy, d.CreatedAt.Format("2006-01-02 15:04"), ui.RenderMuted(note))
			}
		}
	},
}

func init() {
	gateRulesCmd.Flags().StringP("project", "p", "", "Scope to one project (plus global rules)")
	gateRulesCmd.Flags().Bool("enabled", false, "Only enabled rules")

	gateRuleCreateCmd.Flags().StringP("project", "p", "", "Project scope (default: global)")
	gateRuleCreateCmd.Flags().String("trigger", string(types.TriggerTaskImplemented),
		"Trigger (task_implemented, milestone_complete)")
	gateRuleCreateCmd.Flags().String("gate-class", string(types.ClassReviewGate),
		"Class of the injected gate task (review_gate, merge_gate)")
	gateRuleCreateCmd.Flags().String("reviewer-capability", "", "Capability required of the gate's reviewer")
	gateRuleCreateCmd.Flags().String("match-class", "", "Match tasks of this class")
	gateRuleCreateCmd.Flags().String("match-capability", "", "Match tasks requiring this capability")
	gateRuleCreateCmd.Flags().String("match-path-prefix", "", "Match tasks whose exclusive paths start here")
	gateRuleCreateCmd.Flags().Int("match-min-priority", 0, "Match tasks at this priority or more urgent")

	gateDecideCmd.Flags().String("by", "", "Decider identity (default: actor)")
	gateDecideCmd.Flags().StringP("rationale", "r", "", "Why this verdict")
	gateDecideCmd.Flags().String("risk-note", "", "Accepted risk (required for approved_with_risk)")
	gateDecideCmd.Flags().StringSlice("evidence", nil, "Evidence reference (repeatable)")

	gateCmd.AddCommand(gateRulesCmd, gateRuleCreateCmd, gateEnableCmd, gateDisableCmd, gateDecideCmd, gateStatusCmd)
	rootCmd.AddCommand(gateCmd)
}
