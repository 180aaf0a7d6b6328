package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/client"
	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

// workSpecFromFlags assembles the work_spec JSON from command-line flags,
// or loads it verbatim from --spec-file.
func workSpecFromFlags(cmd *cobra.Command) (json.RawMessage, error) {
	if path, _ := cmd.Flags().GetString("spec-file"); path != "" {
		raw, err := os.ReadFile(path) // nolint:gosec // operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("failed to read spec file: %w", err)
		}
		return raw, nil
	}
	goal, _ := cmd.Flags().GetString("goal")
	if goal == "" {
		return nil, nil
	}
	criteria, _ := cmd.Flags().GetStringSlice("criteria")
	exclusive, _ := cmd.Flags().GetStringSlice("exclusive-path")
	shared, _ := cmd.Flags().GetStringSlice("shared-path")
	verify, _ := cmd.Flags().GetStringSlice("verify")
	notes, _ := cmd.Flags().GetString("notes")
	return json.Marshal(types.WorkSpec{
		Goal:               goal,
		AcceptanceCriteria: criteria,
		ExclusivePaths:     exclusive,
		SharedPaths:        shared,
		VerificationCmds:   verify,
		Notes:              notes,
	})
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <milestone> [title]",
	Short: "Create a task under a milestone",
	Long: `Create a task. The work spec comes from --goal and its companions, from
--spec-file (verbatim JSON), or interactively with --form.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		useForm, _ := cmd.Flags().GetBool("form")

		var p client.TaskParams
		if len(args) > 1 {
			p.Title = args[1]
		}
		if useForm {
			var err error
			p, err = taskCreateForm(p.Title)
			if err != nil {
				fail(err)
			}
		} else {
			p.Description, _ = cmd.Flags().GetString("description")
			class, _ := cmd.Flags().GetString("class")
			p.Class = types.TaskClass(class)
			if cmd.Flags().Changed("priority") {
				pri, _ := cmd.Flags().GetInt("priority")
				p.Priority = &pri
			}
			caps, _ := cmd.Flags().GetStringSlice("capability")
			p.Capabilities = types.NormalizeCapabilities(caps)
			spec, err := workSpecFromFlags(cmd)
			if err != nil {
				fail(err)
			}
			p.WorkSpec = spec
		}
		if p.Title == "" {
			fail(fmt.Errorf("a title is required (positional or via --form)"))
		}
		if len(p.WorkSpec) == 0 {
			fail(fmt.Errorf("a work spec is required (--goal, --spec-file, or --form)"))
		}

		task, err := api().CreateTask(cmd.Context(), args[0], p)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(task)
			return
		}
		fmt.Printf("%s Created task %s %q (%s)\n",
			ui.RenderPass(ui.IconPass), ui.RenderID(task.ShortID), task.Title, task.State)
	},
}

// taskCreateForm collects task fields interactively.
func taskCreateForm(title string) (client.TaskParams, error) {
	var (
		p        client.TaskParams
		goal     string
		criteria string
		paths    string
		caps     string
		priority = strconv.Itoa(types.DefaultPriority)
		class    = string(types.ClassImplementation)
	)
	p.Title = title

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Title").Value(&p.Title).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("title is required")
					}
					return nil
				}),
			huh.NewText().Title("Goal").Description("What done looks like").Value(&goal),
			huh.NewSelect[string]().Title("Class").Options(
				huh.NewOption("Implementation", string(types.ClassImplementation)),
				huh.NewOption("Analysis", string(types.ClassAnalysis)),
				huh.NewOption("Chore", string(types.ClassChore)),
			).Value(&class),
			huh.NewSelect[string]().Title("Priority").Options(
				huh.NewOption("P0 - Drop everything", "0"),
				huh.NewOption("P1 - Urgent", "1"),
				huh.NewOption("P2 - Normal (default)", "2"),
				huh.NewOption("P3 - Low", "3"),
			).Value(&priority),
		),
		huh.NewGroup(
			huh.NewText().Title("Acceptance criteria").Description("One per line").Value(&criteria),
			huh.NewInput().Title("Exclusive paths").Description("Comma-separated").Value(&paths),
			huh.NewInput().Title("Required capabilities").Description("Comma-separated").Value(&caps),
		),
	)
	if err := form.Run(); err != nil {
		return p, err
	}

	pri, err := strconv.Atoi(priority)
	if err != nil {
		pri = types.DefaultPriority
	}
	p.Priority = &pri
	p.Class = types.TaskClass(class)
	p.Capabilities = types.ParseCapabilityString(caps)

	ws := types.WorkSpec{Goal: strings.TrimSpace(goal)}
	for _, line := range strings.Split(criteria, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			ws.AcceptanceCriteria = append(ws.AcceptanceCriteria, line)
		}
	}
	for _, path := range strings.Split(paths, ",") {
		if path = strings.TrimSpace(path); path != "" {
			ws.ExclusivePaths = append(ws.ExclusivePaths, path)
		}
	}
	raw, err := json.Marshal(ws)
	if err != nil {
		return p, err
	}
	p.WorkSpec = raw
	return p, nil
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task>",
	Short: "Show one task with its work spec",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		task, err := api().GetTask(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(task)
			return
		}
		fmt.Printf("%s %s\n", ui.RenderID(task.ShortID), ui.RenderBold(task.Title))
		fmt.Printf("state: %s  priority: %s  class: %s  version: %d\n",
			ui.RenderState(string(task.State)), ui.RenderPriority(task.Priority), task.Class, task.Version)
		if len(task.Capabilities) > 0 {
			fmt.Printf("capabilities: %s\n", strings.Join(task.Capabilities, ", "))
		}
		if task.Description != "" {
			fmt.Println()
			fmt.Println(ui.RenderMarkdown(task.Description))
		}
		if len(task.WorkSpec) > 0 {
			fmt.Println()
			fmt.Println(ui.RenderBold("Work spec:"))
			fmt.Println(renderWorkSpec(task.WorkSpec))
		}
	},
}

// renderWorkSpec prints the interpreted fields of a work spec; unknown
// extension fields are shown as raw JSON at the end.
func renderWorkSpec(raw json.RawMessage) string {
	ws, err := types.ParseWorkSpec(raw)
	if err != nil {
		return string(raw)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "  goal: %s\n", ws.Goal)
	for _, c := range ws.AcceptanceCriteria {
		fmt.Fprintf(&b, "  - %s\n", c)
	}
	if len(ws.ExclusivePaths) > 0 {
		fmt.Fprintf(&b, "  exclusive: %s\n", strings.Join(ws.ExclusivePaths, ", "))
	}
	if len(ws.SharedPaths) > 0 {
		fmt.Fprintf(&b, "  shared: %s\n", strings.Join(ws.SharedPaths, ", "))
	}
	for _, v := range ws.VerificationCmds {
		fmt.Fprintf(&b, "  verify: %s\n", v)
	}
	if ws.Notes != "" {
		fmt.Fprintf(&b, "  notes: %s\n", ws.Notes)
	}
	return strings.TrimRight(b.String(), "\n")
}

var taskListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List a project's tasks",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		states, _ := cmd.Flags().GetStringSlice("state")
		class, _ := cmd.Flags().GetString("class")
		milestone, _ := cmd.Flags().GetString("milestone")
		tasks, err := api().ListTasks(cmd.Context(), args[0], client.TaskListFilter{
			States:    states,
			Class:     types.TaskClass(class),
			Milestone: milestone,
		})
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			if tasks == nil {
				tasks = []*types.Task{}
			}
			outputJSON(tasks)
			return
		}
		rows := make([]ui.TaskRow, 0, len(tasks))
		for _, t := range tasks {
			rows = append(rows, ui.TaskRow{
				ID:       t.ShortID,
				State:    string(t.State),
				Priority: t.Priority,
				Class:    string(t.Class),
				Title:    t.Title,
			})
		}
		fmt.Println(ui.RenderTaskTable("TASK", rows, ui.GetWidth()))
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <task>",
	Short: "Edit a task directly",
	Long: `Edit a task's fields directly. Material edits (work spec, capabilities,
class) are rejected for in-flight tasks; route those through a plan
changeset instead.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var u client.TaskUpdate
		if cmd.Flags().Changed("title") {
			v, _ := cmd.Flags().GetString("title")
			u.Title = &v
		}
		if cmd.Flags().Changed("description") {
			v, _ := cmd.Flags().GetString("description")
			u.Description = &v
		}
		if cmd.Flags().Changed("priority") {
			v, _ := cmd.Flags().GetInt("priority")
			u.Priority = &v
		}
		if cmd.Flags().Changed("capability") {
			caps, _ := cmd.Flags().GetStringSlice("capability")
			normalized := types.NormalizeCapabilities(caps)
			u.Capabilities = &normalized
		}
		class, _ := cmd.Flags().GetString("class")
		u.Class = types.TaskClass(class)
		spec, err := workSpecFromFlags(cmd)
		if err != nil {
			fail(err)
		}
		u.WorkSpec = spec

		task, err := api().UpdateTask(cmd.Context(), args[0], u)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(task)
			return
		}
		fmt.Printf("%s Updated %s (version %d)\n", ui.RenderPass(ui.IconPass), ui.RenderID(task.ShortID), task.Version)
	},
}

// addSpecFlags registers the work-spec building flags shared by create and
// update.
func addSpecFlags(cmd *cobra.Command) {
	cmd.Flags().String("goal", "", "Work spec goal")
	cmd.Flags().StringSlice("criteria", nil, "Acceptance criterion (repeatable)")
	cmd.Flags().StringSlice("exclusive-path", nil, "Path this task owns exclusively (repeatable)")
	cmd.Flags().StringSlice("shared-path", nil, "Path this task touches non-exclusively (repeatable)")
	cmd.Flags().StringSlice("verify", nil, "Verification command (repeatable)")
	cmd.Flags().String("notes", "", "Free-form spec notes")
	cmd.Flags().String("spec-file", "", "Read the work spec JSON from a file instead")
}

func init() {
	taskCreateCmd.Flags().Bool("form", false, "Fill in the task interactively")
	taskCreateCmd.Flags().StringP("description", "d", "", "Task description")
	taskCreateCmd.Flags().StringP("class", "c", "", "Task class (implementation, analysis, chore)")
	taskCreateCmd.Flags().IntP("priority", "p", types.DefaultPriority, "Priority (0 = most urgent)")
	taskCreateCmd.Flags().StringSlice("capability", nil, "Required capability tag (repeatable)")
	addSpecFlags(taskCreateCmd)

	taskListCmd.Flags().StringSliceP("state", "s", nil, "Filter by state (repeatable)")
	taskListCmd.Flags().StringP("class", "c", "", "Filter by task class")
	taskListCmd.Flags().StringP("milestone", "m", "", "Filter by milestone")

	taskUpdateCmd.Flags().String("title", "", "New title")
	taskUpdateCmd.Flags().StringP("description", "d", "", "New description")
	taskUpdateCmd.Flags().IntP("priority", "p", 0, "New priority")
	taskUpdateCmd.Flags().StringSlice("capability", nil, "Replace capability tags")
	taskUpdateCmd.Flags().StringP("class", "c", "", "New task class")
	addSpecFlags(taskUpdateCmd)

	taskCmd.AddCommand(taskCreateCmd, taskShowCmd, taskListCmd, taskUpdateCmd)
	rootCmd.AddCommand(taskCmd)
}
