package toolcall

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tascade/tascade/internal/core"
	"github.com/tascade/tascade/internal/types"
)

type createProjectIn struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Actor       string `json:"actor,omitempty"`
}

type projectRefIn struct {
	Ref   string `json:"ref"`
	Actor string `json:"actor,omitempty"`
}

type listProjectsIn struct {
	Status types.ProjectStatus `json:"status,omitempty"`
}

type createPhaseIn struct {
	Ref         string `json:"ref"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Actor       string `json:"actor,omitempty"`
}

type createMilestoneIn struct {
	Ref         string `json:"ref"`
	Phase       string `json:"phase,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Actor       string `json:"actor,omitempty"`
}

type createTaskIn struct {
	Ref          string             `json:"ref"`
	Title        string             `json:"title"`
	Description  string             `json:"description,omitempty"`
	Class        types.TaskClass    `json:"task_class,omitempty"`
	Priority     *int               `json:"priority,omitempty"`
	Capabilities types.Capabilities `json:"capabilities,omitempty"`
	WorkSpec     json.RawMessage    `json:"work_spec"`
	Actor        string             `json:"actor,omitempty"`
}

type taskRefIn struct {
	Ref string `json:"ref"`
}

type listTasksIn struct {
	Ref       string          `json:"ref"`
	States    []string        `json:"states,omitempty"`
	Class     types.TaskClass `json:"task_class,omitempty"`
	Milestone string          `json:"milestone,omitempty"`
}

type updateTaskIn struct {
	Ref         string  `json:"ref"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	Actor       string  `json:"actor,omitempty"`

	Capabilities *types.Capabilities `json:"capabilities,omitempty"`
	WorkSpec     json.RawMessage     `json:"work_spec,omitempty"`
	Class        types.TaskClass     `json:"task_class,omitempty"`
}

type dependencyIn struct {
	From     string         `json:"from"`
	To       string         `json:"to"`
	UnlockOn types.UnlockOn `json:"unlock_on,omitempty"`
	Actor    string         `json:"actor,omitempty"`
}

type createChangesetIn struct {
	Ref   string         `json:"ref"`
	Title string         `json:"title"`
	Ops   []types.PlanOp `json:"ops"`
	Actor string         `json:"actor,omitempty"`
}

type changesetRefIn struct {
	Ref   string `json:"ref"`
	Actor string `json:"actor,omitempty"`
}

type applyChangesetIn struct {
	Ref         string `json:"ref"`
	AllowRebase bool   `json:"allow_rebase,omitempty"`
	Actor       string `json:"actor,omitempty"`
}

type listChangesetsIn struct {
	Ref    string                `json:"ref"`
	Status types.ChangesetStatus `json:"status,omitempty"`
}

func planOps() []Operation {
	return []Operation{
		define(Operation{
			Name: "create_project", Method: http.MethodPost, Path: "/v1/projects",
			Scope:   types.RolePlanner,
			Summary: "Create a project. Returns the project with its short ID (P<n>).",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *createProjectIn) (any, error) {
			if id != nil && id.ProjectID != "" {
				return nil, types.NewError(types.ErrAuthDenied, "project-bound key cannot create projects")
			}
			return coord.CreateProject(ctx, in.Name, in.Description, actorName(id, in.Actor))
		}),
		define(Operation{
			Name: "list_projects", Method: http.MethodGet, Path: "/v1/projects",
			Scope: types.RoleAgent, ReadOnly: true,
			Summary: "List projects, optionally filtered by status (active|archived).",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *listProjectsIn) (any, error) {
			projects, err := coord.ListProjects(ctx, in.Status)
			if err != nil {
				return nil, err
			}
			if id != nil && id.ProjectID != "" {
				scoped := projects[:0]
				for _, p := range projects {
					if p.ID == id.ProjectID {
						scoped = append(scoped, p)
					}
				}
				projects = scoped
			}
			return projects, nil
		}),
		define(Operation{
			Name: "get_project", Method: http.MethodGet, Path: "/v1/projects/{ref}",
			Scope: types.RoleAgent, ReadOnly: true,
			Summary: "Fetch one project by ID or short ID.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *projectRefIn) (any, error) {
			return guardProject(ctx, coord, id, in.Ref)
		}),
		define(Operation{
			Name: "archive_project", Method: http.MethodPost, Path: "/v1/projects/{ref}/archive",
			Scope:   types.RoleOperator,
			Summary: "Archive a project: reads keep working, every mutation is refused, in-flight leases are invalidated.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *projectRefIn) (any, error) {
			if _, err := guardProject(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.ArchiveProject(ctx, in.Ref, actorName(id, in.Actor))
		}),
		define(Operation{
			Name: "create_phase", Method: http.MethodPost, Path: "/v1/projects/{ref}/phases",
			Scope:   types.RolePlanner,
			Summary: "Add an ordering phase to a project.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *createPhaseIn) (any, error) {
			if _, err := guardProject(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.CreatePhase(ctx, in.Ref, in.Name, in.Description, actorName(id, in.Actor))
		}),
		define(Operation{
			Name: "create_milestone", Method: http.MethodPost, Path: "/v1/projects/{ref}/milestones",
			Scope:   types.RolePlanner,
			Summary: "Add a milestone to a project, optionally under a phase.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *createMilestoneIn) (any, error) {
			if _, err := guardProject(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.CreateMilestone(ctx, in.Ref, in.Phase, in.Name, in.Description, actorName(id, in.Actor))
		}),
		define(Operation{
			Name: "list_milestones", Method: http.MethodGet, Path: "/v1/projects/{ref}/milestones",
			Scope: types.RoleAgent, ReadOnly: true,
			Summary: "List a project's milestones in sequence order.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *projectRefIn) (any, error) {
			if _, err := guardProject(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.ListMilestones(ctx, in.Ref)
		}),
		define(Operation{
			Name: "create_task", Method: http.MethodPost, Path: "/v1/milestones/{ref}/tasks",
			Scope:   types.RolePlanner,
			Summary: "Create a task under a milestone. work_spec is a JSON object with a non-empty goal.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *createTaskIn) (any, error) {
			m, err := coord.GetMilestone(ctx, in.Ref)
			if err != nil {
				return nil, err
			}
			if err := requireProject(id, m.ProjectID); err != nil {
				return nil, err
			}
			return coord.CreateTask(ctx, core.CreateTaskInput{
				MilestoneRef: in.Ref,
				Title:        in.Title,
				Description:  in.Description,
				Class:        in.Class,
				Priority:     in.Priority,
				Capabilities: in.Capabilities,
				WorkSpec:     in.WorkSpec,
				Actor:        actorName(id, in.Actor),
			})
		}),
		define(Operation{
			Name: "get_task", Method: http.MethodGet, Path: "/v1/tasks/{ref}",
			Scope: types.RoleAgent, ReadOnly: true,
			Summary: "Fetch one task by ID or short ID (P<n>.M<m>.T<t>).",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *taskRefIn) (any, error) {
			return guardTask(ctx, coord, id, in.Ref)
		}),
		define(Operation{
			Name: "list_tasks", Method: http.MethodGet, Path: "/v1/projects/{ref}/tasks",
			Scope: types.RoleAgent, ReadOnly: true,
			Summary: "List a project's tasks with optional state, class, and milestone filters.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *listTasksIn) (any, error) {
			p, err := guardProject(ctx, coord, id, in.Ref)
			if err != nil {
				return nil, err
			}
			filter := types.TaskFilter{ProjectID: p.ID, MilestoneID: in.Milestone, Class: in.Class}
			for _, s := range in.States {
				filter.States = append(filter.States, types.TaskState(s))
			}
			return coord.ListTasks(ctx, filter)
		}),
		define(Operation{
			Name: "update_task", Method: http.MethodPatch, Path: "/v1/tasks/{ref}",
			Scope:   types.RolePlanner,
			Summary: "Edit non-material task fields (title, description, priority). Material edits must go through a changeset.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *updateTaskIn) (any, error) {
			if _, err := guardTask(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.UpdateTask(ctx, core.UpdateTaskInput{
				TaskRef:      in.Ref,
				Title:        in.Title,
				Description:  in.Description,
				Priority:     in.Priority,
				Capabilities: in.Capabilities,
				WorkSpec:     in.WorkSpec,
				Class:        in.Class,
				Actor:        actorName(id, in.Actor),
			})
		}),
		define(Operation{
			Name: "create_dependency", Method: http.MethodPost, Path: "/v1/dependencies",
			Scope:   types.RolePlanner,
			Summary: "Add a dependency edge: `from` must reach `unlock_on` (implemented|integrated) before `to` is ready.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *dependencyIn) (any, error) {
			if _, err := guardTask(ctx, coord, id, in.From); err != nil {
				return nil, err
			}
			return coord.AddDependency(ctx, in.From, in.To, in.UnlockOn, actorName(id, in.Actor))
		}),
		define(Operation{
			Name: "delete_dependency", Method: http.MethodDelete, Path: "/v1/dependencies",
			Scope:   types.RolePlanner,
			Summary: "Remove a dependency edge and refresh the dependent's readiness.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *dependencyIn) (any, error) {
			if _, err := guardTask(ctx, coord, id, in.From); err != nil {
				return nil, err
			}
			if err := coord.RemoveDependency(ctx, in.From, in.To, actorName(id, in.Actor)); err != nil {
				return nil, err
			}
			return map[string]bool{"removed": true}, nil
		}),
		define(Operation{
			Name: "list_dependencies", Method: http.MethodGet, Path: "/v1/tasks/{ref}/dependencies",
			Scope: types.RoleAgent, ReadOnly: true,
			Summary: "List a task's upstream and downstream edges with satisfaction flags.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *taskRefIn) (any, error) {
			if _, err := guardTask(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.Dependencies(ctx, in.Ref)
		}),
		define(Operation{
			Name: "create_changeset", Method: http.MethodPost, Path: "/v1/projects/{ref}/changesets",
			Scope:   types.RolePlanner,
			Summary: "Draft a plan changeset against the project's current plan version.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *createChangesetIn) (any, error) {
			if _, err := guardProject(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.CreateChangeset(ctx, core.ChangesetInput{
				ProjectRef: in.Ref,
				Title:      in.Title,
				Author:     actorName(id, in.Actor),
				Ops:        in.Ops,
			})
		}),
		define(Operation{
			Name: "validate_changeset", Method: http.MethodPost, Path: "/v1/changesets/{ref}/validate",
			Scope:   types.RolePlanner,
			Summary: "Simulate a changeset without applying it; reports every op error and the impact summary.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *changesetRefIn) (any, error) {
			if err := guardChangeset(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.ValidateChangeset(ctx, in.Ref, actorName(id, in.Actor))
		}),
		define(Operation{
			Name: "apply_changeset", Method: http.MethodPost, Path: "/v1/changesets/{ref}/apply",
			Scope:   types.RolePlanner,
			Summary: "Apply a changeset atomically, bumping the plan version. allow_rebase applies over a newer plan version.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *applyChangesetIn) (any, error) {
			if err := guardChangeset(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.ApplyChangeset(ctx, in.Ref, actorName(id, in.Actor), in.AllowRebase)
		}),
		define(Operation{
			Name: "reject_changeset", Method: http.MethodPost, Path: "/v1/changesets/{ref}/reject",
			Scope:   types.RolePlanner,
			Summary: "Reject a draft or validated changeset. Idempotent.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *changesetRefIn) (any, error) {
			if err := guardChangeset(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.RejectChangeset(ctx, in.Ref, actorName(id, in.Actor))
		}),
		define(Operation{
			Name: "get_changeset", Method: http.MethodGet, Path: "/v1/changesets/{ref}",
			Scope: types.RoleAgent, ReadOnly: true,
			Summary: "Fetch one changeset with its ops and status.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *changesetRefIn) (any, error) {
			cs, err := coord.GetChangeset(ctx, in.Ref)
			if err != nil {
				return nil, err
			}
			if err := requireProject(id, cs.ProjectID); err != nil {
				return nil, err
			}
			return cs, nil
		}),
		define(Operation{
			Name: "list_changesets", Method: http.MethodGet, Path: "/v1/projects/{ref}/changesets",
			Scope: types.RoleAgent, ReadOnly: true,
			Summary: "List a project's changesets, optionally by status.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *listChangesetsIn) (any, error) {
			if _, err := guardProject(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.ListChangesets(ctx, in.Ref, in.Status)
		}),
	}
}

func guardChangeset(ctx context.Context, coord *core.Coordinator, id *types.Identity, ref string) error {
	cs, err := coord.GetChangeset(ctx, ref)
	if err != nil {
		return err
	}
	return requireProject(id, cs.ProjectID)
}
