package core

import (
	"context"
	"sort"
	"strings"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// CreateTaskInput carries everything create_task accepts. Material planning
// fields are set here once; later material edits go through changesets.
type CreateTaskInput struct {
	MilestoneRef string
	Title        string
	Description  string
	Class        types.TaskClass
	Priority     *int
	Capabilities types.Capabilities
	WorkSpec     []byte
	Actor        string
}

// CreateTask adds a task in backlog state and immediately promotes it to
// ready when it has no unsatisfied prerequisites (a new task has none).
func (c *Coordinator) CreateTask(ctx context.Context, in CreateTaskInput) (*types.Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, types.NewError(types.ErrInvariantViolation, "task title is required")
	}
	class := in.Class
	if class == "" {
		class = types.ClassImplementation
	}
	if !types.ValidTaskClass(class) {
		return nil, types.NewError(types.ErrInvalidTaskClass, "unknown task class %q", class)
	}
	if class.IsGateClass() {
		return nil, types.NewError(types.ErrInvalidTaskClass, "gate tasks are created by gate rules, not directly")
	}
	if _, err := types.ParseWorkSpec(in.WorkSpec); err != nil {
		return nil, err
	}
	priority := types.DefaultPriority
	if in.Priority != nil {
		priority = *in.Priority
	}

	task := &types.Task{
		ID:           newID(),
		Title:        in.Title,
		Description:  in.Description,
		Class:        class,
		Priority:     priority,
		Capabilities: types.NormalizeCapabilities(in.Capabilities),
		WorkSpec:     in.WorkSpec,
	}
	err := c.write(ctx, func(tx storage.Transaction) error {
		m, err := tx.GetMilestone(ctx, in.MilestoneRef)
		if err != nil {
			return err
		}
		p, err := mutableProject(ctx, tx, m.ProjectID)
		if err != nil {
			return err
		}
		task.MilestoneID = m.ID
		if err := tx.CreateTask(ctx, task); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, p.ID, "task", task.ID, types.EventTaskCreated, in.Actor, map[string]any{
			"short_id":  task.ShortID,
			"title":     task.Title,
			"state":     task.State,
			"milestone": m.ShortID,
		}); err != nil {
			return err
		}
		// Born with no edges: straight to ready.
		return setState(ctx, tx, task, types.StateReady, p.PlanVersion, in.Actor, "", false)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask resolves ref (opaque ID or P<n>.M<m>.T<t>).
func (c *Coordinator) GetTask(ctx context.Context, ref string) (*types.Task, error) {
	return c.store.GetTask(ctx, ref)
}

// ListTasks returns tasks matching filter. Filter.ProjectID accepts a ref.
func (c *Coordinator) ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error) {
	if filter.ProjectID != "" {
		p, err := c.store.GetProject(ctx, filter.ProjectID)
		if err != nil {
			return nil, err
		}
		filter.ProjectID = p.ID
	}
	if filter.MilestoneID != "" {
		m, err := c.store.GetMilestone(ctx, filter.MilestoneID)
		if err != nil {
			return nil, err
		}
		filter.MilestoneID = m.ID
	}
	return c.store.ListTasks(ctx, filter)
}

// UpdateTaskInput carries the direct-edit fields of update_task. Nil fields
// are untouched.
type UpdateTaskInput struct {
	TaskRef     string
	Title       *string
	Description *string
	Priority    *int
	Actor       string

	// Material fields: rejected here, present so surfaces can report the
	// violation precisely instead of silently dropping them.
	Capabilities *types.Capabilities
	WorkSpec     []byte
	Class        types.TaskClass
}

// UpdateTask edits non-material task fields in place. Work spec,
// capabilities, and task class are material: changing them invalidates
// claims, so those edits must flow through a plan changeset where the
// blast radius is computed and recorded.
func (c *Coordinator) UpdateTask(ctx context.Context, in UpdateTaskInput) (*types.Task, error) {
	if in.Capabilities != nil || len(in.WorkSpec) > 0 || in.Class != "" {
		return nil, types.NewError(types.ErrInvariantViolation,
			"work_spec, capabilities, and task_class are material fields; submit a plan changeset").
			WithSub(types.SubMaterialField)
	}
	var out *types.Task
	err := c.write(ctx, func(tx storage.Transaction) error {
		task, err := tx.GetTask(ctx, in.TaskRef)
		if err != nil {
			return err
		}
		if _, err := mutableProject(ctx, tx, task.ProjectID); err != nil {
			return err
		}
		if task.State.IsTerminal() {
			return types.NewError(types.ErrInvariantViolation, "task %s is %s", task.ShortID, task.State)
		}
		updates := map[string]any{}
		if in.Title != nil {
			if strings.TrimSpace(*in.Title) == "" {
				return types.NewError(types.ErrInvariantViolation, "task title is required")
			}
			updates["title"] = *in.Title
			task.Title = *in.Title
		}
		if in.Description != nil {
			updates["description"] = *in.Description
			task.Description = *in.Description
		}
		if in.Priority != nil {
			updates["priority"] = *in.Priority
			task.Priority = *in.Priority
		}
		if len(updates) == 0 {
			out = task
			return nil
		}
		if err := tx.UpdateTaskFields(ctx, task.ID, updates); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, task.ProjectID, "task", task.ID, types.EventTaskUpdated, in.Actor, map[string]any{
			"fields": updateKeys(updates),
		}); err != nil {
			return err
		}
		out = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func updateKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
