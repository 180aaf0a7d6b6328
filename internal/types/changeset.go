package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChangesetStatus enumerates changeset lifecycle states.
type ChangesetStatus string

const (
	ChangesetDraft     ChangesetStatus = "draft"
	ChangesetValidated ChangesetStatus = "validated"
	ChangesetApplied   ChangesetStatus = "applied"
	ChangesetRejected  ChangesetStatus = "rejected"
)

// Changeset is an ordered batch of plan operations authored against a
// recorded plan version. Applying a changeset is the only way the project
// plan version advances.
type Changeset struct {
	ID              string            `json:"id"`
	ShortID         string            `json:"short_id"`
	ProjectID       string            `json:"project_id"`
	BasePlanVersion int64             `json:"base_plan_version"`
	Status          ChangesetStatus   `json:"status"`
	Author          string            `json:"author"`
	Title           string            `json:"title"`
	Ops             []PlanOp          `json:"ops"`
	Validation      *ValidationReport `json:"validation,omitempty"`
	AppliedVersion  int64             `json:"applied_plan_version,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Plan operation kinds.
const (
	OpAddTask          = "add_task"
	OpUpdateTask       = "update_task"
	OpRemoveTask       = "remove_task"
	OpAddDependency    = "add_dependency"
	OpRemoveDependency = "remove_dependency"
	OpAddMilestone     = "add_milestone"
	OpReorder          = "reorder"
	OpRetarget         = "retarget"
)

// PlanOp is one step of a changeset: a tagged union discriminated by Op.
// Only the fields relevant to the op kind are set.
type PlanOp struct {
	Op string `json:"op"`

	// Targets. Task/Milestone/Phase accept short IDs or opaque IDs; ops
	// inside one changeset may also target tasks created by earlier
	// add_task ops through the Alias they declared.
	Task      string `json:"task,omitempty"`
	Milestone string `json:"milestone,omitempty"`
	Phase     string `json:"phase,omitempty"`

	// add_task fields. Alias lets later ops in the same changeset refer
	// to the not-yet-created task.
	Alias        string          `json:"alias,omitempty"`
	Title        string          `json:"title,omitempty"`
	Description  *string         `json:"description,omitempty"`
	Class        TaskClass       `json:"task_class,omitempty"`
	Priority     *int            `json:"priority,omitempty"`
	Capabilities *Capabilities   `json:"capabilities,omitempty"`
	WorkSpec     json.RawMessage `json:"work_spec,omitempty"`

	// add_dependency / remove_dependency fields.
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
	UnlockOn UnlockOn `json:"unlock_on,omitempty"`

	// add_milestone / reorder fields.
	Name     string `json:"name,omitempty"`
	Sequence *int   `json:"sequence,omitempty"`
}

// ValidateShape checks op-kind structural requirements before any graph
// lookup. Unknown kinds are INVARIANT_VIOLATION with sub-code
// UNKNOWN_PLAN_OP so stale clients fail loudly rather than silently.
func (p *PlanOp) ValidateShape() error {
	switch p.Op {
	case OpAddTask:
		if p.Milestone == "" || p.Title == "" {
			return NewError(ErrInvariantViolation, "add_task requires milestone and title")
		}
		if len(p.WorkSpec) == 0 {
			return NewError(ErrInvalidWorkSpec, "add_task requires a work_spec")
		}
	case OpUpdateTask:
		if p.Task == "" {
			return NewError(ErrInvariantViolation, "update_task requires a task reference")
		}
	case OpRemoveTask:
		if p.Task == "" {
			return NewError(ErrInvariantViolation, "remove_task requires a task reference")
		}
	case OpAddDependency, OpRemoveDependency:
		if p.From == "" || p.To == "" {
			return NewError(ErrInvariantViolation, "%s requires from and to", p.Op)
		}
		if p.Op == OpAddDependency && p.UnlockOn != "" && !ValidUnlockOn(p.UnlockOn) {
			return NewError(ErrInvariantViolation, "unknown unlock_on %q", p.UnlockOn)
		}
	case OpAddMilestone:
		if p.Name == "" {
			return NewError(ErrInvariantViolation, "add_milestone requires a name")
		}
	case OpReorder:
		if p.Task == "" && p.Milestone == "" {
			return NewError(ErrInvariantViolation, "reorder requires a task or milestone target")
		}
		if p.Task != "" && p.Priority == nil {
			return NewError(ErrInvariantViolation, "reorder of a task requires priority")
		}
		if p.Task == "" && p.Sequence == nil {
			return NewError(ErrInvariantViolation, "reorder of a milestone requires sequence")
		}
	case OpRetarget:
		if p.Task == "" || p.Milestone == "" {
			return NewError(ErrInvariantViolation, "retarget requires task and milestone")
		}
	default:
		return NewError(ErrInvariantViolation, "unknown plan op %q", p.Op).WithSub(SubUnknownPlanOp)
	}
	return nil
}

// Material reports whether this op, considered alone, is a material plan
// change for the task it targets. update_task materiality additionally
// depends on which fields change; the changeset engine resolves that
// against the live row.
func (p *PlanOp) Material() bool {
	switch p.Op {
	case OpAddDependency, OpRemoveDependency, OpRemoveTask, OpRetarget:
		return true
	case OpAddTask, OpAddMilestone, OpReorder:
		return false
	case OpUpdateTask:
		return p.WorkSpec != nil || p.Capabilities != nil || p.Class != ""
	}
	return false
}

// Describe renders a one-line human summary of the op.
func (p *PlanOp) Describe() string {
	switch p.Op {
	case OpAddTask:
		return fmt.Sprintf("add task %q to %s", p.Title, p.Milestone)
	case OpUpdateTask:
		return fmt.Sprintf("update task %s", p.Task)
	case OpRemoveTask:
		return fmt.Sprintf("remove task %s", p.Task)
	case OpAddDependency:
		return fmt.Sprintf("add dependency %s -> %s", p.From, p.To)
	case OpRemoveDependency:
		return fmt.Sprintf("remove dependency %s -> %s", p.From, p.To)
	case OpAddMilestone:
		return fmt.Sprintf("add milestone %q", p.Name)
	case OpReorder:
		if p.Task != "" {
			return fmt.Sprintf("reorder task %s", p.Task)
		}
		return fmt.Sprintf("reorder milestone %s", p.Milestone)
	case OpRetarget:
		return fmt.Sprintf("retarget task %s to %s", p.Task, p.Milestone)
	}
	return p.Op
}

// ValidationReport is the outcome of validating (or applying) a changeset.
type ValidationReport struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
	Impact Impact   `json:"impact"`
}

// Impact previews what applying the changeset would do to the graph.
// Task references are short IDs; aliases are used for tasks the changeset
// itself creates.
type Impact struct {
	NewTasks          []string `json:"new_tasks,omitempty"`
	RemovedTasks      []string `json:"removed_tasks,omitempty"`
	NewlyReady        []string `json:"newly_ready,omitempty"`
	NewlyBlocked      []string `json:"newly_blocked,omitempty"`
	InvalidatedClaims []string `json:"invalidated_claims,omitempty"`
	MateriallyChanged []string `json:"materially_changed,omitempty"`
}
