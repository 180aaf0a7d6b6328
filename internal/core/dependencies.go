package core

import (
	"context"
	"time"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// TaskDependencies is the edge view around one task.
type TaskDependencies struct {
	Task       types.TaskSummary   `json:"task"`
	DependsOn  []types.ContextEdge `json:"depends_on,omitempty"`
	RequiredBy []types.ContextEdge `json:"required_by,omitempty"`
}

// AddDependency creates the edge from -> to: "to" may not start until
// "from" satisfies unlockOn. Adding an edge is a material change for the
// dependent, so idle claims on it are invalidated the same way a replan
// would invalidate them.
func (c *Coordinator) AddDependency(ctx context.Context, fromRef, toRef string, unlockOn types.UnlockOn, actor string) (*types.Dependency, error) {
	if unlockOn == "" {
		unlockOn = types.UnlockOnImplemented
	}
	if !types.ValidUnlockOn(unlockOn) {
		return nil, types.NewError(types.ErrInvariantViolation, "unknown unlock_on %q", unlockOn)
	}
	var out *types.Dependency
	err := c.write(ctx, func(tx storage.Transaction) error {
		from, err := tx.GetTask(ctx, fromRef)
		if err != nil {
			return err
		}
		to, err := tx.GetTask(ctx, toRef)
		if err != nil {
			return err
		}
		if from.ID == to.ID {
			return types.NewError(types.ErrDependencyCycle, "task %s cannot depend on itself", to.ShortID)
		}
		if from.ProjectID != to.ProjectID {
			return types.NewError(types.ErrInvariantViolation, "dependencies cannot cross projects")
		}
		p, err := mutableProject(ctx, tx, to.ProjectID)
		if err != nil {
			return err
		}
		if to.State.IsTerminal() {
			return types.NewError(types.ErrInvariantViolation, "task %s is %s", to.ShortID, to.State)
		}
		if existing, err := tx.GetDependency(ctx, from.ID, to.ID); err != nil {
			return err
		} else if existing != nil {
			// Idempotent: the identical edge is a no-op.
			if existing.UnlockOn == unlockOn {
				out = existing
				return nil
			}
			return types.NewError(types.ErrConflict,
				"edge %s -> %s already exists with unlock_on=%s", from.ShortID, to.ShortID, existing.UnlockOn)
		}
		if cycle, err := tx.WouldCycle(ctx, p.ID, from.ID, to.ID); err != nil {
			return err
		} else if cycle {
			return types.NewError(types.ErrDependencyCycle,
				"edge %s -> %s would create a cycle", from.ShortID, to.ShortID)
		}
		d := &types.Dependency{
			ID:         newID(),
			ProjectID:  p.ID,
			FromTaskID: from.ID,
			ToTaskID:   to.ID,
			UnlockOn:   unlockOn,
			CreatedBy:  actor,
		}
		if err := tx.AddDependency(ctx, d); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, p.ID, "dependency", d.ID, types.EventDependencyCreated, actor, map[string]any{
			"from":      from.ShortID,
			"to":        to.ShortID,
			"unlock_on": unlockOn,
		}); err != nil {
			return err
		}
		if err := applyMaterialChange(ctx, tx, to, p.PlanVersion, "dependency added", actor); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveDependency deletes the edge from -> to. Removal is material for the
// dependent and may promote it to ready.
func (c *Coordinator) RemoveDependency(ctx context.Context, fromRef, toRef, actor string) error {
	return c.write(ctx, func(tx storage.Transaction) error {
		from, err := tx.GetTask(ctx, fromRef)
		if err != nil {
			return err
		}
		to, err := tx.GetTask(ctx, toRef)
		if err != nil {
			return err
		}
		p, err := mutableProject(ctx, tx, to.ProjectID)
		if err != nil {
			return err
		}
		existing, err := tx.GetDependency(ctx, from.ID, to.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return types.NotFound("dependency", from.ShortID+" -> "+to.ShortID)
		}
		if err := tx.RemoveDependency(ctx, from.ID, to.ID); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, p.ID, "dependency", existing.ID, types.EventDependencyRemoved, actor, map[string]any{
			"from": from.ShortID,
			"to":   to.ShortID,
		}); err != nil {
			return err
		}
		return applyMaterialChange(ctx, tx, to, p.PlanVersion, "dependency removed", actor)
	})
}

// Dependencies returns the edges around one task with live satisfaction.
func (c *Coordinator) Dependencies(ctx context.Context, taskRef string) (*TaskDependencies, error) {
	task, err := c.store.GetTask(ctx, taskRef)
	if err != nil {
		return nil, err
	}
	out := &TaskDependencies{Task: task.Summarize()}
	into, err := c.store.ListDependenciesTo(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	for _, d := range into {
		prereq, err := c.store.GetTask(ctx, d.FromTaskID)
		if err != nil {
			return nil, err
		}
		out.DependsOn = append(out.DependsOn, types.ContextEdge{
			Task:      prereq.Summarize(),
			UnlockOn:  d.UnlockOn,
			Satisfied: d.UnlockOn.Satisfied(prereq.State),
			Depth:     1,
		})
	}
	outEdges, err := c.store.ListDependenciesFrom(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	for _, d := range outEdges {
		dep, err := c.store.GetTask(ctx, d.ToTaskID)
		if err != nil {
			return nil, err
		}
		out.RequiredBy = append(out.RequiredBy, types.ContextEdge{
			Task:      dep.Summarize(),
			UnlockOn:  d.UnlockOn,
			Satisfied: d.UnlockOn.Satisfied(task.State),
			Depth:     1,
		})
	}
	return out, nil
}

// refreshTaskReadiness moves one task across the backlog/ready edge to match
// its prerequisite satisfaction. Other states are left alone.
func refreshTaskReadiness(ctx context.Context, tx storage.Transaction, task *types.Task, planVersion int64, actor string) error {
	satisfied, unsat, err := depsSatisfied(ctx, tx, task.ID)
	if err != nil {
		return err
	}
	switch {
	case task.State == types.StateBacklog && satisfied:
		return setState(ctx, tx, task, types.StateReady, planVersion, actor, "prerequisites satisfied", false)
	case task.State == types.StateReady && !satisfied:
		return setState(ctx, tx, task, types.StateBacklog, planVersion, actor, unsatRationale(unsat), false)
	}
	return nil
}

func unsatRationale(unsat []*types.Dependency) string {
	if len(unsat) == 0 {
		return ""
	}
	return "prerequisites unsatisfied"
}

// refreshDependents re-evaluates every task downstream of prereq after its
// state changed. Forward progress promotes backlog dependents; regression
// (implemented -> blocked, say) demotes or invalidates them. In-progress
// dependents are never touched: they execute their snapshot and learn about
// the divergence through heartbeat advisories.
func refreshDependents(ctx context.Context, tx storage.Transaction, prereq *types.Task, planVersion int64, actor string) error {
	edges, err := tx.ListDependenciesFrom(ctx, prereq.ID)
	if err != nil {
		return err
	}
	for _, edge := range edges {
		dep, err := tx.GetTask(ctx, edge.ToTaskID)
		if err != nil {
			return err
		}
		satisfied := edge.UnlockOn.Satisfied(prereq.State)
		switch dep.State {
		case types.StateBacklog, types.StateReady:
			if err := refreshTaskReadiness(ctx, tx, dep, planVersion, actor); err != nil {
				return err
			}
		case types.StateReserved, types.StateClaimed:
			if !satisfied {
				if err := applyMaterialChange(ctx, tx, dep, planVersion, "prerequisite "+prereq.ShortID+" regressed", actor); err != nil {
					return err
				}
			}
		case types.StateInProgress:
			if !satisfied {
				if err := appendEvent(ctx, tx, dep.ProjectID, "task", dep.ID, types.EventTaskPlanDivergence, actor, map[string]any{
					"reason": "prerequisite " + prereq.ShortID + " regressed to " + string(prereq.State),
				}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// applyMaterialChange is the claim-invalidation rule shared by replans,
// direct edge mutations, and prerequisite regressions:
//
//	reserved    -> reservation released, task re-evaluated to ready/backlog
//	claimed     -> lease invalidated, task re-evaluated to ready/backlog
//	in_progress -> untouched; a plan_divergence event is recorded instead
//
// Any other state passes through with at most a readiness refresh.
func applyMaterialChange(ctx context.Context, tx storage.Transaction, task *types.Task, planVersion int64, reason, actor string) error {
	switch task.State {
	case types.StateReserved:
		if err := releaseReservation(ctx, tx, task, types.ReservationReleased, reason, actor); err != nil {
			return err
		}
		if err := setState(ctx, tx, task, types.StateReady, planVersion, actor, reason, false); err != nil {
			return err
		}
		return refreshTaskReadiness(ctx, tx, task, planVersion, actor)
	case types.StateClaimed:
		if err := invalidateLease(ctx, tx, task, reason, actor); err != nil {
			return err
		}
		if err := setState(ctx, tx, task, types.StateReady, planVersion, actor, reason, false); err != nil {
			return err
		}
		return refreshTaskReadiness(ctx, tx, task, planVersion, actor)
	case types.StateInProgress:
		return appendEvent(ctx, tx, task.ProjectID, "task", task.ID, types.EventTaskPlanDivergence, actor, map[string]any{
			"reason": reason,
		})
	case types.StateBacklog, types.StateReady:
		return refreshTaskReadiness(ctx, tx, task, planVersion, actor)
	}
	return nil
}

// invalidateLease finishes the task's active lease, if any, recording a
// lease.invalidated event. Later writes carrying the dead token fail the
// fencing check.
func invalidateLease(ctx context.Context, tx storage.Transaction, task *types.Task, reason, actor string) error {
	lease, err := tx.ActiveLeaseForTask(ctx, task.ID)
	if err != nil {
		return err
	}
	if lease == nil {
		return nil
	}
	now := time.Now().UTC()
	if err := tx.FinishLease(ctx, lease.ID, types.LeaseReleased, reason, now); err != nil {
		return err
	}
	return appendEvent(ctx, tx, task.ProjectID, "lease", lease.ID, types.EventLeaseInvalidated, actor, types.LeasePayload{
		LeaseID: lease.ID,
		TaskID:  task.ID,
		Holder:  lease.Holder,
		Fencing: lease.Fencing,
		Status:  types.LeaseReleased,
		Reason:  reason,
	})
}

// releaseReservation finishes the task's active reservation, if any.
func releaseReservation(ctx context.Context, tx storage.Transaction, task *types.Task, status types.ReservationStatus, reason, actor string) error {
	res, err := tx.ActiveReservationForTask(ctx, task.ID)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	now := time.Now().UTC()
	if err := tx.FinishReservation(ctx, res.ID, status, now); err != nil {
		return err
	}
	typ := types.EventReservationReleased
	switch status {
	case types.ReservationExpired:
		typ = types.EventReservationExpired
	case types.ReservationConverted:
		typ = types.EventReservationConverted
	}
	return appendEvent(ctx, tx, task.ProjectID, "reservation", res.ID, typ, actor, types.ReservationPayload{
		ReservationID: res.ID,
		TaskID:        task.ID,
		Assignee:      res.Assignee,
		Status:        status,
		Reason:        reason,
	})
}
