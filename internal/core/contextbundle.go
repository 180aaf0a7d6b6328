package core

import (
	"context"
	"sort"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// TaskContext assembles the working context an agent needs before touching
// a task, in one call: ancestors out to the requested depth, direct and
// transitive dependents, unsatisfied blockers, milestone siblings, gate
// status, artifacts, and the task's recent events. All reads happen against
// one reader so the bundle is internally consistent.
func (c *Coordinator) TaskContext(ctx context.Context, taskRef string, opts types.ContextOptions) (*types.ContextBundle, error) {
	opts = opts.Normalize()

	task, err := c.store.GetTask(ctx, taskRef)
	if err != nil {
		return nil, err
	}
	project, err := c.store.GetProject(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}
	milestone, err := c.store.GetMilestone(ctx, task.MilestoneID)
	if err != nil {
		return nil, err
	}
	bundle := &types.ContextBundle{
		Task:      *task,
		Project:   *project,
		Milestone: *milestone,
	}
	if milestone.PhaseID != "" {
		phase, err := c.store.GetPhase(ctx, milestone.PhaseID)
		if err != nil {
			return nil, err
		}
		bundle.Phase = phase
	}
	if snap, err := c.store.LatestSnapshot(ctx, task.ID); err != nil {
		return nil, err
	} else if snap != nil {
		bundle.Snapshot = snap
	}

	budget := opts.MaxNodes
	walker := &contextWalker{store: c.store, seen: map[string]bool{task.ID: true}}

	bundle.Ancestors, err = walker.walk(ctx, task.ID, opts.AncestorDepth, &budget, true)
	if err != nil {
		return nil, err
	}
	bundle.Dependents, err = walker.walk(ctx, task.ID, opts.DependentDepth, &budget, false)
	if err != nil {
		return nil, err
	}
	bundle.Truncated = walker.truncated

	// Blockers are the unsatisfied subset of direct ancestors, surfaced
	// separately so agents need not re-derive them.
	for _, edge := range bundle.Ancestors {
		if edge.Depth == 1 && !edge.Satisfied {
			bundle.Blockers = append(bundle.Blockers, edge)
		}
	}

	siblings, err := c.store.TasksInMilestone(ctx, task.MilestoneID)
	if err != nil {
		return nil, err
	}
	for _, s := range siblings {
		if s.ID == task.ID {
			continue
		}
		bundle.Siblings = append(bundle.Siblings, s.Summarize())
	}
	sort.Slice(bundle.Siblings, func(i, j int) bool {
		return bundle.Siblings[i].ShortID < bundle.Siblings[j].ShortID
	})

	gates, err := c.GateStatuses(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	bundle.Gates = gates

	artifacts, err := c.store.ListArtifacts(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	for _, a := range artifacts {
		bundle.Artifacts = append(bundle.Artifacts, *a)
	}

	events, err := c.store.EventsForEntity(ctx, task.ID, opts.EventLimit)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		bundle.Events = append(bundle.Events, *e)
	}
	return bundle, nil
}

// contextWalker runs bounded breadth-first traversals over the dependency
// graph. A task already visited in either direction is not revisited, and
// the shared node budget spans both traversals.
type contextWalker struct {
	store     storage.Reader
	seen      map[string]bool
	truncated bool
}

// walk returns edges out to depth layers. up walks prerequisites
// (ancestors); down walks dependents. Layers are ordered breadth-first,
// then by short ID within a layer.
func (w *contextWalker) walk(ctx context.Context, rootID string, depth int, budget *int, up bool) ([]types.ContextEdge, error) {
	var out []types.ContextEdge
	frontier := []string{rootID}
	for layer := 1; layer <= depth && len(frontier) > 0; layer++ {
		var edges []types.ContextEdge
		var next []string
		for _, id := range frontier {
			var deps []*types.Dependency
			var err error
			if up {
				deps, err = w.store.ListDependenciesTo(ctx, id)
			} else {
				deps, err = w.store.ListDependenciesFrom(ctx, id)
			}
			if err != nil {
				return nil, err
			}
			for _, d := range deps {
				otherID := d.FromTaskID
				if !up {
					otherID = d.ToTaskID
				}
				if w.seen[otherID] {
					continue
				}
				if *budget <= 0 {
					w.truncated = true
					continue
				}
				other, err := w.store.GetTask(ctx, otherID)
				if err != nil {
					return nil, err
				}
				w.seen[otherID] = true
				*budget--
				satisfied := d.UnlockOn.Satisfied(other.State)
				if !up {
					// For dependents the threshold is on the root side;
					// satisfaction is not knowable from the dependent alone,
					// so report the edge's current state from its prereq.
					prereq, err := w.store.GetTask(ctx, d.FromTaskID)
					if err != nil {
						return nil, err
					}
					satisfied = d.UnlockOn.Satisfied(prereq.State)
				}
				edges = append(edges, types.ContextEdge{
					Task:      other.Summarize(),
					UnlockOn:  d.UnlockOn,
					Satisfied: satisfied,
					Depth:     layer,
				})
				next = append(next, otherID)
			}
		}
		sort.Slice(edges, func(i, j int) bool { return edges[i].Task.ShortID < edges[j].Task.ShortID })
		out = append(out, edges...)
		frontier = next
	}
	return out, nil
}
