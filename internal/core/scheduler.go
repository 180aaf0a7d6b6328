package core

import (
	"context"
	"sort"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// ReadyQuery narrows a list_ready_tasks call.
type ReadyQuery struct {
	// Actor sees its own reservations at the head of the list. Other
	// agents' reserved tasks are hidden unless IncludeReserved.
	Actor string
	// Capabilities filters tasks to those the caller can execute. Nil
	// means no filter; an empty non-nil set only matches tasks with no
	// capability requirements.
	Capabilities types.Capabilities
	// IncludeReserved exposes every reservation (planner/operator view).
	IncludeReserved bool
	Limit           int
}

// DefaultReadyLimit bounds list_ready_tasks when no limit is given.
const DefaultReadyLimit = 20

// ListReady returns the schedulable frontier of a project: ready tasks plus
// the caller's reservations, ordered so that the first entry is the one the
// caller should claim. Order is deterministic: the caller's reservations
// first, then priority, then exclusive-path contention (fewer in-flight
// tasks touching the same paths first), then age, then short ID.
func (c *Coordinator) ListReady(ctx context.Context, projectRef string, q ReadyQuery) ([]*types.ReadyTask, error) {
	p, err := c.store.GetProject(ctx, projectRef)
	if err != nil {
		return nil, err
	}
	return c.readyTasksLocked(ctx, c.store, p, q)
}

func (c *Coordinator) readyTasksLocked(ctx context.Context, r storage.Reader, p *types.Project, q ReadyQuery) ([]*types.ReadyTask, error) {
	rows, err := r.ReadyTasks(ctx, p.ID, true)
	if err != nil {
		return nil, err
	}

	contention, err := contentionIndex(ctx, r, p.ID)
	if err != nil {
		return nil, err
	}

	var out []*types.ReadyTask
	for _, row := range rows {
		if row.ReservedFor != "" && row.ReservedFor != q.Actor && !q.IncludeReserved {
			continue
		}
		if q.Capabilities != nil && !q.Capabilities.Covers(row.Task.Capabilities) {
			continue
		}
		row.Contention = contention.count(row.Task.WorkSpec)
		out = append(out, row)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aMine := a.ReservedFor != "" && a.ReservedFor == q.Actor
		bMine := b.ReservedFor != "" && b.ReservedFor == q.Actor
		if aMine != bMine {
			return aMine
		}
		if a.Task.Priority != b.Task.Priority {
			return a.Task.Priority < b.Task.Priority
		}
		if a.Contention != b.Contention {
			return a.Contention < b.Contention
		}
		if !a.Task.CreatedAt.Equal(b.Task.CreatedAt) {
			return a.Task.CreatedAt.Before(b.Task.CreatedAt)
		}
		return a.Task.ShortID < b.Task.ShortID
	})

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultReadyLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// pathIndex counts in-flight tasks per exclusive path so the scheduler can
// steer agents away from files already being worked on.
type pathIndex struct {
	inFlight []map[string]bool // one path set per in-flight task
}

func contentionIndex(ctx context.Context, r storage.Reader, projectID string) (*pathIndex, error) {
	tasks, err := r.ListTasks(ctx, types.TaskFilter{
		ProjectID: projectID,
		States:    []types.TaskState{types.StateClaimed, types.StateInProgress},
	})
	if err != nil {
		return nil, err
	}
	idx := &pathIndex{}
	for _, t := range tasks {
		paths := exclusivePaths(t.WorkSpec)
		if len(paths) > 0 {
			idx.inFlight = append(idx.inFlight, paths)
		}
	}
	return idx, nil
}

// count returns how many in-flight tasks share at least one exclusive path
// with the given work spec. Paths compare as exact strings.
func (x *pathIndex) count(workSpec []byte) int {
	paths := exclusivePaths(workSpec)
	if len(paths) == 0 {
		return 0
	}
	n := 0
	for _, other := range x.inFlight {
		for p := range paths {
			if other[p] {
				n++
				break
			}
		}
	}
	return n
}

func exclusivePaths(raw []byte) map[string]bool {
	if len(raw) == 0 {
		return nil
	}
	ws, err := types.ParseWorkSpec(raw)
	if err != nil {
		return nil
	}
	if len(ws.ExclusivePaths) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ws.ExclusivePaths))
	for _, p := range ws.ExclusivePaths {
		set[p] = true
	}
	return set
}
