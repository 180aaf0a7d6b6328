package core

import (
	"testing"

	"github.com/tascade/tascade/internal/types"
)

func TestTaskContextBundle(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("mapped")
	m := env.Milestone(p, "m")

	// a -> b -> target <- c, then target -> d -> e.
	a := env.Task(m, "a")
	b := env.Task(m, "b")
	c := env.Task(m, "c")
	target := env.Task(m, "target")
	d := env.Task(m, "d")
	e := env.Task(m, "e")
	env.Dep(a, b)
	env.Dep(b, target)
	env.Dep(c, target)
	env.Dep(target, d)
	env.Dep(d, e)

	bundle, err := env.Coord.TaskContext(env.Ctx, target.ID, types.ContextOptions{})
	if err != nil {
		t.Fatalf("TaskContext failed: %v", err)
	}
	if bundle.Task.ID != target.ID || bundle.Project.ID != p.ID || bundle.Milestone.ID != m.ID {
		t.Error("bundle lost its anchors")
	}

	// Default depths: two layers up, one layer down.
	if len(bundle.Ancestors) != 3 {
		t.Fatalf("ancestors = %d, want b, c, and a", len(bundle.Ancestors))
	}
	if bundle.Ancestors[0].Depth != 1 || bundle.Ancestors[1].Depth != 1 || bundle.Ancestors[2].Depth != 2 {
		t.Errorf("ancestor layering wrong: %+v", bundle.Ancestors)
	}
	if bundle.Ancestors[2].Task.ID != a.ID {
		t.Errorf("second layer = %s, want a", bundle.Ancestors[2].Task.ShortID)
	}
	if len(bundle.Dependents) != 1 || bundle.Dependents[0].Task.ID != d.ID {
		t.Errorf("dependents = %+v, want d only at default depth", bundle.Dependents)
	}
	for _, edge := range bundle.Dependents {
		if edge.Task.ID == e.ID {
			t.Error("default dependent depth must not reach the second layer")
		}
	}

	// Neither prerequisite is implemented, so both block.
	if len(bundle.Blockers) != 2 {
		t.Errorf("blockers = %d, want both direct prerequisites", len(bundle.Blockers))
	}
	for _, edge := range bundle.Blockers {
		if edge.Satisfied {
			t.Errorf("blocker %s marked satisfied", edge.Task.ShortID)
		}
	}

	// Siblings: everything else in the milestone.
	if len(bundle.Siblings) != 5 {
		t.Errorf("siblings = %d, want 5", len(bundle.Siblings))
	}
	for _, s := range bundle.Siblings {
		if s.ID == target.ID {
			t.Error("task listed as its own sibling")
		}
	}

	if bundle.Snapshot != nil {
		t.Error("unclaimed task should have no execution snapshot")
	}
	if bundle.Truncated {
		t.Error("small graph should not truncate")
	}
	if len(bundle.Events) == 0 {
		t.Error("bundle should carry the task's recent events")
	}
}

func TestTaskContextBlockersClear(t *testing.T) {
	env := newTestEnv(t)
	m := env.Milestone(env.Project("unblocking"), "m")
	x := env.Task(m, "x")
	y := env.Task(m, "y")
	env.Dep(x, y)

	bundle, err := env.Coord.TaskContext(env.Ctx, y.ID, types.ContextOptions{})
	if err != nil {
		t.Fatalf("TaskContext failed: %v", err)
	}
	if len(bundle.Blockers) != 1 || bundle.Blockers[0].Task.ID != x.ID {
		t.Fatalf("blockers = %+v, want x", bundle.Blockers)
	}

	env.Implement(x, "agent-ada")
	bundle, err = env.Coord.TaskContext(env.Ctx, y.ID, types.ContextOptions{})
	if err != nil {
		t.Fatalf("TaskContext failed: %v", err)
	}
	if len(bundle.Blockers) != 0 {
		t.Errorf("blockers after implement = %+v, want none", bundle.Blockers)
	}
	if len(bundle.Ancestors) != 1 || !bundle.Ancestors[0].Satisfied {
		t.Errorf("ancestor edge should be satisfied: %+v", bundle.Ancestors)
	}
}

func TestTaskContextDepthAndBudget(t *testing.T) {
	env := newTestEnv(t)
	m := env.Milestone(env.Project("chained"), "m")

	chain := make([]*types.Task, 5)
	for i := range chain {
		chain[i] = env.Task(m, "link")
		if i > 0 {
			env.Dep(chain[i-1], chain[i])
		}
	}
	tail := chain[4]

	bundle, err := env.Coord.TaskContext(env.Ctx, tail.ID, types.ContextOptions{AncestorDepth: 1})
	if err != nil {
		t.Fatalf("TaskContext failed: %v", err)
	}
	if len(bundle.Ancestors) != 1 {
		t.Errorf("depth 1 ancestors = %d, want the direct prerequisite only", len(bundle.Ancestors))
	}

	// Depth beyond the clamp still resolves the whole chain.
	bundle, err = env.Coord.TaskContext(env.Ctx, tail.ID, types.ContextOptions{AncestorDepth: 9})
	if err != nil {
		t.Fatalf("TaskContext failed: %v", err)
	}
	if len(bundle.Ancestors) != 4 {
		t.Errorf("deep ancestors = %d, want the full chain", len(bundle.Ancestors))
	}
	if bundle.Truncated {
		t.Error("chain fits the default node budget")
	}

	// A tight node budget cuts the walk and says so.
	bundle, err = env.Coord.TaskContext(env.Ctx, tail.ID, types.ContextOptions{AncestorDepth: 5, MaxNodes: 2})
	if err != nil {
		t.Fatalf("TaskContext failed: %v", err)
	}
	if len(bundle.Ancestors) != 2 {
		t.Errorf("budgeted ancestors = %d, want 2", len(bundle.Ancestors))
	}
	if !bundle.Truncated {
		t.Error("budget cut should set truncated")
	}
}

func TestTaskContextCarriesWorkState(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("loaded")
	m := env.Milestone(p, "m")
	reviewRule(t, env, p, "all", types.TriggerTaskImplemented, types.GateMatch{})

	target := env.Task(m, "observed")
	follower := env.Task(m, "follower")
	env.Dep(target, follower)
	env.Implement(target, "agent-ada")

	bundle, err := env.Coord.TaskContext(env.Ctx, target.ID, types.ContextOptions{EventLimit: 3})
	if err != nil {
		t.Fatalf("TaskContext failed: %v", err)
	}
	if bundle.Snapshot == nil || bundle.Snapshot.WorkSpecHash == "" {
		t.Error("worked task should carry its execution snapshot")
	}
	if len(bundle.Artifacts) != 1 {
		t.Errorf("artifacts = %d, want the branch from the work", len(bundle.Artifacts))
	}
	if len(bundle.Gates) != 1 {
		t.Errorf("gates = %d, want the covering review gate", len(bundle.Gates))
	}
	if len(bundle.Events) > 3 {
		t.Errorf("events = %d, want at most the requested limit", len(bundle.Events))
	}

	// The dependent edge reports satisfaction from the prerequisite side.
	if len(bundle.Dependents) != 1 || !bundle.Dependents[0].Satisfied {
		t.Errorf("dependents = %+v, want follower satisfied", bundle.Dependents)
	}
}
