package core

import (
	"testing"

	"github.com/tascade/tascade/internal/types"
)

func TestDependencyGating(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("chains")
	m := env.Milestone(p, "m")
	schema := env.Task(m, "schema")
	api := env.Task(m, "api")

	env.Dep(schema, api)
	if got := env.Reload(api); got.State != types.StateBacklog {
		t.Fatalf("dependent state = %s, want backlog (prerequisite unsatisfied)", got.State)
	}

	env.Implement(schema, "agent-ada")
	if got := env.Reload(api); got.State != types.StateReady {
		t.Fatalf("dependent state after prerequisite implemented = %s, want ready", got.State)
	}
	if !hasEvent(env.Events(p), types.EventDependencyCreated) {
		t.Error("missing dependency.created event")
	}
}

func TestUnlockOnIntegrated(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("strict-unlock")
	m := env.Milestone(p, "m")
	base := env.Task(m, "base")
	follow := env.Task(m, "follow")

	if _, err := env.Coord.AddDependency(env.Ctx, base.ID, follow.ID, types.UnlockOnIntegrated, "planner"); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}

	env.Implement(base, "agent-ada")
	if got := env.Reload(follow); got.State != types.StateBacklog {
		t.Fatalf("state = %s, want backlog (unlock_on=integrated not met by implemented)", got.State)
	}

	env.Integrate(env.Reload(base))
	if got := env.Reload(follow); got.State != types.StateReady {
		t.Fatalf("state = %s, want ready after integration", got.State)
	}
}

func TestDependencyCycleRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("cycles")
	m := env.Milestone(p, "m")
	a := env.Task(m, "a")
	b := env.Task(m, "b")
	c := env.Task(m, "c")
	env.Dep(a, b)
	env.Dep(b, c)

	_, err := env.Coord.AddDependency(env.Ctx, c.ID, a.ID, types.UnlockOnImplemented, "planner")
	if !types.IsCode(err, types.ErrDependencyCycle) {
		t.Fatalf("closing the loop error = %v, want DEPENDENCY_CYCLE", err)
	}
	_, err = env.Coord.AddDependency(env.Ctx, a.ID, a.ID, types.UnlockOnImplemented, "planner")
	if !types.IsCode(err, types.ErrDependencyCycle) {
		t.Fatalf("self edge error = %v, want DEPENDENCY_CYCLE", err)
	}
}

func TestAddDependencyIdempotent(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("dup-edges")
	m := env.Milestone(p, "m")
	a := env.Task(m, "a")
	b := env.Task(m, "b")

	d1, err := env.Coord.AddDependency(env.Ctx, a.ID, b.ID, types.UnlockOnImplemented, "planner")
	if err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}
	d2, err := env.Coord.AddDependency(env.Ctx, a.ID, b.ID, types.UnlockOnImplemented, "planner")
	if err != nil {
		t.Fatalf("repeat AddDependency failed: %v", err)
	}
	if d1.ID != d2.ID {
		t.Errorf("identical edge created twice: %s vs %s", d1.ID, d2.ID)
	}

	// Same edge with a different threshold is a conflict, not an upsert.
	_, err = env.Coord.AddDependency(env.Ctx, a.ID, b.ID, types.UnlockOnIntegrated, "planner")
	if !types.IsCode(err, types.ErrConflict) {
		t.Errorf("threshold change error = %v, want CONFLICT", err)
	}
}

func TestDependencyAddInvalidatesIdleClaim(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("invalidation")
	m := env.Milestone(p, "m")
	task := env.Task(m, "moving target")
	prereq := env.Task(m, "late prerequisite")

	res := env.Claim(task, "agent-ada")
	env.Dep(prereq, task)

	got := env.Reload(task)
	if got.State != types.StateBacklog {
		t.Fatalf("state = %s, want backlog (edge added under an idle claim)", got.State)
	}
	if _, err := env.Coord.Heartbeat(env.Ctx, res.Lease.Token, 0); !types.IsCode(err, types.ErrLeaseStale) {
		t.Errorf("heartbeat after invalidation = %v, want LEASE_STALE", err)
	}
	if !hasEvent(env.Events(p), types.EventLeaseInvalidated) {
		t.Error("missing lease.invalidated event")
	}
}

func TestDependencyAddDoesNotInterruptActiveWork(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("in-flight")
	m := env.Milestone(p, "m")
	task := env.Task(m, "committed")
	prereq := env.Task(m, "afterthought")

	res := env.StartWork(task, "agent-ada")
	env.Dep(prereq, task)

	// In-progress work is not yanked; the divergence is flagged instead.
	got := env.Reload(task)
	if got.State != types.StateInProgress {
		t.Fatalf("state = %s, want in_progress (active work is never interrupted)", got.State)
	}
	if _, err := env.Coord.Heartbeat(env.Ctx, res.Lease.Token, 0); err != nil {
		t.Errorf("heartbeat failed after planning change: %v", err)
	}
	if !hasEvent(env.Events(p), types.EventTaskPlanDivergence) {
		t.Error("missing task.plan_divergence event")
	}
}

func TestRemoveDependencyPromotes(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("unchain")
	m := env.Milestone(p, "m")
	a := env.Task(m, "a")
	b := env.Task(m, "b")
	env.Dep(a, b)

	if err := env.Coord.RemoveDependency(env.Ctx, a.ID, b.ID, "planner"); err != nil {
		t.Fatalf("RemoveDependency failed: %v", err)
	}
	if got := env.Reload(b); got.State != types.StateReady {
		t.Fatalf("state after edge removal = %s, want ready", got.State)
	}
	if err := env.Coord.RemoveDependency(env.Ctx, a.ID, b.ID, "planner"); !types.IsCode(err, types.ErrNotFound) {
		t.Errorf("removing a missing edge = %v, want NOT_FOUND", err)
	}
}

func TestDependenciesView(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("views")
	m := env.Milestone(p, "m")
	a := env.Task(m, "a")
	b := env.Task(m, "b")
	c := env.Task(m, "c")
	env.Dep(a, b)
	env.Dep(b, c)

	deps, err := env.Coord.Dependencies(env.Ctx, b.ID)
	if err != nil {
		t.Fatalf("Dependencies failed: %v", err)
	}
	if len(deps.DependsOn) != 1 || deps.DependsOn[0].Task.ID != a.ID {
		t.Errorf("DependsOn = %+v, want [%s]", deps.DependsOn, a.ShortID)
	}
	if len(deps.RequiredBy) != 1 || deps.RequiredBy[0].Task.ID != c.ID {
		t.Errorf("RequiredBy = %+v, want [%s]", deps.RequiredBy, c.ShortID)
	}
}
