package sqlite

import (
	"testing"

	"github.com/google/uuid"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

func TestWouldCycle(t *testing.T) {
	env := newTestEnv(t)
	p := env.CreateProject("cycles")
	m := env.CreateMilestone(p, "m")

	// a -> b -> c chain plus detached d.
	a := env.CreateTask(m, "a")
	b := env.CreateTask(m, "b")
	c := env.CreateTask(m, "c")
	d := env.CreateTask(m, "d")
	env.AddDep(a, b)
	env.AddDep(b, c)

	tests := []struct {
		name     string
		from, to *types.Task
		want     bool
	}{
		{"self edge", a, a, true},
		{"direct back edge", b, a, true},
		{"transitive back edge", c, a, true},
		{"forward edge duplicate direction", a, c, false},
		{"detached task", d, a, false},
		{"into detached task", c, d, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got bool
			env.Tx(func(tx storage.Transaction) error {
				var err error
				got, err = tx.WouldCycle(env.Ctx, p.ID, tt.from.ID, tt.to.ID)
				return err
			})
			if got != tt.want {
				t.Errorf("WouldCycle(%s -> %s) = %v, want %v", tt.from.Title, tt.to.Title, got, tt.want)
			}
		})
	}
}

func TestGetDependencyMissingEdgeIsNil(t *testing.T) {
	env := newTestEnv(t)
	m := env.CreateMilestone(env.CreateProject("edges"), "m")
	a := env.CreateTask(m, "a")
	b := env.CreateTask(m, "b")

	env.Tx(func(tx storage.Transaction) error {
		d, err := tx.GetDependency(env.Ctx, a.ID, b.ID)
		if err != nil {
			t.Fatalf("GetDependency on a missing edge: %v", err)
		}
		if d != nil {
			t.Fatalf("missing edge = %+v, want nil", d)
		}
		return nil
	})

	env.AddDep(a, b)
	env.Tx(func(tx storage.Transaction) error {
		d, err := tx.GetDependency(env.Ctx, a.ID, b.ID)
		if err != nil {
			t.Fatalf("GetDependency failed: %v", err)
		}
		if d == nil || d.FromTaskID != a.ID || d.ToTaskID != b.ID {
			t.Errorf("edge = %+v, want %s -> %s", d, a.ID, b.ID)
		}
		return nil
	})
}

func TestDuplicateEdgeRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.CreateProject("dupes")
	m := env.CreateMilestone(p, "m")
	a := env.CreateTask(m, "a")
	b := env.CreateTask(m, "b")
	env.AddDep(a, b)

	err := env.Store.RunInTransaction(env.Ctx, func(tx storage.Transaction) error {
		return tx.AddDependency(env.Ctx, &types.Dependency{
			ID:         uuid.NewString(),
			ProjectID:  p.ID,
			FromTaskID: a.ID,
			ToTaskID:   b.ID,
			UnlockOn:   types.UnlockOnIntegrated,
		})
	})
	if err == nil {
		t.Fatal("duplicate edge accepted")
	}
}

func TestUnsatisfiedPrereqs(t *testing.T) {
	env := newTestEnv(t)
	p := env.CreateProject("prereqs")
	m := env.CreateMilestone(p, "m")
	impl := env.CreateTask(m, "impl threshold")
	integ := env.CreateTask(m, "integ threshold")
	target := env.CreateTask(m, "target")

	env.AddDep(impl, target)
	env.Tx(func(tx storage.Transaction) error {
		return tx.AddDependency(env.Ctx, &types.Dependency{
			ID:         uuid.NewString(),
			ProjectID:  p.ID,
			FromTaskID: integ.ID,
			ToTaskID:   target.ID,
			UnlockOn:   types.UnlockOnIntegrated,
		})
	})

	unsat := func() map[string]bool {
		t.Helper()
		deps, err := env.Store.UnsatisfiedPrereqs(env.Ctx, target.ID)
		if err != nil {
			t.Fatalf("UnsatisfiedPrereqs failed: %v", err)
		}
		out := make(map[string]bool, len(deps))
		for _, dep := range deps {
			out[dep.FromTaskID] = true
		}
		return out
	}

	if got := unsat(); !got[impl.ID] || !got[integ.ID] {
		t.Fatalf("expected both prereqs unsatisfied, got %v", got)
	}

	// implemented satisfies the implemented threshold but not integrated.
	env.SetState(impl, types.StateImplemented)
	env.SetState(integ, types.StateImplemented)
	got := unsat()
	if got[impl.ID] {
		t.Errorf("implemented prereq with implemented threshold still unsatisfied")
	}
	if !got[integ.ID] {
		t.Errorf("implemented prereq with integrated threshold counted satisfied")
	}

	env.SetState(integ, types.StateIntegrated)
	if got := unsat(); len(got) != 0 {
		t.Errorf("all thresholds met but %v still unsatisfied", got)
	}
}

func TestRemoveDependency(t *testing.T) {
	env := newTestEnv(t)
	p := env.CreateProject("removal")
	m := env.CreateMilestone(p, "m")
	a := env.CreateTask(m, "a")
	b := env.CreateTask(m, "b")
	env.AddDep(a, b)

	env.Tx(func(tx storage.Transaction) error {
		return tx.RemoveDependency(env.Ctx, a.ID, b.ID)
	})

	deps, err := env.Store.ListDependenciesTo(env.Ctx, b.ID)
	if err != nil {
		t.Fatalf("ListDependenciesTo failed: %v", err)
	}
	if len(deps) != 0 {
		t.Errorf("edge survived removal")
	}

	err = env.Store.RunInTransaction(env.Ctx, func(tx storage.Transaction) error {
		return tx.RemoveDependency(env.Ctx, a.ID, b.ID)
	})
	if !types.IsCode(err, types.ErrNotFound) {
		t.Errorf("removing absent edge error = %v, want NOT_FOUND", err)
	}
}
