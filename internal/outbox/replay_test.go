package outbox

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/tascade/tascade/internal/core"
	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// buildScenario drives one project through most of the lifecycle: a
// dependency unlock, a full implement-review-integrate pass, a plan
// changeset, and an archive at the end.
func buildScenario(t *testing.T, env *outboxEnv) *types.Project {
	t.Helper()
	p := env.project("replayed")
	m := env.milestone(p, "m1")
	a := env.task(m, "foundation")
	b := env.task(m, "follow-up")
	if _, err := env.Coord.AddDependency(env.Ctx, a.ID, b.ID, types.UnlockOnImplemented, "planner"); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}

	env.implement(a, "agent-ada")
	if _, err := env.Coord.RecordReview(env.Ctx, a.ID, "reviewer-rhea", types.ReviewApproved,
		"looks right", []string{"run:checks#1"}, "reviewer-rhea"); err != nil {
		t.Fatalf("RecordReview failed: %v", err)
	}
	attempt, err := env.Coord.EnqueueIntegration(env.Ctx, core.IntegrationRequest{TaskRef: a.ID, Actor: "integrator"})
	if err != nil {
		t.Fatalf("EnqueueIntegration failed: %v", err)
	}
	if _, err := env.Coord.ReportIntegrationResult(env.Ctx, core.IntegrationResult{
		AttemptRef: attempt.ID, Status: types.IntegrationSuccess, Detail: "fast-forward", Actor: "integrator",
	}); err != nil {
		t.Fatalf("ReportIntegrationResult failed: %v", err)
	}

	cs, err := env.Coord.CreateChangeset(env.Ctx, core.ChangesetInput{
		ProjectRef: p.ID, Title: "extend the plan", Author: "planner",
		Ops: []types.PlanOp{{
			Op: types.OpAddTask, Milestone: m.ShortID, Alias: "t-extra",
			Title: "added by replan", WorkSpec: json.RawMessage(`{"goal":"extend"}`),
		}},
	})
	if err != nil {
		t.Fatalf("CreateChangeset failed: %v", err)
	}
	if _, err := env.Coord.ApplyChangeset(env.Ctx, cs.ID, "planner", false); err != nil {
		t.Fatalf("ApplyChangeset failed: %v", err)
	}

	if _, err := env.Coord.ArchiveProject(env.Ctx, p.ID, "planner"); err != nil {
		t.Fatalf("ArchiveProject failed: %v", err)
	}
	return p
}

func TestReplayReproducesStore(t *testing.T) {
	env := newOutboxEnv(t)
	p := buildScenario(t, env)

	proj := Replay(env.events(p))
	mismatches, err := proj.Verify(env.Ctx, env.Store)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if len(mismatches) != 0 {
		t.Fatalf("replay diverges from store:\n%s", strings.Join(mismatches, "\n"))
	}

	st := proj.Projects[p.ID]
	if st.ShortID != p.ShortID || !st.Archived {
		t.Errorf("project state = %+v", st)
	}
	if st.PlanVersion != 2 {
		t.Errorf("plan version = %d, want 2 after one applied changeset", st.PlanVersion)
	}
	counts := st.StateCounts()
	if counts[types.StateIntegrated] != 1 {
		t.Errorf("integrated count = %d, want 1", counts[types.StateIntegrated])
	}
	if st.ActiveLeases() != 0 {
		t.Errorf("active leases = %d, want 0 after handoff", st.ActiveLeases())
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	env := newOutboxEnv(t)
	p := buildScenario(t, env)
	events := env.events(p)

	proj := Replay(events)
	for _, e := range events {
		if proj.Apply(e) {
			t.Fatalf("seq %d applied twice", e.Seq)
		}
	}
	mismatches, err := proj.Verify(env.Ctx, env.Store)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if len(mismatches) != 0 {
		t.Fatalf("double replay diverges:\n%s", strings.Join(mismatches, "\n"))
	}
}

func TestVerifyFlagsUnloggedWrites(t *testing.T) {
	env := newOutboxEnv(t)
	p := env.project("drifted")
	m := env.milestone(p, "m1")
	task := env.task(m, "quiet change")

	proj := Replay(env.events(p))

	// A state write that bypasses the kernel leaves no event; replay must
	// expose it.
	err := env.Store.RunInTransaction(env.Ctx, func(tx storage.Transaction) error {
		return tx.SetTaskState(env.Ctx, task.ID, types.StateCancelled)
	})
	if err != nil {
		t.Fatalf("raw state write failed: %v", err)
	}

	mismatches, verr := proj.Verify(env.Ctx, env.Store)
	if verr != nil {
		t.Fatalf("Verify failed: %v", verr)
	}
	if len(mismatches) == 0 {
		t.Fatal("Verify missed the unlogged state change")
	}
	found := false
	for _, line := range mismatches {
		if strings.Contains(line, task.ShortID) {
			found = true
		}
	}
	if !found {
		t.Errorf("mismatches do not name the drifted task: %v", mismatches)
	}
}
