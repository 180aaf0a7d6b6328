package core

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/storage/sqlite"
	"github.com/tascade/tascade/internal/types"
)

// testEnv drives the kernel through Coordinator methods only. Raw storage
// access is reserved for backdating clocks, which no public API allows.
type testEnv struct {
	t     *testing.T
	Coord *Coordinator
	Store *sqlite.Store
	Ctx   context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := sqlite.New(context.Background(), t.TempDir()+"/kernel.db")
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("failed to close test store: %v", cerr)
		}
	})
	return &testEnv{
		t:     t,
		Coord: New(store, zerolog.Nop(), Options{}),
		Store: store,
		Ctx:   context.Background(),
	}
}

// Tx runs fn in a raw write transaction, bypassing the kernel.
func (e *testEnv) Tx(fn func(tx storage.Transaction) error) {
	e.t.Helper()
	if err := e.Store.RunInTransaction(e.Ctx, fn); err != nil {
		e.t.Fatalf("transaction failed: %v", err)
	}
}

func (e *testEnv) Project(name string) *types.Project {
	e.t.Helper()
	p, err := e.Coord.CreateProject(e.Ctx, name, "", "planner")
	if err != nil {
		e.t.Fatalf("CreateProject(%q) failed: %v", name, err)
	}
	return p
}

func (e *testEnv) Milestone(p *types.Project, name string) *types.Milestone {
	e.t.Helper()
	m, err := e.Coord.CreateMilestone(e.Ctx, p.ID, "", name, "", "planner")
	if err != nil {
		e.t.Fatalf("CreateMilestone(%q) failed: %v", name, err)
	}
	return m
}

// Task creates a ready implementation task with no capability requirements.
func (e *testEnv) Task(m *types.Milestone, title string) *types.Task {
	e.t.Helper()
	return e.TaskWith(m, title, nil, nil)
}

func (e *testEnv) TaskWith(m *types.Milestone, title string, priority *int, caps types.Capabilities) *types.Task {
	e.t.Helper()
	task, err := e.Coord.CreateTask(e.Ctx, CreateTaskInput{
		MilestoneRef: m.ID,
		Title:        title,
		Priority:     priority,
		Capabilities: caps,
		WorkSpec:     testWorkSpec(title),
		Actor:        "planner",
	})
	if err != nil {
		e.t.Fatalf("CreateTask(%q) failed: %v", title, err)
	}
	return task
}

// Reload fetches the task's current row.
func (e *testEnv) Reload(task *types.Task) *types.Task {
	e.t.Helper()
	got, err := e.Coord.GetTask(e.Ctx, task.ID)
	if err != nil {
		e.t.Fatalf("GetTask(%s) failed: %v", task.ShortID, err)
	}
	return got
}

func (e *testEnv) Dep(from, to *types.Task) {
	e.t.Helper()
	if _, err := e.Coord.AddDependency(e.Ctx, from.ID, to.ID, types.UnlockOnImplemented, "planner"); err != nil {
		e.t.Fatalf("AddDependency(%s -> %s) failed: %v", from.ShortID, to.ShortID, err)
	}
}

// Claim claims the task for actor, offering the task's own capability tags.
func (e *testEnv) Claim(task *types.Task, actor string) *types.ClaimResult {
	e.t.Helper()
	res, err := e.Coord.ClaimTask(e.Ctx, ClaimRequest{
		TaskRef: task.ID, Actor: actor, Capabilities: task.Capabilities,
	})
	if err != nil {
		e.t.Fatalf("ClaimTask(%s) by %s failed: %v", task.ShortID, actor, err)
	}
	return res
}

// StartWork claims the task and moves it to in_progress.
func (e *testEnv) StartWork(task *types.Task, actor string) *types.ClaimResult {
	e.t.Helper()
	res := e.Claim(task, actor)
	if _, err := e.Coord.Transition(e.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateInProgress, Actor: actor, LeaseToken: res.Lease.Token,
	}); err != nil {
		e.t.Fatalf("transition %s to in_progress failed: %v", task.ShortID, err)
	}
	return res
}

func (e *testEnv) PassedArtifact(task *types.Task, token, actor string) *types.Artifact {
	e.t.Helper()
	a, err := e.Coord.SubmitArtifact(e.Ctx, ArtifactInput{
		TaskRef:    task.ID,
		Kind:       types.ArtifactBranch,
		Ref:        "branch:work/" + task.ShortID,
		Checks:     types.ChecksPassed,
		Summary:    "work for " + task.Title,
		LeaseToken: token,
		Actor:      actor,
	})
	if err != nil {
		e.t.Fatalf("SubmitArtifact(%s) failed: %v", task.ShortID, err)
	}
	return a
}

// Implement drives a ready task through claim, in_progress, a passing
// artifact, and the move to implemented.
func (e *testEnv) Implement(task *types.Task, actor string) *types.Task {
	e.t.Helper()
	res := e.StartWork(task, actor)
	e.PassedArtifact(task, res.Lease.Token, actor)
	if _, err := e.Coord.Transition(e.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateImplemented, Actor: actor, LeaseToken: res.Lease.Token,
	}); err != nil {
		e.t.Fatalf("transition %s to implemented failed: %v", task.ShortID, err)
	}
	return e.Reload(task)
}

// Integrate supplies the integrated-state evidence for an implemented task:
// an approving review by a third party and a successful integration attempt,
// which auto-integrates the task.
func (e *testEnv) Integrate(task *types.Task) *types.Task {
	e.t.Helper()
	if _, err := e.Coord.RecordReview(e.Ctx, task.ID, "reviewer-rhea", types.ReviewApproved,
		"meets the acceptance criteria", []string{"run:checks#1"}, "reviewer-rhea"); err != nil {
		e.t.Fatalf("RecordReview(%s) failed: %v", task.ShortID, err)
	}
	attempt, err := e.Coord.EnqueueIntegration(e.Ctx, IntegrationRequest{TaskRef: task.ID, Actor: "integrator"})
	if err != nil {
		e.t.Fatalf("EnqueueIntegration(%s) failed: %v", task.ShortID, err)
	}
	if _, err := e.Coord.ReportIntegrationResult(e.Ctx, IntegrationResult{
		AttemptRef: attempt.ID, Status: types.IntegrationSuccess, Detail: "fast-forward", Actor: "integrator",
	}); err != nil {
		e.t.Fatalf("ReportIntegrationResult(%s) failed: %v", task.ShortID, err)
	}
	return e.Reload(task)
}

// BackdateLease rewrites the lease clocks so the sweeper sees it expired.
func (e *testEnv) BackdateLease(l *types.Lease) {
	e.t.Helper()
	past := time.Now().UTC().Add(-time.Minute)
	e.Tx(func(tx storage.Transaction) error {
		return tx.ExtendLease(e.Ctx, l.ID, past, past)
	})
}

// BackdateReservation rewrites the reservation expiry into the past.
func (e *testEnv) BackdateReservation(r *types.Reservation) {
	e.t.Helper()
	e.Tx(func(tx storage.Transaction) error {
		return tx.ExtendReservation(e.Ctx, r.ID, time.Now().UTC().Add(-time.Minute))
	})
}

// Events returns the full event log of a project.
func (e *testEnv) Events(p *types.Project) []*types.Event {
	e.t.Helper()
	events, err := e.Coord.Events(e.Ctx, EventQuery{ProjectRef: p.ID, Limit: 1000})
	if err != nil {
		e.t.Fatalf("Events failed: %v", err)
	}
	return events
}

// LastEvent returns the newest event of the given type, or fails.
func (e *testEnv) LastEvent(p *types.Project, et types.EventType) *types.Event {
	e.t.Helper()
	events := e.Events(p)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == et {
			return events[i]
		}
	}
	e.t.Fatalf("no %s event in project log", et)
	return nil
}

func hasEvent(events []*types.Event, et types.EventType) bool {
	for _, ev := range events {
		if ev.Type == et {
			return true
		}
	}
	return false
}

func intp(v int) *int { return &v }

func testWorkSpec(goal string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"goal":%q,"acceptance_criteria":["verified"]}`, goal))
}
