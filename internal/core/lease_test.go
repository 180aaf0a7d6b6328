package core

import (
	"testing"
	"time"

	"github.com/tascade/tascade/internal/types"
)

func TestClaimConflicts(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("races")
	m := env.Milestone(p, "m")
	task := env.Task(m, "contested")

	env.Claim(task, "agent-ada")
	_, err := env.Coord.ClaimTask(env.Ctx, ClaimRequest{TaskRef: task.ID, Actor: "agent-bea"})
	if !types.IsCode(err, types.ErrConflict) {
		t.Fatalf("second claim error = %v, want CONFLICT", err)
	}

	// Backlog tasks are not claimable.
	blocked := env.Task(m, "not yet")
	env.Dep(task, blocked)
	_, err = env.Coord.ClaimTask(env.Ctx, ClaimRequest{TaskRef: blocked.ID, Actor: "agent-bea"})
	if !types.IsCode(err, types.ErrInvariantViolation) {
		t.Fatalf("claim of backlog task error = %v, want INVARIANT_VIOLATION", err)
	}
}

func TestClaimCapabilityCheck(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("skills")
	m := env.Milestone(p, "m")
	task := env.TaskWith(m, "needs go and sql", nil, types.Capabilities{"go", "sql"})

	_, err := env.Coord.ClaimTask(env.Ctx, ClaimRequest{
		TaskRef: task.ID, Actor: "agent-ada", Capabilities: types.Capabilities{"go"},
	})
	if !types.IsCode(err, types.ErrInvalidCapabilities) {
		t.Fatalf("partial capabilities error = %v, want INVALID_CAPABILITIES", err)
	}

	res, err := env.Coord.ClaimTask(env.Ctx, ClaimRequest{
		TaskRef: task.ID, Actor: "agent-ada", Capabilities: types.Capabilities{"go", "sql", "docs"},
	})
	if err != nil {
		t.Fatalf("covering claim failed: %v", err)
	}
	if res.Task.State != types.StateClaimed {
		t.Errorf("state = %s, want claimed", res.Task.State)
	}
}

func TestCapabilityTaggedTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	m := env.Milestone(env.Project("tagged"), "m")
	task := env.TaskWith(m, "needs go", nil, types.Capabilities{"go"})

	if got := env.Implement(task, "agent-ada"); got.State != types.StateImplemented {
		t.Errorf("state = %s, want implemented", got.State)
	}
}

func TestFencingMonotone(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("fencing")
	m := env.Milestone(p, "m")
	task := env.Task(m, "round trips")

	res1 := env.Claim(task, "agent-ada")
	if _, err := env.Coord.ReleaseLease(env.Ctx, res1.Lease.Token, "switching tasks", "agent-ada"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if got := env.Reload(task); got.State != types.StateReady {
		t.Fatalf("state after release = %s, want ready", got.State)
	}

	res2 := env.Claim(task, "agent-bea")
	if res2.Lease.Fencing != res1.Lease.Fencing+1 {
		t.Errorf("fencing = %d, want %d (strictly increasing per task)", res2.Lease.Fencing, res1.Lease.Fencing+1)
	}

	// The first holder's token is now both finished and fenced out.
	_, err := env.Coord.Heartbeat(env.Ctx, res1.Lease.Token, 0)
	if !types.IsCode(err, types.ErrLeaseStale) {
		t.Errorf("heartbeat on released lease = %v, want LEASE_STALE", err)
	}
}

func TestHeartbeatExtends(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("liveness")
	m := env.Milestone(p, "m")
	task := env.Task(m, "long haul")
	res := env.Claim(task, "agent-ada")

	hb, err := env.Coord.Heartbeat(env.Ctx, res.Lease.Token, 2*time.Hour)
	if err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}
	if !hb.Lease.ExpiresAt.After(res.Lease.ExpiresAt) {
		t.Errorf("expiry did not advance: %s -> %s", res.Lease.ExpiresAt, hb.Lease.ExpiresAt)
	}
	if hb.Advisory.PlanStale {
		t.Error("advisory reports a stale plan for an untouched project")
	}

	// A replan elsewhere in the project surfaces on the next heartbeat.
	other := env.Task(m, "shuffled")
	cs, err := env.Coord.CreateChangeset(env.Ctx, ChangesetInput{
		ProjectRef: p.ID, Title: "bump priority", Author: "planner",
		Ops: []types.PlanOp{{Op: types.OpUpdateTask, Task: other.ID, Priority: intp(0)}},
	})
	if err != nil {
		t.Fatalf("CreateChangeset failed: %v", err)
	}
	if _, err := env.Coord.ApplyChangeset(env.Ctx, cs.ID, "planner", false); err != nil {
		t.Fatalf("ApplyChangeset failed: %v", err)
	}

	hb2, err := env.Coord.Heartbeat(env.Ctx, res.Lease.Token, 0)
	if err != nil {
		t.Fatalf("heartbeat after replan failed: %v", err)
	}
	if !hb2.Advisory.PlanStale {
		t.Error("advisory should flag the plan version bump")
	}
	if hb2.Advisory.MaterialPending {
		t.Error("a priority change is not material to this holder")
	}
}

func TestExpiredLeaseYieldsToNewClaim(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("takeover")
	m := env.Milestone(p, "m")
	task := env.Task(m, "abandoned mid-flight")

	res := env.Claim(task, "agent-ada")
	env.BackdateLease(&res.Lease)

	// A new claim does not wait for the sweeper.
	res2, err := env.Coord.ClaimTask(env.Ctx, ClaimRequest{TaskRef: task.ID, Actor: "agent-bea"})
	if err != nil {
		t.Fatalf("claim over expired lease failed: %v", err)
	}
	if res2.Lease.Holder != "agent-bea" {
		t.Errorf("holder = %s", res2.Lease.Holder)
	}
	if res2.Lease.Fencing <= res.Lease.Fencing {
		t.Errorf("fencing %d not above expired lease's %d", res2.Lease.Fencing, res.Lease.Fencing)
	}
	if !hasEvent(env.Events(p), types.EventLeaseExpired) {
		t.Error("expiry inside the claiming transaction should still log lease.expired")
	}
}

func TestReleaseRequiresKnownToken(t *testing.T) {
	env := newTestEnv(t)
	env.Project("noop")
	if _, err := env.Coord.ReleaseLease(env.Ctx, "lt_unknown", "", "agent-ada"); !types.IsCode(err, types.ErrLeaseStale) {
		t.Fatalf("release of unknown token = %v, want LEASE_STALE", err)
	}
}

func TestReleaseFromInProgressPassesThroughAbandoned(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("interrupt")
	m := env.Milestone(p, "m")
	task := env.Task(m, "half done")
	res := env.StartWork(task, "agent-ada")

	got, err := env.Coord.ReleaseLease(env.Ctx, res.Lease.Token, "context exhausted", "agent-ada")
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if got.State != types.StateReady {
		t.Fatalf("state after release = %s, want ready (requeued)", got.State)
	}

	// The interruption is visible in the task's transition history.
	history, err := env.Coord.EntityHistory(env.Ctx, task.ID, 50)
	if err != nil {
		t.Fatalf("EntityHistory failed: %v", err)
	}
	sawAbandoned := false
	for _, ev := range history {
		var pl types.StateChangePayload
		if ev.Type == types.EventTaskStateChanged {
			if err := ev.DecodePayload(&pl); err != nil {
				t.Fatalf("DecodePayload failed: %v", err)
			}
			if pl.To == types.StateAbandoned {
				sawAbandoned = true
			}
		}
	}
	if !sawAbandoned {
		t.Error("in_progress release should pass through abandoned")
	}
}

func TestClaimNextPicksHead(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("queue")
	m := env.Milestone(p, "m")
	low := env.TaskWith(m, "low", intp(3), nil)
	high := env.TaskWith(m, "high", intp(0), nil)
	env.TaskWith(m, "needs rust", intp(0), types.Capabilities{"rust"})

	res, err := env.Coord.ClaimNext(env.Ctx, p.ID, "agent-ada", types.Capabilities{"go"}, 0)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if res.Task.ID != high.ID {
		t.Errorf("claimed %s, want the priority-0 task %s", res.Task.ShortID, high.ShortID)
	}

	res2, err := env.Coord.ClaimNext(env.Ctx, p.ID, "agent-bea", types.Capabilities{"go"}, 0)
	if err != nil {
		t.Fatalf("second ClaimNext failed: %v", err)
	}
	if res2.Task.ID != low.ID {
		t.Errorf("claimed %s, want %s (rust task is out of reach)", res2.Task.ShortID, low.ShortID)
	}

	_, err = env.Coord.ClaimNext(env.Ctx, p.ID, "agent-cee", types.Capabilities{"go"}, 0)
	if !types.IsCode(err, types.ErrNotFound) {
		t.Errorf("empty frontier error = %v, want NOT_FOUND", err)
	}
}
