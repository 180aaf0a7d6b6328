package core

import (
	"testing"

	"github.com/tascade/tascade/internal/types"
)

func TestSweepExpiredLeases(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("swept")
	m := env.Milestone(p, "m")

	idle := env.Task(m, "idle claim")
	resIdle := env.Claim(idle, "agent-ada")
	env.BackdateLease(&resIdle.Lease)

	working := env.Task(m, "working claim")
	resWork := env.StartWork(working, "agent-bea")
	env.BackdateLease(&resWork.Lease)

	stats, err := env.Coord.SweepOnce(env.Ctx)
	if err != nil {
		t.Fatalf("SweepOnce failed: %v", err)
	}
	if stats.ExpiredLeases != 2 {
		t.Errorf("expired leases = %d, want 2", stats.ExpiredLeases)
	}
	if stats.ExpiredReservations != 0 {
		t.Errorf("expired reservations = %d, want 0", stats.ExpiredReservations)
	}

	// A claimed task returns to the frontier directly.
	if got := env.Reload(idle); got.State != types.StateReady {
		t.Errorf("idle task = %s, want ready", got.State)
	}
	// An in-progress task passes through abandoned on the way back.
	if got := env.Reload(working); got.State != types.StateReady {
		t.Errorf("working task = %s, want ready", got.State)
	}
	history, err := env.Coord.EntityHistory(env.Ctx, working.ID, 50)
	if err != nil {
		t.Fatalf("EntityHistory failed: %v", err)
	}
	sawAbandoned := false
	for _, ev := range history {
		if ev.Type != types.EventTaskStateChanged {
			continue
		}
		var payload types.StateChangePayload
		if err := ev.DecodePayload(&payload); err != nil {
			t.Fatalf("failed to decode state change: %v", err)
		}
		if payload.To == types.StateAbandoned {
			sawAbandoned = true
		}
	}
	if !sawAbandoned {
		t.Error("expired in-progress lease should record the abandoned hop")
	}

	if !hasEvent(env.Events(p), types.EventLeaseExpired) {
		t.Error("missing lease.expired event")
	}
	if _, err := env.Coord.Heartbeat(env.Ctx, resWork.Lease.Token, 0); !types.IsCode(err, types.ErrLeaseStale) {
		t.Errorf("heartbeat on swept lease = %v, want LEASE_STALE", err)
	}
}

func TestSweepLeavesGatedWorkAbandoned(t *testing.T) {
	env := newTestEnv(t)
	m := env.Milestone(env.Project("stuck"), "m")

	task := env.Task(m, "dependent work")
	res := env.StartWork(task, "agent-ada")
	// A prerequisite added mid-flight leaves the work running but makes the
	// task unsatisfied once the lease dies.
	prereq := env.Task(m, "late prerequisite")
	env.Dep(prereq, task)
	env.BackdateLease(&res.Lease)

	if _, err := env.Coord.SweepOnce(env.Ctx); err != nil {
		t.Fatalf("SweepOnce failed: %v", err)
	}
	if got := env.Reload(task); got.State != types.StateAbandoned {
		t.Errorf("state = %s, want abandoned while the prerequisite is open", got.State)
	}
}

func TestSweepExpiredReservations(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("lapsed")
	m := env.Milestone(p, "m")
	task := env.Task(m, "promised")

	if _, err := env.Coord.AssignTask(env.Ctx, task.ID, "agent-ada", 0, "planner"); err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}
	res, err := env.Store.ActiveReservationForTask(env.Ctx, task.ID)
	if err != nil || res == nil {
		t.Fatalf("reservation lookup = %v, %v", res, err)
	}
	env.BackdateReservation(res)

	stats, err := env.Coord.SweepOnce(env.Ctx)
	if err != nil {
		t.Fatalf("SweepOnce failed: %v", err)
	}
	if stats.ExpiredReservations != 1 {
		t.Errorf("expired reservations = %d, want 1", stats.ExpiredReservations)
	}
	if got := env.Reload(task); got.State != types.StateReady {
		t.Errorf("state = %s, want ready", got.State)
	}
	if !hasEvent(env.Events(p), types.EventReservationExpired) {
		t.Error("missing reservation.expired event")
	}
}

func TestSweepSkipsLiveGrants(t *testing.T) {
	env := newTestEnv(t)
	m := env.Milestone(env.Project("healthy"), "m")

	claimed := env.Task(m, "claimed")
	res := env.Claim(claimed, "agent-ada")
	reserved := env.Task(m, "reserved")
	if _, err := env.Coord.AssignTask(env.Ctx, reserved.ID, "agent-bea", 0, "planner"); err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}

	stats, err := env.Coord.SweepOnce(env.Ctx)
	if err != nil {
		t.Fatalf("SweepOnce failed: %v", err)
	}
	if stats.ExpiredLeases != 0 || stats.ExpiredReservations != 0 {
		t.Errorf("sweep touched live grants: %+v", stats)
	}
	if got := env.Reload(claimed); got.State != types.StateClaimed {
		t.Errorf("claimed task = %s", got.State)
	}
	if got := env.Reload(reserved); got.State != types.StateReserved {
		t.Errorf("reserved task = %s", got.State)
	}
	if _, err := env.Coord.Heartbeat(env.Ctx, res.Lease.Token, 0); err != nil {
		t.Errorf("live lease heartbeat failed: %v", err)
	}
}
