package core

import (
	"testing"
	"time"

	"github.com/tascade/tascade/internal/types"
)

func TestAssignAndClaim(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("handoff")
	m := env.Milestone(p, "m")
	task := env.Task(m, "earmarked")

	res, err := env.Coord.AssignTask(env.Ctx, task.ID, "agent-ada", 0, "planner")
	if err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}
	if res.Assignee != "agent-ada" || res.Status != types.ReservationActive {
		t.Errorf("reservation = %+v", res)
	}
	if got := env.Reload(task); got.State != types.StateReserved {
		t.Fatalf("state = %s, want reserved", got.State)
	}

	// Someone else cannot take it.
	_, err = env.Coord.ClaimTask(env.Ctx, ClaimRequest{TaskRef: task.ID, Actor: "agent-bea"})
	if !types.IsCode(err, types.ErrReservationConflict) {
		t.Fatalf("foreign claim error = %v, want RESERVATION_CONFLICT", err)
	}

	// The assignee's claim converts the reservation.
	claim := env.Claim(task, "agent-ada")
	if claim.Task.State != types.StateClaimed {
		t.Errorf("state = %s, want claimed", claim.Task.State)
	}
	if !hasEvent(env.Events(p), types.EventReservationConverted) {
		t.Error("missing reservation.converted event")
	}
}

func TestAssignRules(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("assign-rules")
	m := env.Milestone(p, "m")
	task := env.Task(m, "target")

	first, err := env.Coord.AssignTask(env.Ctx, task.ID, "agent-ada", time.Hour, "planner")
	if err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}

	// Re-assigning to the same assignee refreshes the TTL in place.
	again, err := env.Coord.AssignTask(env.Ctx, task.ID, "agent-ada", 2*time.Hour, "planner")
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("refresh created a new reservation %s", again.ID)
	}
	if !again.ExpiresAt.After(first.ExpiresAt) {
		t.Errorf("expiry did not advance on refresh")
	}

	// A different assignee conflicts until the reservation ends.
	_, err = env.Coord.AssignTask(env.Ctx, task.ID, "agent-bea", 0, "planner")
	if !types.IsCode(err, types.ErrReservationConflict) {
		t.Fatalf("double assignment error = %v, want RESERVATION_CONFLICT", err)
	}

	// Only ready tasks are reservable.
	busy := env.Task(m, "busy")
	env.Claim(busy, "agent-cee")
	_, err = env.Coord.AssignTask(env.Ctx, busy.ID, "agent-ada", 0, "planner")
	if !types.IsCode(err, types.ErrInvariantViolation) {
		t.Fatalf("assignment of claimed task = %v, want INVARIANT_VIOLATION", err)
	}
}

func TestReleaseAssignment(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("release")
	m := env.Milestone(p, "m")
	task := env.Task(m, "earmarked")

	if _, err := env.Coord.AssignTask(env.Ctx, task.ID, "agent-ada", 0, "planner"); err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}
	got, err := env.Coord.ReleaseAssignment(env.Ctx, task.ID, "planner")
	if err != nil {
		t.Fatalf("ReleaseAssignment failed: %v", err)
	}
	if got.State != types.StateReady {
		t.Errorf("state = %s, want ready", got.State)
	}
	if !hasEvent(env.Events(p), types.EventReservationReleased) {
		t.Error("missing reservation.released event")
	}

	if _, err := env.Coord.ReleaseAssignment(env.Ctx, task.ID, "planner"); !types.IsCode(err, types.ErrNotFound) {
		t.Errorf("double release = %v, want NOT_FOUND", err)
	}
}

func TestExpiredReservationYieldsToAssignAndClaim(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("lapse")
	m := env.Milestone(p, "m")
	task := env.Task(m, "was earmarked")

	res, err := env.Coord.AssignTask(env.Ctx, task.ID, "agent-ada", 0, "planner")
	if err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}
	env.BackdateReservation(res)

	// A new assignment does not wait for the sweeper.
	res2, err := env.Coord.AssignTask(env.Ctx, task.ID, "agent-bea", 0, "planner")
	if err != nil {
		t.Fatalf("assignment over expired reservation failed: %v", err)
	}
	if res2.Assignee != "agent-bea" || res2.ID == res.ID {
		t.Errorf("reservation = %+v, want a fresh one for agent-bea", res2)
	}
	if !hasEvent(env.Events(p), types.EventReservationExpired) {
		t.Error("missing reservation.expired event")
	}
}
