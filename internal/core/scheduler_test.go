package core

import (
	"testing"

	"github.com/tascade/tascade/internal/types"
)

func TestReadyOrdering(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("ordering")
	m := env.Milestone(p, "m")

	older := env.TaskWith(m, "older", intp(2), nil)
	newer := env.TaskWith(m, "newer", intp(2), nil)
	urgent := env.TaskWith(m, "urgent", intp(0), nil)
	gated := env.Task(m, "gated")
	env.Dep(urgent, gated) // drops gated to backlog

	ready, err := env.Coord.ListReady(env.Ctx, p.ID, ReadyQuery{Actor: "agent-ada"})
	if err != nil {
		t.Fatalf("ListReady failed: %v", err)
	}
	if len(ready) != 3 {
		t.Fatalf("got %d ready tasks, want 3 (gated is backlog)", len(ready))
	}
	if ready[0].Task.ID != urgent.ID {
		t.Errorf("head = %s, want the priority-0 task", ready[0].Task.ShortID)
	}
	if ready[1].Task.ID != older.ID || ready[2].Task.ID != newer.ID {
		t.Errorf("equal-priority order = %s, %s, want creation order %s, %s",
			ready[1].Task.ShortID, ready[2].Task.ShortID, older.ShortID, newer.ShortID)
	}
}

func TestReadyCapabilityFilter(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("filtering")
	m := env.Milestone(p, "m")
	env.TaskWith(m, "anyone", nil, nil)
	env.TaskWith(m, "gophers only", nil, types.Capabilities{"go"})

	// Nil capabilities: no filter at all.
	all, err := env.Coord.ListReady(env.Ctx, p.ID, ReadyQuery{Actor: "agent-ada"})
	if err != nil {
		t.Fatalf("ListReady failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("unfiltered = %d tasks, want 2", len(all))
	}

	// Empty non-nil set: only capability-free tasks qualify.
	bare, err := env.Coord.ListReady(env.Ctx, p.ID, ReadyQuery{Actor: "agent-ada", Capabilities: types.Capabilities{}})
	if err != nil {
		t.Fatalf("ListReady failed: %v", err)
	}
	if len(bare) != 1 || bare[0].Task.Title != "anyone" {
		t.Errorf("capability-free frontier = %d tasks", len(bare))
	}
}

func TestReadyHidesOthersReservations(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("reservations")
	m := env.Milestone(p, "m")
	mine := env.Task(m, "mine")
	theirs := env.Task(m, "theirs")
	open := env.Task(m, "open")

	if _, err := env.Coord.AssignTask(env.Ctx, mine.ID, "agent-ada", 0, "planner"); err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}
	if _, err := env.Coord.AssignTask(env.Ctx, theirs.ID, "agent-bea", 0, "planner"); err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}

	ready, err := env.Coord.ListReady(env.Ctx, p.ID, ReadyQuery{Actor: "agent-ada"})
	if err != nil {
		t.Fatalf("ListReady failed: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("agent-ada sees %d tasks, want 2 (own reservation + open)", len(ready))
	}
	if ready[0].Task.ID != mine.ID || ready[0].ReservedFor != "agent-ada" {
		t.Errorf("head = %s reserved_for=%q, want own reservation first", ready[0].Task.ShortID, ready[0].ReservedFor)
	}
	if ready[1].Task.ID != open.ID {
		t.Errorf("second = %s, want the open task", ready[1].Task.ShortID)
	}

	// The operator view exposes everything.
	all, err := env.Coord.ListReady(env.Ctx, p.ID, ReadyQuery{IncludeReserved: true})
	if err != nil {
		t.Fatalf("ListReady failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("operator view = %d tasks, want 3", len(all))
	}
}

func TestReadyContentionSteering(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("paths")
	m := env.Milestone(p, "m")

	spec := func(goal, path string) []byte {
		return []byte(`{"goal":"` + goal + `","acceptance_criteria":["done"],"exclusive_paths":["` + path + `"]}`)
	}
	busy, err := env.Coord.CreateTask(env.Ctx, CreateTaskInput{
		MilestoneRef: m.ID, Title: "hot file", WorkSpec: spec("hot", "internal/auth/auth.go"), Actor: "planner",
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	contended, err := env.Coord.CreateTask(env.Ctx, CreateTaskInput{
		MilestoneRef: m.ID, Title: "same file", WorkSpec: spec("again", "internal/auth/auth.go"), Actor: "planner",
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	clear, err := env.Coord.CreateTask(env.Ctx, CreateTaskInput{
		MilestoneRef: m.ID, Title: "elsewhere", WorkSpec: spec("free", "internal/ui/render.go"), Actor: "planner",
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	env.Claim(busy, "agent-ada")

	ready, err := env.Coord.ListReady(env.Ctx, p.ID, ReadyQuery{Actor: "agent-bea"})
	if err != nil {
		t.Fatalf("ListReady failed: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("got %d ready tasks, want 2", len(ready))
	}
	if ready[0].Task.ID != clear.ID {
		t.Errorf("head = %s, want the uncontended task %s", ready[0].Task.ShortID, clear.ShortID)
	}
	if ready[1].Task.ID != contended.ID || ready[1].Contention != 1 {
		t.Errorf("contended task = %s contention=%d, want %s with 1", ready[1].Task.ShortID, ready[1].Contention, contended.ShortID)
	}
}

func TestReadyLimit(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("limits")
	m := env.Milestone(p, "m")
	for i := 0; i < 5; i++ {
		env.Task(m, "t")
	}
	ready, err := env.Coord.ListReady(env.Ctx, p.ID, ReadyQuery{Limit: 2})
	if err != nil {
		t.Fatalf("ListReady failed: %v", err)
	}
	if len(ready) != 2 {
		t.Errorf("got %d tasks, want limit 2", len(ready))
	}
}
