package core

import (
	"testing"

	"github.com/tascade/tascade/internal/types"
)

func TestCreateTaskDefaults(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("defaults")
	m := env.Milestone(p, "m")

	task, err := env.Coord.CreateTask(env.Ctx, CreateTaskInput{
		MilestoneRef: m.ShortID,
		Title:        "wire the parser",
		Capabilities: types.Capabilities{"Go", " go ", "PARSING"},
		WorkSpec:     testWorkSpec("wire the parser"),
		Actor:        "planner",
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.Class != types.ClassImplementation {
		t.Errorf("class = %s, want implementation", task.Class)
	}
	if task.Priority != types.DefaultPriority {
		t.Errorf("priority = %d, want %d", task.Priority, types.DefaultPriority)
	}
	if task.State != types.StateReady {
		t.Errorf("state = %s, want ready", task.State)
	}
	want := types.Capabilities{"go", "parsing"}
	if len(task.Capabilities) != len(want) || task.Capabilities[0] != want[0] || task.Capabilities[1] != want[1] {
		t.Errorf("capabilities = %v, want %v", task.Capabilities, want)
	}
	if task.ShortID != "P1.M1.T1" {
		t.Errorf("short id = %s, want P1.M1.T1", task.ShortID)
	}

	byShort, err := env.Coord.GetTask(env.Ctx, "P1.M1.T1")
	if err != nil || byShort.ID != task.ID {
		t.Errorf("GetTask by short id = %v, %v", byShort, err)
	}
	if ev := env.LastEvent(p, types.EventTaskCreated); ev == nil || ev.EntityID != task.ID {
		t.Errorf("task.created event = %+v", ev)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("strict")
	m := env.Milestone(p, "m")

	cases := []struct {
		name string
		in   CreateTaskInput
		code types.ErrorCode
	}{
		{"blank title", CreateTaskInput{MilestoneRef: m.ID, Title: " ", WorkSpec: testWorkSpec("x"), Actor: "planner"}, types.ErrInvariantViolation},
		{"unknown class", CreateTaskInput{MilestoneRef: m.ID, Title: "t", Class: "epic", WorkSpec: testWorkSpec("x"), Actor: "planner"}, types.ErrInvalidTaskClass},
		{"direct gate", CreateTaskInput{MilestoneRef: m.ID, Title: "t", Class: types.ClassReviewGate, WorkSpec: testWorkSpec("x"), Actor: "planner"}, types.ErrInvalidTaskClass},
		{"missing work spec", CreateTaskInput{MilestoneRef: m.ID, Title: "t", Actor: "planner"}, types.ErrInvalidWorkSpec},
		{"work spec not json", CreateTaskInput{MilestoneRef: m.ID, Title: "t", WorkSpec: []byte("goal: x"), Actor: "planner"}, types.ErrInvalidWorkSpec},
		{"work spec without goal", CreateTaskInput{MilestoneRef: m.ID, Title: "t", WorkSpec: []byte(`{"goal":"  "}`), Actor: "planner"}, types.ErrInvalidWorkSpec},
		{"unknown milestone", CreateTaskInput{MilestoneRef: "P9.M9", Title: "t", WorkSpec: testWorkSpec("x"), Actor: "planner"}, types.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.Coord.CreateTask(env.Ctx, tc.in); !types.IsCode(err, tc.code) {
				t.Errorf("got %v, want %s", err, tc.code)
			}
		})
	}
}

func TestListTasksFilters(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("filtered")
	m1 := env.Milestone(p, "one")
	m2 := env.Milestone(p, "two")
	a := env.Task(m1, "a")
	env.Task(m1, "b")
	env.Task(m2, "c")
	env.Implement(a, "agent-ada")

	byMilestone, err := env.Coord.ListTasks(env.Ctx, types.TaskFilter{MilestoneID: m1.ShortID})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(byMilestone) != 2 {
		t.Errorf("milestone filter = %d tasks, want 2", len(byMilestone))
	}

	implemented, err := env.Coord.ListTasks(env.Ctx, types.TaskFilter{
		ProjectID: p.ShortID,
		States:    []types.TaskState{types.StateImplemented},
	})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(implemented) != 1 || implemented[0].ID != a.ID {
		t.Errorf("state filter = %+v", implemented)
	}

	if _, err := env.Coord.ListTasks(env.Ctx, types.TaskFilter{ProjectID: "P42"}); !types.IsCode(err, types.ErrNotFound) {
		t.Errorf("unknown project filter: got %v", err)
	}
}

func TestUpdateTaskNonMaterialFields(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("edited")
	m := env.Milestone(p, "m")
	task := env.Task(m, "rough title")
	claim := env.Claim(task, "agent-ada")

	title := "polished title"
	pri := 0
	got, err := env.Coord.UpdateTask(env.Ctx, UpdateTaskInput{
		TaskRef:  task.ID,
		Title:    &title,
		Priority: &pri,
		Actor:    "planner",
	})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if got.Title != title || got.Priority != 0 {
		t.Errorf("updated task = %q/%d", got.Title, got.Priority)
	}
	if ev := env.LastEvent(p, types.EventTaskUpdated); ev == nil {
		t.Error("no task.updated event")
	}

	// Cosmetic edits never disturb the holder.
	if _, err := env.Coord.Heartbeat(env.Ctx, claim.Lease.Token, 0); err != nil {
		t.Errorf("heartbeat after cosmetic edit: %v", err)
	}
}

func TestUpdateTaskRejectsMaterialFields(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("guarded")
	m := env.Milestone(p, "m")
	task := env.Task(m, "stable")

	caps := types.Capabilities{"go"}
	cases := []struct {
		name string
		in   UpdateTaskInput
	}{
		{"work spec", UpdateTaskInput{TaskRef: task.ID, WorkSpec: testWorkSpec("different"), Actor: "planner"}},
		{"capabilities", UpdateTaskInput{TaskRef: task.ID, Capabilities: &caps, Actor: "planner"}},
		{"class", UpdateTaskInput{TaskRef: task.ID, Class: types.ClassChore, Actor: "planner"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Coord.UpdateTask(env.Ctx, tc.in)
			if de, ok := types.AsError(err); !ok || de.SubCode != types.SubMaterialField {
				t.Errorf("got %v, want MATERIAL_FIELD", err)
			}
		})
	}

	// Nothing leaked through.
	if got := env.Reload(task); got.Class != types.ClassImplementation || len(got.Capabilities) != 0 {
		t.Errorf("task mutated: %+v", got)
	}
}

func TestUpdateTaskTerminalAndBlankTitle(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("closed")
	m := env.Milestone(p, "m")
	task := env.Task(m, "done deal")
	env.Implement(task, "agent-ada")
	env.Integrate(task)

	title := "rewrite history"
	if _, err := env.Coord.UpdateTask(env.Ctx, UpdateTaskInput{TaskRef: task.ID, Title: &title, Actor: "planner"}); !types.IsCode(err, types.ErrInvariantViolation) {
		t.Errorf("edit of integrated task: got %v", err)
	}

	open := env.Task(m, "still open")
	blank := "  "
	if _, err := env.Coord.UpdateTask(env.Ctx, UpdateTaskInput{TaskRef: open.ID, Title: &blank, Actor: "planner"}); !types.IsCode(err, types.ErrInvariantViolation) {
		t.Errorf("blank title: got %v", err)
	}

	// A no-field update is a read.
	got, err := env.Coord.UpdateTask(env.Ctx, UpdateTaskInput{TaskRef: open.ID, Actor: "planner"})
	if err != nil || got.ID != open.ID {
		t.Errorf("empty update = %v, %v", got, err)
	}
}
