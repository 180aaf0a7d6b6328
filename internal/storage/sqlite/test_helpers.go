package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// testEnv provides a test environment with common setup and helpers.
// Use newTestEnv(t) to create one with automatic cleanup.
type testEnv struct {
	t     *testing.T
	Store *Store
	Ctx   context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		t:     t,
		Store: newTestStore(t, ""),
		Ctx:   context.Background(),
	}
}

// Tx runs fn in a write transaction and fails the test on error.
func (e *testEnv) Tx(fn func(tx storage.Transaction) error) {
	e.t.Helper()
	if err := e.Store.RunInTransaction(e.Ctx, fn); err != nil {
		e.t.Fatalf("transaction failed: %v", err)
	}
}

// CreateProject creates a project with the given name.
func (e *testEnv) CreateProject(name string) *types.Project {
	e.t.Helper()
	p := &types.Project{ID: uuid.NewString(), Name: name}
	e.Tx(func(tx storage.Transaction) error {
		return tx.CreateProject(e.Ctx, p)
	})
	return p
}

// CreateMilestone creates a milestone in the project.
func (e *testEnv) CreateMilestone(project *types.Project, name string) *types.Milestone {
	e.t.Helper()
	m := &types.Milestone{ID: uuid.NewString(), ProjectID: project.ID, Name: name}
	e.Tx(func(tx storage.Transaction) error {
		seq, err := tx.NextMilestoneSequence(e.Ctx, project.ID)
		if err != nil {
			return err
		}
		m.Sequence = seq
		return tx.CreateMilestone(e.Ctx, m)
	})
	return m
}

// CreateTask creates a backlog task with defaults in the milestone.
func (e *testEnv) CreateTask(milestone *types.Milestone, title string) *types.Task {
	e.t.Helper()
	return e.CreateTaskWith(milestone, title, types.DefaultPriority, nil)
}

// CreateTaskWith creates a task with explicit priority and capabilities.
func (e *testEnv) CreateTaskWith(milestone *types.Milestone, title string, priority int, caps types.Capabilities) *types.Task {
	e.t.Helper()
	task := &types.Task{
		ID:           uuid.NewString(),
		MilestoneID:  milestone.ID,
		Title:        title,
		Class:        types.ClassImplementation,
		Priority:     priority,
		Capabilities: caps,
		WorkSpec:     testWorkSpec(title),
	}
	e.Tx(func(tx storage.Transaction) error {
		return tx.CreateTask(e.Ctx, task)
	})
	return task
}

// AddDep adds a from -> to dependency edge with the implemented threshold.
func (e *testEnv) AddDep(from, to *types.Task) {
	e.t.Helper()
	e.Tx(func(tx storage.Transaction) error {
		return tx.AddDependency(e.Ctx, &types.Dependency{
			ID:         uuid.NewString(),
			ProjectID:  from.ProjectID,
			FromTaskID: from.ID,
			ToTaskID:   to.ID,
			UnlockOn:   types.UnlockOnImplemented,
			CreatedBy:  "test-user",
		})
	})
}

// SetState moves the task to state s directly, bypassing kernel checks.
func (e *testEnv) SetState(task *types.Task, s types.TaskState) {
	e.t.Helper()
	e.Tx(func(tx storage.Transaction) error {
		return tx.SetTaskState(e.Ctx, task.ID, s)
	})
	task.State = s
}

// Lease grants an active lease on the task for holder with the given TTL.
func (e *testEnv) Lease(task *types.Task, holder string, ttl time.Duration) *types.Lease {
	e.t.Helper()
	now := time.Now().UTC()
	l := &types.Lease{
		ID:              uuid.NewString(),
		TaskID:          task.ID,
		ProjectID:       task.ProjectID,
		Holder:          holder,
		Token:           "lt_" + uuid.NewString(),
		Status:          types.LeaseActive,
		TTLSeconds:      int64(ttl / time.Second),
		AcquiredAt:      now,
		ExpiresAt:       now.Add(ttl),
		LastHeartbeatAt: now,
	}
	e.Tx(func(tx storage.Transaction) error {
		max, err := tx.MaxFencing(e.Ctx, task.ID)
		if err != nil {
			return err
		}
		l.Fencing = max + 1
		return tx.CreateLease(e.Ctx, l)
	})
	return l
}

func testWorkSpec(goal string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"goal":%q,"acceptance_criteria":["verified"]}`, goal))
}

// newTestStore opens a store on a temp-dir database with cleanup attached.
// File-backed databases keep connection-pool behavior identical to
// production; the default ":memory:" DSN would hand each pooled connection
// its own empty database.
func newTestStore(t *testing.T, dbPath string) *Store {
	t.Helper()

	if dbPath == "" {
		dbPath = t.TempDir() + "/test.db"
	}

	store, err := New(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("Failed to close test database: %v", cerr)
		}
	})

	return store
}
