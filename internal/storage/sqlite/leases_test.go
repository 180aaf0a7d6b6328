package sqlite

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

func TestOneActiveLeasePerTask(t *testing.T) {
	env := newTestEnv(t)
	p := env.CreateProject("leasing")
	m := env.CreateMilestone(p, "m")
	task := env.CreateTask(m, "work")

	first := env.Lease(task, "agent-1", 15*time.Minute)

	// A second active lease must hit the partial unique index.
	now := time.Now().UTC()
	err := env.Store.RunInTransaction(env.Ctx, func(tx storage.Transaction) error {
		return tx.CreateLease(env.Ctx, &types.Lease{
			ID:              uuid.NewString(),
			TaskID:          task.ID,
			ProjectID:       p.ID,
			Holder:          "agent-2",
			Token:           "lt_" + uuid.NewString(),
			Fencing:         2,
			TTLSeconds:      900,
			AcquiredAt:      now,
			ExpiresAt:       now.Add(15 * time.Minute),
			LastHeartbeatAt: now,
		})
	})
	if err == nil {
		t.Fatal("second active lease accepted")
	}

	// Releasing the first frees the slot.
	env.Tx(func(tx storage.Transaction) error {
		return tx.FinishLease(env.Ctx, first.ID, types.LeaseReleased, "done", time.Now().UTC())
	})
	second := env.Lease(task, "agent-2", 15*time.Minute)
	if second.Fencing != first.Fencing+1 {
		t.Errorf("fencing = %d, want %d (monotonic per task)", second.Fencing, first.Fencing+1)
	}
}

func TestFencingIsPerTask(t *testing.T) {
	env := newTestEnv(t)
	p := env.CreateProject("fencing")
	m := env.CreateMilestone(p, "m")
	a := env.CreateTask(m, "a")
	b := env.CreateTask(m, "b")

	la := env.Lease(a, "agent-1", time.Minute)
	lb := env.Lease(b, "agent-1", time.Minute)
	if la.Fencing != 1 || lb.Fencing != 1 {
		t.Errorf("fresh tasks should both start at fencing 1, got %d and %d", la.Fencing, lb.Fencing)
	}

	env.Tx(func(tx storage.Transaction) error {
		return tx.FinishLease(env.Ctx, la.ID, types.LeaseExpired, "lease_expired", time.Now().UTC())
	})
	la2 := env.Lease(a, "agent-2", time.Minute)
	if la2.Fencing != 2 {
		t.Errorf("fencing after expiry = %d, want 2 (never resets)", la2.Fencing)
	}

	max, err := env.Store.MaxFencing(env.Ctx, b.ID)
	if err != nil {
		t.Fatalf("MaxFencing failed: %v", err)
	}
	if max != 1 {
		t.Errorf("task b max fencing = %d, want 1 (unaffected by task a)", max)
	}
}

func TestGetLeaseByToken(t *testing.T) {
	env := newTestEnv(t)
	p := env.CreateProject("tokens")
	m := env.CreateMilestone(p, "m")
	task := env.CreateTask(m, "work")
	lease := env.Lease(task, "agent-1", time.Minute)

	got, err := env.Store.GetLeaseByToken(env.Ctx, lease.Token)
	if err != nil {
		t.Fatalf("GetLeaseByToken failed: %v", err)
	}
	if got.ID != lease.ID || got.Holder != "agent-1" {
		t.Errorf("wrong lease returned: %+v", got)
	}

	_, err = env.Store.GetLeaseByToken(env.Ctx, "lt_unknown")
	if !types.IsCode(err, types.ErrLeaseStale) {
		t.Errorf("unknown token error = %v, want LEASE_STALE", err)
	}
}

func TestExpiredLeases(t *testing.T) {
	env := newTestEnv(t)
	p := env.CreateProject("expiry")
	m := env.CreateMilestone(p, "m")
	stale := env.CreateTask(m, "stale")
	fresh := env.CreateTask(m, "fresh")

	expired := env.Lease(stale, "agent-1", -time.Minute)
	env.Lease(fresh, "agent-2", time.Hour)

	got, err := env.Store.ExpiredLeases(env.Ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("ExpiredLeases failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != expired.ID {
		t.Fatalf("expired set = %d leases, want exactly the stale one", len(got))
	}

	// Heartbeat pushes expiry out; the lease leaves the expired set.
	env.Tx(func(tx storage.Transaction) error {
		now := time.Now().UTC()
		return tx.ExtendLease(env.Ctx, expired.ID, now.Add(time.Hour), now)
	})
	got, err = env.Store.ExpiredLeases(env.Ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("ExpiredLeases failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("extended lease still reported expired")
	}
}

func TestExtendFinishedLease(t *testing.T) {
	env := newTestEnv(t)
	p := env.CreateProject("finished")
	m := env.CreateMilestone(p, "m")
	task := env.CreateTask(m, "work")
	lease := env.Lease(task, "agent-1", time.Minute)

	env.Tx(func(tx storage.Transaction) error {
		return tx.FinishLease(env.Ctx, lease.ID, types.LeaseReleased, "done", time.Now().UTC())
	})

	err := env.Store.RunInTransaction(env.Ctx, func(tx storage.Transaction) error {
		now := time.Now().UTC()
		return tx.ExtendLease(env.Ctx, lease.ID, now.Add(time.Hour), now)
	})
	if !types.IsCode(err, types.ErrLeaseStale) {
		t.Errorf("extend of released lease error = %v, want LEASE_STALE", err)
	}

	got, err := env.Store.GetLeaseByToken(env.Ctx, lease.Token)
	if err != nil {
		t.Fatalf("GetLeaseByToken failed: %v", err)
	}
	if got.Status != types.LeaseReleased || got.ReleaseReason != "done" {
		t.Errorf("lease = %s/%q, want released/done", got.Status, got.ReleaseReason)
	}
	if got.ReleasedAt == nil {
		t.Errorf("released lease missing released_at")
	}
}

func TestOneActiveReservationPerTask(t *testing.T) {
	env := newTestEnv(t)
	p := env.CreateProject("reserving")
	m := env.CreateMilestone(p, "m")
	task := env.CreateTask(m, "work")

	now := time.Now().UTC()
	res := &types.Reservation{
		ID:         uuid.NewString(),
		TaskID:     task.ID,
		ProjectID:  p.ID,
		Assignee:   "agent-1",
		TTLSeconds: 1800,
		CreatedAt:  now,
		ExpiresAt:  now.Add(30 * time.Minute),
	}
	env.Tx(func(tx storage.Transaction) error {
		return tx.CreateReservation(env.Ctx, res)
	})

	err := env.Store.RunInTransaction(env.Ctx, func(tx storage.Transaction) error {
		return tx.CreateReservation(env.Ctx, &types.Reservation{
			ID:         uuid.NewString(),
			TaskID:     task.ID,
			ProjectID:  p.ID,
			Assignee:   "agent-2",
			TTLSeconds: 1800,
			CreatedAt:  now,
			ExpiresAt:  now.Add(30 * time.Minute),
		})
	})
	if err == nil {
		t.Fatal("second active reservation accepted")
	}

	env.Tx(func(tx storage.Transaction) error {
		return tx.FinishReservation(env.Ctx, res.ID, types.ReservationConverted, time.Now().UTC())
	})
	active, err := env.Store.ActiveReservationForTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("ActiveReservationForTask failed: %v", err)
	}
	if active != nil {
		t.Errorf("converted reservation still active")
	}
}
