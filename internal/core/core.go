// Package core is the coordination kernel: every mutation of the work graph
// flows through a Coordinator method, runs inside a single storage
// transaction, and appends its events to the per-project log before the
// transaction commits. Surfaces (REST, MCP, CLI) translate requests into
// these calls and never touch storage directly.
package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// Options tunes kernel behavior. Zero values take the defaults below.
type Options struct {
	// DefaultLeaseTTL applies when a claim does not request a TTL.
	DefaultLeaseTTL time.Duration
	// MaxLeaseTTL caps requested lease TTLs.
	MaxLeaseTTL time.Duration
	// DefaultReservationTTL applies when an assignment does not request one.
	DefaultReservationTTL time.Duration
	// HeartbeatEventInterval coalesces lease.heartbeat events: at most one
	// per lease per interval. Heartbeats always extend the lease either way.
	HeartbeatEventInterval time.Duration
	// SweepBatch bounds how many expired leases/reservations one sweep
	// transaction processes.
	SweepBatch int
}

func (o Options) withDefaults() Options {
	if o.DefaultLeaseTTL <= 0 {
		o.DefaultLeaseTTL = types.DefaultLeaseTTL * time.Second
	}
	if o.MaxLeaseTTL <= 0 {
		o.MaxLeaseTTL = types.MaxLeaseTTL * time.Second
	}
	if o.DefaultReservationTTL <= 0 {
		o.DefaultReservationTTL = types.DefaultReservationTTL * time.Second
	}
	if o.HeartbeatEventInterval <= 0 {
		o.HeartbeatEventInterval = time.Minute
	}
	if o.SweepBatch <= 0 {
		o.SweepBatch = 200
	}
	return o
}

// Coordinator owns the work graph. All methods are safe for concurrent use;
// writes serialize on the storage layer's single-writer transaction.
type Coordinator struct {
	store storage.Storage
	log   zerolog.Logger
	opts  Options
}

// New builds a Coordinator over store.
func New(store storage.Storage, log zerolog.Logger, opts Options) *Coordinator {
	return &Coordinator{
		store: store,
		log:   log.With().Str("component", "core").Logger(),
		opts:  opts.withDefaults(),
	}
}

// Store exposes the read surface for projections that need raw queries
// (outbox consumers, status boards). Writes still go through the kernel.
func (c *Coordinator) Store() storage.Storage { return c.store }

// Logger returns the kernel's logger for subsystems that extend it.
func (c *Coordinator) Logger() zerolog.Logger { return c.log }

func (c *Coordinator) write(ctx context.Context, fn func(tx storage.Transaction) error) error {
	return c.store.RunInTransaction(ctx, fn)
}

// appendEvent marshals payload and appends one event inside tx. Seq is
// assigned by storage from the project's contiguous counter.
func appendEvent(ctx context.Context, tx storage.Transaction, projectID, entityType, entityID string, typ types.EventType, actor string, payload any) error {
	raw, err := types.EncodePayload(payload)
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, &types.Event{
		ProjectID:  projectID,
		EntityType: entityType,
		EntityID:   entityID,
		Type:       typ,
		Actor:      actor,
		Payload:    raw,
	})
}

// mutableProject resolves ref and rejects archived projects. Every mutating
// operation calls this first; reads work against archived projects as usual.
func mutableProject(ctx context.Context, r storage.Reader, ref string) (*types.Project, error) {
	p, err := r.GetProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	if p.Status == types.ProjectArchived {
		return nil, types.NewError(types.ErrInvariantViolation, "project %s is archived", p.ShortID).
			WithSub(types.SubProjectArchived)
	}
	return p, nil
}

func requireActor(actor string) error {
	if actor == "" {
		return types.NewError(types.ErrInvariantViolation, "actor is required")
	}
	return nil
}

func newID() string { return uuid.NewString() }

// setState performs one task state move: storage write plus the
// task.state_changed (or task.force_transitioned) event. Legality and
// commit-time invariants are the caller's job.
func setState(ctx context.Context, tx storage.Transaction, task *types.Task, to types.TaskState, planVersion int64, actor, rationale string, forced bool) error {
	from := task.State
	if err := tx.SetTaskState(ctx, task.ID, to); err != nil {
		return err
	}
	task.State = to
	typ := types.EventTaskStateChanged
	if forced {
		typ = types.EventTaskForceTransition
	}
	return appendEvent(ctx, tx, task.ProjectID, "task", task.ID, typ, actor, types.StateChangePayload{
		From:        from,
		To:          to,
		Forced:      forced,
		Rationale:   rationale,
		PlanVersion: planVersion,
	})
}

// depsSatisfied reports whether every prerequisite edge into taskID meets
// its unlock threshold.
func depsSatisfied(ctx context.Context, r storage.Reader, taskID string) (bool, []*types.Dependency, error) {
	unsat, err := r.UnsatisfiedPrereqs(ctx, taskID)
	if err != nil {
		return false, nil, err
	}
	return len(unsat) == 0, unsat, nil
}
