package core

import (
	"context"
	"strings"
	"time"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// ClaimRequest asks for exclusive execution of one task.
type ClaimRequest struct {
	TaskRef      string
	Actor        string
	Capabilities types.Capabilities
	TTL          time.Duration // 0 takes the configured default
}

// ClaimTask acquires a lease on a ready (or reserved-for-the-caller) task,
// captures the execution snapshot, and moves the task to claimed. All of it
// commits atomically; two agents racing for the same task serialize on the
// write transaction and the loser gets a state error.
func (c *Coordinator) ClaimTask(ctx context.Context, req ClaimRequest) (*types.ClaimResult, error) {
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}
	var out *types.ClaimResult
	err := c.write(ctx, func(tx storage.Transaction) error {
		task, err := tx.GetTask(ctx, req.TaskRef)
		if err != nil {
			return err
		}
		p, err := mutableProject(ctx, tx, task.ProjectID)
		if err != nil {
			return err
		}
		res, err := c.claimLocked(ctx, tx, p, task, req)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Info().
		Str("task", out.Task.ShortID).
		Str("holder", req.Actor).
		Int64("fencing", out.Lease.Fencing).
		Msg("task claimed")
	return out, nil
}

// ClaimNext claims the first eligible task from the project's ready set,
// honoring the same ordering list_ready_tasks reports.
func (c *Coordinator) ClaimNext(ctx context.Context, projectRef string, actor string, caps types.Capabilities, ttl time.Duration) (*types.ClaimResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	var out *types.ClaimResult
	err := c.write(ctx, func(tx storage.Transaction) error {
		p, err := mutableProject(ctx, tx, projectRef)
		if err != nil {
			return err
		}
		ready, err := c.readyTasksLocked(ctx, tx, p, ReadyQuery{Actor: actor, Capabilities: caps})
		if err != nil {
			return err
		}
		if len(ready) == 0 {
			return types.NotFound("ready task", p.ShortID)
		}
		task, err := tx.GetTask(ctx, ready[0].Task.ID)
		if err != nil {
			return err
		}
		res, err := c.claimLocked(ctx, tx, p, task, ClaimRequest{
			TaskRef:      task.ID,
			Actor:        actor,
			Capabilities: caps,
			TTL:          ttl,
		})
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// claimLocked is the claim body, reused by ClaimTask and ClaimNext inside
// an open transaction.
func (c *Coordinator) claimLocked(ctx context.Context, tx storage.Transaction, p *types.Project, task *types.Task, req ClaimRequest) (*types.ClaimResult, error) {
	now := time.Now().UTC()

	// A lease past its TTL that the sweeper has not reached yet does not
	// block a new claim: expire it here, inside the claiming transaction.
	if lease, err := tx.ActiveLeaseForTask(ctx, task.ID); err != nil {
		return nil, err
	} else if lease != nil {
		if lease.ExpiresAt.After(now) {
			return nil, types.NewError(types.ErrConflict,
				"task %s is already claimed by %s", task.ShortID, lease.Holder)
		}
		if err := expireLease(ctx, tx, task, lease, p.PlanVersion, req.Actor); err != nil {
			return nil, err
		}
	}

	switch task.State {
	case types.StateReady:
		// claimable
	case types.StateReserved:
		res, err := tx.ActiveReservationForTask(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		switch {
		case res == nil:
			// Reservation row gone but state not yet swept; repair.
			if err := setState(ctx, tx, task, types.StateReady, p.PlanVersion, req.Actor, "reservation lapsed", false); err != nil {
				return nil, err
			}
		case !res.ExpiresAt.After(now):
			if err := releaseReservation(ctx, tx, task, types.ReservationExpired, "ttl elapsed", req.Actor); err != nil {
				return nil, err
			}
			if err := setState(ctx, tx, task, types.StateReady, p.PlanVersion, req.Actor, "reservation expired", false); err != nil {
				return nil, err
			}
		case res.Assignee != req.Actor:
			return nil, types.NewError(types.ErrReservationConflict,
				"task %s is reserved for %s", task.ShortID, res.Assignee).
				WithDetail("assignee", res.Assignee)
		default:
			if err := releaseReservation(ctx, tx, task, types.ReservationConverted, "claimed", req.Actor); err != nil {
				return nil, err
			}
		}
	default:
		return nil, types.NewError(types.ErrInvariantViolation,
			"task %s is %s, not claimable", task.ShortID, task.State)
	}

	if len(task.Capabilities) > 0 && !req.Capabilities.Covers(task.Capabilities) {
		return nil, types.NewError(types.ErrInvalidCapabilities,
			"task %s requires capabilities %s", task.ShortID, strings.Join(task.Capabilities, ",")).
			WithDetail("required", task.Capabilities).
			WithDetail("offered", req.Capabilities)
	}

	maxFencing, err := tx.MaxFencing(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	ttl := clampTTL(req.TTL, c.opts.DefaultLeaseTTL, c.opts.MaxLeaseTTL, types.MinLeaseTTL*time.Second)
	lease := &types.Lease{
		ID:              newID(),
		TaskID:          task.ID,
		ProjectID:       p.ID,
		Holder:          req.Actor,
		Token:           "lt_" + newID(),
		Fencing:         maxFencing + 1,
		Status:          types.LeaseActive,
		TTLSeconds:      int64(ttl / time.Second),
		AcquiredAt:      now,
		ExpiresAt:       now.Add(ttl),
		LastHeartbeatAt: now,
	}
	if err := tx.CreateLease(ctx, lease); err != nil {
		return nil, err
	}
	if err := appendEvent(ctx, tx, p.ID, "lease", lease.ID, types.EventLeaseAcquired, req.Actor, types.LeasePayload{
		LeaseID:   lease.ID,
		TaskID:    task.ID,
		Holder:    lease.Holder,
		Fencing:   lease.Fencing,
		Status:    types.LeaseActive,
		ExpiresAt: lease.ExpiresAt,
	}); err != nil {
		return nil, err
	}

	hash, err := types.CanonicalHash(task.WorkSpec)
	if err != nil {
		return nil, err
	}
	snap := &types.ExecutionSnapshot{
		ID:           newID(),
		TaskID:       task.ID,
		LeaseID:      lease.ID,
		PlanVersion:  p.PlanVersion,
		WorkSpec:     task.WorkSpec,
		WorkSpecHash: hash,
	}
	if err := tx.CreateSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	if err := appendEvent(ctx, tx, p.ID, "snapshot", snap.ID, types.EventSnapshotCaptured, req.Actor, map[string]any{
		"task_id":        task.ID,
		"lease_id":       lease.ID,
		"plan_version":   snap.PlanVersion,
		"work_spec_hash": snap.WorkSpecHash,
	}); err != nil {
		return nil, err
	}

	if err := setState(ctx, tx, task, types.StateClaimed, p.PlanVersion, req.Actor, "", false); err != nil {
		return nil, err
	}
	return &types.ClaimResult{Task: *task, Lease: *lease, Snapshot: *snap}, nil
}

// HeartbeatResult is what a live agent gets back: the extended lease and
// the plan advisory telling it whether the plan moved underneath it.
type HeartbeatResult struct {
	Lease    types.Lease        `json:"lease"`
	Advisory types.PlanAdvisory `json:"advisory"`
}

// Heartbeat extends an active lease. Extension is monotone: an active lease
// nominally past its TTL is still extendable until the sweeper commits the
// expiry, so a slow-but-alive agent loses its lease only to the sweeper,
// never to clock skew.
func (c *Coordinator) Heartbeat(ctx context.Context, token string, ttl time.Duration) (*HeartbeatResult, error) {
	var out *HeartbeatResult
	err := c.write(ctx, func(tx storage.Transaction) error {
		lease, err := tx.GetLeaseByToken(ctx, token)
		if err != nil {
			return err
		}
		if lease.Status != types.LeaseActive {
			return types.NewError(types.ErrLeaseStale, "lease is %s", lease.Status).
				WithDetail("release_reason", lease.ReleaseReason)
		}
		maxFencing, err := tx.MaxFencing(ctx, lease.TaskID)
		if err != nil {
			return err
		}
		if lease.Fencing < maxFencing {
			return types.NewError(types.ErrLeaseFenced,
				"lease fencing %d superseded by %d", lease.Fencing, maxFencing)
		}

		now := time.Now().UTC()
		extend := time.Duration(lease.TTLSeconds) * time.Second
		if ttl > 0 {
			extend = clampTTL(ttl, c.opts.DefaultLeaseTTL, c.opts.MaxLeaseTTL, types.MinLeaseTTL*time.Second)
		}
		expiresAt := now.Add(extend)
		if err := tx.ExtendLease(ctx, lease.ID, expiresAt, now); err != nil {
			return err
		}
		if now.Sub(lease.LastHeartbeatAt) >= c.opts.HeartbeatEventInterval {
			if err := appendEvent(ctx, tx, lease.ProjectID, "lease", lease.ID, types.EventLeaseHeartbeat, lease.Holder, types.LeasePayload{
				LeaseID:   lease.ID,
				TaskID:    lease.TaskID,
				Holder:    lease.Holder,
				Fencing:   lease.Fencing,
				Status:    types.LeaseActive,
				ExpiresAt: expiresAt,
			}); err != nil {
				return err
			}
		}
		lease.ExpiresAt = expiresAt
		lease.LastHeartbeatAt = now

		advisory, err := c.planAdvisory(ctx, tx, lease)
		if err != nil {
			return err
		}
		out = &HeartbeatResult{Lease: *lease, Advisory: *advisory}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// planAdvisory compares the lease's captured snapshot against the live plan.
func (c *Coordinator) planAdvisory(ctx context.Context, r storage.Reader, lease *types.Lease) (*types.PlanAdvisory, error) {
	p, err := r.GetProject(ctx, lease.ProjectID)
	if err != nil {
		return nil, err
	}
	advisory := &types.PlanAdvisory{PlanVersion: p.PlanVersion}
	snap, err := r.SnapshotForLease(ctx, lease.ID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return advisory, nil
	}
	advisory.PlanStale = p.PlanVersion > snap.PlanVersion
	task, err := r.GetTask(ctx, lease.TaskID)
	if err != nil {
		return nil, err
	}
	equal, err := types.WorkSpecMaterialEqual(snap.WorkSpec, task.WorkSpec)
	if err != nil {
		return nil, err
	}
	advisory.MaterialPending = !equal
	return advisory, nil
}

// ReleaseLease gives up an active lease. The task returns to the pool:
// claimed goes straight back to ready, in_progress passes through abandoned
// so the interruption stays visible in the transition chain.
func (c *Coordinator) ReleaseLease(ctx context.Context, token, reason, actor string) (*types.Task, error) {
	if reason == "" {
		reason = "released"
	}
	var out *types.Task
	err := c.write(ctx, func(tx storage.Transaction) error {
		lease, err := tx.GetLeaseByToken(ctx, token)
		if err != nil {
			return err
		}
		if lease.Status != types.LeaseActive {
			return types.NewError(types.ErrLeaseStale, "lease is %s", lease.Status)
		}
		task, err := tx.GetTask(ctx, lease.TaskID)
		if err != nil {
			return err
		}
		p, err := tx.GetProject(ctx, task.ProjectID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := tx.FinishLease(ctx, lease.ID, types.LeaseReleased, reason, now); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, p.ID, "lease", lease.ID, types.EventLeaseReleased, actor, types.LeasePayload{
			LeaseID: lease.ID,
			TaskID:  task.ID,
			Holder:  lease.Holder,
			Fencing: lease.Fencing,
			Status:  types.LeaseReleased,
			Reason:  reason,
		}); err != nil {
			return err
		}
		if err := requeueAfterLeaseLoss(ctx, tx, task, p.PlanVersion, actor, reason); err != nil {
			return err
		}
		out = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// requeueAfterLeaseLoss returns a task to the pool after its lease ended.
func requeueAfterLeaseLoss(ctx context.Context, tx storage.Transaction, task *types.Task, planVersion int64, actor, rationale string) error {
	switch task.State {
	case types.StateClaimed:
		if err := setState(ctx, tx, task, types.StateReady, planVersion, actor, rationale, false); err != nil {
			return err
		}
		return refreshTaskReadiness(ctx, tx, task, planVersion, actor)
	case types.StateInProgress:
		if err := setState(ctx, tx, task, types.StateAbandoned, planVersion, actor, rationale, false); err != nil {
			return err
		}
		if satisfied, _, err := depsSatisfied(ctx, tx, task.ID); err != nil {
			return err
		} else if satisfied {
			return setState(ctx, tx, task, types.StateReady, planVersion, actor, "requeued", false)
		}
	}
	return nil
}

// expireLease commits one lease expiry: the lease row, the event, and the
// task's return to the pool.
func expireLease(ctx context.Context, tx storage.Transaction, task *types.Task, lease *types.Lease, planVersion int64, actor string) error {
	now := time.Now().UTC()
	if err := tx.FinishLease(ctx, lease.ID, types.LeaseExpired, "ttl elapsed", now); err != nil {
		return err
	}
	if err := appendEvent(ctx, tx, task.ProjectID, "lease", lease.ID, types.EventLeaseExpired, actor, types.LeasePayload{
		LeaseID: lease.ID,
		TaskID:  task.ID,
		Holder:  lease.Holder,
		Fencing: lease.Fencing,
		Status:  types.LeaseExpired,
		Reason:  "ttl elapsed",
	}); err != nil {
		return err
	}
	return requeueAfterLeaseLoss(ctx, tx, task, planVersion, actor, "lease expired")
}

// validateLeaseToken checks that token is the live, unfenced lease on
// taskID. It never mutates: an expired-but-unswept lease fails here and is
// finished by the sweeper or the next claim.
func validateLeaseToken(ctx context.Context, r storage.Reader, taskID, token string) (*types.Lease, error) {
	if token == "" {
		return nil, types.NewError(types.ErrLeaseStale, "lease token is required")
	}
	lease, err := r.GetLeaseByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if lease.TaskID != taskID {
		return nil, types.NewError(types.ErrLeaseStale, "lease token is for another task")
	}
	if lease.Status != types.LeaseActive {
		return nil, types.NewError(types.ErrLeaseStale, "lease is %s", lease.Status).
			WithDetail("release_reason", lease.ReleaseReason)
	}
	if !lease.ExpiresAt.After(time.Now().UTC()) {
		return nil, types.NewError(types.ErrLeaseStale, "lease expired at %s", lease.ExpiresAt.Format(time.RFC3339))
	}
	maxFencing, err := r.MaxFencing(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if lease.Fencing < maxFencing {
		return nil, types.NewError(types.ErrLeaseFenced,
			"lease fencing %d superseded by %d", lease.Fencing, maxFencing)
	}
	return lease, nil
}

func clampTTL(requested, def, max, min time.Duration) time.Duration {
	ttl := requested
	if ttl <= 0 {
		ttl = def
	}
	if ttl < min {
		ttl = min
	}
	if ttl > max {
		ttl = max
	}
	return ttl
}
