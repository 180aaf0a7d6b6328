package core

import (
	"context"
	"time"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// TransitionRequest asks for one task state transition.
type TransitionRequest struct {
	TaskRef   string
	To        types.TaskState
	Actor     string
	Rationale string

	// LeaseToken authorizes execution transitions. Required whenever the
	// transition is performed by the agent holding the task.
	LeaseToken string

	// Force skips commit-time invariants and the transition table; it
	// never bypasses terminal states or lease fencing, and it requires a
	// rationale. Surfaces restrict it to operator/admin scopes.
	Force bool
}

// Transition moves a task through the lifecycle state machine, enforcing
// edge legality and the commit-time invariants of the target state. The
// state write, its event, and every cascade (lease handoff, dependent
// readiness, gate evaluation) commit in one transaction.
func (c *Coordinator) Transition(ctx context.Context, req TransitionRequest) (*types.Task, error) {
	if !types.ValidState(req.To) {
		return nil, types.NewError(types.ErrInvariantViolation, "unknown state %q", req.To)
	}
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}
	if req.Force && req.Rationale == "" {
		return nil, types.NewError(types.ErrInvariantViolation, "forced transitions require a rationale")
	}
	var out *types.Task
	err := c.write(ctx, func(tx storage.Transaction) error {
		task, err := tx.GetTask(ctx, req.TaskRef)
		if err != nil {
			return err
		}
		p, err := mutableProject(ctx, tx, task.ProjectID)
		if err != nil {
			return err
		}
		if task.State.IsTerminal() {
			return types.NewError(types.ErrInvariantViolation,
				"task %s is %s; terminal states admit no transitions", task.ShortID, task.State)
		}
		if req.Force {
			if err := c.forceTransition(ctx, tx, p, task, req); err != nil {
				return err
			}
		} else {
			if err := c.checkedTransition(ctx, tx, p, task, req); err != nil {
				return err
			}
		}
		if err := c.afterTransition(ctx, tx, p, task, req.Actor); err != nil {
			return err
		}
		out = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Info().
		Str("task", out.ShortID).
		Str("to", string(out.State)).
		Bool("forced", req.Force).
		Str("actor", req.Actor).
		Msg("task transitioned")
	return out, nil
}

// checkedTransition enforces the transition table and the target state's
// commit-time invariants, then performs the move.
func (c *Coordinator) checkedTransition(ctx context.Context, tx storage.Transaction, p *types.Project, task *types.Task, req TransitionRequest) error {
	from := task.State
	if !types.CanTransition(from, req.To) {
		return types.NewError(types.ErrInvariantViolation,
			"cannot transition %s from %s to %s", task.ShortID, from, req.To).
			WithSub(types.SubIllegalTransition).
			WithDetail("allowed", types.AllowedFrom(from))
	}

	switch req.To {
	case types.StateReserved:
		return types.NewError(types.ErrInvariantViolation, "reserved is entered through assign_task")
	case types.StateClaimed:
		return types.NewError(types.ErrInvariantViolation, "claimed is entered through claim_task")

	case types.StateReady:
		switch from {
		case types.StateReserved:
			if err := releaseReservation(ctx, tx, task, types.ReservationReleased, "unreserved", req.Actor); err != nil {
				return err
			}
		case types.StateClaimed:
			if err := c.endLeaseForTransition(ctx, tx, task, req, "released"); err != nil {
				return err
			}
		default:
			if err := requireDepsSatisfied(ctx, tx, task); err != nil {
				return err
			}
		}

	case types.StateInProgress:
		if _, err := validateLeaseToken(ctx, tx, task.ID, req.LeaseToken); err != nil {
			return err
		}

	case types.StateImplemented:
		if err := requirePassedArtifact(ctx, tx, task); err != nil {
			return err
		}
		if from == types.StateInProgress {
			if err := c.endLeaseForTransition(ctx, tx, task, req, "implemented"); err != nil {
				return err
			}
		} else {
			// blocked/conflict recovery: any stray lease dies here.
			if err := invalidateLease(ctx, tx, task, "implemented via recovery", req.Actor); err != nil {
				return err
			}
		}

	case types.StateIntegrated:
		if err := c.requireIntegrateInvariants(ctx, tx, task, req.Actor); err != nil {
			return err
		}

	case types.StateAbandoned:
		if err := c.endLeaseForTransition(ctx, tx, task, req, "abandoned"); err != nil {
			return err
		}

	case types.StateBlocked, types.StateConflict:
		if lease, err := tx.ActiveLeaseForTask(ctx, task.ID); err != nil {
			return err
		} else if lease != nil {
			if err := c.endLeaseForTransition(ctx, tx, task, req, string(req.To)); err != nil {
				return err
			}
		}

	case types.StateCancelled:
		if err := invalidateLease(ctx, tx, task, "cancelled", req.Actor); err != nil {
			return err
		}
		if err := releaseReservation(ctx, tx, task, types.ReservationReleased, "cancelled", req.Actor); err != nil {
			return err
		}
	}

	if err := setState(ctx, tx, task, req.To, p.PlanVersion, req.Actor, req.Rationale, false); err != nil {
		return err
	}
	// A requested move to ready can land in backlog when prerequisites
	// regressed in the meantime; the refresh records the second hop.
	if req.To == types.StateReady {
		return refreshTaskReadiness(ctx, tx, task, p.PlanVersion, req.Actor)
	}
	return nil
}

// forceTransition is the operator escape hatch: any non-terminal state to
// any state except the lease-held ones, with cleanup of whatever execution
// primitives the jump strands.
func (c *Coordinator) forceTransition(ctx context.Context, tx storage.Transaction, p *types.Project, task *types.Task, req TransitionRequest) error {
	if req.To == types.StateClaimed || req.To == types.StateReserved {
		return types.NewError(types.ErrInvariantViolation,
			"cannot force into %s: it requires a live lease or reservation", req.To)
	}
	if err := invalidateLease(ctx, tx, task, "forced to "+string(req.To), req.Actor); err != nil {
		return err
	}
	if err := releaseReservation(ctx, tx, task, types.ReservationReleased, "forced to "+string(req.To), req.Actor); err != nil {
		return err
	}
	return setState(ctx, tx, task, req.To, p.PlanVersion, req.Actor, req.Rationale, true)
}

// afterTransition runs the cascades a committed move triggers: dependent
// readiness both directions, then gate rule evaluation.
func (c *Coordinator) afterTransition(ctx context.Context, tx storage.Transaction, p *types.Project, task *types.Task, actor string) error {
	if err := refreshDependents(ctx, tx, task, p.PlanVersion, actor); err != nil {
		return err
	}
	if task.State == types.StateImplemented && !task.Class.IsGateClass() {
		if err := c.evaluateTaskGates(ctx, tx, p, task, actor); err != nil {
			return err
		}
	}
	switch task.State {
	case types.StateImplemented, types.StateIntegrated, types.StateCancelled:
		return c.evaluateMilestoneGates(ctx, tx, p, task.MilestoneID, actor)
	}
	return nil
}

// endLeaseForTransition validates the caller's token and finishes the lease
// as part of a state move.
func (c *Coordinator) endLeaseForTransition(ctx context.Context, tx storage.Transaction, task *types.Task, req TransitionRequest, reason string) error {
	lease, err := validateLeaseToken(ctx, tx, task.ID, req.LeaseToken)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := tx.FinishLease(ctx, lease.ID, types.LeaseReleased, reason, now); err != nil {
		return err
	}
	return appendEvent(ctx, tx, task.ProjectID, "lease", lease.ID, types.EventLeaseReleased, req.Actor, types.LeasePayload{
		LeaseID: lease.ID,
		TaskID:  task.ID,
		Holder:  lease.Holder,
		Fencing: lease.Fencing,
		Status:  types.LeaseReleased,
		Reason:  reason,
	})
}

func requireDepsSatisfied(ctx context.Context, r storage.Reader, task *types.Task) error {
	satisfied, unsat, err := depsSatisfied(ctx, r, task.ID)
	if err != nil {
		return err
	}
	if satisfied {
		return nil
	}
	blocking := make([]string, 0, len(unsat))
	for _, d := range unsat {
		prereq, err := r.GetTask(ctx, d.FromTaskID)
		if err != nil {
			return err
		}
		blocking = append(blocking, prereq.ShortID)
	}
	return types.NewError(types.ErrInvariantViolation,
		"task %s has unsatisfied prerequisites", task.ShortID).
		WithSub(types.SubDepsUnsatisfied).
		WithDetail("blocking", blocking)
}

func requirePassedArtifact(ctx context.Context, r storage.Reader, task *types.Task) error {
	artifact, err := r.LatestPassedArtifact(ctx, task.ID)
	if err != nil {
		return err
	}
	if artifact == nil {
		return types.NewError(types.ErrInvariantViolation,
			"task %s has no artifact with passing checks", task.ShortID).
			WithSub(types.SubMissingPassedCheck)
	}
	return nil
}

// requireIntegrateInvariants checks everything integrated demands: an
// approving review with evidence from someone other than the actor, every
// covering gate approved, and a successful integration attempt.
func (c *Coordinator) requireIntegrateInvariants(ctx context.Context, r storage.Reader, task *types.Task, actor string) error {
	reviews, err := r.ReviewsForTask(ctx, task.ID)
	if err != nil {
		return err
	}
	var approving *types.Review
	for _, rv := range reviews {
		if rv.Verdict == types.ReviewApproved {
			approving = rv
		}
	}
	if approving == nil {
		return types.NewError(types.ErrInvariantViolation,
			"task %s has no approving review", task.ShortID)
	}
	if approving.ReviewedBy == actor {
		return types.NewError(types.ErrInvariantViolation,
			"reviewer %s cannot integrate their own review of %s", actor, task.ShortID).
			WithSub(types.SubSelfReview)
	}
	if len(approving.EvidenceRefs) == 0 {
		return types.NewError(types.ErrInvariantViolation,
			"approving review of %s carries no evidence refs", task.ShortID).
			WithSub(types.SubMissingEvidence)
	}

	if failing, err := unapprovedGates(ctx, r, task.ID); err != nil {
		return err
	} else if len(failing) > 0 {
		return types.NewError(types.ErrInvariantViolation,
			"task %s has gates without approval", task.ShortID).
			WithSub(types.SubGateNotPassed).
			WithDetail("gates", failing)
	}

	attempts, err := r.ListIntegrationAttempts(ctx, task.ID)
	if err != nil {
		return err
	}
	for _, a := range attempts {
		if a.Status == types.IntegrationSuccess {
			return nil
		}
	}
	return types.NewError(types.ErrInvariantViolation,
		"task %s has no successful integration attempt", task.ShortID).
		WithSub(types.SubNotIntegrated)
}

// RecordReview appends a review to a task. Reviews are append-only evidence
// consumed by the integrated invariant; recording one requires that the
// task has produced at least one artifact and that the reviewer is not the
// producer of the latest passing one.
func (c *Coordinator) RecordReview(ctx context.Context, taskRef, reviewedBy, verdict, notes string, evidence []string, actor string) (*types.Review, error) {
	if reviewedBy == "" {
		return nil, types.NewError(types.ErrInvariantViolation, "reviewed_by is required")
	}
	if verdict != types.ReviewApproved && verdict != types.ReviewChangesRequested {
		return nil, types.NewError(types.ErrInvariantViolation, "unknown review verdict %q", verdict)
	}
	if len(evidence) == 0 {
		return nil, types.NewError(types.ErrInvariantViolation,
			"reviews require evidence refs").
			WithSub(types.SubMissingEvidence)
	}
	var out *types.Review
	err := c.write(ctx, func(tx storage.Transaction) error {
		task, err := tx.GetTask(ctx, taskRef)
		if err != nil {
			return err
		}
		if _, err := mutableProject(ctx, tx, task.ProjectID); err != nil {
			return err
		}
		artifacts, err := tx.ListArtifacts(ctx, task.ID)
		if err != nil {
			return err
		}
		if len(artifacts) == 0 {
			return types.NewError(types.ErrInvariantViolation,
				"task %s has no artifacts to review", task.ShortID)
		}
		if latest, err := tx.LatestPassedArtifact(ctx, task.ID); err != nil {
			return err
		} else if latest != nil && latest.ProducedBy == reviewedBy {
			return types.NewError(types.ErrInvariantViolation,
				"%s produced the artifact under review", reviewedBy).
				WithSub(types.SubSelfReview)
		}
		review := &types.Review{
			ID:           newID(),
			TaskID:       task.ID,
			ReviewedBy:   reviewedBy,
			Verdict:      verdict,
			Notes:        notes,
			EvidenceRefs: evidence,
			CreatedAt:    time.Now().UTC(),
		}
		if err := tx.CreateReview(ctx, review); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, task.ProjectID, "review", review.ID, types.EventReviewRecorded, actor, map[string]any{
			"task_id":     task.ID,
			"reviewed_by": reviewedBy,
			"verdict":     verdict,
		}); err != nil {
			return err
		}
		out = review
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
