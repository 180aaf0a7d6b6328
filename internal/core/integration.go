package core

import (
	"context"
	"strings"
	"time"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// ArtifactInput records one work output by reference.
type ArtifactInput struct {
	TaskRef string
	Kind    types.ArtifactKind
	Ref     string
	Checks  types.CheckOutcome
	Summary string

	// LeaseToken is required while the task is claimed or in progress:
	// only the lease holder may attach artifacts to in-flight work.
	LeaseToken string
	Actor      string
}

// SubmitArtifact appends an artifact row. Content never enters the kernel;
// Ref is an opaque locator (branch name, patch URL, file list digest) the
// integration executor understands.
func (c *Coordinator) SubmitArtifact(ctx context.Context, in ArtifactInput) (*types.Artifact, error) {
	if err := requireActor(in.Actor); err != nil {
		return nil, err
	}
	if !types.ValidArtifactKind(in.Kind) {
		return nil, types.NewError(types.ErrInvariantViolation, "unknown artifact kind %q", in.Kind)
	}
	if strings.TrimSpace(in.Ref) == "" {
		return nil, types.NewError(types.ErrInvariantViolation, "artifact ref is required")
	}
	if !types.ValidCheckOutcome(in.Checks) {
		return nil, types.NewError(types.ErrInvariantViolation, "unknown check outcome %q", in.Checks)
	}
	var out *types.Artifact
	err := c.write(ctx, func(tx storage.Transaction) error {
		task, err := tx.GetTask(ctx, in.TaskRef)
		if err != nil {
			return err
		}
		p, err := mutableProject(ctx, tx, task.ProjectID)
		if err != nil {
			return err
		}
		if task.State.IsTerminal() {
			return types.NewError(types.ErrInvariantViolation, "task %s is %s", task.ShortID, task.State)
		}
		artifact := &types.Artifact{
			ID:         newID(),
			TaskID:     task.ID,
			ProjectID:  p.ID,
			Kind:       in.Kind,
			Ref:        in.Ref,
			Checks:     in.Checks,
			Summary:    in.Summary,
			ProducedBy: in.Actor,
		}
		inFlight := task.State == types.StateClaimed || task.State == types.StateInProgress
		if inFlight {
			lease, err := validateLeaseToken(ctx, tx, task.ID, in.LeaseToken)
			if err != nil {
				return err
			}
			artifact.LeaseID = lease.ID
			if snap, err := tx.SnapshotForLease(ctx, lease.ID); err != nil {
				return err
			} else if snap != nil {
				artifact.SnapshotHash = snap.WorkSpecHash
			}
		} else if snap, err := tx.LatestSnapshot(ctx, task.ID); err != nil {
			return err
		} else if snap != nil {
			artifact.SnapshotHash = snap.WorkSpecHash
		}
		if err := tx.CreateArtifact(ctx, artifact); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, p.ID, "artifact", artifact.ID, types.EventArtifactCreated, in.Actor, map[string]any{
			"task_id":  task.ID,
			"short_id": task.ShortID,
			"kind":     artifact.Kind,
			"ref":      artifact.Ref,
			"checks":   artifact.Checks,
		}); err != nil {
			return err
		}
		out = artifact
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListTaskArtifacts returns a task's artifacts, oldest first.
func (c *Coordinator) ListTaskArtifacts(ctx context.Context, taskRef string) ([]*types.Artifact, error) {
	task, err := c.store.GetTask(ctx, taskRef)
	if err != nil {
		return nil, err
	}
	return c.store.ListArtifacts(ctx, task.ID)
}

// IntegrationRequest queues one artifact for integration.
type IntegrationRequest struct {
	TaskRef     string
	ArtifactRef string // empty means the latest artifact with passing checks

	// IdempotencyKey makes retried enqueues return the original attempt
	// instead of queueing twice.
	IdempotencyKey string
	Actor          string
}

// EnqueueIntegration records an integration attempt for an implemented
// task. The kernel only queues; an external executor performs the merge and
// reports the outcome through ReportIntegrationResult.
func (c *Coordinator) EnqueueIntegration(ctx context.Context, in IntegrationRequest) (*types.IntegrationAttempt, error) {
	if err := requireActor(in.Actor); err != nil {
		return nil, err
	}
	var out *types.IntegrationAttempt
	err := c.write(ctx, func(tx storage.Transaction) error {
		task, err := tx.GetTask(ctx, in.TaskRef)
		if err != nil {
			return err
		}
		p, err := mutableProject(ctx, tx, task.ProjectID)
		if err != nil {
			return err
		}
		if in.IdempotencyKey != "" {
			existing, err := tx.AttemptByIdempotencyKey(ctx, p.ID, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				out = existing
				return nil
			}
		}
		if task.State != types.StateImplemented {
			return types.NewError(types.ErrInvariantViolation,
				"task %s is %s; only implemented tasks integrate", task.ShortID, task.State)
		}
		var artifact *types.Artifact
		if in.ArtifactRef != "" {
			arts, err := tx.ListArtifacts(ctx, task.ID)
			if err != nil {
				return err
			}
			for _, a := range arts {
				if a.ID == in.ArtifactRef {
					artifact = a
					break
				}
			}
			if artifact == nil {
				return types.NotFound("artifact", in.ArtifactRef)
			}
		} else if artifact, err = tx.LatestPassedArtifact(ctx, task.ID); err != nil {
			return err
		}
		if artifact == nil || artifact.Checks != types.ChecksPassed {
			return types.NewError(types.ErrInvariantViolation,
				"task %s has no artifact with passing checks to integrate", task.ShortID).
				WithSub(types.SubMissingPassedCheck)
		}
		attempt := &types.IntegrationAttempt{
			ID:             newID(),
			TaskID:         task.ID,
			ProjectID:      p.ID,
			ArtifactID:     artifact.ID,
			Status:         types.IntegrationQueued,
			IdempotencyKey: in.IdempotencyKey,
			QueuedBy:       in.Actor,
		}
		if err := tx.CreateIntegrationAttempt(ctx, attempt); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, p.ID, "integration", attempt.ID, types.EventIntegrationQueued, in.Actor, map[string]any{
			"task_id":     task.ID,
			"short_id":    task.ShortID,
			"artifact_id": artifact.ID,
		}); err != nil {
			return err
		}
		out = attempt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkIntegrationRunning moves a queued attempt to running.
func (c *Coordinator) MarkIntegrationRunning(ctx context.Context, attemptRef, actor string) (*types.IntegrationAttempt, error) {
	var out *types.IntegrationAttempt
	err := c.write(ctx, func(tx storage.Transaction) error {
		attempt, err := tx.GetIntegrationAttempt(ctx, attemptRef)
		if err != nil {
			return err
		}
		if attempt.Status == types.IntegrationRunning {
			out = attempt
			return nil
		}
		if attempt.Status != types.IntegrationQueued {
			return types.NewError(types.ErrConflict, "integration attempt is %s", attempt.Status)
		}
		if err := tx.SetIntegrationStatus(ctx, attempt.ID, types.IntegrationRunning, "", nil); err != nil {
			return err
		}
		attempt.Status = types.IntegrationRunning
		if err := appendEvent(ctx, tx, attempt.ProjectID, "integration", attempt.ID, types.EventIntegrationRunning, actor, map[string]any{
			"task_id": attempt.TaskID,
		}); err != nil {
			return err
		}
		out = attempt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IntegrationResult reports the terminal outcome of one attempt.
type IntegrationResult struct {
	AttemptRef string
	Status     types.IntegrationStatus // success, conflict, or failed_checks
	Detail     string
	Actor      string
}

// ReportIntegrationResult finalizes an attempt and moves the task:
//
//	success       -> integrated, when the review and gate invariants hold;
//	                 otherwise the task stays implemented and integrates
//	                 once the remaining evidence lands
//	conflict      -> conflict
//	failed_checks -> blocked
//
// Re-reporting the same terminal status is idempotent; contradicting an
// earlier outcome is a CONFLICT.
func (c *Coordinator) ReportIntegrationResult(ctx context.Context, in IntegrationResult) (*types.IntegrationAttempt, error) {
	if err := requireActor(in.Actor); err != nil {
		return nil, err
	}
	if !types.TerminalIntegration(in.Status) {
		return nil, types.NewError(types.ErrInvariantViolation,
			"integration result must be success, conflict, or failed_checks; got %q", in.Status)
	}
	var out *types.IntegrationAttempt
	err := c.write(ctx, func(tx storage.Transaction) error {
		attempt, err := tx.GetIntegrationAttempt(ctx, in.AttemptRef)
		if err != nil {
			return err
		}
		if types.TerminalIntegration(attempt.Status) {
			if attempt.Status == in.Status {
				out = attempt
				return nil
			}
			return types.NewError(types.ErrConflict,
				"integration attempt already finished as %s", attempt.Status)
		}
		p, err := mutableProject(ctx, tx, attempt.ProjectID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := tx.SetIntegrationStatus(ctx, attempt.ID, in.Status, in.Detail, &now); err != nil {
			return err
		}
		attempt.Status = in.Status
		attempt.Detail = in.Detail
		attempt.FinishedAt = &now

		eventType := types.EventIntegrationSucceeded
		switch in.Status {
		case types.IntegrationConflict:
			eventType = types.EventIntegrationConflict
		case types.IntegrationFailedChecks:
			eventType = types.EventIntegrationFailedChecks
		}
		if err := appendEvent(ctx, tx, p.ID, "integration", attempt.ID, eventType, in.Actor, map[string]any{
			"task_id": attempt.TaskID,
			"detail":  in.Detail,
		}); err != nil {
			return err
		}

		task, err := tx.GetTask(ctx, attempt.TaskID)
		if err != nil {
			return err
		}
		if task.State != types.StateImplemented {
			// Operator moved the task while the attempt ran; the outcome is
			// recorded but the task is no longer ours to steer.
			out = attempt
			return nil
		}
		switch in.Status {
		case types.IntegrationSuccess:
			if err := c.requireIntegrateInvariants(ctx, tx, task, in.Actor); err != nil {
				c.log.Debug().
					Str("task", task.ShortID).
					Err(err).
					Msg("integration succeeded but task is not yet eligible for integrated")
				out = attempt
				return nil
			}
			if err := setState(ctx, tx, task, types.StateIntegrated, p.PlanVersion, in.Actor, "integration succeeded", false); err != nil {
				return err
			}
			if err := c.afterTransition(ctx, tx, p, task, in.Actor); err != nil {
				return err
			}
		case types.IntegrationConflict:
			if err := setState(ctx, tx, task, types.StateConflict, p.PlanVersion, in.Actor, detailOr(in.Detail, "integration conflict"), false); err != nil {
				return err
			}
			if err := c.afterTransition(ctx, tx, p, task, in.Actor); err != nil {
				return err
			}
		case types.IntegrationFailedChecks:
			if err := setState(ctx, tx, task, types.StateBlocked, p.PlanVersion, in.Actor, detailOr(in.Detail, "integration checks failed"), false); err != nil {
				return err
			}
			if err := c.afterTransition(ctx, tx, p, task, in.Actor); err != nil {
				return err
			}
		}
		out = attempt
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Info().
		Str("attempt", out.ID).
		Str("status", string(out.Status)).
		Msg("integration result recorded")
	return out, nil
}

// ListIntegrationAttempts returns a task's attempts, oldest first.
func (c *Coordinator) ListIntegrationAttempts(ctx context.Context, taskRef string) ([]*types.IntegrationAttempt, error) {
	task, err := c.store.GetTask(ctx, taskRef)
	if err != nil {
		return nil, err
	}
	return c.store.ListIntegrationAttempts(ctx, task.ID)
}

func detailOr(detail, fallback string) string {
	if detail != "" {
		return detail
	}
	return fallback
}
