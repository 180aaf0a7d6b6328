package core

import (
	"context"
	"time"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// AssignTask reserves a ready task for one assignee. While the reservation
// is active only the assignee can claim; everyone else's ready set hides
// the task. Re-assigning to the same assignee refreshes the TTL; to a
// different assignee it fails RESERVATION_CONFLICT until released.
func (c *Coordinator) AssignTask(ctx context.Context, taskRef, assignee string, ttl time.Duration, actor string) (*types.Reservation, error) {
	if err := requireActor(assignee); err != nil {
		return nil, err
	}
	var out *types.Reservation
	err := c.write(ctx, func(tx storage.Transaction) error {
		task, err := tx.GetTask(ctx, taskRef)
		if err != nil {
			return err
		}
		p, err := mutableProject(ctx, tx, task.ProjectID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		effective := clampTTL(ttl, c.opts.DefaultReservationTTL, types.MaxReservationTTL*time.Second, types.MinReservationTTL*time.Second)

		if existing, err := tx.ActiveReservationForTask(ctx, task.ID); err != nil {
			return err
		} else if existing != nil {
			if !existing.ExpiresAt.After(now) {
				if err := releaseReservation(ctx, tx, task, types.ReservationExpired, "ttl elapsed", actor); err != nil {
					return err
				}
				if task.State == types.StateReserved {
					if err := setState(ctx, tx, task, types.StateReady, p.PlanVersion, actor, "reservation expired", false); err != nil {
						return err
					}
				}
			} else if existing.Assignee == assignee {
				expiresAt := now.Add(effective)
				if err := tx.ExtendReservation(ctx, existing.ID, expiresAt); err != nil {
					return err
				}
				existing.ExpiresAt = expiresAt
				out = existing
				return nil
			} else {
				return types.NewError(types.ErrReservationConflict,
					"task %s is already reserved for %s", task.ShortID, existing.Assignee).
					WithDetail("assignee", existing.Assignee)
			}
		}

		if task.State != types.StateReady {
			return types.NewError(types.ErrInvariantViolation,
				"task %s is %s, only ready tasks can be reserved", task.ShortID, task.State)
		}
		res := &types.Reservation{
			ID:         newID(),
			TaskID:     task.ID,
			ProjectID:  p.ID,
			Assignee:   assignee,
			Status:     types.ReservationActive,
			TTLSeconds: int64(effective / time.Second),
			CreatedBy:  actor,
			CreatedAt:  now,
			ExpiresAt:  now.Add(effective),
		}
		if err := tx.CreateReservation(ctx, res); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, p.ID, "reservation", res.ID, types.EventReservationCreated, actor, types.ReservationPayload{
			ReservationID: res.ID,
			TaskID:        task.ID,
			Assignee:      assignee,
			Status:        types.ReservationActive,
		}); err != nil {
			return err
		}
		if err := setState(ctx, tx, task, types.StateReserved, p.PlanVersion, actor, "reserved for "+assignee, false); err != nil {
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

// ReleaseAssignment drops a task's active reservation and returns it to the
// shared ready pool.
func (c *Coordinator) ReleaseAssignment(ctx context.Context, taskRef, actor string) (*types.Task, error) {
	var out *types.Task
	err := c.write(ctx, func(tx storage.Transaction) error {
		task, err := tx.GetTask(ctx, taskRef)
		if err != nil {
			return err
		}
		p, err := mutableProject(ctx, tx, task.ProjectID)
		if err != nil {
			return err
		}
		res, err := tx.ActiveReservationForTask(ctx, task.ID)
		if err != nil {
			return err
		}
		if res == nil {
			return types.NotFound("reservation", task.ShortID)
		}
		if err := releaseReservation(ctx, tx, task, types.ReservationReleased, "released", actor); err != nil {
			return err
		}
		if task.State == types.StateReserved {
			if err := setState(ctx, tx, task, types.StateReady, p.PlanVersion, actor, "reservation released", false); err != nil {
				return err
			}
			if err := refreshTaskReadiness(ctx, tx, task, p.PlanVersion, actor); err != nil {
				return err
			}
		}
		out = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
