package core

import (
	"context"
	"time"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// SweepStats counts what one sweep pass committed.
type SweepStats struct {
	ExpiredLeases       int `json:"expired_leases"`
	ExpiredReservations int `json:"expired_reservations"`
}

// SweepOnce expires overdue leases and reservations in one pass, batch by
// batch. Each batch is its own transaction so a large backlog never holds
// the write lock for long. Heartbeats racing the sweeper win: the lease is
// re-read inside the transaction and skipped when it no longer qualifies.
func (c *Coordinator) SweepOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	for {
		n, err := c.sweepLeaseBatch(ctx)
		if err != nil {
			return stats, err
		}
		stats.ExpiredLeases += n
		if n < c.opts.SweepBatch {
			break
		}
	}
	for {
		n, err := c.sweepReservationBatch(ctx)
		if err != nil {
			return stats, err
		}
		stats.ExpiredReservations += n
		if n < c.opts.SweepBatch {
			break
		}
	}
	if stats.ExpiredLeases > 0 || stats.ExpiredReservations > 0 {
		c.log.Info().
			Int("leases", stats.ExpiredLeases).
			Int("reservations", stats.ExpiredReservations).
			Msg("sweep expired execution grants")
	}
	return stats, nil
}

func (c *Coordinator) sweepLeaseBatch(ctx context.Context) (int, error) {
	swept := 0
	err := c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		now := time.Now().UTC()
		leases, err := tx.ExpiredLeases(ctx, now, c.opts.SweepBatch)
		if err != nil {
			return err
		}
		for _, lease := range leases {
			// Re-check under the write lock: a heartbeat may have extended
			// the lease between the query and here.
			current, err := tx.GetLeaseByToken(ctx, lease.Token)
			if err != nil {
				return err
			}
			if current.Status != types.LeaseActive || current.ExpiresAt.After(now) {
				continue
			}
			task, err := tx.GetTask(ctx, current.TaskID)
			if err != nil {
				return err
			}
			p, err := tx.GetProject(ctx, task.ProjectID)
			if err != nil {
				return err
			}
			if err := expireLease(ctx, tx, task, current, p.PlanVersion, "sweeper"); err != nil {
				return err
			}
			swept++
		}
		return nil
	})
	return swept, err
}

func (c *Coordinator) sweepReservationBatch(ctx context.Context) (int, error) {
	swept := 0
	err := c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		now := time.Now().UTC()
		reservations, err := tx.ExpiredReservations(ctx, now, c.opts.SweepBatch)
		if err != nil {
			return err
		}
		for _, res := range reservations {
			task, err := tx.GetTask(ctx, res.TaskID)
			if err != nil {
				return err
			}
			p, err := tx.GetProject(ctx, task.ProjectID)
			if err != nil {
				return err
			}
			if err := releaseReservation(ctx, tx, task, types.ReservationExpired, "ttl elapsed", "sweeper"); err != nil {
				return err
			}
			if task.State == types.StateReserved {
				if err := setState(ctx, tx, task, types.StateReady, p.PlanVersion, "sweeper", "reservation expired", false); err != nil {
					return err
				}
				if err := refreshTaskReadiness(ctx, tx, task, p.PlanVersion, "sweeper"); err != nil {
					return err
				}
			}
			swept++
		}
		return nil
	})
	return swept, err
}

// RunSweeper sweeps on the given interval until ctx is cancelled.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.log.Debug().Dur("interval", interval).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			c.log.Debug().Msg("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := c.SweepOnce(ctx); err != nil {
				c.log.Error().Err(err).Msg("sweep pass failed")
			}
		}
	}
}
