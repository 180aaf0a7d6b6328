package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tascade/tascade/internal/types"
)

const reservationColumns = `id, task_id, project_id, assignee, status,
	ttl_seconds, created_by, created_at, expires_at, released_at`

func scanReservation(row interface{ Scan(...any) error }) (*types.Reservation, error) {
	var r types.Reservation
	var releasedAt sql.NullTime
	err := row.Scan(&r.ID, &r.TaskID, &r.ProjectID, &r.Assignee, &r.Status,
		&r.TTLSeconds, &r.CreatedBy, &r.CreatedAt, &r.ExpiresAt, &releasedAt)
	if err != nil {
		return nil, err
	}
	if releasedAt.Valid {
		t := releasedAt.Time
		r.ReleasedAt = &t
	}
	return &r, nil
}

// ActiveReservationForTask returns the task's active reservation, or nil.
func (q *queries) ActiveReservationForTask(ctx context.Context, taskID string) (*types.Reservation, error) {
	r, err := scanReservation(q.q.QueryRowContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE task_id = ? AND status = 'active'
	`, taskID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active reservation: %w", err)
	}
	return r, nil
}

// ExpiredReservations returns active reservations past expiry, oldest
// first, for the sweeper.
func (q *queries) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*types.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = 'active' AND expires_at <= ?
		ORDER BY expires_at
		LIMIT ?
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired reservations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateReservation inserts r. The partial unique index rejects a second
// active reservation for the same task.
func (t *Tx) CreateReservation(ctx context.Context, r *types.Reservation) error {
	if r.Status == "" {
		r.Status = types.ReservationActive
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO reservations (id, task_id, project_id, assignee, status,
			ttl_seconds, created_by, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.TaskID, r.ProjectID, r.Assignee, r.Status,
		r.TTLSeconds, r.CreatedBy, r.CreatedAt, r.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

// ExtendReservation pushes an active reservation's expiry out.
func (t *Tx) ExtendReservation(ctx context.Context, reservationID string, expiresAt time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE reservations SET expires_at = ?
		WHERE id = ? AND status = 'active'
	`, expiresAt.UTC(), reservationID)
	if err != nil {
		return fmt.Errorf("failed to extend reservation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.NotFound("reservation", reservationID)
	}
	return nil
}

// FinishReservation ends an active reservation as released, expired, or
// converted (assignee claimed the task).
func (t *Tx) FinishReservation(ctx context.Context, reservationID string, status types.ReservationStatus, at time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE reservations SET status = ?, released_at = ?
		WHERE id = ? AND status = 'active'
	`, status, at.UTC(), reservationID)
	if err != nil {
		return fmt.Errorf("failed to finish reservation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.NotFound("reservation", reservationID)
	}
	return nil
}
