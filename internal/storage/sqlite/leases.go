package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tascade/tascade/internal/types"
)

const leaseColumns = `id, task_id, project_id, holder, token, fencing, status,
	ttl_seconds, acquired_at, expires_at, last_heartbeat_at, released_at, release_reason`

func scanLease(row interface{ Scan(...any) error }) (*types.Lease, error) {
	var l types.Lease
	var releasedAt sql.NullTime
	err := row.Scan(&l.ID, &l.TaskID, &l.ProjectID, &l.Holder, &l.Token,
		&l.Fencing, &l.Status, &l.TTLSeconds, &l.AcquiredAt, &l.ExpiresAt,
		&l.LastHeartbeatAt, &releasedAt, &l.ReleaseReason)
	if err != nil {
		return nil, err
	}
	if releasedAt.Valid {
		t := releasedAt.Time
		l.ReleasedAt = &t
	}
	return &l, nil
}

// GetLeaseByToken fetches the lease carrying token, in any status. An
// unknown token fails with LEASE_STALE; validity and expiry of a found
// lease are judged by the caller.
func (q *queries) GetLeaseByToken(ctx context.Context, token string) (*types.Lease, error) {
	l, err := scanLease(q.q.QueryRowContext(ctx, `
		SELECT `+leaseColumns+` FROM leases WHERE token = ?
	`, token))
	if isNoRows(err) {
		return nil, types.NewError(types.ErrLeaseStale, "lease token not recognized")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lease by token: %w", err)
	}
	return l, nil
}

// ActiveLeaseForTask returns the task's active lease, or nil when none.
func (q *queries) ActiveLeaseForTask(ctx context.Context, taskID string) (*types.Lease, error) {
	l, err := scanLease(q.q.QueryRowContext(ctx, `
		SELECT `+leaseColumns+` FROM leases WHERE task_id = ? AND status = 'active'
	`, taskID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active lease: %w", err)
	}
	return l, nil
}

// MaxFencing returns the highest fencing value ever issued for the task,
// or 0 when it has never been leased.
func (q *queries) MaxFencing(ctx context.Context, taskID string) (int64, error) {
	var n int64
	err := q.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(fencing), 0) FROM leases WHERE task_id = ?
	`, taskID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to get max fencing: %w", err)
	}
	return n, nil
}

// ExpiredLeases returns active leases whose expiry has passed, oldest
// first, for the sweeper.
func (q *queries) ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*types.Lease, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+leaseColumns+` FROM leases
		WHERE status = 'active' AND expires_at <= ?
		ORDER BY expires_at
		LIMIT ?
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired leases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lease: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CreateLease inserts l. The partial unique index on active leases rejects
// a second active lease for the same task; the kernel computes fencing
// before calling.
func (t *Tx) CreateLease(ctx context.Context, l *types.Lease) error {
	if l.Status == "" {
		l.Status = types.LeaseActive
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO leases (id, task_id, project_id, holder, token, fencing, status,
			ttl_seconds, acquired_at, expires_at, last_heartbeat_at, release_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '')
	`, l.ID, l.TaskID, l.ProjectID, l.Holder, l.Token, l.Fencing, l.Status,
		l.TTLSeconds, l.AcquiredAt, l.ExpiresAt, l.LastHeartbeatAt)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}
	return nil
}

// ExtendLease records a heartbeat: new expiry and heartbeat stamp.
func (t *Tx) ExtendLease(ctx context.Context, leaseID string, expiresAt, heartbeatAt time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE leases SET expires_at = ?, last_heartbeat_at = ?
		WHERE id = ? AND status = 'active'
	`, expiresAt.UTC(), heartbeatAt.UTC(), leaseID)
	if err != nil {
		return fmt.Errorf("failed to extend lease: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.NewError(types.ErrLeaseStale, "lease is no longer active")
	}
	return nil
}

// FinishLease ends an active lease as released or expired.
func (t *Tx) FinishLease(ctx context.Context, leaseID string, status types.LeaseStatus, reason string, at time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE leases SET status = ?, released_at = ?, release_reason = ?
		WHERE id = ? AND status = 'active'
	`, status, at.UTC(), reason, leaseID)
	if err != nil {
		return fmt.Errorf("failed to finish lease: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.NewError(types.ErrLeaseStale, "lease is no longer active")
	}
	return nil
}
