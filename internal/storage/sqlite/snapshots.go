package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tascade/tascade/internal/types"
)

const snapshotColumns = `id, task_id, lease_id, plan_version, work_spec, work_spec_hash, captured_at`

func scanSnapshot(row interface{ Scan(...any) error }) (*types.ExecutionSnapshot, error) {
	var s types.ExecutionSnapshot
	var spec string
	err := row.Scan(&s.ID, &s.TaskID, &s.LeaseID, &s.PlanVersion, &spec,
		&s.WorkSpecHash, &s.CapturedAt)
	if err != nil {
		return nil, err
	}
	s.WorkSpec = json.RawMessage(spec)
	return &s, nil
}

// LatestSnapshot returns the newest snapshot captured for the task, or nil
// when it has never been claimed.
func (q *queries) LatestSnapshot(ctx context.Context, taskID string) (*types.ExecutionSnapshot, error) {
	s, err := scanSnapshot(q.q.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE task_id = ?
		ORDER BY captured_at DESC, id DESC
		LIMIT 1
	`, taskID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return s, nil
}

// SnapshotForLease returns the snapshot captured when leaseID was granted.
func (q *queries) SnapshotForLease(ctx context.Context, leaseID string) (*types.ExecutionSnapshot, error) {
	s, err := scanSnapshot(q.q.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots WHERE lease_id = ?
	`, leaseID))
	if isNoRows(err) {
		return nil, types.NotFound("snapshot", leaseID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot for lease: %w", err)
	}
	return s, nil
}

// CreateSnapshot inserts s. Snapshots are immutable; there is no update or
// delete path.
func (t *Tx) CreateSnapshot(ctx context.Context, s *types.ExecutionSnapshot) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO snapshots (id, task_id, lease_id, plan_version, work_spec, work_spec_hash, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.TaskID, s.LeaseID, s.PlanVersion, string(s.WorkSpec), s.WorkSpecHash, s.CapturedAt)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	return nil
}
