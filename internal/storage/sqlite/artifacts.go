package sqlite

import (
	"context"
	"fmt"

	"github.com/tascade/tascade/internal/types"
)

const artifactColumns = `id, task_id, project_id, lease_id, kind, ref, checks,
	summary, snapshot_hash, produced_by, created_at`

func scanArtifact(row interface{ Scan(...any) error }) (*types.Artifact, error) {
	var a types.Artifact
	err := row.Scan(&a.ID, &a.TaskID, &a.ProjectID, &a.LeaseID, &a.Kind, &a.Ref,
		&a.Checks, &a.Summary, &a.SnapshotHash, &a.ProducedBy, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListArtifacts returns the task's artifacts oldest first.
func (q *queries) ListArtifacts(ctx context.Context, taskID string) ([]*types.Artifact, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE task_id = ?
		ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LatestPassedArtifact returns the task's newest artifact with passing
// checks, or nil. The implemented transition and integration enqueue both
// key off this.
func (q *queries) LatestPassedArtifact(ctx context.Context, taskID string) (*types.Artifact, error) {
	a, err := scanArtifact(q.q.QueryRowContext(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE task_id = ? AND checks = 'passed'
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, taskID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get passed artifact: %w", err)
	}
	return a, nil
}

// CreateArtifact appends a. Artifacts are never updated or deleted.
func (t *Tx) CreateArtifact(ctx context.Context, a *types.Artifact) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO artifacts (id, task_id, project_id, lease_id, kind, ref, checks,
			summary, snapshot_hash, produced_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.TaskID, a.ProjectID, a.LeaseID, a.Kind, a.Ref, a.Checks,
		a.Summary, a.SnapshotHash, a.ProducedBy, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}
	return nil
}
