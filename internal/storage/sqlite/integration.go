package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tascade/tascade/internal/types"
)

const attemptColumns = `id, task_id, project_id, artifact_id, status, detail,
	idempotency_key, queued_by, created_at, finished_at`

func scanAttempt(row interface{ Scan(...any) error }) (*types.IntegrationAttempt, error) {
	var a types.IntegrationAttempt
	var key sql.NullString
	var finishedAt sql.NullTime
	err := row.Scan(&a.ID, &a.TaskID, &a.ProjectID, &a.ArtifactID, &a.Status,
		&a.Detail, &key, &a.QueuedBy, &a.CreatedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	a.IdempotencyKey = key.String
	if finishedAt.Valid {
		t := finishedAt.Time
		a.FinishedAt = &t
	}
	return &a, nil
}

// GetIntegrationAttempt fetches one attempt by ID.
func (q *queries) GetIntegrationAttempt(ctx context.Context, id string) (*types.IntegrationAttempt, error) {
	a, err := scanAttempt(q.q.QueryRowContext(ctx, `
		SELECT `+attemptColumns+` FROM integration_attempts WHERE id = ?
	`, id))
	if isNoRows(err) {
		return nil, types.NotFound("integration attempt", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get integration attempt: %w", err)
	}
	return a, nil
}

// AttemptByIdempotencyKey returns the attempt previously enqueued with key
// in the project, or nil. Retried enqueues land here instead of queueing
// twice.
func (q *queries) AttemptByIdempotencyKey(ctx context.Context, projectID, key string) (*types.IntegrationAttempt, error) {
	if key == "" {
		return nil, nil
	}
	a, err := scanAttempt(q.q.QueryRowContext(ctx, `
		SELECT `+attemptColumns+` FROM integration_attempts
		WHERE project_id = ? AND idempotency_key = ?
	`, projectID, key))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return a, nil
}

// ListIntegrationAttempts returns the task's attempts in queue order.
func (q *queries) ListIntegrationAttempts(ctx context.Context, taskID string) ([]*types.IntegrationAttempt, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+attemptColumns+` FROM integration_attempts
		WHERE task_id = ?
		ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integration attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.IntegrationAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integration attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateIntegrationAttempt enqueues a. An empty idempotency key stores
// NULL so the partial unique index ignores it.
func (t *Tx) CreateIntegrationAttempt(ctx context.Context, a *types.IntegrationAttempt) error {
	if a.Status == "" {
		a.Status = types.IntegrationQueued
	}
	var key any
	if a.IdempotencyKey != "" {
		key = a.IdempotencyKey
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO integration_attempts (id, task_id, project_id, artifact_id, status,
			detail, idempotency_key, queued_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.TaskID, a.ProjectID, a.ArtifactID, a.Status,
		a.Detail, key, a.QueuedBy, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create integration attempt: %w", err)
	}
	return nil
}

// SetIntegrationStatus records an executor-reported outcome. finishedAt is
// set only for terminal outcomes.
func (t *Tx) SetIntegrationStatus(ctx context.Context, attemptID string, status types.IntegrationStatus, detail string, finishedAt *time.Time) error {
	var finished any
	if finishedAt != nil {
		finished = finishedAt.UTC()
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE integration_attempts SET status = ?, detail = ?, finished_at = ?
		WHERE id = ?
	`, status, detail, finished, attemptID)
	if err != nil {
		return fmt.Errorf("failed to set integration status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.NotFound("integration attempt", attemptID)
	}
	return nil
}
