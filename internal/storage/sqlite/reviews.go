package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tascade/tascade/internal/types"
)

const reviewColumns = `id, task_id, reviewed_by, verdict, notes, evidence_refs, created_at`

func scanReview(row interface{ Scan(...any) error }) (*types.Review, error) {
	var r types.Review
	var refs string
	err := row.Scan(&r.ID, &r.TaskID, &r.ReviewedBy, &r.Verdict, &r.Notes,
		&refs, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if refs != "" && refs != "[]" {
		if err := json.Unmarshal([]byte(refs), &r.EvidenceRefs); err != nil {
			return nil, fmt.Errorf("failed to decode evidence refs for %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

// ReviewsForTask returns the task's reviews oldest first.
func (q *queries) ReviewsForTask(ctx context.Context, taskID string) ([]*types.Review, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+reviewColumns+` FROM reviews
		WHERE task_id = ?
		ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateReview appends r. Reviews are never edited after the fact.
func (t *Tx) CreateReview(ctx context.Context, r *types.Review) error {
	refs := "[]"
	if len(r.EvidenceRefs) > 0 {
		b, err := json.Marshal(r.EvidenceRefs)
		if err != nil {
			return fmt.Errorf("failed to encode evidence refs: %w", err)
		}
		refs = string(b)
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO reviews (id, task_id, reviewed_by, verdict, notes, evidence_refs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.TaskID, r.ReviewedBy, r.Verdict, r.Notes, refs, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create review: %w", err)
	}
	return nil
}
