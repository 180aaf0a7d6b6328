package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tascade/tascade/internal/types"
)

const changesetColumns = `id, short_id, project_id, base_plan_version, status,
	author, title, ops, validation, applied_plan_version, created_at, updated_at`

func scanChangeset(row interface{ Scan(...any) error }) (*types.Changeset, error) {
	var c types.Changeset
	var ops, validation string
	err := row.Scan(&c.ID, &c.ShortID, &c.ProjectID, &c.BasePlanVersion, &c.Status,
		&c.Author, &c.Title, &ops, &validation, &c.AppliedVersion, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if ops != "" && ops != "[]" {
		if err := json.Unmarshal([]byte(ops), &c.Ops); err != nil {
			return nil, fmt.Errorf("failed to decode ops for %s: %w", c.ID, err)
		}
	}
	if validation != "" {
		c.Validation = &types.ValidationReport{}
		if err := json.Unmarshal([]byte(validation), c.Validation); err != nil {
			return nil, fmt.Errorf("failed to decode validation for %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func encodeChangeset(c *types.Changeset) (ops, validation string, err error) {
	b, err := json.Marshal(c.Ops)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode ops: %w", err)
	}
	ops = string(b)
	if c.Validation != nil {
		b, err := json.Marshal(c.Validation)
		if err != nil {
			return "", "", fmt.Errorf("failed to encode validation: %w", err)
		}
		validation = string(b)
	}
	return ops, validation, nil
}

// GetChangeset resolves ref (opaque ID or P<n>.C<c>) to a changeset.
func (q *queries) GetChangeset(ctx context.Context, ref string) (*types.Changeset, error) {
	if err := types.ValidateRef(ref); err != nil {
		return nil, err
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+changesetColumns+` FROM changesets
		WHERE id = ?1 OR short_id = upper(?1)
		LIMIT 2
	`, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to query changeset: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []*types.Changeset
	for rows.Next() {
		c, err := scanChangeset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan changeset: %w", err)
		}
		matches = append(matches, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate changesets: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, types.NotFound("changeset", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, types.NewError(types.ErrAmbiguousReference, "reference %q matches %d changesets", ref, len(matches))
	}
}

// ListChangesets returns the project's changesets newest first, optionally
// filtered by status.
func (q *queries) ListChangesets(ctx context.Context, projectID string, status types.ChangesetStatus) ([]*types.Changeset, error) {
	query := `SELECT ` + changesetColumns + ` FROM changesets WHERE project_id = ?`
	args := []any{projectID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, short_id DESC`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list changesets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Changeset
	for rows.Next() {
		c, err := scanChangeset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan changeset: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateChangeset inserts c as a draft, allocating its short ID from the
// project's changeset counter.
func (t *Tx) CreateChangeset(ctx context.Context, c *types.Changeset) error {
	proj, err := t.GetProject(ctx, c.ProjectID)
	if err != nil {
		return err
	}
	n, err := nextCounter(ctx, t.q, proj.ID, "changeset")
	if err != nil {
		return err
	}
	c.ProjectID = proj.ID
	c.ShortID = types.ChangesetShortID(proj.ShortID, n)
	if c.Status == "" {
		c.Status = types.ChangesetDraft
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	ops, validation, err := encodeChangeset(c)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO changesets (id, short_id, project_id, base_plan_version, status,
			author, title, ops, validation, applied_plan_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ShortID, c.ProjectID, c.BasePlanVersion, c.Status,
		c.Author, c.Title, ops, validation, c.AppliedVersion, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create changeset: %w", err)
	}
	return nil
}

// UpdateChangeset rewrites the changeset's status, validation report, and
// applied version after validate/apply/reject.
func (t *Tx) UpdateChangeset(ctx context.Context, c *types.Changeset) error {
	_, validation, err := encodeChangeset(c)
	if err != nil {
		return err
	}
	c.UpdatedAt = time.Now().UTC()
	res, err := t.q.ExecContext(ctx, `
		UPDATE changesets SET status = ?, validation = ?, applied_plan_version = ?, updated_at = ?
		WHERE id = ?
	`, c.Status, validation, c.AppliedVersion, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update changeset: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.NotFound("changeset", c.ID)
	}
	return nil
}
