package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tascade/tascade/internal/types"
)

const projectColumns = `id, short_id, name, description, status, plan_version, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*types.Project, error) {
	var p types.Project
	err := row.Scan(&p.ID, &p.ShortID, &p.Name, &p.Description, &p.Status,
		&p.PlanVersion, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProject resolves ref (opaque ID or P<n> short ID) to a project.
func (q *queries) GetProject(ctx context.Context, ref string) (*types.Project, error) {
	if err := types.ValidateRef(ref); err != nil {
		return nil, err
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE id = ?1 OR short_id = upper(?1)
		LIMIT 2
	`, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to query project: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []*types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		matches = append(matches, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, types.NotFound("project", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, types.NewError(types.ErrAmbiguousReference, "reference %q matches %d projects", ref, len(matches))
	}
}

// ListProjects returns projects, optionally filtered by status, newest
// first.
func (q *queries) ListProjects(ctx context.Context, status types.ProjectStatus) ([]*types.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, short_id DESC`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateProject inserts p, allocating its short ID from the global project
// counter. p.ID must be set; ShortID, PlanVersion, and timestamps are
// filled in here.
func (t *Tx) CreateProject(ctx context.Context, p *types.Project) error {
	n, err := nextCounter(ctx, t.q, "", "project")
	if err != nil {
		return err
	}
	p.ShortID = types.ProjectShortID(n)
	if p.Status == "" {
		p.Status = types.ProjectActive
	}
	p.PlanVersion = 1
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO projects (id, short_id, name, description, status, plan_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.ShortID, p.Name, p.Description, p.Status, p.PlanVersion, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// ArchiveProject marks the project archived. Idempotent.
func (t *Tx) ArchiveProject(ctx context.Context, projectID string) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE projects SET status = ?, updated_at = ? WHERE id = ?
	`, types.ProjectArchived, time.Now().UTC(), projectID)
	if err != nil {
		return fmt.Errorf("failed to archive project: %w", err)
	}
	return nil
}

// BumpPlanVersion advances the project's plan version and returns the new
// value. Only the changeset engine calls this.
func (t *Tx) BumpPlanVersion(ctx context.Context, projectID string) (int64, error) {
	var version int64
	err := t.q.QueryRowContext(ctx, `
		UPDATE projects SET plan_version = plan_version + 1, updated_at = ?
		WHERE id = ?
		RETURNING plan_version
	`, time.Now().UTC(), projectID).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, types.NotFound("project", projectID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to bump plan version: %w", err)
	}
	return version, nil
}
