package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tascade/tascade/internal/types"
)

const phaseColumns = `id, short_id, project_id, name, description, sequence, created_at, updated_at`

const milestoneColumns = `id, short_id, project_id, phase_id, name, description, sequence, created_at, updated_at`

func scanPhase(row interface{ Scan(...any) error }) (*types.Phase, error) {
	var ph types.Phase
	err := row.Scan(&ph.ID, &ph.ShortID, &ph.ProjectID, &ph.Name, &ph.Description,
		&ph.Sequence, &ph.CreatedAt, &ph.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ph, nil
}

func scanMilestone(row interface{ Scan(...any) error }) (*types.Milestone, error) {
	var m types.Milestone
	var phaseID sql.NullString
	err := row.Scan(&m.ID, &m.ShortID, &m.ProjectID, &phaseID, &m.Name,
		&m.Description, &m.Sequence, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.PhaseID = phaseID.String
	return &m, nil
}

// GetPhase resolves ref (opaque ID or P<n>.PH<k>) to a phase.
func (q *queries) GetPhase(ctx context.Context, ref string) (*types.Phase, error) {
	if err := types.ValidateRef(ref); err != nil {
		return nil, err
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+phaseColumns+` FROM phases
		WHERE id = ?1 OR short_id = upper(?1)
		LIMIT 2
	`, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to query phase: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []*types.Phase
	for rows.Next() {
		ph, err := scanPhase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan phase: %w", err)
		}
		matches = append(matches, ph)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate phases: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, types.NotFound("phase", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, types.NewError(types.ErrAmbiguousReference, "reference %q matches %d phases", ref, len(matches))
	}
}

// GetMilestone resolves ref (opaque ID or P<n>.M<m>) to a milestone.
func (q *queries) GetMilestone(ctx context.Context, ref string) (*types.Milestone, error) {
	if err := types.ValidateRef(ref); err != nil {
		return nil, err
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+milestoneColumns+` FROM milestones
		WHERE id = ?1 OR short_id = upper(?1)
		LIMIT 2
	`, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to query milestone: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []*types.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate milestones: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, types.NotFound("milestone", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, types.NewError(types.ErrAmbiguousReference, "reference %q matches %d milestones", ref, len(matches))
	}
}

// ListMilestones returns the project's milestones in plan order.
func (q *queries) ListMilestones(ctx context.Context, projectID string) ([]*types.Milestone, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+milestoneColumns+` FROM milestones
		WHERE project_id = ?
		ORDER BY sequence, short_id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreatePhase inserts ph, allocating its short ID from the project's phase
// counter.
func (t *Tx) CreatePhase(ctx context.Context, ph *types.Phase) error {
	proj, err := t.GetProject(ctx, ph.ProjectID)
	if err != nil {
		return err
	}
	n, err := nextCounter(ctx, t.q, proj.ID, "phase")
	if err != nil {
		return err
	}
	ph.ProjectID = proj.ID
	ph.ShortID = types.PhaseShortID(proj.ShortID, n)
	now := time.Now().UTC()
	ph.CreatedAt = now
	ph.UpdatedAt = now

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO phases (id, short_id, project_id, name, description, sequence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ph.ID, ph.ShortID, ph.ProjectID, ph.Name, ph.Description, ph.Sequence, ph.CreatedAt, ph.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create phase: %w", err)
	}
	return nil
}

// CreateMilestone inserts m, allocating its short ID from the project's
// milestone counter. An empty PhaseID stores NULL.
func (t *Tx) CreateMilestone(ctx context.Context, m *types.Milestone) error {
	proj, err := t.GetProject(ctx, m.ProjectID)
	if err != nil {
		return err
	}
	n, err := nextCounter(ctx, t.q, proj.ID, "milestone")
	if err != nil {
		return err
	}
	m.ProjectID = proj.ID
	m.ShortID = types.MilestoneShortID(proj.ShortID, n)
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	var phaseID any
	if m.PhaseID != "" {
		phaseID = m.PhaseID
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO milestones (id, short_id, project_id, phase_id, name, description, sequence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ShortID, m.ProjectID, phaseID, m.Name, m.Description, m.Sequence, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create milestone: %w", err)
	}
	return nil
}

// SetMilestoneSequence repositions a milestone in plan order.
func (t *Tx) SetMilestoneSequence(ctx context.Context, milestoneID string, sequence int) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE milestones SET sequence = ?, updated_at = ? WHERE id = ?
	`, sequence, time.Now().UTC(), milestoneID)
	if err != nil {
		return fmt.Errorf("failed to set milestone sequence: %w", err)
	}
	return nil
}

// NextMilestoneSequence returns one past the highest milestone sequence in
// the project, so new milestones append to plan order by default.
func (t *Tx) NextMilestoneSequence(ctx context.Context, projectID string) (int, error) {
	var n int
	err := t.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) + 1 FROM milestones WHERE project_id = ?
	`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next milestone sequence: %w", err)
	}
	return n, nil
}

// NextPhaseSequence returns one past the highest phase sequence in the
// project. Phases and milestones number independently.
func (t *Tx) NextPhaseSequence(ctx context.Context, projectID string) (int, error) {
	var n int
	err := t.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) + 1 FROM phases WHERE project_id = ?
	`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next phase sequence: %w", err)
	}
	return n, nil
}
