package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/tascade/tascade/internal/types"
)

const dependencyColumns = `id, project_id, from_task_id, to_task_id, unlock_on, created_by, created_at`

func scanDependency(row interface{ Scan(...any) error }) (*types.Dependency, error) {
	var d types.Dependency
	err := row.Scan(&d.ID, &d.ProjectID, &d.FromTaskID, &d.ToTaskID,
		&d.UnlockOn, &d.CreatedBy, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (q *queries) dependencyList(ctx context.Context, query string, args ...any) ([]*types.Dependency, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Dependency
	for rows.Next() {
		d, err := scanDependency(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListDependenciesFrom returns edges where taskID is the prerequisite.
func (q *queries) ListDependenciesFrom(ctx context.Context, taskID string) ([]*types.Dependency, error) {
	return q.dependencyList(ctx, `
		SELECT `+dependencyColumns+` FROM dependencies
		WHERE from_task_id = ? ORDER BY created_at, id
	`, taskID)
}

// ListDependenciesTo returns edges where taskID is the dependent.
func (q *queries) ListDependenciesTo(ctx context.Context, taskID string) ([]*types.Dependency, error) {
	return q.dependencyList(ctx, `
		SELECT `+dependencyColumns+` FROM dependencies
		WHERE to_task_id = ? ORDER BY created_at, id
	`, taskID)
}

// ProjectDependencies returns every edge in the project.
func (q *queries) ProjectDependencies(ctx context.Context, projectID string) ([]*types.Dependency, error) {
	return q.dependencyList(ctx, `
		SELECT `+dependencyColumns+` FROM dependencies
		WHERE project_id = ? ORDER BY created_at, id
	`, projectID)
}

// UnsatisfiedPrereqs returns the edges still blocking taskID: their
// prerequisite has not reached the edge's unlock_on threshold.
func (q *queries) UnsatisfiedPrereqs(ctx context.Context, taskID string) ([]*types.Dependency, error) {
	return q.dependencyList(ctx, `
		SELECT `+dependencyColumns+` FROM unsatisfied_deps
		WHERE to_task_id = ? ORDER BY created_at, id
	`, taskID)
}

// AddDependency inserts the edge d. The caller has already run the cycle
// check; the UNIQUE constraint rejects duplicate edges.
func (t *Tx) AddDependency(ctx context.Context, d *types.Dependency) error {
	if d.UnlockOn == "" {
		d.UnlockOn = types.UnlockOnImplemented
	}
	d.CreatedAt = time.Now().UTC()
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO dependencies (id, project_id, from_task_id, to_task_id, unlock_on, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.ProjectID, d.FromTaskID, d.ToTaskID, d.UnlockOn, d.CreatedBy, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add dependency: %w", err)
	}
	return nil
}

// RemoveDependency deletes the from->to edge if present.
func (t *Tx) RemoveDependency(ctx context.Context, fromTaskID, toTaskID string) error {
	res, err := t.q.ExecContext(ctx, `
		DELETE FROM dependencies WHERE from_task_id = ? AND to_task_id = ?
	`, fromTaskID, toTaskID)
	if err != nil {
		return fmt.Errorf("failed to remove dependency: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.NotFound("dependency", fromTaskID+"->"+toTaskID)
	}
	return nil
}

// GetDependency fetches the from->to edge, or nil when no edge exists.
func (t *Tx) GetDependency(ctx context.Context, fromTaskID, toTaskID string) (*types.Dependency, error) {
	d, err := scanDependency(t.q.QueryRowContext(ctx, `
		SELECT `+dependencyColumns+` FROM dependencies
		WHERE from_task_id = ? AND to_task_id = ?
	`, fromTaskID, toTaskID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dependency: %w", err)
	}
	return d, nil
}

// WouldCycle reports whether adding from->to closes a cycle: true when
// from is already reachable from to over the project's edges. The edge set
// is loaded once and walked in memory; plans are small enough that this
// beats a recursive CTE round-trip per check.
func (t *Tx) WouldCycle(ctx context.Context, projectID, fromTaskID, toTaskID string) (bool, error) {
	if fromTaskID == toTaskID {
		return true, nil
	}
	edges, err := t.ProjectDependencies(ctx, projectID)
	if err != nil {
		return false, err
	}
	next := make(map[string][]string, len(edges))
	for _, e := range edges {
		next[e.FromTaskID] = append(next[e.FromTaskID], e.ToTaskID)
	}

	seen := map[string]bool{toTaskID: true}
	stack := []string{toTaskID}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, succ := range next[cur] {
			if succ == fromTaskID {
				return true, nil
			}
			if !seen[succ] {
				seen[succ] = true
				stack = append(stack, succ)
			}
		}
	}
	return false, nil
}
