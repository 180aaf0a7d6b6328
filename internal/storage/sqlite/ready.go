package sqlite

import (
	"context"
	"fmt"

	"github.com/tascade/tascade/internal/types"
)

// ReadyTasks returns the project's schedulable tasks in base order:
// priority, then age, then short ID. Reserved tasks are included only when
// includeReserved is set, annotated with their assignee. Contention is
// filled by the scheduler, which owns work-spec path comparison; archived
// projects yield nothing.
func (q *queries) ReadyTasks(ctx context.Context, projectID string, includeReserved bool) ([]*types.ReadyTask, error) {
	states := `t.state = 'ready'`
	if includeReserved {
		states = `t.state IN ('ready', 'reserved')`
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT t.id, t.short_id, t.project_id, t.milestone_id, t.title, t.description,
			t.task_class, t.state, t.priority, t.capabilities, t.work_spec, t.version,
			t.created_at, t.updated_at,
			COALESCE(r.assignee, ''),
			(SELECT COUNT(*) FROM dependencies d WHERE d.from_task_id = t.id)
		FROM tasks t
		JOIN projects p ON p.id = t.project_id AND p.status = 'active'
		LEFT JOIN reservations r ON r.task_id = t.id AND r.status = 'active'
		WHERE t.project_id = ? AND `+states+`
		ORDER BY t.priority, t.created_at, t.short_id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ready tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.ReadyTask
	for rows.Next() {
		var rt types.ReadyTask
		var caps, spec string
		err := rows.Scan(&rt.Task.ID, &rt.Task.ShortID, &rt.Task.ProjectID,
			&rt.Task.MilestoneID, &rt.Task.Title, &rt.Task.Description,
			&rt.Task.Class, &rt.Task.State, &rt.Task.Priority, &caps, &spec,
			&rt.Task.Version, &rt.Task.CreatedAt, &rt.Task.UpdatedAt,
			&rt.ReservedFor, &rt.BlockingCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ready task: %w", err)
		}
		rt.Task.Capabilities, err = types.CapabilitiesFromStored(caps)
		if err != nil {
			return nil, fmt.Errorf("failed to decode capabilities for %s: %w", rt.Task.ID, err)
		}
		if spec != "" {
			rt.Task.WorkSpec = []byte(spec)
		}
		out = append(out, &rt)
	}
	return out, rows.Err()
}
