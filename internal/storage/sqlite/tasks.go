package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tascade/tascade/internal/types"
)

const taskColumns = `id, short_id, project_id, milestone_id, title, description,
	task_class, state, priority, capabilities, work_spec, version, created_at, updated_at`

// taskUpdateColumns whitelists the columns UpdateTaskFields may touch.
// State, milestone, and short ID have dedicated methods with their own
// bookkeeping and are deliberately absent.
var taskUpdateColumns = map[string]bool{
	"title":        true,
	"description":  true,
	"priority":     true,
	"class":        true,
	"capabilities": true,
	"work_spec":    true,
}

func scanTask(row interface{ Scan(...any) error }) (*types.Task, error) {
	var t types.Task
	var caps, spec string
	err := row.Scan(&t.ID, &t.ShortID, &t.ProjectID, &t.MilestoneID, &t.Title,
		&t.Description, &t.Class, &t.State, &t.Priority, &caps, &spec,
		&t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Capabilities, err = types.CapabilitiesFromStored(caps)
	if err != nil {
		return nil, fmt.Errorf("failed to decode capabilities for %s: %w", t.ID, err)
	}
	if spec != "" {
		t.WorkSpec = json.RawMessage(spec)
	}
	return &t, nil
}

// GetTask resolves ref (opaque ID or P<n>.M<m>.T<t>) to a task.
func (q *queries) GetTask(ctx context.Context, ref string) (*types.Task, error) {
	if err := types.ValidateRef(ref); err != nil {
		return nil, err
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE id = ?1 OR short_id = upper(?1)
		LIMIT 2
	`, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		matches = append(matches, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, types.NotFound("task", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, types.NewError(types.ErrAmbiguousReference, "reference %q matches %d tasks", ref, len(matches))
	}
}

// ListTasks returns tasks matching filter in scheduling order: priority,
// then age, then short ID.
func (q *queries) ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error) {
	var conds []string
	var args []any
	if filter.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.MilestoneID != "" {
		conds = append(conds, "milestone_id = ?")
		args = append(args, filter.MilestoneID)
	}
	if len(filter.States) > 0 {
		ph := make([]string, len(filter.States))
		for i, s := range filter.States {
			ph[i] = "?"
			args = append(args, s)
		}
		conds = append(conds, "state IN ("+strings.Join(ph, ", ")+")")
	}
	if filter.Class != "" {
		conds = append(conds, "task_class = ?")
		args = append(args, filter.Class)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY priority, created_at, short_id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TasksInMilestone returns every task in the milestone in short-ID order.
func (q *queries) TasksInMilestone(ctx context.Context, milestoneID string) ([]*types.Task, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE milestone_id = ?
		ORDER BY short_id
	`, milestoneID)
	if err != nil {
		return nil, fmt.Errorf("failed to list milestone tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// StateCounts returns how many tasks the project has in each state.
func (q *queries) StateCounts(ctx context.Context, projectID string) (map[types.TaskState]int, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT state, COUNT(*) FROM tasks WHERE project_id = ? GROUP BY state
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count task states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[types.TaskState]int)
	for rows.Next() {
		var state types.TaskState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan state count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// MilestoneStateCounts returns per-milestone state tallies for the board
// view, keyed by milestone ID.
func (q *queries) MilestoneStateCounts(ctx context.Context, projectID string) (map[string]map[types.TaskState]int, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT milestone_id, state, COUNT(*) FROM tasks
		WHERE project_id = ?
		GROUP BY milestone_id, state
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count milestone states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]map[types.TaskState]int)
	for rows.Next() {
		var milestoneID string
		var state types.TaskState
		var n int
		if err := rows.Scan(&milestoneID, &state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan milestone count: %w", err)
		}
		if counts[milestoneID] == nil {
			counts[milestoneID] = make(map[types.TaskState]int)
		}
		counts[milestoneID][state] = n
	}
	return counts, rows.Err()
}

// CreateTask inserts tk, allocating its short ID from the milestone's task
// counter. Version starts at 1.
func (t *Tx) CreateTask(ctx context.Context, tk *types.Task) error {
	ms, err := t.GetMilestone(ctx, tk.MilestoneID)
	if err != nil {
		return err
	}
	n, err := nextCounter(ctx, t.q, ms.ID, "task")
	if err != nil {
		return err
	}
	tk.MilestoneID = ms.ID
	tk.ProjectID = ms.ProjectID
	tk.ShortID = types.TaskShortID(ms.ShortID, n)
	if tk.State == "" {
		tk.State = types.StateBacklog
	}
	if tk.Class == "" {
		tk.Class = types.ClassImplementation
	}
	tk.Version = 1
	now := time.Now().UTC()
	tk.CreatedAt = now
	tk.UpdatedAt = now

	caps, err := tk.Capabilities.Value()
	if err != nil {
		return fmt.Errorf("failed to encode capabilities: %w", err)
	}
	spec := "{}"
	if len(tk.WorkSpec) > 0 {
		spec = string(tk.WorkSpec)
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO tasks (id, short_id, project_id, milestone_id, title, description,
			task_class, state, priority, capabilities, work_spec, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tk.ID, tk.ShortID, tk.ProjectID, tk.MilestoneID, tk.Title, tk.Description,
		tk.Class, tk.State, tk.Priority, caps, spec, tk.Version, tk.CreatedAt, tk.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// UpdateTaskFields applies a whitelisted column map to the task row and
// bumps its version. Columns are applied in sorted order so the generated
// SQL is stable.
func (t *Tx) UpdateTaskFields(ctx context.Context, taskID string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	cols := make([]string, 0, len(updates))
	for col := range updates {
		if !taskUpdateColumns[col] {
			return fmt.Errorf("column %q is not updatable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var sets []string
	var args []any
	for _, col := range cols {
		val := updates[col]
		if caps, ok := val.(types.Capabilities); ok {
			encoded, err := caps.Value()
			if err != nil {
				return fmt.Errorf("failed to encode capabilities: %w", err)
			}
			val = encoded
		}
		if raw, ok := val.(json.RawMessage); ok {
			val = string(raw)
		}
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	sets = append(sets, "version = version + 1", "updated_at = ?")
	args = append(args, time.Now().UTC(), taskID)

	res, err := t.q.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.NotFound("task", taskID)
	}
	return nil
}

// SetTaskState writes the new state and bumps the task version. Transition
// legality is the kernel's job; storage records what it is told.
func (t *Tx) SetTaskState(ctx context.Context, taskID string, to types.TaskState) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE tasks SET state = ?, version = version + 1, updated_at = ? WHERE id = ?
	`, to, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("failed to set task state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.NotFound("task", taskID)
	}
	return nil
}

// SetTaskMilestone moves a task to another milestone under a freshly
// allocated short ID, which it returns. The old short ID is never reused.
func (t *Tx) SetTaskMilestone(ctx context.Context, taskID, milestoneID string) (string, error) {
	ms, err := t.GetMilestone(ctx, milestoneID)
	if err != nil {
		return "", err
	}
	n, err := nextCounter(ctx, t.q, ms.ID, "task")
	if err != nil {
		return "", err
	}
	shortID := types.TaskShortID(ms.ShortID, n)
	res, err := t.q.ExecContext(ctx, `
		UPDATE tasks SET milestone_id = ?, short_id = ?, version = version + 1, updated_at = ?
		WHERE id = ?
	`, ms.ID, shortID, time.Now().UTC(), taskID)
	if err != nil {
		return "", fmt.Errorf("failed to retarget task: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return "", types.NotFound("task", taskID)
	}
	return shortID, nil
}

// DeleteTask removes the row. Dependency edges cascade; the caller has
// already verified the task is safe to remove.
func (t *Tx) DeleteTask(ctx context.Context, taskID string) error {
	_, err := t.q.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}
