package sqlite

import (
	"context"
	"fmt"
)

// nextCounter allocates the next value for a (scope, kind) counter.
// Scope "" with kind "project" numbers projects globally; every other
// counter is scoped to a project so phase, milestone, task, and changeset
// ordinals stay dense per project. Runs inside the caller's write
// transaction, which serializes allocation.
func nextCounter(ctx context.Context, q dbtx, scopeID, kind string) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO counters (scope_id, kind, last_value)
		VALUES (?, ?, 1)
		ON CONFLICT (scope_id, kind) DO UPDATE SET last_value = last_value + 1
		RETURNING last_value
	`, scopeID, kind).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s counter: %w", kind, err)
	}
	return n, nil
}
