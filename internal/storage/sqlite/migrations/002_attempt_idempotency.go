package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateAttemptIdempotencyIndex adds the partial unique index that
// deduplicates integration enqueues carrying the same idempotency key
// within a project.
func MigrateAttemptIdempotencyIndex(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_idempotency
		ON integration_attempts(project_id, idempotency_key)
		WHERE idempotency_key IS NOT NULL AND idempotency_key != ''
	`)
	if err != nil {
		return fmt.Errorf("failed to create idempotency index: %w", err)
	}
	return nil
}
