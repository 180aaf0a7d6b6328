// Package migrations holds individual schema migrations. Each is
// idempotent: databases created from the current schema already contain
// every change, so each function probes before altering.
package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateLeaseReleaseReason adds the release_reason column recording why a
// lease left the active state (completed, abandoned, plan_change, expired).
func MigrateLeaseReleaseReason(db *sql.DB) error {
	var colName string
	err := db.QueryRow(`
		SELECT name FROM pragma_table_info('leases')
		WHERE name = 'release_reason'
	`).Scan(&colName)

	if err == sql.ErrNoRows {
		if _, err := db.Exec(`ALTER TABLE leases ADD COLUMN release_reason TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add release_reason column: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check release_reason column: %w", err)
	}
	return nil
}
