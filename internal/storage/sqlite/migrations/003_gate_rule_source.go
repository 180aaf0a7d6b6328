package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateGateRuleSource adds the source column distinguishing rules managed
// by the gates rules file (upserted on reload, disabled on removal) from
// rules created through the API.
func MigrateGateRuleSource(db *sql.DB) error {
	var colName string
	err := db.QueryRow(`
		SELECT name FROM pragma_table_info('gate_rules')
		WHERE name = 'source'
	`).Scan(&colName)

	if err == sql.ErrNoRows {
		if _, err := db.Exec(`ALTER TABLE gate_rules ADD COLUMN source TEXT NOT NULL DEFAULT 'api'`); err != nil {
			return fmt.Errorf("failed to add source column: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check source column: %w", err)
	}
	return nil
}
