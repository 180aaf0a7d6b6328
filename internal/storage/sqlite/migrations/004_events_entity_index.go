package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateEventsEntityIndex adds the per-entity lookup index used by task
// context projections (recent events for one task).
func MigrateEventsEntityIndex(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id, id)`)
	if err != nil {
		return fmt.Errorf("failed to create events entity index: %w", err)
	}
	return nil
}
