// Package sqlite - database migrations
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tascade/tascade/internal/storage/sqlite/migrations"
)

// Migration represents a single database migration.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

// migrationsList is the ordered list of all migrations, run during
// initialization. Every migration is idempotent: it checks whether its
// change is already present (fresh databases get everything from the
// schema) before altering anything.
var migrationsList = []Migration{
	{"lease_release_reason_column", migrations.MigrateLeaseReleaseReason},
	{"attempt_idempotency_index", migrations.MigrateAttemptIdempotencyIndex},
	{"gate_rule_source_column", migrations.MigrateGateRuleSource},
	{"events_entity_index", migrations.MigrateEventsEntityIndex},
}

// MigrationInfo contains metadata about a migration for inspection.
type MigrationInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListMigrations returns all registered migrations with descriptions.
func ListMigrations() []MigrationInfo {
	result := make([]MigrationInfo, len(migrationsList))
	for i, m := range migrationsList {
		result[i] = MigrationInfo{
			Name:        m.Name,
			Description: migrationDescriptions[m.Name],
		}
	}
	return result
}

var migrationDescriptions = map[string]string{
	"lease_release_reason_column": "Adds release_reason column to leases for invalidation provenance",
	"attempt_idempotency_index":   "Adds partial unique index deduplicating integration enqueues by idempotency key",
	"gate_rule_source_column":     "Adds source column distinguishing file-managed gate rules from API-managed ones",
	"events_entity_index":         "Adds entity lookup index to the event log",
}

// runMigrations applies every unapplied migration in order, recording each
// into applied_migrations as it lands.
func runMigrations(ctx context.Context, db *sql.DB) error {
	applied := make(map[string]bool)
	rows, err := db.QueryContext(ctx, `SELECT name FROM applied_migrations`)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan migration name: %w", err)
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("failed to iterate applied migrations: %w", err)
	}
	_ = rows.Close()

	for _, m := range migrationsList {
		if applied[m.Name] {
			continue
		}
		if err := m.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO applied_migrations (name) VALUES (?)`, m.Name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.Name, err)
		}
	}
	return nil
}
