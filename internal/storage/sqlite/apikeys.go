package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tascade/tascade/internal/types"
)

const apiKeyColumns = `id, project_id, name, prefix, key_hash, role_scopes, status, created_at, revoked_at`

func scanAPIKey(row interface{ Scan(...any) error }) (*types.APIKey, error) {
	var k types.APIKey
	var scopes string
	var revokedAt sql.NullTime
	err := row.Scan(&k.ID, &k.ProjectID, &k.Name, &k.Prefix, &k.KeyHash,
		&scopes, &k.Status, &k.CreatedAt, &revokedAt)
	if err != nil {
		return nil, err
	}
	k.Scopes, err = types.ParseRoleScopes(scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode role scopes for %s: %w", k.ID, err)
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		k.RevokedAt = &t
	}
	return &k, nil
}

// GetAPIKeyByPrefix returns the key whose raw-key prefix matches, or nil.
// The caller still verifies the full hash; the prefix only narrows the
// candidate set.
func (q *queries) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*types.APIKey, error) {
	k, err := scanAPIKey(q.q.QueryRowContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys WHERE prefix = ? AND status = 'active'
	`, prefix))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return k, nil
}

// ListAPIKeys returns keys, scoped to projectID unless it is empty.
func (q *queries) ListAPIKeys(ctx context.Context, projectID string) ([]*types.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// CreateAPIKey inserts k. The raw key never reaches storage.
func (t *Tx) CreateAPIKey(ctx context.Context, k *types.APIKey) error {
	if k.Status == "" {
		k.Status = types.KeyActive
	}
	k.CreatedAt = time.Now().UTC()
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO api_keys (id, project_id, name, prefix, key_hash, role_scopes, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, k.ID, k.ProjectID, k.Name, k.Prefix, k.KeyHash, k.Scopes.String(), k.Status, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// RevokeAPIKey marks the key revoked. Requests in flight with the raw key
// fail on their next lookup.
func (t *Tx) RevokeAPIKey(ctx context.Context, keyID string, at time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE api_keys SET status = 'revoked', revoked_at = ?
		WHERE id = ? AND status = 'active'
	`, at.UTC(), keyID)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.NotFound("api key", keyID)
	}
	return nil
}
