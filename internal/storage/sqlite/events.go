package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tascade/tascade/internal/types"
)

const eventColumns = `id, project_id, seq, entity_type, entity_id, event_type, actor, payload, created_at`

func scanEvent(row interface{ Scan(...any) error }) (*types.Event, error) {
	var e types.Event
	var payload string
	err := row.Scan(&e.ID, &e.ProjectID, &e.Seq, &e.EntityType, &e.EntityID,
		&e.Type, &e.Actor, &payload, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if payload != "" {
		e.Payload = []byte(payload)
	}
	return &e, nil
}

// AppendEvent writes e with the next contiguous per-project sequence
// number. The scalar subquery allocating seq runs inside the caller's
// write transaction, so concurrent appends serialize and a rollback leaves
// no gap.
func (t *Tx) AppendEvent(ctx context.Context, e *types.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	payload := ""
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO events (project_id, seq, entity_type, entity_id, event_type, actor, payload, created_at)
		VALUES (?1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE project_id = ?1), ?2, ?3, ?4, ?5, ?6, ?7)
		RETURNING id, seq
	`, e.ProjectID, e.EntityType, e.EntityID, e.Type, e.Actor, payload, e.CreatedAt).Scan(&e.ID, &e.Seq)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns up to limit events with seq > afterSeq in sequence
// order, optionally filtered by event type. afterSeq 0 replays from the
// beginning.
func (q *queries) ListEvents(ctx context.Context, projectID string, afterSeq int64, limit int, eventTypes []types.EventType) ([]*types.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE project_id = ? AND seq > ?`
	args := []any{projectID, afterSeq}
	if len(eventTypes) > 0 {
		ph := make([]string, len(eventTypes))
		for i, et := range eventTypes {
			ph[i] = "?"
			args = append(args, et)
		}
		query += ` AND event_type IN (` + strings.Join(ph, ", ") + `)`
	}
	query += ` ORDER BY seq LIMIT ?`
	args = append(args, limit)

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestSeq returns the highest sequence number in the project's log, 0
// when empty.
func (q *queries) LatestSeq(ctx context.Context, projectID string) (int64, error) {
	var seq int64
	err := q.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM events WHERE project_id = ?
	`, projectID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest seq: %w", err)
	}
	return seq, nil
}

// EventsForEntity returns the newest events touching entityID, newest
// first, for context bundles and the activity view.
func (q *queries) EventsForEntity(ctx context.Context, entityID string, limit int) ([]*types.Event, error) {
	if limit <= 0 {
		limit = types.DefaultContextEvents
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE entity_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetCursor returns the consumer's acked sequence for the project, 0 when
// it has never acked.
func (q *queries) GetCursor(ctx context.Context, name, projectID string) (int64, error) {
	var seq int64
	err := q.q.QueryRowContext(ctx, `
		SELECT acked_seq FROM outbox_cursors WHERE name = ? AND project_id = ?
	`, name, projectID).Scan(&seq)
	if isNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}
	return seq, nil
}

// AckCursor advances the consumer's cursor. Acks never move backward, so a
// crashed consumer that replays re-acks harmlessly.
func (t *Tx) AckCursor(ctx context.Context, name, projectID string, seq int64) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO outbox_cursors (name, project_id, acked_seq, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name, project_id) DO UPDATE SET
			acked_seq = max(acked_seq, excluded.acked_seq),
			updated_at = excluded.updated_at
	`, name, projectID, seq, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to ack cursor: %w", err)
	}
	return nil
}
