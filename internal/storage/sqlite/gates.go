package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tascade/tascade/internal/types"
)

const gateRuleColumns = `id, project_id, name, fire_on, match_json, gate_class,
	reviewer_capability, enabled, source, created_at, updated_at`

func scanGateRule(row interface{ Scan(...any) error }) (*types.GateRule, error) {
	var r types.GateRule
	var match string
	err := row.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Trigger, &match, &r.GateClass,
		&r.ReviewerCapability, &r.Enabled, &r.Source, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if match != "" && match != "{}" {
		if err := json.Unmarshal([]byte(match), &r.Match); err != nil {
			return nil, fmt.Errorf("failed to decode gate match for %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

func encodeGateMatch(m types.GateMatch) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode gate match: %w", err)
	}
	return string(b), nil
}

// GetGateRule fetches one rule by ID.
func (q *queries) GetGateRule(ctx context.Context, id string) (*types.GateRule, error) {
	r, err := scanGateRule(q.q.QueryRowContext(ctx, `
		SELECT `+gateRuleColumns+` FROM gate_rules WHERE id = ?
	`, id))
	if isNoRows(err) {
		return nil, types.NotFound("gate rule", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gate rule: %w", err)
	}
	return r, nil
}

// GateRuleByName fetches a rule by its (project, name) key, or nil when
// absent. The file loader upserts through this.
func (q *queries) GateRuleByName(ctx context.Context, projectID, name string) (*types.GateRule, error) {
	r, err := scanGateRule(q.q.QueryRowContext(ctx, `
		SELECT `+gateRuleColumns+` FROM gate_rules WHERE project_id = ? AND name = ?
	`, projectID, name))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gate rule by name: %w", err)
	}
	return r, nil
}

// ListGateRules returns the rules that apply to projectID: its own plus
// the global ones. Empty projectID lists only globals.
func (q *queries) ListGateRules(ctx context.Context, projectID string, enabledOnly bool) ([]*types.GateRule, error) {
	query := `SELECT ` + gateRuleColumns + ` FROM gate_rules WHERE (project_id = ? OR project_id = '')`
	args := []any{projectID}
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY project_id DESC, name`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list gate rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.GateRule
	for rows.Next() {
		r, err := scanGateRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gate rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GateLinksForGate returns the gate's candidate links in their fixed
// position order.
func (q *queries) GateLinksForGate(ctx context.Context, gateTaskID string) ([]*types.GateCandidateLink, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT gate_task_id, candidate_task_id, rule_id, position
		FROM gate_links
		WHERE gate_task_id = ?
		ORDER BY position
	`, gateTaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list gate links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.GateCandidateLink
	for rows.Next() {
		var l types.GateCandidateLink
		if err := rows.Scan(&l.GateTaskID, &l.CandidateTaskID, &l.RuleID, &l.Position); err != nil {
			return nil, fmt.Errorf("failed to scan gate link: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// GateLinksForCandidate returns the links covering candidateTaskID.
func (q *queries) GateLinksForCandidate(ctx context.Context, candidateTaskID string) ([]*types.GateCandidateLink, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT gate_task_id, candidate_task_id, rule_id, position
		FROM gate_links
		WHERE candidate_task_id = ?
		ORDER BY gate_task_id
	`, candidateTaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.GateCandidateLink
	for rows.Next() {
		var l types.GateCandidateLink
		if err := rows.Scan(&l.GateTaskID, &l.CandidateTaskID, &l.RuleID, &l.Position); err != nil {
			return nil, fmt.Errorf("failed to scan gate link: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// DecisionsForGate returns the gate's decisions oldest first; the last
// entry is the governing one.
func (q *queries) DecisionsForGate(ctx context.Context, gateTaskID string) ([]*types.GateDecision, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, gate_task_id, verdict, decided_by, rationale, risk_note, evidence_refs, created_at
		FROM gate_decisions
		WHERE gate_task_id = ?
		ORDER BY created_at, id
	`, gateTaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list gate decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.GateDecision
	for rows.Next() {
		var d types.GateDecision
		var refs string
		err := rows.Scan(&d.ID, &d.GateTaskID, &d.Verdict, &d.DecidedBy,
			&d.Rationale, &d.RiskNote, &refs, &d.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gate decision: %w", err)
		}
		if refs != "" && refs != "[]" {
			if err := json.Unmarshal([]byte(refs), &d.EvidenceRefs); err != nil {
				return nil, fmt.Errorf("failed to decode evidence refs for %s: %w", d.ID, err)
			}
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// CreateGateRule inserts r.
func (t *Tx) CreateGateRule(ctx context.Context, r *types.GateRule) error {
	match, err := encodeGateMatch(r.Match)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Source == "" {
		r.Source = types.RuleSourceAPI
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO gate_rules (id, project_id, name, fire_on, match_json, gate_class,
			reviewer_capability, enabled, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.ProjectID, r.Name, r.Trigger, match, r.GateClass,
		r.ReviewerCapability, r.Enabled, r.Source, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create gate rule: %w", err)
	}
	return nil
}

// UpdateGateRule rewrites the mutable fields of r by ID.
func (t *Tx) UpdateGateRule(ctx context.Context, r *types.GateRule) error {
	match, err := encodeGateMatch(r.Match)
	if err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()
	res, err := t.q.ExecContext(ctx, `
		UPDATE gate_rules SET fire_on = ?, match_json = ?, gate_class = ?,
			reviewer_capability = ?, enabled = ?, source = ?, updated_at = ?
		WHERE id = ?
	`, r.Trigger, match, r.GateClass, r.ReviewerCapability, r.Enabled,
		r.Source, r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update gate rule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.NotFound("gate rule", r.ID)
	}
	return nil
}

// SetGateRuleEnabled toggles one rule.
func (t *Tx) SetGateRuleEnabled(ctx context.Context, ruleID string, enabled bool) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE gate_rules SET enabled = ?, updated_at = ? WHERE id = ?
	`, enabled, time.Now().UTC(), ruleID)
	if err != nil {
		return fmt.Errorf("failed to toggle gate rule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.NotFound("gate rule", ruleID)
	}
	return nil
}

// DisableFileRulesExcept disables every file-sourced rule whose name is
// not in keepNames. Called after a rules-file reload so removed rules stop
// firing without losing their history.
func (t *Tx) DisableFileRulesExcept(ctx context.Context, keepNames []string) error {
	query := `UPDATE gate_rules SET enabled = 0, updated_at = ? WHERE source = 'file' AND enabled = 1`
	args := []any{time.Now().UTC()}
	if len(keepNames) > 0 {
		ph := make([]string, len(keepNames))
		for i, name := range keepNames {
			ph[i] = "?"
			args = append(args, name)
		}
		query += ` AND name NOT IN (` + strings.Join(ph, ", ") + `)`
	}
	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to disable removed file rules: %w", err)
	}
	return nil
}

// CreateGateLinks inserts the gate's candidate links.
func (t *Tx) CreateGateLinks(ctx context.Context, links []*types.GateCandidateLink) error {
	for _, l := range links {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO gate_links (gate_task_id, candidate_task_id, rule_id, position)
			VALUES (?, ?, ?, ?)
		`, l.GateTaskID, l.CandidateTaskID, l.RuleID, l.Position)
		if err != nil {
			return fmt.Errorf("failed to create gate link: %w", err)
		}
	}
	return nil
}

// CreateGateDecision appends d.
func (t *Tx) CreateGateDecision(ctx context.Context, d *types.GateDecision) error {
	refs := "[]"
	if len(d.EvidenceRefs) > 0 {
		b, err := json.Marshal(d.EvidenceRefs)
		if err != nil {
			return fmt.Errorf("failed to encode evidence refs: %w", err)
		}
		refs = string(b)
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO gate_decisions (id, gate_task_id, verdict, decided_by, rationale, risk_note, evidence_refs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.GateTaskID, d.Verdict, d.DecidedBy, d.Rationale, d.RiskNote, refs, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create gate decision: %w", err)
	}
	return nil
}
