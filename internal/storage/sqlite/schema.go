package sqlite

const schema = `
-- Projects table
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    short_id TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL CHECK(length(name) <= 500),
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active', 'archived')),
    plan_version INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Scoped short-ID counters. scope_id '' + kind 'project' is the global
-- project counter; phases/milestones/changesets count per project and
-- tasks per milestone. Counters only ever move forward, so short IDs are
-- never reused even after deletes.
CREATE TABLE IF NOT EXISTS counters (
    scope_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    last_value INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (scope_id, kind)
);

-- Phases table
CREATE TABLE IF NOT EXISTS phases (
    id TEXT PRIMARY KEY,
    short_id TEXT NOT NULL UNIQUE,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    name TEXT NOT NULL CHECK(length(name) <= 500),
    description TEXT NOT NULL DEFAULT '',
    sequence INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_phases_project ON phases(project_id, sequence);

-- Milestones table
CREATE TABLE IF NOT EXISTS milestones (
    id TEXT PRIMARY KEY,
    short_id TEXT NOT NULL UNIQUE,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    phase_id TEXT REFERENCES phases(id) ON DELETE SET NULL,
    name TEXT NOT NULL CHECK(length(name) <= 500),
    description TEXT NOT NULL DEFAULT '',
    sequence INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_milestones_project ON milestones(project_id, sequence);

-- Tasks table
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    short_id TEXT NOT NULL UNIQUE,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    milestone_id TEXT NOT NULL REFERENCES milestones(id),
    title TEXT NOT NULL CHECK(length(title) <= 500),
    description TEXT NOT NULL DEFAULT '',
    task_class TEXT NOT NULL DEFAULT 'implementation',
    state TEXT NOT NULL DEFAULT 'backlog',
    priority INTEGER NOT NULL DEFAULT 2 CHECK(priority >= 0),
    capabilities TEXT NOT NULL DEFAULT '',
    work_spec TEXT NOT NULL DEFAULT '{}',
    version INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tasks_project_state ON tasks(project_id, state);
CREATE INDEX IF NOT EXISTS idx_tasks_milestone ON tasks(milestone_id);
CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
CREATE INDEX IF NOT EXISTS idx_tasks_order ON tasks(priority, created_at, short_id);

-- Dependency edges: from_task_id must satisfy unlock_on before to_task_id
-- may become ready. One edge per ordered pair.
CREATE TABLE IF NOT EXISTS dependencies (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    from_task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    to_task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    unlock_on TEXT NOT NULL DEFAULT 'implemented' CHECK(unlock_on IN ('implemented', 'integrated')),
    created_by TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (from_task_id, to_task_id)
);

CREATE INDEX IF NOT EXISTS idx_dependencies_to ON dependencies(to_task_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_from ON dependencies(from_task_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_project ON dependencies(project_id);

-- Leases: at most one active lease per task, enforced by partial unique
-- index. fencing is per-task monotonic and never reset.
CREATE TABLE IF NOT EXISTS leases (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    project_id TEXT NOT NULL,
    holder TEXT NOT NULL,
    token TEXT NOT NULL UNIQUE,
    fencing INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active', 'released', 'expired')),
    ttl_seconds INTEGER NOT NULL,
    acquired_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    expires_at DATETIME NOT NULL,
    last_heartbeat_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    released_at DATETIME,
    release_reason TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leases_one_active ON leases(task_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_leases_expiry ON leases(status, expires_at);
CREATE INDEX IF NOT EXISTS idx_leases_task ON leases(task_id, fencing);

-- Reservations: at most one active per task.
CREATE TABLE IF NOT EXISTS reservations (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    project_id TEXT NOT NULL,
    assignee TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active', 'released', 'expired', 'converted')),
    ttl_seconds INTEGER NOT NULL,
    created_by TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    expires_at DATETIME NOT NULL,
    released_at DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_one_active ON reservations(task_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_reservations_expiry ON reservations(status, expires_at);

-- Execution snapshots are insert-only; no update path exists.
CREATE TABLE IF NOT EXISTS snapshots (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    lease_id TEXT NOT NULL REFERENCES leases(id),
    plan_version INTEGER NOT NULL,
    work_spec TEXT NOT NULL,
    work_spec_hash TEXT NOT NULL,
    captured_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_snapshots_task ON snapshots(task_id, captured_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_lease ON snapshots(lease_id);

-- Artifacts are append-only work-output references.
CREATE TABLE IF NOT EXISTS artifacts (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    project_id TEXT NOT NULL,
    lease_id TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL CHECK(kind IN ('patch', 'branch', 'file_set', 'command_log', 'decision')),
    ref TEXT NOT NULL,
    checks TEXT NOT NULL CHECK(checks IN ('passed', 'failed', 'skipped')),
    summary TEXT NOT NULL DEFAULT '',
    snapshot_hash TEXT NOT NULL DEFAULT '',
    produced_by TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_artifacts_task ON artifacts(task_id, created_at);

-- Integration attempts preserve per-task creation order via created_at
-- and rowid. idempotency_key dedupes retried enqueues per project.
CREATE TABLE IF NOT EXISTS integration_attempts (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    project_id TEXT NOT NULL,
    artifact_id TEXT NOT NULL REFERENCES artifacts(id),
    status TEXT NOT NULL DEFAULT 'queued' CHECK(status IN ('queued', 'running', 'success', 'conflict', 'failed_checks')),
    detail TEXT NOT NULL DEFAULT '',
    idempotency_key TEXT,
    queued_by TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    finished_at DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_idempotency
    ON integration_attempts(project_id, idempotency_key)
    WHERE idempotency_key IS NOT NULL AND idempotency_key != '';
CREATE INDEX IF NOT EXISTS idx_attempts_task ON integration_attempts(task_id, created_at);

-- Reviews back the integrated-state invariant.
CREATE TABLE IF NOT EXISTS reviews (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    reviewed_by TEXT NOT NULL,
    verdict TEXT NOT NULL,
    notes TEXT NOT NULL DEFAULT '',
    evidence_refs TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_reviews_task ON reviews(task_id, created_at);

-- Gate rules. project_id '' means global. fire_on is the trigger
-- (task_implemented | milestone_complete); match_json narrows candidates.
CREATE TABLE IF NOT EXISTS gate_rules (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    fire_on TEXT NOT NULL CHECK(fire_on IN ('task_implemented', 'milestone_complete')),
    match_json TEXT NOT NULL DEFAULT '{}',
    gate_class TEXT NOT NULL CHECK(gate_class IN ('review_gate', 'merge_gate')),
    reviewer_capability TEXT NOT NULL DEFAULT '',
    enabled INTEGER NOT NULL DEFAULT 1,
    source TEXT NOT NULL DEFAULT 'api' CHECK(source IN ('api', 'file')),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (project_id, name)
);

-- Gate candidate links: which tasks a generated gate covers. position is
-- the deterministic candidate order fixed at gate creation.
CREATE TABLE IF NOT EXISTS gate_links (
    gate_task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    candidate_task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    rule_id TEXT NOT NULL DEFAULT '',
    position INTEGER NOT NULL,
    PRIMARY KEY (gate_task_id, candidate_task_id)
);

CREATE INDEX IF NOT EXISTS idx_gate_links_candidate ON gate_links(candidate_task_id);

-- Gate decisions are append-only; the newest row governs.
CREATE TABLE IF NOT EXISTS gate_decisions (
    id TEXT PRIMARY KEY,
    gate_task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    verdict TEXT NOT NULL CHECK(verdict IN ('approved', 'rejected', 'approved_with_risk')),
    decided_by TEXT NOT NULL,
    rationale TEXT NOT NULL DEFAULT '',
    risk_note TEXT NOT NULL DEFAULT '',
    evidence_refs TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_gate_decisions_gate ON gate_decisions(gate_task_id, created_at);

-- Plan changesets. ops is the ordered JSON op list; validation the last
-- stored report.
CREATE TABLE IF NOT EXISTS changesets (
    id TEXT PRIMARY KEY,
    short_id TEXT NOT NULL UNIQUE,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    base_plan_version INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft' CHECK(status IN ('draft', 'validated', 'applied', 'rejected')),
    author TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    ops TEXT NOT NULL DEFAULT '[]',
    validation TEXT NOT NULL DEFAULT '',
    applied_plan_version INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_changesets_project ON changesets(project_id, created_at);

-- Ordered event log. seq is contiguous per project and allocated in the
-- same transaction as the mutation the event records; a rolled-back
-- transaction leaves no events and no gaps.
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (project_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_events_project_seq ON events(project_id, seq);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id, id);

-- Durable outbox cursors for at-least-once consumers.
CREATE TABLE IF NOT EXISTS outbox_cursors (
    name TEXT NOT NULL,
    project_id TEXT NOT NULL,
    acked_seq INTEGER NOT NULL DEFAULT 0,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (name, project_id)
);

-- API keys: only the SHA-256 of the raw key is stored. prefix is the raw
-- key's first characters, kept for lookup and operator display.
CREATE TABLE IF NOT EXISTS api_keys (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    prefix TEXT NOT NULL,
    key_hash TEXT NOT NULL UNIQUE,
    role_scopes TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active', 'revoked')),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    revoked_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(prefix);

-- Internal key/value metadata (schema bookkeeping, instance identity).
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL DEFAULT ''
);

-- Applied migrations ledger.
CREATE TABLE IF NOT EXISTS applied_migrations (
    name TEXT PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Unsatisfied dependency edges: the prerequisite has not reached the
-- edge's unlock_on threshold. Drives readiness checks and blocker lists.
CREATE VIEW IF NOT EXISTS unsatisfied_deps AS
SELECT d.id, d.project_id, d.from_task_id, d.to_task_id, d.unlock_on, d.created_by, d.created_at
FROM dependencies d
JOIN tasks p ON p.id = d.from_task_id
WHERE NOT (
    (d.unlock_on = 'implemented' AND p.state IN ('implemented', 'integrated'))
    OR (d.unlock_on = 'integrated' AND p.state = 'integrated')
);
`
