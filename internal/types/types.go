// Package types defines the core domain model for the tascade coordinator:
// the work graph entities (projects, phases, milestones, tasks, dependencies),
// execution primitives (leases, reservations, snapshots, artifacts), plan
// changesets, gate policy records, and the event log envelope. All kernel
// packages share these types; storage and transport layers translate to and
// from them at their boundaries.
package types

import (
	"encoding/json"
	"time"
)

// ProjectStatus enumerates project lifecycle states.
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
)

// Project is the top-level planning scope. PlanVersion advances only when a
// changeset is applied; direct task edits never move it.
type Project struct {
	ID          string        `json:"id"`
	ShortID     string        `json:"short_id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      ProjectStatus `json:"status"`
	PlanVersion int64         `json:"plan_version"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Phase is an optional ordering layer between a project and its milestones.
type Phase struct {
	ID          string    `json:"id"`
	ShortID     string    `json:"short_id"`
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Sequence    int       `json:"sequence"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Milestone groups tasks. Every task belongs to exactly one milestone.
type Milestone struct {
	ID          string    `json:"id"`
	ShortID     string    `json:"short_id"`
	ProjectID   string    `json:"project_id"`
	PhaseID     string    `json:"phase_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Sequence    int       `json:"sequence"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TaskClass distinguishes ordinary work from kernel-generated gate tasks.
type TaskClass string

const (
	ClassImplementation TaskClass = "implementation"
	ClassReviewGate     TaskClass = "review_gate"
	ClassMergeGate      TaskClass = "merge_gate"
	ClassAnalysis       TaskClass = "analysis"
	ClassChore          TaskClass = "chore"
)

// ValidTaskClass reports whether c is a known task class.
func ValidTaskClass(c TaskClass) bool {
	switch c {
	case ClassImplementation, ClassReviewGate, ClassMergeGate, ClassAnalysis, ClassChore:
		return true
	}
	return false
}

// IsGateClass reports whether c is one of the gate classes the policy
// engine generates.
func (c TaskClass) IsGateClass() bool {
	return c == ClassReviewGate || c == ClassMergeGate
}

// Task is the unit of schedulable work. WorkSpec is stored verbatim as the
// JSON the planner supplied; Version is an optimistic concurrency counter
// bumped on every committed mutation of the row.
type Task struct {
	ID           string          `json:"id"`
	ShortID      string          `json:"short_id"`
	ProjectID    string          `json:"project_id"`
	MilestoneID  string          `json:"milestone_id"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	Class        TaskClass       `json:"task_class"`
	State        TaskState       `json:"state"`
	Priority     int             `json:"priority"`
	Capabilities Capabilities    `json:"capabilities,omitempty"`
	WorkSpec     json.RawMessage `json:"work_spec,omitempty"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// DefaultPriority is assigned when a task is created without one.
// 0 is the most urgent; larger numbers sort later.
const DefaultPriority = 2

// UnlockOn is the dependency satisfaction threshold.
type UnlockOn string

const (
	UnlockOnImplemented UnlockOn = "implemented"
	UnlockOnIntegrated  UnlockOn = "integrated"
)

// ValidUnlockOn reports whether u is a known threshold.
func ValidUnlockOn(u UnlockOn) bool {
	return u == UnlockOnImplemented || u == UnlockOnIntegrated
}

// Satisfied reports whether a prerequisite in state s meets threshold u.
func (u UnlockOn) Satisfied(s TaskState) bool {
	switch u {
	case UnlockOnImplemented:
		return s == StateImplemented || s == StateIntegrated
	case UnlockOnIntegrated:
		return s == StateIntegrated
	}
	return false
}

// Dependency is a directed edge: FromTaskID must satisfy UnlockOn before
// ToTaskID may become ready.
type Dependency struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	FromTaskID string    `json:"from_task_id"`
	ToTaskID   string    `json:"to_task_id"`
	UnlockOn   UnlockOn  `json:"unlock_on"`
	CreatedBy  string    `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// LeaseStatus enumerates lease lifecycle states.
type LeaseStatus string

const (
	LeaseActive   LeaseStatus = "active"
	LeaseReleased LeaseStatus = "released"
	LeaseExpired  LeaseStatus = "expired"
)

// Lease grants one agent exclusive write access to a task until it expires
// or is released. Fencing is a per-task monotonic counter: any write carrying
// a token whose fencing value is below the latest issued one is rejected.
type Lease struct {
	ID              string      `json:"id"`
	TaskID          string      `json:"task_id"`
	ProjectID       string      `json:"project_id"`
	Holder          string      `json:"holder"`
	Token           string      `json:"token,omitempty"`
	Fencing         int64       `json:"fencing"`
	Status          LeaseStatus `json:"status"`
	TTLSeconds      int64       `json:"ttl_seconds"`
	AcquiredAt      time.Time   `json:"acquired_at"`
	ExpiresAt       time.Time   `json:"expires_at"`
	LastHeartbeatAt time.Time   `json:"last_heartbeat_at"`
	ReleasedAt      *time.Time  `json:"released_at,omitempty"`
	ReleaseReason   string      `json:"release_reason,omitempty"`
}

// Lease TTL bounds, in seconds. Requests outside the range are clamped.
const (
	MinLeaseTTL     = 60
	MaxLeaseTTL     = 86400
	DefaultLeaseTTL = 900
)

// ReservationStatus enumerates reservation lifecycle states.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
	ReservationConverted ReservationStatus = "converted"
)

// Reservation pins a task to a named assignee ahead of claim. While active,
// the task is invisible to other agents' ready queries and only the assignee
// may claim it.
type Reservation struct {
	ID         string            `json:"id"`
	TaskID     string            `json:"task_id"`
	ProjectID  string            `json:"project_id"`
	Assignee   string            `json:"assignee"`
	Status     ReservationStatus `json:"status"`
	TTLSeconds int64             `json:"ttl_seconds"`
	CreatedBy  string            `json:"created_by,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	ReleasedAt *time.Time        `json:"released_at,omitempty"`
}

// Reservation TTL bounds, in seconds.
const (
	MinReservationTTL     = 60
	MaxReservationTTL     = 7 * 86400
	DefaultReservationTTL = 1800
)

// ExecutionSnapshot is the immutable copy of a task's work spec captured at
// claim time. In-flight work always executes against its snapshot, even when
// the live plan has moved on.
type ExecutionSnapshot struct {
	ID           string          `json:"id"`
	TaskID       string          `json:"task_id"`
	LeaseID      string          `json:"lease_id"`
	PlanVersion  int64           `json:"plan_version"`
	WorkSpec     json.RawMessage `json:"work_spec"`
	WorkSpecHash string          `json:"work_spec_hash"`
	CapturedAt   time.Time       `json:"captured_at"`
}

// ArtifactKind enumerates the artifact locator kinds agents may submit.
type ArtifactKind string

const (
	ArtifactPatch      ArtifactKind = "patch"
	ArtifactBranch     ArtifactKind = "branch"
	ArtifactFileSet    ArtifactKind = "file_set"
	ArtifactCommandLog ArtifactKind = "command_log"
	// ArtifactDecision is synthesized by the kernel when a gate decision
	// stands in for a produced artifact on a gate task.
	ArtifactDecision ArtifactKind = "decision"
)

// ValidArtifactKind reports whether k may be submitted by an agent.
// ArtifactDecision is kernel-internal and rejected at the surface.
func ValidArtifactKind(k ArtifactKind) bool {
	switch k {
	case ArtifactPatch, ArtifactBranch, ArtifactFileSet, ArtifactCommandLog:
		return true
	}
	return false
}

// CheckOutcome is the verification result attached to an artifact.
type CheckOutcome string

const (
	ChecksPassed  CheckOutcome = "passed"
	ChecksFailed  CheckOutcome = "failed"
	ChecksSkipped CheckOutcome = "skipped"
)

// ValidCheckOutcome reports whether c is a known outcome.
func ValidCheckOutcome(c CheckOutcome) bool {
	return c == ChecksPassed || c == ChecksFailed || c == ChecksSkipped
}

// Artifact records work output by reference. Rows are append-only; the
// kernel never stores artifact content, only the locator the executor
// reported.
type Artifact struct {
	ID           string       `json:"id"`
	TaskID       string       `json:"task_id"`
	ProjectID    string       `json:"project_id"`
	LeaseID      string       `json:"lease_id,omitempty"`
	Kind         ArtifactKind `json:"kind"`
	Ref          string       `json:"ref"`
	Checks       CheckOutcome `json:"checks"`
	Summary      string       `json:"summary,omitempty"`
	SnapshotHash string       `json:"snapshot_hash,omitempty"`
	ProducedBy   string       `json:"produced_by"`
	CreatedAt    time.Time    `json:"created_at"`
}

// IntegrationStatus enumerates integration attempt outcomes.
type IntegrationStatus string

const (
	IntegrationQueued       IntegrationStatus = "queued"
	IntegrationRunning      IntegrationStatus = "running"
	IntegrationSuccess      IntegrationStatus = "success"
	IntegrationConflict     IntegrationStatus = "conflict"
	IntegrationFailedChecks IntegrationStatus = "failed_checks"
)

// TerminalIntegration reports whether s is a final attempt outcome.
func TerminalIntegration(s IntegrationStatus) bool {
	return s == IntegrationSuccess || s == IntegrationConflict || s == IntegrationFailedChecks
}

// IntegrationAttempt is one queued merge/integration of an artifact. The
// kernel records outcomes reported by external executors; it never runs
// merges itself.
type IntegrationAttempt struct {
	ID             string            `json:"id"`
	TaskID         string            `json:"task_id"`
	ProjectID      string            `json:"project_id"`
	ArtifactID     string            `json:"artifact_id"`
	Status         IntegrationStatus `json:"status"`
	Detail         string            `json:"detail,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	QueuedBy       string            `json:"queued_by"`
	CreatedAt      time.Time         `json:"created_at"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
}

// Review is a recorded human or agent review of a task, consumed by the
// integrated-state invariant (reviewer must differ from implementer).
type Review struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	ReviewedBy   string    `json:"reviewed_by"`
	Verdict      string    `json:"verdict"`
	Notes        string    `json:"notes,omitempty"`
	EvidenceRefs []string  `json:"evidence_refs,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Review verdicts.
const (
	ReviewApproved         = "approved"
	ReviewChangesRequested = "changes_requested"
)

// TaskSummary is the trimmed task shape embedded in context bundles and
// list responses where the full row would be noise.
type TaskSummary struct {
	ID       string    `json:"id"`
	ShortID  string    `json:"short_id"`
	Title    string    `json:"title"`
	Class    TaskClass `json:"task_class"`
	State    TaskState `json:"state"`
	Priority int       `json:"priority"`
}

// Summarize converts a full task to its summary shape.
func (t *Task) Summarize() TaskSummary {
	return TaskSummary{
		ID:       t.ID,
		ShortID:  t.ShortID,
		Title:    t.Title,
		Class:    t.Class,
		State:    t.State,
		Priority: t.Priority,
	}
}

// TaskFilter narrows list_tasks queries. Zero values mean "any".
type TaskFilter struct {
	ProjectID   string
	MilestoneID string
	States      []TaskState
	Class       TaskClass
	Assignee    string
	Limit       int
}

// ReadyTask is one entry of the ready set: the task plus scheduling
// annotations the agent uses to pick work.
type ReadyTask struct {
	Task          Task   `json:"task"`
	ReservedFor   string `json:"reserved_for,omitempty"`
	Contention    int    `json:"contention"`
	BlockingCount int    `json:"blocking_count"`
}

// PlanAdvisory rides on heartbeat responses so an in-flight agent learns
// about replans without polling the plan surface.
type PlanAdvisory struct {
	PlanVersion     int64 `json:"plan_version"`
	PlanStale       bool  `json:"plan_stale"`
	MaterialPending bool  `json:"material_changes_pending"`
}

// ClaimResult bundles everything a successful claim returns.
type ClaimResult struct {
	Task     Task              `json:"task"`
	Lease    Lease             `json:"lease"`
	Snapshot ExecutionSnapshot `json:"snapshot"`
}
