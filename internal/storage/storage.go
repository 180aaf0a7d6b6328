// Package storage defines the interface the coordinator kernel persists
// through. The sqlite subpackage provides the production backend.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tascade/tascade/internal/types"
)

// ErrNotInitialized is returned when a storage feature is used before the
// database has been opened.
var ErrNotInitialized = errors.New("database not initialized")

// Reader is the query surface shared by Storage and Transaction. Entity
// lookups accept either an opaque ID or a full short ID; a reference that
// matches more than one entity returns AMBIGUOUS_REFERENCE, and a missing
// one NOT_FOUND.
type Reader interface {
	// Projects
	GetProject(ctx context.Context, ref string) (*types.Project, error)
	ListProjects(ctx context.Context, status types.ProjectStatus) ([]*types.Project, error)

	// Hierarchy
	GetPhase(ctx context.Context, ref string) (*types.Phase, error)
	GetMilestone(ctx context.Context, ref string) (*types.Milestone, error)
	ListMilestones(ctx context.Context, projectID string) ([]*types.Milestone, error)

	// Tasks
	GetTask(ctx context.Context, ref string) (*types.Task, error)
	ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error)
	TasksInMilestone(ctx context.Context, milestoneID string) ([]*types.Task, error)
	StateCounts(ctx context.Context, projectID string) (map[types.TaskState]int, error)
	MilestoneStateCounts(ctx context.Context, projectID string) (map[string]map[types.TaskState]int, error)

	// Dependencies
	ListDependenciesFrom(ctx context.Context, taskID string) ([]*types.Dependency, error)
	ListDependenciesTo(ctx context.Context, taskID string) ([]*types.Dependency, error)
	ProjectDependencies(ctx context.Context, projectID string) ([]*types.Dependency, error)
	UnsatisfiedPrereqs(ctx context.Context, taskID string) ([]*types.Dependency, error)

	// Ready set
	ReadyTasks(ctx context.Context, projectID string, includeReserved bool) ([]*types.ReadyTask, error)

	// Leases and reservations
	// GetLeaseByToken returns the lease carrying token in any status, or a
	// LEASE_STALE error when no lease carries it. It never returns nil
	// without an error.
	GetLeaseByToken(ctx context.Context, token string) (*types.Lease, error)
	ActiveLeaseForTask(ctx context.Context, taskID string) (*types.Lease, error)
	MaxFencing(ctx context.Context, taskID string) (int64, error)
	ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*types.Lease, error)
	ActiveReservationForTask(ctx context.Context, taskID string) (*types.Reservation, error)
	ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*types.Reservation, error)

	// Snapshots
	LatestSnapshot(ctx context.Context, taskID string) (*types.ExecutionSnapshot, error)
	SnapshotForLease(ctx context.Context, leaseID string) (*types.ExecutionSnapshot, error)

	// Artifacts and integration
	ListArtifacts(ctx context.Context, taskID string) ([]*types.Artifact, error)
	LatestPassedArtifact(ctx context.Context, taskID string) (*types.Artifact, error)
	GetIntegrationAttempt(ctx context.Context, id string) (*types.IntegrationAttempt, error)
	AttemptByIdempotencyKey(ctx context.Context, projectID, key string) (*types.IntegrationAttempt, error)
	ListIntegrationAttempts(ctx context.Context, taskID string) ([]*types.IntegrationAttempt, error)

	// Reviews
	ReviewsForTask(ctx context.Context, taskID string) ([]*types.Review, error)

	// Gates
	GetGateRule(ctx context.Context, id string) (*types.GateRule, error)
	GateRuleByName(ctx context.Context, projectID, name string) (*types.GateRule, error)
	ListGateRules(ctx context.Context, projectID string, enabledOnly bool) ([]*types.GateRule, error)
	GateLinksForGate(ctx context.Context, gateTaskID string) ([]*types.GateCandidateLink, error)
	GateLinksForCandidate(ctx context.Context, candidateTaskID string) ([]*types.GateCandidateLink, error)
	DecisionsForGate(ctx context.Context, gateTaskID string) ([]*types.GateDecision, error)

	// Changesets
	GetChangeset(ctx context.Context, ref string) (*types.Changeset, error)
	ListChangesets(ctx context.Context, projectID string, status types.ChangesetStatus) ([]*types.Changeset, error)

	// Events and outbox
	ListEvents(ctx context.Context, projectID string, afterSeq int64, limit int, eventTypes []types.EventType) ([]*types.Event, error)
	LatestSeq(ctx context.Context, projectID string) (int64, error)
	EventsForEntity(ctx context.Context, entityID string, limit int) ([]*types.Event, error)
	GetCursor(ctx context.Context, name, projectID string) (int64, error)

	// API keys
	GetAPIKeyByPrefix(ctx context.Context, prefix string) (*types.APIKey, error)
	ListAPIKeys(ctx context.Context, projectID string) ([]*types.APIKey, error)
}

// Transaction is the write surface. All methods run inside one database
// transaction: an error from any of them rolls the whole unit back, and the
// events appended along the way roll back with it.
type Transaction interface {
	Reader

	// Projects and hierarchy. Create* allocate short IDs from scoped
	// counters inside this transaction.
	CreateProject(ctx context.Context, p *types.Project) error
	ArchiveProject(ctx context.Context, projectID string) error
	BumpPlanVersion(ctx context.Context, projectID string) (int64, error)
	CreatePhase(ctx context.Context, ph *types.Phase) error
	CreateMilestone(ctx context.Context, m *types.Milestone) error
	SetMilestoneSequence(ctx context.Context, milestoneID string, sequence int) error
	// Next*Sequence allocate append positions in plan order. Phases and
	// milestones number independently within a project.
	NextMilestoneSequence(ctx context.Context, projectID string) (int, error)
	NextPhaseSequence(ctx context.Context, projectID string) (int, error)

	// Tasks
	CreateTask(ctx context.Context, t *types.Task) error
	UpdateTaskFields(ctx context.Context, taskID string, updates map[string]any) error
	SetTaskState(ctx context.Context, taskID string, to types.TaskState) error
	// SetTaskMilestone moves a task to another milestone and allocates it a
	// fresh short ID there. Old short IDs are never reused.
	SetTaskMilestone(ctx context.Context, taskID, milestoneID string) (string, error)
	DeleteTask(ctx context.Context, taskID string) error

	// Dependencies
	AddDependency(ctx context.Context, d *types.Dependency) error
	RemoveDependency(ctx context.Context, fromTaskID, toTaskID string) error
	// GetDependency returns (nil, nil) when no from->to edge exists,
	// matching the store's other optional readers.
	GetDependency(ctx context.Context, fromTaskID, toTaskID string) (*types.Dependency, error)
	// WouldCycle reports whether adding from->to closes a cycle, by
	// traversal over the current edge set of the project.
	WouldCycle(ctx context.Context, projectID, fromTaskID, toTaskID string) (bool, error)

	// Leases
	CreateLease(ctx context.Context, l *types.Lease) error
	ExtendLease(ctx context.Context, leaseID string, expiresAt, heartbeatAt time.Time) error
	FinishLease(ctx context.Context, leaseID string, status types.LeaseStatus, reason string, at time.Time) error

	// Reservations
	CreateReservation(ctx context.Context, r *types.Reservation) error
	ExtendReservation(ctx context.Context, reservationID string, expiresAt time.Time) error
	FinishReservation(ctx context.Context, reservationID string, status types.ReservationStatus, at time.Time) error

	// Snapshots
	CreateSnapshot(ctx context.Context, s *types.ExecutionSnapshot) error

	// Artifacts, integration, reviews
	CreateArtifact(ctx context.Context, a *types.Artifact) error
	CreateIntegrationAttempt(ctx context.Context, a *types.IntegrationAttempt) error
	SetIntegrationStatus(ctx context.Context, attemptID string, status types.IntegrationStatus, detail string, finishedAt *time.Time) error
	CreateReview(ctx context.Context, r *types.Review) error

	// Gates
	CreateGateRule(ctx context.Context, r *types.GateRule) error
	UpdateGateRule(ctx context.Context, r *types.GateRule) error
	SetGateRuleEnabled(ctx context.Context, ruleID string, enabled bool) error
	DisableFileRulesExcept(ctx context.Context, keepNames []string) error
	CreateGateLinks(ctx context.Context, links []*types.GateCandidateLink) error
	CreateGateDecision(ctx context.Context, d *types.GateDecision) error

	// Changesets
	CreateChangeset(ctx context.Context, c *types.Changeset) error
	UpdateChangeset(ctx context.Context, c *types.Changeset) error

	// Events and outbox
	AppendEvent(ctx context.Context, e *types.Event) error
	AckCursor(ctx context.Context, name, projectID string, seq int64) error

	// API keys
	CreateAPIKey(ctx context.Context, k *types.APIKey) error
	RevokeAPIKey(ctx context.Context, keyID string, at time.Time) error
}

// Storage is the kernel's persistence handle.
//
// RunInTransaction opens a write transaction (BEGIN IMMEDIATE on SQLite, so
// the write lock is taken up front and concurrent writers serialize instead
// of deadlocking), invokes fn, and commits when fn returns nil. Any error
// or panic rolls back, discarding every mutation and event fn produced.
type Storage interface {
	Reader

	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error
	Close() error
}
