package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names one kind of committed mutation in the ordered log.
type EventType string

const (
	EventProjectCreated   EventType = "project.created"
	EventProjectArchived  EventType = "project.archived"
	EventPhaseCreated     EventType = "phase.created"
	EventMilestoneCreated EventType = "milestone.created"

	EventTaskCreated         EventType = "task.created"
	EventTaskUpdated         EventType = "task.updated"
	EventTaskRemoved         EventType = "task.removed"
	EventTaskStateChanged    EventType = "task.state_changed"
	EventTaskForceTransition EventType = "task.force_transitioned"
	EventTaskPlanDivergence  EventType = "task.plan_divergence"
	EventTaskGateRejected    EventType = "task.gate_rejected"

	EventDependencyCreated EventType = "dependency.created"
	EventDependencyRemoved EventType = "dependency.removed"

	EventLeaseAcquired    EventType = "lease.acquired"
	EventLeaseHeartbeat   EventType = "lease.heartbeat"
	EventLeaseReleased    EventType = "lease.released"
	EventLeaseExpired     EventType = "lease.expired"
	EventLeaseInvalidated EventType = "lease.invalidated"

	EventReservationCreated   EventType = "reservation.created"
	EventReservationReleased  EventType = "reservation.released"
	EventReservationExpired   EventType = "reservation.expired"
	EventReservationConverted EventType = "reservation.converted"

	EventSnapshotCaptured EventType = "snapshot.captured"
	EventArtifactCreated  EventType = "artifact.created"
	EventReviewRecorded   EventType = "review.recorded"

	EventIntegrationQueued       EventType = "integration.queued"
	EventIntegrationRunning      EventType = "integration.running"
	EventIntegrationSucceeded    EventType = "integration.succeeded"
	EventIntegrationConflict     EventType = "integration.conflict"
	EventIntegrationFailedChecks EventType = "integration.failed_checks"

	EventChangesetCreated   EventType = "plan.changeset_created"
	EventChangesetValidated EventType = "plan.validated"
	EventChangesetApplied   EventType = "plan.applied"
	EventChangesetRejected  EventType = "plan.rejected"

	EventGateCreated EventType = "gate.created"
	EventGateDecided EventType = "gate.decided"

	EventAPIKeyIssued  EventType = "apikey.issued"
	EventAPIKeyRevoked EventType = "apikey.revoked"
)

// Event is one row of the per-project ordered log. Seq is contiguous from 1
// within a project and assigned in the same transaction as the mutation the
// event records; replaying events from Seq 0 reproduces every projection.
type Event struct {
	ID         int64           `json:"id"`
	ProjectID  string          `json:"project_id"`
	Seq        int64           `json:"seq"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Type       EventType       `json:"type"`
	Actor      string          `json:"actor,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DecodePayload unmarshals the event payload into out.
func (e *Event) DecodePayload(out any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, out)
}

// EncodePayload marshals a payload for AppendEvent. A nil payload encodes
// to nil, not to JSON null.
func EncodePayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event payload: %w", err)
	}
	return b, nil
}

// StateChangePayload is the payload of task.state_changed.
type StateChangePayload struct {
	From        TaskState `json:"from"`
	To          TaskState `json:"to"`
	Forced      bool      `json:"forced,omitempty"`
	Rationale   string    `json:"rationale,omitempty"`
	PlanVersion int64     `json:"plan_version"`
}

// LeasePayload is the payload of lease.* events.
type LeasePayload struct {
	LeaseID   string      `json:"lease_id"`
	TaskID    string      `json:"task_id"`
	Holder    string      `json:"holder"`
	Fencing   int64       `json:"fencing"`
	Status    LeaseStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"`
	ExpiresAt time.Time   `json:"expires_at,omitempty"`
}

// ReservationPayload is the payload of reservation.* events.
type ReservationPayload struct {
	ReservationID string            `json:"reservation_id"`
	TaskID        string            `json:"task_id"`
	Assignee      string            `json:"assignee"`
	Status        ReservationStatus `json:"status"`
	Reason        string            `json:"reason,omitempty"`
}

// PlanAppliedPayload is the payload of plan.applied.
type PlanAppliedPayload struct {
	ChangesetID      string   `json:"changeset_id"`
	ChangesetShortID string   `json:"changeset_short_id"`
	PlanVersion      int64    `json:"plan_version"`
	OpCount          int      `json:"op_count"`
	MaterialTasks    []string `json:"material_tasks,omitempty"`
	Rebased          bool     `json:"rebased,omitempty"`
}

// GateDecisionPayload is the payload of gate.decided.
type GateDecisionPayload struct {
	GateTaskID string   `json:"gate_task_id"`
	Verdict    string   `json:"verdict"`
	DecidedBy  string   `json:"decided_by"`
	Candidates []string `json:"candidates,omitempty"`
}
