package outbox

import (
	"context"
	"fmt"
	"sort"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// LeaseState is the replayed view of one lease.
type LeaseState struct {
	TaskID string
	Holder string
	Status types.LeaseStatus
}

// ReservationState is the replayed view of one reservation.
type ReservationState struct {
	TaskID   string
	Assignee string
	Status   types.ReservationStatus
}

// ProjectState is the per-project projection rebuilt from the event log.
type ProjectState struct {
	ShortID     string
	Archived    bool
	PlanVersion int64
	LastSeq     int64

	TaskStates   map[string]types.TaskState
	Leases       map[string]LeaseState
	Reservations map[string]ReservationState
	Integrations map[string]types.IntegrationStatus
	EventCounts  map[types.EventType]int64
}

func newProjectState() *ProjectState {
	return &ProjectState{
		TaskStates:   map[string]types.TaskState{},
		Leases:       map[string]LeaseState{},
		Reservations: map[string]ReservationState{},
		Integrations: map[string]types.IntegrationStatus{},
		EventCounts:  map[types.EventType]int64{},
	}
}

// Label returns the project's short ID, falling back to the internal ID
// when the projection never saw the project.created event.
func (s *ProjectState) Label(projectID string) string {
	if s.ShortID != "" {
		return s.ShortID
	}
	return projectID
}

// ActiveLeases counts leases the projection believes are live.
func (s *ProjectState) ActiveLeases() int {
	n := 0
	for _, l := range s.Leases {
		if l.Status == types.LeaseActive {
			n++
		}
	}
	return n
}

// StateCounts tallies projected tasks by lifecycle state.
func (s *ProjectState) StateCounts() map[types.TaskState]int {
	counts := make(map[types.TaskState]int, len(types.AllStates))
	for _, state := range s.TaskStates {
		counts[state]++
	}
	return counts
}

// Projection is a deterministic fold over per-project event logs. Applying
// the same event twice is a no-op, so at-least-once delivery cannot skew it.
type Projection struct {
	Projects map[string]*ProjectState
}

func NewProjection() *Projection {
	return &Projection{Projects: map[string]*ProjectState{}}
}

// Replay folds an ordered event slice into a fresh projection.
func Replay(events []*types.Event) *Projection {
	p := NewProjection()
	for _, e := range events {
		p.Apply(e)
	}
	return p
}

// Apply folds one event in. It reports false when the event was already
// applied (redelivery) and true when it advanced the projection.
func (p *Projection) Apply(e *types.Event) bool {
	st := p.Projects[e.ProjectID]
	if st == nil {
		st = newProjectState()
		p.Projects[e.ProjectID] = st
	}
	if e.Seq <= st.LastSeq {
		return false
	}
	st.LastSeq = e.Seq
	st.EventCounts[e.Type]++

	switch e.Type {
	case types.EventProjectCreated:
		var pl struct {
			ShortID string `json:"short_id"`
		}
		_ = e.DecodePayload(&pl)
		st.ShortID = pl.ShortID
		st.PlanVersion = 1

	case types.EventProjectArchived:
		st.Archived = true

	case types.EventTaskCreated:
		var pl struct {
			State types.TaskState `json:"state"`
		}
		_ = e.DecodePayload(&pl)
		st.TaskStates[e.EntityID] = pl.State

	case types.EventTaskStateChanged, types.EventTaskForceTransition:
		var pl types.StateChangePayload
		_ = e.DecodePayload(&pl)
		st.TaskStates[e.EntityID] = pl.To

	case types.EventTaskRemoved:
		delete(st.TaskStates, e.EntityID)

	case types.EventLeaseAcquired, types.EventLeaseHeartbeat, types.EventLeaseReleased,
		types.EventLeaseExpired, types.EventLeaseInvalidated:
		var pl types.LeasePayload
		_ = e.DecodePayload(&pl)
		st.Leases[pl.LeaseID] = LeaseState{TaskID: pl.TaskID, Holder: pl.Holder, Status: pl.Status}

	case types.EventReservationCreated, types.EventReservationReleased,
		types.EventReservationExpired, types.EventReservationConverted:
		var pl types.ReservationPayload
		_ = e.DecodePayload(&pl)
		st.Reservations[pl.ReservationID] = ReservationState{TaskID: pl.TaskID, Assignee: pl.Assignee, Status: pl.Status}

	case types.EventChangesetApplied:
		var pl types.PlanAppliedPayload
		_ = e.DecodePayload(&pl)
		st.PlanVersion = pl.PlanVersion

	case types.EventIntegrationQueued:
		st.Integrations[e.EntityID] = types.IntegrationQueued
	case types.EventIntegrationRunning:
		st.Integrations[e.EntityID] = types.IntegrationRunning
	case types.EventIntegrationSucceeded:
		st.Integrations[e.EntityID] = types.IntegrationSuccess
	case types.EventIntegrationConflict:
		st.Integrations[e.EntityID] = types.IntegrationConflict
	case types.EventIntegrationFailedChecks:
		st.Integrations[e.EntityID] = types.IntegrationFailedChecks
	}
	return true
}

// Verify compares a fully replayed projection against the store and returns
// one line per divergence. An empty slice means replay reproduces the store,
// which is the write-path contract: every mutation commits with its event.
func (p *Projection) Verify(ctx context.Context, store storage.Reader) ([]string, error) {
	ids := make([]string, 0, len(p.Projects))
	for id := range p.Projects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return p.Projects[ids[i]].Label(ids[i]) < p.Projects[ids[j]].Label(ids[j])
	})

	var mismatches []string
	for _, id := range ids {
		st := p.Projects[id]
		label := st.Label(id)

		proj, err := store.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		if proj.PlanVersion != st.PlanVersion {
			mismatches = append(mismatches, fmt.Sprintf(
				"%s: plan_version store=%d replay=%d", label, proj.PlanVersion, st.PlanVersion))
		}
		if archived := proj.Status == types.ProjectArchived; archived != st.Archived {
			mismatches = append(mismatches, fmt.Sprintf(
				"%s: archived store=%t replay=%t", label, archived, st.Archived))
		}
		latest, err := store.LatestSeq(ctx, id)
		if err != nil {
			return nil, err
		}
		if latest != st.LastSeq {
			mismatches = append(mismatches, fmt.Sprintf(
				"%s: latest seq store=%d replay=%d", label, latest, st.LastSeq))
		}

		tasks, err := store.ListTasks(ctx, types.TaskFilter{ProjectID: id})
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(tasks))
		for _, task := range tasks {
			seen[task.ID] = true
			want, ok := st.TaskStates[task.ID]
			if !ok {
				mismatches = append(mismatches, fmt.Sprintf(
					"%s: task %s exists in store but not in replay", label, task.ShortID))
				continue
			}
			if want != task.State {
				mismatches = append(mismatches, fmt.Sprintf(
					"%s: task %s state store=%s replay=%s", label, task.ShortID, task.State, want))
			}
		}
		for taskID := range st.TaskStates {
			if !seen[taskID] {
				mismatches = append(mismatches, fmt.Sprintf(
					"%s: task %s exists in replay but not in store", label, taskID))
			}
		}

		for leaseID, lease := range st.Leases {
			if lease.Status != types.LeaseActive {
				continue
			}
			live, err := store.ActiveLeaseForTask(ctx, lease.TaskID)
			if err != nil {
				return nil, err
			}
			if live == nil || live.ID != leaseID {
				mismatches = append(mismatches, fmt.Sprintf(
					"%s: lease %s active in replay but not in store", label, leaseID))
			}
		}

		for attemptID, status := range st.Integrations {
			attempt, err := store.GetIntegrationAttempt(ctx, attemptID)
			if err != nil {
				return nil, err
			}
			if attempt.Status != status {
				mismatches = append(mismatches, fmt.Sprintf(
					"%s: integration %s status store=%s replay=%s", label, attemptID, attempt.Status, status))
			}
		}
	}
	return mismatches, nil
}
