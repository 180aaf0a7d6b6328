package types

// TaskState is a node in the task lifecycle state machine.
type TaskState string

const (
	StateBacklog     TaskState = "backlog"
	StateReady       TaskState = "ready"
	StateReserved    TaskState = "reserved"
	StateClaimed     TaskState = "claimed"
	StateInProgress  TaskState = "in_progress"
	StateImplemented TaskState = "implemented"
	StateIntegrated  TaskState = "integrated"
	StateBlocked     TaskState = "blocked"
	StateConflict    TaskState = "conflict"
	StateAbandoned   TaskState = "abandoned"
	StateCancelled   TaskState = "cancelled"
)

// AllStates lists every task state, in lifecycle order.
var AllStates = []TaskState{
	StateBacklog, StateReady, StateReserved, StateClaimed, StateInProgress,
	StateImplemented, StateIntegrated, StateBlocked, StateConflict,
	StateAbandoned, StateCancelled,
}

// ValidState reports whether s is a known task state.
func ValidState(s TaskState) bool {
	for _, k := range AllStates {
		if s == k {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s admits no further transitions.
func (s TaskState) IsTerminal() bool {
	return s == StateIntegrated || s == StateCancelled
}

// InFlight reports whether a task in state s is being executed under a
// lease. In-flight tasks contribute to exclusive-path contention.
func (s TaskState) InFlight() bool {
	return s == StateClaimed || s == StateInProgress
}

// transitions is the allowed edge set of the lifecycle state machine.
// blocked->implemented and conflict->implemented are recovery paths and
// carry the same passed-artifact requirement as in_progress->implemented;
// the kernel enforces that at commit time, not here.
var transitions = map[TaskState][]TaskState{
	StateBacklog:     {StateReady, StateBlocked, StateConflict, StateCancelled},
	StateReady:       {StateReserved, StateClaimed, StateBacklog, StateBlocked, StateConflict, StateCancelled},
	StateReserved:    {StateReady, StateClaimed, StateBlocked, StateConflict, StateCancelled},
	StateClaimed:     {StateReady, StateInProgress, StateAbandoned, StateBlocked, StateConflict, StateCancelled},
	StateInProgress:  {StateImplemented, StateAbandoned, StateBlocked, StateConflict, StateCancelled},
	StateImplemented: {StateIntegrated, StateBlocked, StateConflict, StateCancelled},
	StateBlocked:     {StateReady, StateImplemented, StateConflict, StateCancelled},
	StateConflict:    {StateReady, StateImplemented, StateBlocked, StateCancelled},
	StateAbandoned:   {StateReady, StateCancelled},
}

// CanTransition reports whether the edge from->to exists in the lifecycle
// state machine. It does not evaluate commit-time invariants (artifacts,
// reviews, gates, leases); callers enforce those separately.
func CanTransition(from, to TaskState) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns the states reachable from s, for error reporting.
func AllowedFrom(s TaskState) []TaskState {
	out := make([]TaskState, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// RequiresPassedArtifact reports whether the transition from->to must be
// backed by an artifact with passing checks.
func RequiresPassedArtifact(from, to TaskState) bool {
	return to == StateImplemented
}

// ExecutionTransition reports whether the transition is one only the lease
// holder may perform.
func ExecutionTransition(to TaskState) bool {
	return to == StateInProgress || to == StateImplemented
}
