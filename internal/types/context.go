package types

// Context projection depth bounds and defaults.
const (
	DefaultAncestorDepth  = 2
	DefaultDependentDepth = 1
	MaxContextDepth       = 5
	DefaultContextNodes   = 50
	DefaultContextEvents  = 10
)

// ContextEdge is one related task in a context bundle, annotated with the
// dependency threshold and whether it is currently satisfied.
type ContextEdge struct {
	Task      TaskSummary `json:"task"`
	UnlockOn  UnlockOn    `json:"unlock_on"`
	Satisfied bool        `json:"satisfied"`
	Depth     int         `json:"depth"`
}

// ContextBundle is the single-call working context for an agent picking up
// a task: the task and its snapshot, where it sits in the plan, what it
// waits on, what waits on it, and recent history. Ordering is deterministic
// (breadth-first layer, then short ID).
type ContextBundle struct {
	Task      Task               `json:"task"`
	Snapshot  *ExecutionSnapshot `json:"snapshot,omitempty"`
	Project   Project            `json:"project"`
	Phase     *Phase             `json:"phase,omitempty"`
	Milestone Milestone          `json:"milestone"`

	Ancestors  []ContextEdge `json:"ancestors,omitempty"`
	Dependents []ContextEdge `json:"dependents,omitempty"`
	Blockers   []ContextEdge `json:"blockers,omitempty"`
	Siblings   []TaskSummary `json:"siblings,omitempty"`

	Gates     []GateStatus `json:"gates,omitempty"`
	Artifacts []Artifact   `json:"artifacts,omitempty"`
	Events    []Event      `json:"events,omitempty"`

	Truncated bool `json:"truncated,omitempty"`
}

// ContextOptions bounds a context projection request. Zero values take the
// defaults above; depths clamp to [0, MaxContextDepth].
type ContextOptions struct {
	AncestorDepth  int `json:"ancestor_depth,omitempty"`
	DependentDepth int `json:"dependent_depth,omitempty"`
	MaxNodes       int `json:"max_nodes,omitempty"`
	EventLimit     int `json:"event_limit,omitempty"`
}

// Normalize applies defaults and clamps bounds.
func (o ContextOptions) Normalize() ContextOptions {
	if o.AncestorDepth == 0 {
		o.AncestorDepth = DefaultAncestorDepth
	}
	if o.DependentDepth == 0 {
		o.DependentDepth = DefaultDependentDepth
	}
	if o.MaxNodes <= 0 {
		o.MaxNodes = DefaultContextNodes
	}
	if o.EventLimit <= 0 {
		o.EventLimit = DefaultContextEvents
	}
	clamp := func(v int) int {
		if v < 0 {
			return 0
		}
		if v > MaxContextDepth {
			return MaxContextDepth
		}
		return v
	}
	o.AncestorDepth = clamp(o.AncestorDepth)
	o.DependentDepth = clamp(o.DependentDepth)
	return o
}
