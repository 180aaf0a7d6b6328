package types

import "time"

// GateTrigger names the kernel event that causes a rule to be evaluated.
type GateTrigger string

const (
	TriggerTaskImplemented   GateTrigger = "task_implemented"
	TriggerMilestoneComplete GateTrigger = "milestone_complete"
)

// ValidGateTrigger reports whether t is a known trigger.
func ValidGateTrigger(t GateTrigger) bool {
	return t == TriggerTaskImplemented || t == TriggerMilestoneComplete
}

// GateMatch narrows which tasks a rule fires for. Empty fields match
// everything; set fields must all match.
type GateMatch struct {
	TaskClass   TaskClass `json:"task_class,omitempty" toml:"task_class"`
	Capability  string    `json:"capability,omitempty" toml:"capability"`
	PathPrefix  string    `json:"path_prefix,omitempty" toml:"path_prefix"`
	MinPriority *int      `json:"min_priority,omitempty" toml:"min_priority"`
}

// GateRuleSource records where a rule came from. File rules are owned by
// the rules file: reloads upsert them by name and removal disables them.
type GateRuleSource string

const (
	RuleSourceAPI  GateRuleSource = "api"
	RuleSourceFile GateRuleSource = "file"
)

// GateRule declares when the kernel injects a gate task. ProjectID empty
// means the rule is global.
type GateRule struct {
	ID                 string         `json:"id"`
	ProjectID          string         `json:"project_id,omitempty"`
	Name               string         `json:"name"`
	Trigger            GateTrigger    `json:"trigger"`
	Match              GateMatch      `json:"match"`
	GateClass          TaskClass      `json:"gate_class"`
	ReviewerCapability string         `json:"reviewer_capability,omitempty"`
	Enabled            bool           `json:"enabled"`
	Source             GateRuleSource `json:"source"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// GateCandidateLink ties a generated gate task to one task it covers.
// Position is the candidate's deterministic 0-based order (short ID sort at
// gate creation).
type GateCandidateLink struct {
	GateTaskID      string `json:"gate_task_id"`
	CandidateTaskID string `json:"candidate_task_id"`
	RuleID          string `json:"rule_id,omitempty"`
	Position        int    `json:"position"`
}

// Gate decision verdicts.
const (
	GateApproved         = "approved"
	GateRejected         = "rejected"
	GateApprovedWithRisk = "approved_with_risk"
)

// ValidGateVerdict reports whether v is a known verdict.
func ValidGateVerdict(v string) bool {
	return v == GateApproved || v == GateRejected || v == GateApprovedWithRisk
}

// GateDecision is one append-only verdict on a gate task. The latest
// decision governs; approved_with_risk requires a risk note.
type GateDecision struct {
	ID           string    `json:"id"`
	GateTaskID   string    `json:"gate_task_id"`
	Verdict      string    `json:"verdict"`
	DecidedBy    string    `json:"decided_by"`
	Rationale    string    `json:"rationale"`
	RiskNote     string    `json:"risk_note,omitempty"`
	EvidenceRefs []string  `json:"evidence_refs,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// GateStatus is the reviewer-facing view of one gate task: its links and
// decision history.
type GateStatus struct {
	Gate       TaskSummary         `json:"gate"`
	Candidates []GateCandidateLink `json:"candidates"`
	Decisions  []GateDecision      `json:"decisions"`
	Latest     *GateDecision       `json:"latest,omitempty"`
}
