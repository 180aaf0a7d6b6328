package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tascade/tascade/internal/core"
	"github.com/tascade/tascade/internal/types"
)

// CreateProject creates a project and returns it with P-number assigned.
func (c *Client) CreateProject(ctx context.Context, name, description string) (*types.Project, error) {
	body := struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Actor       string `json:"actor,omitempty"`
	}{name, description, c.Actor}
	out := &types.Project{}
	return out, c.do(ctx, http.MethodPost, "/v1/projects", body, out)
}

// ListProjects lists projects, optionally filtered by status.
func (c *Client) ListProjects(ctx context.Context, status types.ProjectStatus) ([]*types.Project, error) {
	var out []*types.Project
	path := "/v1/projects" + query(map[string]string{"status": string(status)})
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// GetProject resolves a project by ID or short ID.
func (c *Client) GetProject(ctx context.Context, ref string) (*types.Project, error) {
	out := &types.Project{}
	return out, c.do(ctx, http.MethodGet, "/v1/projects/"+url.PathEscape(ref), nil, out)
}

// ArchiveProject archives a project. Archived projects reject writes.
func (c *Client) ArchiveProject(ctx context.Context, ref string) (*types.Project, error) {
	body := struct {
		Actor string `json:"actor,omitempty"`
	}{c.Actor}
	out := &types.Project{}
	return out, c.do(ctx, http.MethodPost, "/v1/projects/"+url.PathEscape(ref)+"/archive", body, out)
}

// CreatePhase appends a phase to a project's sequence.
func (c *Client) CreatePhase(ctx context.Context, projectRef, name, description string) (*types.Phase, error) {
	body := struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Actor       string `json:"actor,omitempty"`
	}{name, description, c.Actor}
	out := &types.Phase{}
	return out, c.do(ctx, http.MethodPost, "/v1/projects/"+url.PathEscape(projectRef)+"/phases", body, out)
}

// CreateMilestone creates a milestone, optionally inside a phase.
func (c *Client) CreateMilestone(ctx context.Context, projectRef, phase, name, description string) (*types.Milestone, error) {
	body := struct {
		Phase       string `json:"phase,omitempty"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Actor       string `json:"actor,omitempty"`
	}{phase, name, description, c.Actor}
	out := &types.Milestone{}
	return out, c.do(ctx, http.MethodPost, "/v1/projects/"+url.PathEscape(projectRef)+"/milestones", body, out)
}

// ListMilestones lists a project's milestones in plan order.
func (c *Client) ListMilestones(ctx context.Context, projectRef string) ([]*types.Milestone, error) {
	var out []*types.Milestone
	return out, c.do(ctx, http.MethodGet, "/v1/projects/"+url.PathEscape(projectRef)+"/milestones", nil, &out)
}

// TaskParams describes a task to create. WorkSpec is required and must be
// a JSON object.
type TaskParams struct {
	Title        string             `json:"title"`
	Description  string             `json:"description,omitempty"`
	Class        types.TaskClass    `json:"task_class,omitempty"`
	Priority     *int               `json:"priority,omitempty"`
	Capabilities types.Capabilities `json:"capabilities,omitempty"`
	WorkSpec     json.RawMessage    `json:"work_spec"`
}

// CreateTask creates a task under a milestone.
func (c *Client) CreateTask(ctx context.Context, milestoneRef string, p TaskParams) (*types.Task, error) {
	body := struct {
		TaskParams
		Actor string `json:"actor,omitempty"`
	}{p, c.Actor}
	out := &types.Task{}
	return out, c.do(ctx, http.MethodPost, "/v1/milestones/"+url.PathEscape(milestoneRef)+"/tasks", body, out)
}

// GetTask resolves a task by ID or short ID.
func (c *Client) GetTask(ctx context.Context, ref string) (*types.Task, error) {
	out := &types.Task{}
	return out, c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(ref), nil, out)
}

// TaskListFilter narrows ListTasks. Zero values mean no filter.
type TaskListFilter struct {
	States    []string
	Class     types.TaskClass
	Milestone string
}

// ListTasks lists a project's tasks, optionally filtered.
func (c *Client) ListTasks(ctx context.Context, projectRef string, f TaskListFilter) ([]*types.Task, error) {
	var out []*types.Task
	path := "/v1/projects/" + url.PathEscape(projectRef) + "/tasks" + query(map[string]string{
		"states":     strings.Join(f.States, ","),
		"task_class": string(f.Class),
		"milestone":  f.Milestone,
	})
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// TaskUpdate carries direct task edits. Nil pointers leave fields alone.
// Structural edits on in-flight plans belong in changesets.
type TaskUpdate struct {
	Title        *string             `json:"title,omitempty"`
	Description  *string             `json:"description,omitempty"`
	Priority     *int                `json:"priority,omitempty"`
	Capabilities *types.Capabilities `json:"capabilities,omitempty"`
	WorkSpec     json.RawMessage     `json:"work_spec,omitempty"`
	Class        types.TaskClass     `json:"task_class,omitempty"`
}

// UpdateTask applies a direct edit to one task.
func (c *Client) UpdateTask(ctx context.Context, ref string, u TaskUpdate) (*types.Task, error) {
	body := struct {
		TaskUpdate
		Actor string `json:"actor,omitempty"`
	}{u, c.Actor}
	out := &types.Task{}
	return out, c.do(ctx, http.MethodPatch, "/v1/tasks/"+url.PathEscape(ref), body, out)
}

// AddDependency creates the edge from -> to: "to" waits until "from"
// satisfies unlockOn. Empty unlockOn defaults server-side to implemented.
func (c *Client) AddDependency(ctx context.Context, from, to string, unlockOn types.UnlockOn) (*types.Dependency, error) {
	body := struct {
		From     string         `json:"from"`
		To       string         `json:"to"`
		UnlockOn types.UnlockOn `json:"unlock_on,omitempty"`
		Actor    string         `json:"actor,omitempty"`
	}{from, to, unlockOn, c.Actor}
	out := &types.Dependency{}
	return out, c.do(ctx, http.MethodPost, "/v1/dependencies", body, out)
}

// RemoveDependency deletes the edge from -> to.
func (c *Client) RemoveDependency(ctx context.Context, from, to string) error {
	body := struct {
		From  string `json:"from"`
		To    string `json:"to"`
		Actor string `json:"actor,omitempty"`
	}{from, to, c.Actor}
	return c.do(ctx, http.MethodDelete, "/v1/dependencies", body, nil)
}

// Dependencies returns a task's incoming and outgoing edges.
func (c *Client) Dependencies(ctx context.Context, taskRef string) (*core.TaskDependencies, error) {
	out := &core.TaskDependencies{}
	return out, c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(taskRef)+"/dependencies", nil, out)
}

// CreateChangeset drafts a plan changeset against the project's current
// plan version.
func (c *Client) CreateChangeset(ctx context.Context, projectRef, title string, ops []types.PlanOp) (*types.Changeset, error) {
	body := struct {
		Title string         `json:"title"`
		Ops   []types.PlanOp `json:"ops"`
		Actor string         `json:"actor,omitempty"`
	}{title, ops, c.Actor}
	out := &types.Changeset{}
	return out, c.do(ctx, http.MethodPost, "/v1/projects/"+url.PathEscape(projectRef)+"/changesets", body, out)
}

// ValidateChangeset dry-runs a draft and reports its impact.
func (c *Client) ValidateChangeset(ctx context.Context, ref string) (*types.ValidationReport, error) {
	body := struct {
		Actor string `json:"actor,omitempty"`
	}{c.Actor}
	out := &types.ValidationReport{}
	return out, c.do(ctx, http.MethodPost, "/v1/changesets/"+url.PathEscape(ref)+"/validate", body, out)
}

// ApplyChangeset applies a draft atomically. allowRebase permits applying
// over a plan that moved since the draft was cut.
func (c *Client) ApplyChangeset(ctx context.Context, ref string, allowRebase bool) (*types.Changeset, error) {
	body := struct {
		AllowRebase bool   `json:"allow_rebase,omitempty"`
		Actor       string `json:"actor,omitempty"`
	}{allowRebase, c.Actor}
	out := &types.Changeset{}
	return out, c.do(ctx, http.MethodPost, "/v1/changesets/"+url.PathEscape(ref)+"/apply", body, out)
}

// RejectChangeset discards a draft.
func (c *Client) RejectChangeset(ctx context.Context, ref string) (*types.Changeset, error) {
	body := struct {
		Actor string `json:"actor,omitempty"`
	}{c.Actor}
	out := &types.Changeset{}
	return out, c.do(ctx, http.MethodPost, "/v1/changesets/"+url.PathEscape(ref)+"/reject", body, out)
}

// GetChangeset resolves a changeset by ID or short ID.
func (c *Client) GetChangeset(ctx context.Context, ref string) (*types.Changeset, error) {
	out := &types.Changeset{}
	return out, c.do(ctx, http.MethodGet, "/v1/changesets/"+url.PathEscape(ref), nil, out)
}

// ListChangesets lists a project's changesets, optionally by status.
func (c *Client) ListChangesets(ctx context.Context, projectRef string, status types.ChangesetStatus) ([]*types.Changeset, error) {
	var out []*types.Changeset
	path := "/v1/projects/" + url.PathEscape(projectRef) + "/changesets" + query(map[string]string{
		"status": string(status),
	})
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// ReadyFilter narrows the ready listing.
type ReadyFilter struct {
	Capabilities    types.Capabilities
	IncludeReserved bool
	Limit           int
}

// ListReady lists claimable tasks ordered by priority, contention, and age.
func (c *Client) ListReady(ctx context.Context, projectRef string, f ReadyFilter) ([]*types.ReadyTask, error) {
	params := map[string]string{
		"capabilities": strings.Join(f.Capabilities, ","),
	}
	if f.IncludeReserved {
		params["include_reserved"] = "true"
	}
	if f.Limit > 0 {
		params["limit"] = strconv.Itoa(f.Limit)
	}
	var out []*types.ReadyTask
	path := "/v1/projects/" + url.PathEscape(projectRef) + "/ready" + query(params)
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// ClaimTask claims one ready task. Zero ttl takes the server default.
func (c *Client) ClaimTask(ctx context.Context, taskRef string, caps types.Capabilities, ttl time.Duration) (*types.ClaimResult, error) {
	body := struct {
		Capabilities types.Capabilities `json:"capabilities,omitempty"`
		TTLSeconds   int                `json:"ttl_seconds,omitempty"`
		Actor        string             `json:"actor,omitempty"`
	}{caps, ttlSeconds(ttl), c.Actor}
	out := &types.ClaimResult{}
	return out, c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(taskRef)+"/claim", body, out)
}

// ClaimNext claims the best ready task in a project in one call.
func (c *Client) ClaimNext(ctx context.Context, projectRef string, caps types.Capabilities, ttl time.Duration) (*types.ClaimResult, error) {
	body := struct {
		Capabilities types.Capabilities `json:"capabilities,omitempty"`
		TTLSeconds   int                `json:"ttl_seconds,omitempty"`
		Actor        string             `json:"actor,omitempty"`
	}{caps, ttlSeconds(ttl), c.Actor}
	out := &types.ClaimResult{}
	return out, c.do(ctx, http.MethodPost, "/v1/projects/"+url.PathEscape(projectRef)+"/claim", body, out)
}

// Heartbeat extends a lease by its token. The advisory in the result flags
// plan movement since the claim.
func (c *Client) Heartbeat(ctx context.Context, token string, ttl time.Duration) (*core.HeartbeatResult, error) {
	body := struct {
		Token      string `json:"token"`
		TTLSeconds int    `json:"ttl_seconds,omitempty"`
	}{token, ttlSeconds(ttl)}
	out := &core.HeartbeatResult{}
	return out, c.do(ctx, http.MethodPost, "/v1/leases/heartbeat", body, out)
}

// ReleaseLease gives a lease back; the task returns to ready.
func (c *Client) ReleaseLease(ctx context.Context, token, reason string) (*types.Task, error) {
	body := struct {
		Token  string `json:"token"`
		Reason string `json:"reason,omitempty"`
		Actor  string `json:"actor,omitempty"`
	}{token, reason, c.Actor}
	out := &types.Task{}
	return out, c.do(ctx, http.MethodPost, "/v1/leases/release", body, out)
}

// AssignTask reserves a ready task for a named agent.
func (c *Client) AssignTask(ctx context.Context, taskRef, assignee string, ttl time.Duration) (*types.Reservation, error) {
	body := struct {
		Assignee   string `json:"assignee"`
		TTLSeconds int    `json:"ttl_seconds,omitempty"`
		Actor      string `json:"actor,omitempty"`
	}{assignee, ttlSeconds(ttl), c.Actor}
	out := &types.Reservation{}
	return out, c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(taskRef)+"/assign", body, out)
}

// ReleaseReservation drops a task's active reservation.
func (c *Client) ReleaseReservation(ctx context.Context, taskRef string) (*types.Task, error) {
	body := struct {
		Actor string `json:"actor,omitempty"`
	}{c.Actor}
	out := &types.Task{}
	return out, c.do(ctx, http.MethodDelete, "/v1/tasks/"+url.PathEscape(taskRef)+"/reservation", body, out)
}

// TransitionParams drives one state machine step. Execution transitions
// require LeaseToken; Force requires the operator scope and a rationale.
type TransitionParams struct {
	To         types.TaskState `json:"to"`
	Rationale  string          `json:"rationale,omitempty"`
	LeaseToken string          `json:"lease_token,omitempty"`
	Force      bool            `json:"force,omitempty"`
}

// Transition moves a task through the lifecycle state machine.
func (c *Client) Transition(ctx context.Context, taskRef string, p TransitionParams) (*types.Task, error) {
	body := struct {
		TransitionParams
		Actor string `json:"actor,omitempty"`
	}{p, c.Actor}
	out := &types.Task{}
	return out, c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(taskRef)+"/transition", body, out)
}

// ArtifactParams attaches a work product to a task.
type ArtifactParams struct {
	Kind       types.ArtifactKind `json:"kind"`
	Ref        string             `json:"artifact_ref"`
	Checks     types.CheckOutcome `json:"checks"`
	Summary    string             `json:"summary,omitempty"`
	LeaseToken string             `json:"lease_token,omitempty"`
}

// SubmitArtifact records an artifact with its check outcome.
func (c *Client) SubmitArtifact(ctx context.Context, taskRef string, p ArtifactParams) (*types.Artifact, error) {
	body := struct {
		ArtifactParams
		Actor string `json:"actor,omitempty"`
	}{p, c.Actor}
	out := &types.Artifact{}
	return out, c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(taskRef)+"/artifacts", body, out)
}

// ListArtifacts lists a task's artifacts, newest first.
func (c *Client) ListArtifacts(ctx context.Context, taskRef string) ([]*types.Artifact, error) {
	var out []*types.Artifact
	return out, c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(taskRef)+"/artifacts", nil, &out)
}

// ReviewParams records an ordinary (non-gate) review.
type ReviewParams struct {
	ReviewedBy string   `json:"reviewed_by"`
	Verdict    string   `json:"verdict"`
	Notes      string   `json:"notes,omitempty"`
	Evidence   []string `json:"evidence,omitempty"`
}

// RecordReview records a review verdict on a task.
func (c *Client) RecordReview(ctx context.Context, taskRef string, p ReviewParams) (*types.Review, error) {
	body := struct {
		ReviewParams
		Actor string `json:"actor,omitempty"`
	}{p, c.Actor}
	out := &types.Review{}
	return out, c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(taskRef)+"/reviews", body, out)
}

// IntegrationParams tunes an enqueue. Zero values pick the latest passing
// artifact and a server-generated idempotency key.
type IntegrationParams struct {
	ArtifactRef    string `json:"artifact_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// EnqueueIntegration queues an implemented task for integration.
func (c *Client) EnqueueIntegration(ctx context.Context, taskRef string, p IntegrationParams) (*types.IntegrationAttempt, error) {
	body := struct {
		IntegrationParams
		Actor string `json:"actor,omitempty"`
	}{p, c.Actor}
	out := &types.IntegrationAttempt{}
	return out, c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(taskRef)+"/integration", body, out)
}

// ReportIntegrationResult reports a terminal integration outcome.
func (c *Client) ReportIntegrationResult(ctx context.Context, attemptRef string, status types.IntegrationStatus, detail string) (*types.IntegrationAttempt, error) {
	body := struct {
		Status types.IntegrationStatus `json:"status"`
		Detail string                  `json:"detail,omitempty"`
		Actor  string                  `json:"actor,omitempty"`
	}{status, detail, c.Actor}
	out := &types.IntegrationAttempt{}
	return out, c.do(ctx, http.MethodPost, "/v1/integration/"+url.PathEscape(attemptRef)+"/result", body, out)
}

// ListIntegrationAttempts lists a task's integration attempts, newest first.
func (c *Client) ListIntegrationAttempts(ctx context.Context, taskRef string) ([]*types.IntegrationAttempt, error) {
	var out []*types.IntegrationAttempt
	return out, c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(taskRef)+"/integration", nil, &out)
}

// GateDecisionParams records a verdict on a gate task.
type GateDecisionParams struct {
	Verdict   string   `json:"verdict"`
	DecidedBy string   `json:"decided_by"`
	Rationale string   `json:"rationale"`
	RiskNote  string   `json:"risk_note,omitempty"`
	Evidence  []string `json:"evidence,omitempty"`
}

// RecordGateDecision decides a gate: approval releases candidates,
// rejection blocks them.
func (c *Client) RecordGateDecision(ctx context.Context, gateRef string, p GateDecisionParams) (*types.GateDecision, error) {
	body := struct {
		GateDecisionParams
		Actor string `json:"actor,omitempty"`
	}{p, c.Actor}
	out := &types.GateDecision{}
	return out, c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(gateRef)+"/gate-decision", body, out)
}

// GateStatus shows the gates holding a task, with candidates and decisions.
func (c *Client) GateStatus(ctx context.Context, taskRef string) ([]types.GateStatus, error) {
	var out []types.GateStatus
	return out, c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(taskRef)+"/gate", nil, &out)
}

// GateRuleParams describes a gate rule. Empty Project makes the rule
// global, which requires the admin scope.
type GateRuleParams struct {
	Project            string            `json:"project,omitempty"`
	Name               string            `json:"name"`
	Trigger            types.GateTrigger `json:"trigger"`
	Match              types.GateMatch   `json:"match,omitempty"`
	GateClass          types.TaskClass   `json:"gate_class,omitempty"`
	ReviewerCapability string            `json:"reviewer_capability,omitempty"`
}

// CreateGateRule creates a gate rule.
func (c *Client) CreateGateRule(ctx context.Context, p GateRuleParams) (*types.GateRule, error) {
	body := struct {
		GateRuleParams
		Actor string `json:"actor,omitempty"`
	}{p, c.Actor}
	out := &types.GateRule{}
	return out, c.do(ctx, http.MethodPost, "/v1/gate-rules", body, out)
}

// ListGateRules lists gate rules visible to a project, or all of them.
func (c *Client) ListGateRules(ctx context.Context, project string, enabledOnly bool) ([]*types.GateRule, error) {
	params := map[string]string{"project": project}
	if enabledOnly {
		params["enabled_only"] = "true"
	}
	var out []*types.GateRule
	return out, c.do(ctx, http.MethodGet, "/v1/gate-rules"+query(params), nil, &out)
}

// SetGateRuleEnabled flips a rule without deleting its history.
func (c *Client) SetGateRuleEnabled(ctx context.Context, id string, enabled bool) error {
	body := struct {
		Enabled bool `json:"enabled"`
	}{enabled}
	return c.do(ctx, http.MethodPost, "/v1/gate-rules/"+url.PathEscape(id)+"/enable", body, nil)
}

// TaskContext projects the bounded context bundle for a task.
func (c *Client) TaskContext(ctx context.Context, taskRef string, opts types.ContextOptions) (*types.ContextBundle, error) {
	params := map[string]string{}
	if opts.AncestorDepth > 0 {
		params["ancestor_depth"] = strconv.Itoa(opts.AncestorDepth)
	}
	if opts.DependentDepth > 0 {
		params["dependent_depth"] = strconv.Itoa(opts.DependentDepth)
	}
	if opts.MaxNodes > 0 {
		params["max_nodes"] = strconv.Itoa(opts.MaxNodes)
	}
	if opts.EventLimit > 0 {
		params["event_limit"] = strconv.Itoa(opts.EventLimit)
	}
	out := &types.ContextBundle{}
	path := "/v1/tasks/" + url.PathEscape(taskRef) + "/context" + query(params)
	return out, c.do(ctx, http.MethodGet, path, nil, out)
}

// Events pulls a project's event log after a sequence number. Empty
// eventTypes means all types.
func (c *Client) Events(ctx context.Context, projectRef string, afterSeq int64, limit int, eventTypes []string) ([]*types.Event, error) {
	params := map[string]string{
		"types": strings.Join(eventTypes, ","),
	}
	if afterSeq > 0 {
		params["after_seq"] = strconv.FormatInt(afterSeq, 10)
	}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	var out []*types.Event
	path := "/v1/projects/" + url.PathEscape(projectRef) + "/events" + query(params)
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// StatusBoard fetches the operator overview of one project.
func (c *Client) StatusBoard(ctx context.Context, projectRef string) (*core.StatusBoard, error) {
	out := &core.StatusBoard{}
	return out, c.do(ctx, http.MethodGet, "/v1/projects/"+url.PathEscape(projectRef)+"/board", nil, out)
}

// IssueKey mints a project-bound API key. The raw key in the result is
// shown once and never stored.
func (c *Client) IssueKey(ctx context.Context, projectRef, name string, scopes []string) (*core.IssuedKey, error) {
	body := struct {
		Name   string   `json:"name"`
		Scopes []string `json:"scopes"`
		Actor  string   `json:"actor,omitempty"`
	}{name, scopes, c.Actor}
	out := &core.IssuedKey{}
	return out, c.do(ctx, http.MethodPost, "/v1/projects/"+url.PathEscape(projectRef)+"/keys", body, out)
}

// RevokeKey revokes an API key by ID or by the raw key.
func (c *Client) RevokeKey(ctx context.Context, key string) error {
	body := struct {
		Key   string `json:"key"`
		Actor string `json:"actor,omitempty"`
	}{key, c.Actor}
	return c.do(ctx, http.MethodPost, "/v1/keys/revoke", body, nil)
}

// ListKeys lists API keys, optionally scoped to one project.
func (c *Client) ListKeys(ctx context.Context, project string) ([]*types.APIKey, error) {
	var out []*types.APIKey
	return out, c.do(ctx, http.MethodGet, "/v1/keys"+query(map[string]string{"project": project}), nil, &out)
}

// ttlSeconds rounds a duration to whole seconds for the wire, keeping
// sub-second requests at the one second minimum rather than the default.
func ttlSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	if n := int(d / time.Second); n > 0 {
		return n
	}
	return 1
}
