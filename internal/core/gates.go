package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// ruleMatches reports whether task falls under the rule's match clause.
// Empty clause fields match everything; min_priority matches tasks at least
// that urgent (numerically <=, 0 being most urgent).
func ruleMatches(m types.GateMatch, task *types.Task) bool {
	if m.TaskClass != "" && m.TaskClass != task.Class {
		return false
	}
	if m.Capability != "" {
		found := false
		for _, cap := range task.Capabilities {
			if cap == m.Capability {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if m.MinPriority != nil && task.Priority > *m.MinPriority {
		return false
	}
	if m.PathPrefix != "" {
		ws, err := types.ParseWorkSpec(task.WorkSpec)
		if err != nil {
			return false
		}
		found := false
		for _, p := range append(ws.ExclusivePaths, ws.SharedPaths...) {
			if strings.HasPrefix(p, m.PathPrefix) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// evaluateTaskGates fires task_implemented rules for a task that just
// reached implemented. Gate tasks never gate each other.
func (c *Coordinator) evaluateTaskGates(ctx context.Context, tx storage.Transaction, p *types.Project, task *types.Task, actor string) error {
	if task.Class.IsGateClass() {
		return nil
	}
	rules, err := tx.ListGateRules(ctx, p.ID, true)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if rule.Trigger != types.TriggerTaskImplemented || !ruleMatches(rule.Match, task) {
			continue
		}
		open, err := gateOpenFor(ctx, tx, rule.ID, task.ID)
		if err != nil {
			return err
		}
		if open {
			continue
		}
		if err := c.createGate(ctx, tx, p, rule, []*types.Task{task}, actor); err != nil {
			return err
		}
	}
	return nil
}

// evaluateMilestoneGates fires milestone_complete rules once every non-gate,
// non-cancelled task of the milestone is implemented or integrated.
func (c *Coordinator) evaluateMilestoneGates(ctx context.Context, tx storage.Transaction, p *types.Project, milestoneID, actor string) error {
	rules, err := tx.ListGateRules(ctx, p.ID, true)
	if err != nil {
		return err
	}
	var milestoneRules []*types.GateRule
	for _, rule := range rules {
		if rule.Trigger == types.TriggerMilestoneComplete {
			milestoneRules = append(milestoneRules, rule)
		}
	}
	if len(milestoneRules) == 0 {
		return nil
	}

	tasks, err := tx.TasksInMilestone(ctx, milestoneID)
	if err != nil {
		return err
	}
	var done []*types.Task
	for _, t := range tasks {
		if t.Class.IsGateClass() || t.State == types.StateCancelled {
			continue
		}
		if t.State != types.StateImplemented && t.State != types.StateIntegrated {
			return nil // milestone not complete yet
		}
		done = append(done, t)
	}
	if len(done) == 0 {
		return nil
	}

	for _, rule := range milestoneRules {
		var candidates []*types.Task
		for _, t := range done {
			if ruleMatches(rule.Match, t) {
				candidates = append(candidates, t)
			}
		}
		if len(candidates) == 0 {
			continue
		}
		open, err := gateOpenFor(ctx, tx, rule.ID, candidates[0].ID)
		if err != nil {
			return err
		}
		if open {
			continue
		}
		if err := c.createGate(ctx, tx, p, rule, candidates, actor); err != nil {
			return err
		}
	}
	return nil
}

// gateOpenFor reports whether a non-cancelled gate created by ruleID already
// covers candidateID. Dedup so re-entering implemented does not stack gates.
func gateOpenFor(ctx context.Context, r storage.Reader, ruleID, candidateID string) (bool, error) {
	links, err := r.GateLinksForCandidate(ctx, candidateID)
	if err != nil {
		return false, err
	}
	for _, link := range links {
		if link.RuleID != ruleID {
			continue
		}
		gate, err := r.GetTask(ctx, link.GateTaskID)
		if err != nil {
			return false, err
		}
		if gate.State != types.StateCancelled {
			return true, nil
		}
	}
	return false, nil
}

// createGate injects one gate task covering candidates: the task itself in
// the candidates' milestone, a link row per candidate in short-ID order,
// and an implemented-threshold edge from each candidate so the gate becomes
// ready exactly when its candidates are done.
func (c *Coordinator) createGate(ctx context.Context, tx storage.Transaction, p *types.Project, rule *types.GateRule, candidates []*types.Task, actor string) error {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ShortID < candidates[j].ShortID })

	shortIDs := make([]string, len(candidates))
	for i, t := range candidates {
		shortIDs[i] = t.ShortID
	}
	spec, err := json.Marshal(map[string]any{
		"goal":                fmt.Sprintf("Review %s and record a gate decision", strings.Join(shortIDs, ", ")),
		"acceptance_criteria": []string{"a gate decision with rationale is recorded"},
	})
	if err != nil {
		return fmt.Errorf("failed to encode gate work spec: %w", err)
	}
	var caps types.Capabilities
	if rule.ReviewerCapability != "" {
		caps = types.Capabilities{rule.ReviewerCapability}
	}
	gate := &types.Task{
		ID:           newID(),
		MilestoneID:  candidates[0].MilestoneID,
		Title:        fmt.Sprintf("Gate %s: %s", rule.Name, strings.Join(shortIDs, ", ")),
		Class:        rule.GateClass,
		Priority:     0, // reviews go to the head of the queue
		Capabilities: caps,
		WorkSpec:     spec,
	}
	if err := tx.CreateTask(ctx, gate); err != nil {
		return err
	}
	if err := appendEvent(ctx, tx, p.ID, "task", gate.ID, types.EventTaskCreated, actor, map[string]any{
		"short_id": gate.ShortID,
		"title":    gate.Title,
		"state":    gate.State,
		"gate":     true,
	}); err != nil {
		return err
	}

	links := make([]*types.GateCandidateLink, len(candidates))
	for i, t := range candidates {
		links[i] = &types.GateCandidateLink{
			GateTaskID:      gate.ID,
			CandidateTaskID: t.ID,
			RuleID:          rule.ID,
			Position:        i,
		}
	}
	if err := tx.CreateGateLinks(ctx, links); err != nil {
		return err
	}

	for _, t := range candidates {
		d := &types.Dependency{
			ID:         newID(),
			ProjectID:  p.ID,
			FromTaskID: t.ID,
			ToTaskID:   gate.ID,
			UnlockOn:   types.UnlockOnImplemented,
			CreatedBy:  "gate-rule:" + rule.Name,
		}
		if err := tx.AddDependency(ctx, d); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, p.ID, "dependency", d.ID, types.EventDependencyCreated, actor, map[string]any{
			"from":      t.ShortID,
			"to":        gate.ShortID,
			"unlock_on": types.UnlockOnImplemented,
		}); err != nil {
			return err
		}
	}

	if err := appendEvent(ctx, tx, p.ID, "gate", gate.ID, types.EventGateCreated, actor, map[string]any{
		"short_id":   gate.ShortID,
		"rule":       rule.Name,
		"trigger":    rule.Trigger,
		"candidates": shortIDs,
	}); err != nil {
		return err
	}

	// Candidates are implemented, so the gate is born ready.
	if err := refreshTaskReadiness(ctx, tx, gate, p.PlanVersion, actor); err != nil {
		return err
	}
	c.log.Info().
		Str("gate", gate.ShortID).
		Str("rule", rule.Name).
		Strs("candidates", shortIDs).
		Msg("gate task created")
	return nil
}

// GateDecisionRequest records one verdict on a gate task.
type GateDecisionRequest struct {
	GateRef   string
	Verdict   string
	DecidedBy string
	Rationale string
	RiskNote  string
	Evidence  []string
	Actor     string
}

// RecordGateDecision appends a decision to a gate task. Decisions are
// append-only and the latest one governs the gate's candidates:
//
//	approved / approved_with_risk: candidates may integrate. The decision
//	is materialized as a passed decision artifact on the gate task, and if
//	the deciding reviewer holds the gate's lease the gate advances to
//	implemented on the spot.
//
//	rejected: every implemented candidate is pushed back to blocked with a
//	task.gate_rejected event; the dependency machinery then demotes the
//	gate itself until candidates recover.
func (c *Coordinator) RecordGateDecision(ctx context.Context, req GateDecisionRequest) (*types.GateDecision, error) {
	if err := requireActor(req.DecidedBy); err != nil {
		return nil, err
	}
	if !types.ValidGateVerdict(req.Verdict) {
		return nil, types.NewError(types.ErrInvariantViolation, "unknown gate verdict %q", req.Verdict)
	}
	if strings.TrimSpace(req.Rationale) == "" {
		return nil, types.NewError(types.ErrInvariantViolation, "gate decisions require a rationale")
	}
	if req.Verdict == types.GateApprovedWithRisk && strings.TrimSpace(req.RiskNote) == "" {
		return nil, types.NewError(types.ErrInvariantViolation, "approved_with_risk requires a risk note")
	}
	var out *types.GateDecision
	err := c.write(ctx, func(tx storage.Transaction) error {
		gate, err := tx.GetTask(ctx, req.GateRef)
		if err != nil {
			return err
		}
		if !gate.Class.IsGateClass() {
			return types.NewError(types.ErrInvariantViolation, "task %s is not a gate", gate.ShortID)
		}
		p, err := mutableProject(ctx, tx, gate.ProjectID)
		if err != nil {
			return err
		}
		if gate.State.IsTerminal() {
			return types.NewError(types.ErrConflict, "gate %s is %s", gate.ShortID, gate.State)
		}
		links, err := tx.GateLinksForGate(ctx, gate.ID)
		if err != nil {
			return err
		}
		candidates := make([]string, len(links))
		for i, l := range links {
			t, err := tx.GetTask(ctx, l.CandidateTaskID)
			if err != nil {
				return err
			}
			candidates[i] = t.ShortID
		}

		decision := &types.GateDecision{
			ID:           newID(),
			GateTaskID:   gate.ID,
			Verdict:      req.Verdict,
			DecidedBy:    req.DecidedBy,
			Rationale:    req.Rationale,
			RiskNote:     req.RiskNote,
			EvidenceRefs: req.Evidence,
			CreatedAt:    time.Now().UTC(),
		}
		if err := tx.CreateGateDecision(ctx, decision); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, p.ID, "gate", gate.ID, types.EventGateDecided, req.Actor, types.GateDecisionPayload{
			GateTaskID: gate.ID,
			Verdict:    req.Verdict,
			DecidedBy:  req.DecidedBy,
			Candidates: candidates,
		}); err != nil {
			return err
		}

		switch req.Verdict {
		case types.GateApproved, types.GateApprovedWithRisk:
			if err := c.approveGate(ctx, tx, p, gate, decision, req.Actor); err != nil {
				return err
			}
		case types.GateRejected:
			if err := c.rejectGateCandidates(ctx, tx, p, gate, links, req.Actor); err != nil {
				return err
			}
		}
		out = decision
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Info().
		Str("gate", req.GateRef).
		Str("verdict", req.Verdict).
		Str("decided_by", req.DecidedBy).
		Msg("gate decision recorded")
	return out, nil
}

// approveGate materializes the decision as the gate task's artifact and
// advances the gate when the decider holds its lease (or the gate is in a
// recovery state).
func (c *Coordinator) approveGate(ctx context.Context, tx storage.Transaction, p *types.Project, gate *types.Task, decision *types.GateDecision, actor string) error {
	artifact := &types.Artifact{
		ID:         newID(),
		TaskID:     gate.ID,
		ProjectID:  p.ID,
		Kind:       types.ArtifactDecision,
		Ref:        "decision:" + decision.ID,
		Checks:     types.ChecksPassed,
		Summary:    decision.Rationale,
		ProducedBy: decision.DecidedBy,
	}
	if err := tx.CreateArtifact(ctx, artifact); err != nil {
		return err
	}
	if err := appendEvent(ctx, tx, p.ID, "artifact", artifact.ID, types.EventArtifactCreated, actor, map[string]any{
		"task_id": gate.ID,
		"kind":    artifact.Kind,
		"ref":     artifact.Ref,
		"checks":  artifact.Checks,
	}); err != nil {
		return err
	}

	switch gate.State {
	case types.StateClaimed, types.StateInProgress:
		lease, err := tx.ActiveLeaseForTask(ctx, gate.ID)
		if err != nil {
			return err
		}
		if lease == nil || lease.Holder != decision.DecidedBy {
			return nil // someone else is walking the gate; the decision stands either way
		}
		if gate.State == types.StateClaimed {
			if err := setState(ctx, tx, gate, types.StateInProgress, p.PlanVersion, actor, "", false); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		if err := tx.FinishLease(ctx, lease.ID, types.LeaseReleased, "gate decided", now); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, p.ID, "lease", lease.ID, types.EventLeaseReleased, actor, types.LeasePayload{
			LeaseID: lease.ID,
			TaskID:  gate.ID,
			Holder:  lease.Holder,
			Fencing: lease.Fencing,
			Status:  types.LeaseReleased,
			Reason:  "gate decided",
		}); err != nil {
			return err
		}
		if err := setState(ctx, tx, gate, types.StateImplemented, p.PlanVersion, actor, "gate "+decision.Verdict, false); err != nil {
			return err
		}
		return c.afterTransition(ctx, tx, p, gate, actor)
	case types.StateBlocked:
		// A prior rejection parked the gate; the fresh approval recovers it.
		if err := setState(ctx, tx, gate, types.StateImplemented, p.PlanVersion, actor, "gate "+decision.Verdict, false); err != nil {
			return err
		}
		return c.afterTransition(ctx, tx, p, gate, actor)
	}
	// ready/backlog walk-up: the decision governs the candidates already;
	// the gate task stays available for a reviewer to walk or cancel.
	return nil
}

// rejectGateCandidates pushes every implemented candidate back to blocked.
// Dependent readiness then cascades: the gate itself loses its satisfied
// edges and is demoted by the same machinery every consumer uses.
func (c *Coordinator) rejectGateCandidates(ctx context.Context, tx storage.Transaction, p *types.Project, gate *types.Task, links []*types.GateCandidateLink, actor string) error {
	for _, link := range links {
		candidate, err := tx.GetTask(ctx, link.CandidateTaskID)
		if err != nil {
			return err
		}
		if candidate.State != types.StateImplemented {
			continue
		}
		if err := setState(ctx, tx, candidate, types.StateBlocked, p.PlanVersion, actor, "gate "+gate.ShortID+" rejected", false); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, p.ID, "task", candidate.ID, types.EventTaskGateRejected, actor, map[string]any{
			"gate":     gate.ShortID,
			"short_id": candidate.ShortID,
		}); err != nil {
			return err
		}
		if err := refreshDependents(ctx, tx, candidate, p.PlanVersion, actor); err != nil {
			return err
		}
	}
	return nil
}

// unapprovedGates lists gates covering taskID whose latest decision is not
// an approval. Cancelled gates do not count against their candidates.
func unapprovedGates(ctx context.Context, r storage.Reader, taskID string) ([]string, error) {
	links, err := r.GateLinksForCandidate(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var failing []string
	for _, link := range links {
		gate, err := r.GetTask(ctx, link.GateTaskID)
		if err != nil {
			return nil, err
		}
		if gate.State == types.StateCancelled {
			continue
		}
		decisions, err := r.DecisionsForGate(ctx, gate.ID)
		if err != nil {
			return nil, err
		}
		if len(decisions) == 0 {
			failing = append(failing, gate.ShortID)
			continue
		}
		latest := decisions[len(decisions)-1]
		if latest.Verdict == types.GateRejected {
			failing = append(failing, gate.ShortID)
		}
	}
	sort.Strings(failing)
	return failing, nil
}

// GateStatuses returns the gate view around taskRef: for a gate task its
// own status, for a candidate the status of every gate covering it.
func (c *Coordinator) GateStatuses(ctx context.Context, taskRef string) ([]types.GateStatus, error) {
	task, err := c.store.GetTask(ctx, taskRef)
	if err != nil {
		return nil, err
	}
	if task.Class.IsGateClass() {
		st, err := c.gateStatus(ctx, task)
		if err != nil {
			return nil, err
		}
		return []types.GateStatus{*st}, nil
	}
	links, err := c.store.GateLinksForCandidate(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	var out []types.GateStatus
	for _, link := range links {
		gate, err := c.store.GetTask(ctx, link.GateTaskID)
		if err != nil {
			return nil, err
		}
		st, err := c.gateStatus(ctx, gate)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}

func (c *Coordinator) gateStatus(ctx context.Context, gate *types.Task) (*types.GateStatus, error) {
	links, err := c.store.GateLinksForGate(ctx, gate.ID)
	if err != nil {
		return nil, err
	}
	decisions, err := c.store.DecisionsForGate(ctx, gate.ID)
	if err != nil {
		return nil, err
	}
	st := &types.GateStatus{Gate: gate.Summarize()}
	for _, l := range links {
		st.Candidates = append(st.Candidates, *l)
	}
	for _, d := range decisions {
		st.Decisions = append(st.Decisions, *d)
	}
	if len(st.Decisions) > 0 {
		st.Latest = &st.Decisions[len(st.Decisions)-1]
	}
	return st, nil
}

// GateRuleInput declares a gate rule through the API surface.
type GateRuleInput struct {
	ProjectRef         string // empty for a global rule
	Name               string
	Trigger            types.GateTrigger
	Match              types.GateMatch
	GateClass          types.TaskClass
	ReviewerCapability string
	Enabled            *bool
	Actor              string
}

// CreateGateRule registers an API-sourced rule. Names are unique per
// project scope; file-sourced rules are owned by the rules file loader.
func (c *Coordinator) CreateGateRule(ctx context.Context, in GateRuleInput) (*types.GateRule, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, types.NewError(types.ErrInvariantViolation, "gate rule name is required")
	}
	if !types.ValidGateTrigger(in.Trigger) {
		return nil, types.NewError(types.ErrInvariantViolation, "unknown gate trigger %q", in.Trigger)
	}
	gateClass := in.GateClass
	if gateClass == "" {
		gateClass = types.ClassReviewGate
	}
	if !gateClass.IsGateClass() {
		return nil, types.NewError(types.ErrInvalidTaskClass, "gate_class must be review_gate or merge_gate")
	}
	rule := &types.GateRule{
		ID:                 newID(),
		Name:               in.Name,
		Trigger:            in.Trigger,
		Match:              in.Match,
		GateClass:          gateClass,
		ReviewerCapability: in.ReviewerCapability,
		Enabled:            in.Enabled == nil || *in.Enabled,
		Source:             types.RuleSourceAPI,
	}
	err := c.write(ctx, func(tx storage.Transaction) error {
		if in.ProjectRef != "" {
			p, err := tx.GetProject(ctx, in.ProjectRef)
			if err != nil {
				return err
			}
			rule.ProjectID = p.ID
		}
		if existing, err := tx.GateRuleByName(ctx, rule.ProjectID, rule.Name); err != nil {
			return err
		} else if existing != nil {
			return types.NewError(types.ErrConflict, "gate rule %q already exists", rule.Name)
		}
		return tx.CreateGateRule(ctx, rule)
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListGateRules returns the rules governing a project (its own plus global
// ones); empty ref lists only globals.
func (c *Coordinator) ListGateRules(ctx context.Context, projectRef string, enabledOnly bool) ([]*types.GateRule, error) {
	projectID := ""
	if projectRef != "" {
		p, err := c.store.GetProject(ctx, projectRef)
		if err != nil {
			return nil, err
		}
		projectID = p.ID
	}
	return c.store.ListGateRules(ctx, projectID, enabledOnly)
}

// SetGateRuleEnabled toggles one rule by ID.
func (c *Coordinator) SetGateRuleEnabled(ctx context.Context, ruleID string, enabled bool) error {
	return c.write(ctx, func(tx storage.Transaction) error {
		return tx.SetGateRuleEnabled(ctx, ruleID, enabled)
	})
}
